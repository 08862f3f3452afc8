// Package config loads application settings and reads ignore rule files into pattern lines.
package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"strings"
)

const (
	commentPrefix         = "#"
	escapedTrailingSpace  = "\\ "
	trailingWhitespaceSet = " \t\r"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// LoadIgnoreFilePatterns reads a gitignore-syntax rule file and returns its pattern lines in order.
// Blank lines and comments are dropped and trailing whitespace is removed unless escaped.
// A missing file yields no patterns and no error.
//
// #nosec G304
func LoadIgnoreFilePatterns(ignoreFilePath string) ([]string, error) {
	content, readErr := os.ReadFile(ignoreFilePath)
	if errors.Is(readErr, fs.ErrNotExist) {
		return nil, nil
	}
	if readErr != nil {
		return nil, readErr
	}
	return parsePatternLines(bytes.TrimPrefix(content, byteOrderMark)), nil
}

func parsePatternLines(content []byte) []string {
	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		if !strings.HasSuffix(strings.TrimRight(line, "\r"), escapedTrailingSpace) {
			line = strings.TrimRight(line, trailingWhitespaceSet)
		} else {
			line = strings.TrimRight(line, "\r")
		}
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}
