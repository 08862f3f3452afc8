// Package utils contains general helper functions shared by the ctxserve packages.
package utils

import (
	"path"
	"path/filepath"
	"strings"
)

const pathSegmentSeparator = "/"

// DeduplicatePatterns removes duplicate and blank patterns from a slice while preserving order.
// The first occurrence of each unique pattern is kept.
func DeduplicatePatterns(patterns []string) []string {
	encounteredPatterns := make(map[string]struct{})
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		trimmedPattern := strings.TrimSpace(pattern)
		if trimmedPattern == "" {
			continue
		}
		if _, exists := encounteredPatterns[trimmedPattern]; !exists {
			encounteredPatterns[trimmedPattern] = struct{}{}
			result = append(result, trimmedPattern)
		}
	}
	return result
}

// RelativePathOrSelf calculates the relative path from root to fullPath.
// Returns the cleaned fullPath if relative calculation fails.
// Returns "." if fullPath and root resolve to the same directory.
func RelativePathOrSelf(fullPath, root string) string {
	cleanPath := filepath.Clean(fullPath)
	absoluteRoot, err := filepath.Abs(root)
	if err != nil {
		return cleanPath
	}
	cleanAbsoluteRoot := filepath.Clean(absoluteRoot)

	if cleanPath == cleanAbsoluteRoot {
		return "."
	}

	relativePath, relErr := filepath.Rel(cleanAbsoluteRoot, cleanPath)
	if relErr != nil {
		return cleanPath
	}
	return filepath.ToSlash(relativePath)
}

// NormalizeRelativePath converts a client supplied path into the canonical index form:
// forward slashes, no leading "./" or "/", no trailing separator. The project root is "".
func NormalizeRelativePath(candidate string) string {
	slashed := strings.ReplaceAll(strings.TrimSpace(candidate), "\\", pathSegmentSeparator)
	if slashed == "" {
		return ""
	}
	cleaned := path.Clean(slashed)
	cleaned = strings.TrimPrefix(cleaned, pathSegmentSeparator)
	if cleaned == "." || cleaned == "" {
		return ""
	}
	return cleaned
}

// JoinRelativePath appends name to a canonical relative directory path.
func JoinRelativePath(directoryPath, name string) string {
	if directoryPath == "" {
		return name
	}
	return directoryPath + pathSegmentSeparator + name
}

// SplitRelativePath splits a canonical relative path into its segments. The root yields nil.
func SplitRelativePath(relativePath string) []string {
	if relativePath == "" {
		return nil
	}
	return strings.Split(relativePath, pathSegmentSeparator)
}
