package utils

import (
	"unicode/utf8"
)

// SniffLength defines the maximum number of bytes inspected when detecting binary content.
const SniffLength = 8000

// IsBinary reports whether the provided byte slice appears to contain binary data.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if !utf8.Valid(data) {
		return true
	}
	for _, byteValue := range data {
		if byteValue == 0 {
			return true
		}
	}
	return false
}

// IsBinaryPrefix inspects at most SniffLength leading bytes of data. A multi-byte rune
// cut by the sniff boundary is not treated as invalid.
func IsBinaryPrefix(data []byte) bool {
	if len(data) <= SniffLength {
		return IsBinary(data)
	}
	prefix := data[:SniffLength]
	if start := lastRuneStart(prefix); !utf8.FullRune(prefix[start:]) {
		prefix = prefix[:start]
	}
	return IsBinary(prefix)
}

func lastRuneStart(data []byte) int {
	index := len(data) - 1
	for index > 0 && len(data)-index < utf8.UTFMax && !utf8.RuneStart(data[index]) {
		index--
	}
	return index
}
