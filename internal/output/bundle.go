package output

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"lukechampine.com/blake3"

	"github.com/temirov/ctxserve/internal/assemble"
)

const (
	beginMarkerPrefix = "===== BEGIN FILE: "
	endMarkerPrefix   = "===== END FILE: "
	markerSuffix      = " ====="
	lengthOpen        = " ("
	lengthClose       = " bytes)"

	digestSizeBytes = 32

	errorWriteBlockFormat    = "write block for %s: %w"
	errorMissingBeginFormat  = "%w: expected begin marker at offset %d"
	errorMissingHeaderFormat = "%w: unterminated begin marker at offset %d"
	errorMissingLengthFormat = "%w: begin marker at offset %d carries no content length"
	errorShortContentFormat  = "%w: content of %s is shorter than %d bytes"
	errorMissingEndFormat    = "%w: missing end marker for %s"
)

// ErrMalformedBundle reports text that ParseBundle cannot split into blocks.
var ErrMalformedBundle = errors.New("malformed bundle")

// BeginMarker returns the line that opens the block for relativePath. It carries the byte
// length of the content so a reader never has to search for the end marker.
func BeginMarker(relativePath string, contentLength int) string {
	return beginMarkerPrefix + relativePath + lengthOpen + strconv.Itoa(contentLength) + lengthClose + markerSuffix
}

// EndMarker returns the line that closes the block for relativePath.
func EndMarker(relativePath string) string {
	return endMarkerPrefix + relativePath + markerSuffix
}

// WriteBundle writes one delimited block per document:
//
//	===== BEGIN FILE: <path> (<n> bytes) =====
//	<content, exactly n bytes>
//	===== END FILE: <path> =====
//	<blank line>
func WriteBundle(writer io.Writer, documents []assemble.Document) error {
	for _, document := range documents {
		if _, writeErr := io.WriteString(writer, formatBlock(document)); writeErr != nil {
			return fmt.Errorf(errorWriteBlockFormat, document.Path, writeErr)
		}
	}
	return nil
}

// FormatBundle is WriteBundle into a string.
func FormatBundle(documents []assemble.Document) string {
	var builder strings.Builder
	_ = WriteBundle(&builder, documents)
	return builder.String()
}

// BundleDigest is the hex blake3-256 digest of the formatted bundle.
func BundleDigest(documents []assemble.Document) string {
	hasher := blake3.New(digestSizeBytes, nil)
	_ = WriteBundle(hasher, documents)
	return hex.EncodeToString(hasher.Sum(nil))
}

// ParseBundle splits text produced by WriteBundle back into documents. Content is sliced by
// the length in its begin marker, so it may contain anything, marker lines included.
func ParseBundle(text string) ([]assemble.Document, error) {
	var documents []assemble.Document
	offset := 0
	for offset < len(text) {
		if !strings.HasPrefix(text[offset:], beginMarkerPrefix) {
			return nil, fmt.Errorf(errorMissingBeginFormat, ErrMalformedBundle, offset)
		}
		headerEnd := strings.IndexByte(text[offset:], '\n')
		if headerEnd < 0 {
			return nil, fmt.Errorf(errorMissingHeaderFormat, ErrMalformedBundle, offset)
		}
		relativePath, contentLength, ok := parseBeginMarker(text[offset : offset+headerEnd])
		if !ok {
			return nil, fmt.Errorf(errorMissingLengthFormat, ErrMalformedBundle, offset)
		}
		contentStart := offset + headerEnd + 1
		contentEnd := contentStart + contentLength
		if contentEnd > len(text) {
			return nil, fmt.Errorf(errorShortContentFormat, ErrMalformedBundle, relativePath, contentLength)
		}
		terminator := "\n" + EndMarker(relativePath) + "\n\n"
		if !strings.HasPrefix(text[contentEnd:], terminator) {
			return nil, fmt.Errorf(errorMissingEndFormat, ErrMalformedBundle, relativePath)
		}
		documents = append(documents, assemble.Document{Path: relativePath, Content: text[contentStart:contentEnd]})
		offset = contentEnd + len(terminator)
	}
	return documents, nil
}

// parseBeginMarker splits "<prefix><path> (<n> bytes)<suffix>". The length is taken from
// the last parenthesized group, so paths may contain parentheses themselves.
func parseBeginMarker(header string) (string, int, bool) {
	if !strings.HasSuffix(header, lengthClose+markerSuffix) {
		return "", 0, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(header, beginMarkerPrefix), lengthClose+markerSuffix)
	split := strings.LastIndex(body, lengthOpen)
	if split < 0 {
		return "", 0, false
	}
	contentLength, parseErr := strconv.Atoi(body[split+len(lengthOpen):])
	if parseErr != nil || contentLength < 0 {
		return "", 0, false
	}
	return body[:split], contentLength, true
}

func formatBlock(document assemble.Document) string {
	var builder strings.Builder
	builder.Grow(len(document.Content) + 2*len(document.Path) + 80)
	builder.WriteString(BeginMarker(document.Path, len(document.Content)))
	builder.WriteByte('\n')
	builder.WriteString(document.Content)
	builder.WriteByte('\n')
	builder.WriteString(EndMarker(document.Path))
	builder.WriteString("\n\n")
	return builder.String()
}
