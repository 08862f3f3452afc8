// Package output renders snapshots and assembled bundles for people and for clients.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/temirov/ctxserve/internal/index"
	"github.com/temirov/ctxserve/internal/utils"
)

const (
	indentPrefix = ""
	indentSpacer = "  "

	// FormatRaw renders the connector-drawn tree.
	FormatRaw = "raw"
	// FormatJSON renders the snapshot tree as indented JSON.
	FormatJSON = "json"

	rootLabel = "."

	treeBranchConnector = "├── "
	treeLastConnector   = "└── "
	treeBranchPadding   = "│   "
	treeLastPadding     = "    "
)

// Summary describes one assembled bundle.
type Summary struct {
	Files   int
	Skipped int
	Bytes   int64
	Tokens  int
	Model   string
}

// WriteTree renders node in the named format.
func WriteTree(writer io.Writer, node *index.Node, format string) error {
	switch format {
	case FormatJSON:
		return WriteTreeJSON(writer, node)
	case FormatRaw, "":
		WriteTreeRaw(writer, node)
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// WriteTreeJSON writes node as indented JSON followed by a newline.
func WriteTreeJSON(writer io.Writer, node *index.Node) error {
	encoded, encodeErr := json.MarshalIndent(node, indentPrefix, indentSpacer)
	if encodeErr != nil {
		return encodeErr
	}
	_, writeErr := fmt.Fprintf(writer, "%s\n", encoded)
	return writeErr
}

// WriteTreeRaw draws node and its descendants with box connectors. Directories carry a
// trailing slash.
func WriteTreeRaw(writer io.Writer, node *index.Node) {
	if node == nil {
		return
	}
	renderTreeNode(writer, node, "", true, true)
}

func treeNodeLinePrefix(prefix string, isRoot bool, isLast bool) (string, string) {
	if isRoot {
		return "", ""
	}
	connector := treeBranchConnector
	childPrefix := prefix + treeBranchPadding
	if isLast {
		connector = treeLastConnector
		childPrefix = prefix + treeLastPadding
	}
	return prefix + connector, childPrefix
}

func renderTreeNode(writer io.Writer, node *index.Node, prefix string, isRoot bool, isLast bool) {
	linePrefix, childPrefix := treeNodeLinePrefix(prefix, isRoot, isLast)
	if !node.IsDirectory() {
		fmt.Fprintf(writer, "%s%s\n", linePrefix, node.Name)
		return
	}
	label := node.Name + "/"
	if isRoot {
		label = rootLabel
	}
	fmt.Fprintf(writer, "%s%s\n", linePrefix, label)
	for position, child := range node.Children {
		renderTreeNode(writer, child, childPrefix, false, position == len(node.Children)-1)
	}
}

// FormatSummaryLine formats a Summary as a single human-readable line.
func FormatSummaryLine(summary Summary) string {
	label := "files"
	if summary.Files == 1 {
		label = "file"
	}
	extra := ""
	if summary.Skipped > 0 {
		extra = fmt.Sprintf(", %d skipped", summary.Skipped)
	}
	if summary.Tokens > 0 {
		extra += fmt.Sprintf(", %d tokens", summary.Tokens)
	}
	modelSuffix := ""
	if summary.Model != "" && summary.Tokens > 0 {
		modelSuffix = fmt.Sprintf(" (model: %s)", summary.Model)
	}
	return fmt.Sprintf("Summary: %d %s, %s%s%s", summary.Files, label, utils.FormatFileSize(summary.Bytes), extra, modelSuffix)
}
