// Package index builds immutable, path-addressable snapshots of a project directory.
package index

import "strings"

// Kind tags a Node as a file or a directory.
type Kind string

const (
	// KindFile marks a regular file.
	KindFile Kind = "file"
	// KindDirectory marks a directory; only directories carry children.
	KindDirectory Kind = "directory"
)

// Node is one entry of a snapshot tree. Path is slash separated and relative to the
// project root; the root node has an empty path. Nodes reachable from a published
// Snapshot must not be modified.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Kind     Kind    `json:"kind"`
	Children []*Node `json:"children,omitempty"`
}

// IsDirectory reports whether the node is a directory.
func (node *Node) IsDirectory() bool {
	return node.Kind == KindDirectory
}

// CanonicalLess orders directories before files, then names by byte value.
func CanonicalLess(left, right *Node) bool {
	if left.IsDirectory() != right.IsDirectory() {
		return left.IsDirectory()
	}
	return left.Name < right.Name
}

func compareCanonical(left, right *Node) int {
	if CanonicalLess(left, right) {
		return -1
	}
	if CanonicalLess(right, left) {
		return 1
	}
	return strings.Compare(left.Path, right.Path)
}
