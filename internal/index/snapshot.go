package index

import (
	"slices"
	"time"
)

// Snapshot is the immutable result of one index build.
type Snapshot struct {
	ID          string        `json:"id"`
	Root        *Node         `json:"root"`
	RootPath    string        `json:"root_path"`
	BuiltAt     time.Time     `json:"built_at"`
	Duration    time.Duration `json:"duration"`
	Files       int           `json:"files"`
	Directories int           `json:"directories"`

	byPath map[string]*Node
}

// NewSnapshot publishes a finished tree: children are put in canonical order and every
// node is indexed by path. The tree must not be modified afterwards.
func NewSnapshot(id string, root *Node, rootPath string, builtAt time.Time, duration time.Duration) *Snapshot {
	snapshot := &Snapshot{
		ID:       id,
		Root:     root,
		RootPath: rootPath,
		BuiltAt:  builtAt,
		Duration: duration,
		byPath:   map[string]*Node{},
	}
	var visit func(node *Node)
	visit = func(node *Node) {
		snapshot.byPath[node.Path] = node
		if !node.IsDirectory() {
			snapshot.Files++
			return
		}
		if node != root {
			snapshot.Directories++
		}
		slices.SortFunc(node.Children, compareCanonical)
		for _, child := range node.Children {
			visit(child)
		}
	}
	visit(root)
	return snapshot
}

// Lookup finds a node by its canonical relative path. The root is "".
func (snapshot *Snapshot) Lookup(relativePath string) (*Node, bool) {
	node, found := snapshot.byPath[relativePath]
	return node, found
}

// Walk visits nodes depth-first in canonical order, starting at the root. Returning false
// from visit skips the node's children.
func (snapshot *Snapshot) Walk(visit func(node *Node) bool) {
	walkNode(snapshot.Root, visit)
}

// WalkFrom is Walk restricted to the subtree rooted at node.
func WalkFrom(node *Node, visit func(node *Node) bool) {
	walkNode(node, visit)
}

func walkNode(node *Node, visit func(node *Node) bool) {
	if node == nil || !visit(node) {
		return
	}
	for _, child := range node.Children {
		walkNode(child, visit)
	}
}
