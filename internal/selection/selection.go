// Package selection resolves client-chosen paths against a snapshot into an ordered file list.
package selection

import (
	"path"

	"github.com/temirov/ctxserve/internal/index"
	"github.com/temirov/ctxserve/internal/utils"
)

// Result lists resolved file paths in canonical order and the requested paths that were dropped.
type Result struct {
	Files   []string
	Unknown []string
}

// Resolve expands requested paths into the files they cover. Directories contribute every
// descendant file, duplicates collapse and unknown paths are dropped. The order is the
// snapshot's canonical depth-first order: at each level directories precede files, then names
// ascend by byte value.
func Resolve(snapshot *index.Snapshot, requestedPaths []string) Result {
	var result Result
	if snapshot == nil || snapshot.Root == nil {
		result.Unknown = append(result.Unknown, requestedPaths...)
		return result
	}

	selected := map[string]struct{}{}
	onSelectedPath := map[string]struct{}{}
	for _, requested := range requestedPaths {
		normalized := utils.NormalizeRelativePath(requested)
		if _, found := snapshot.Lookup(normalized); !found {
			result.Unknown = append(result.Unknown, requested)
			continue
		}
		selected[normalized] = struct{}{}
		for ancestor := normalized; ancestor != ""; ancestor = parentOf(ancestor) {
			onSelectedPath[ancestor] = struct{}{}
		}
		onSelectedPath[""] = struct{}{}
	}
	if len(selected) == 0 {
		return result
	}

	var visit func(node *index.Node, covered bool)
	visit = func(node *index.Node, covered bool) {
		if _, isSelected := selected[node.Path]; isSelected {
			covered = true
		}
		if !node.IsDirectory() {
			if covered {
				result.Files = append(result.Files, node.Path)
			}
			return
		}
		for _, child := range node.Children {
			if _, leadsToSelection := onSelectedPath[child.Path]; covered || leadsToSelection {
				visit(child, covered)
			}
		}
	}
	visit(snapshot.Root, false)
	return result
}

// ResolveFiles is Resolve without the dropped-path report.
func ResolveFiles(snapshot *index.Snapshot, requestedPaths []string) []string {
	return Resolve(snapshot, requestedPaths).Files
}

func parentOf(relativePath string) string {
	parent := path.Dir(relativePath)
	if parent == "." {
		return ""
	}
	return parent
}
