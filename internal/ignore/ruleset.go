package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/temirov/ctxserve/internal/utils"
)

const (
	errorRootStatFormat      = "inspect root %s: %w"
	errorRootNotDirectory    = "root %s is not a directory"
	errorRootReadFormat      = "read root %s: %w"
	errorCompileWalkFormat   = "discover rule files under %s: %w"
	logSkipUnreadableSubtree = "skipping unreadable directory while discovering rules"
)

// RuleSet holds every rule source under a project root, discovered by one preliminary walk.
// Its decisions are identical to those of a Matcher entered lazily during traversal.
type RuleSet struct {
	root    string
	sources []Source
	matcher *Matcher
}

// Explanation describes why a path is or is not excluded.
type Explanation struct {
	Path       string   `json:"path"`
	Decision   Decision `json:"decision"`
	ExcludedBy string   `json:"excluded_by,omitempty"`
	Sources    []string `json:"sources"`
}

type memorySourceLoader struct {
	recurringByDirectory map[string][]Source
	supplementalSources  []Source
	repositoryRules      repositoryRules
}

func (loader memorySourceLoader) recurring(relativeDirectory string) []Source {
	return loader.recurringByDirectory[relativeDirectory]
}

func (loader memorySourceLoader) supplemental() []Source {
	return loader.supplementalSources
}

func (loader memorySourceLoader) repository() repositoryRules {
	return loader.repositoryRules
}

type recordingSourceLoader struct {
	delegate sourceLoader
	memory   *memorySourceLoader
}

func (loader recordingSourceLoader) recurring(relativeDirectory string) []Source {
	sources := loader.delegate.recurring(relativeDirectory)
	if len(sources) > 0 {
		loader.memory.recurringByDirectory[relativeDirectory] = sources
	}
	return sources
}

func (loader recordingSourceLoader) supplemental() []Source {
	sources := loader.delegate.supplemental()
	loader.memory.supplementalSources = sources
	return sources
}

func (loader recordingSourceLoader) repository() repositoryRules {
	rules := loader.delegate.repository()
	loader.memory.repositoryRules = rules
	return rules
}

// Compile discovers and parses every rule file reachable under root. Directories excluded by
// rules are not descended into, so rule files inside them are never read.
func Compile(root string, options Options) (*RuleSet, error) {
	normalized := normalizeOptions(options)
	rootInfo, statErr := os.Stat(root)
	if statErr != nil {
		return nil, fmt.Errorf(errorRootStatFormat, root, statErr)
	}
	if !rootInfo.IsDir() {
		return nil, fmt.Errorf(errorRootNotDirectory, root)
	}

	memory := &memorySourceLoader{recurringByDirectory: map[string][]Source{}}
	recorder := recordingSourceLoader{delegate: diskLoader(root, normalized), memory: memory}
	walker := newMatcher(root, normalized, recorder)
	if walkErr := discoverSources(root, walker, "", 0, normalized.Logger); walkErr != nil {
		return nil, fmt.Errorf(errorCompileWalkFormat, root, walkErr)
	}

	ruleSet := &RuleSet{root: root, matcher: newMatcher(root, normalized, *memory)}
	ruleSet.sources = append(ruleSet.sources, memory.supplementalSources...)
	ruleSet.sources = append(ruleSet.sources, memory.repositoryRules.sources...)
	directories := make([]string, 0, len(memory.recurringByDirectory))
	for directory := range memory.recurringByDirectory {
		directories = append(directories, directory)
	}
	sort.Strings(directories)
	for _, directory := range directories {
		ruleSet.sources = append(ruleSet.sources, memory.recurringByDirectory[directory]...)
	}
	return ruleSet, nil
}

func discoverSources(root string, matcher *Matcher, relativeDirectory string, depth int, logger *zap.Logger) error {
	absoluteDirectory := filepath.Join(root, filepath.FromSlash(relativeDirectory))
	entries, readErr := os.ReadDir(absoluteDirectory)
	if readErr != nil {
		if relativeDirectory == "" {
			return fmt.Errorf(errorRootReadFormat, root, readErr)
		}
		logger.Debug(logSkipUnreadableSubtree, zap.String("path", relativeDirectory), zap.Error(readErr))
		return nil
	}
	if depth >= utils.MaxTraversalDepth {
		return nil
	}
	for _, entry := range entries {
		relativePath := utils.JoinRelativePath(relativeDirectory, entry.Name())
		entryInfo, infoErr := utils.ResolveEntry(filepath.Join(absoluteDirectory, entry.Name()), entry)
		if infoErr != nil || !entryInfo.IsDirectory {
			continue
		}
		if matcher.Check(relativePath, true, -1).Excluded {
			continue
		}
		if childErr := discoverSources(root, matcher.Enter(relativePath), relativePath, depth+1, logger); childErr != nil {
			return childErr
		}
	}
	return nil
}

// Root returns the directory the rule set was compiled for.
func (ruleSet *RuleSet) Root() string {
	return ruleSet.root
}

// Sources lists the discovered rule files: supplemental files, then work tree files above the
// root from the outermost down, then project files by directory.
func (ruleSet *RuleSet) Sources() []Source {
	return append([]Source(nil), ruleSet.sources...)
}

// Matcher returns the root scope backed by the compiled sources.
func (ruleSet *RuleSet) Matcher() *Matcher {
	return ruleSet.matcher
}

// IsExcluded reports whether relativePath, or any of its ancestors, is excluded by rules or the
// hidden predicate.
func (ruleSet *RuleSet) IsExcluded(relativePath string, isDirectory bool) bool {
	return ruleSet.Explain(relativePath, isDirectory, -1).Decision.Excluded
}

// Explain evaluates relativePath the way traversal would reach it, one ancestor at a time.
func (ruleSet *RuleSet) Explain(relativePath string, isDirectory bool, size int64) Explanation {
	normalizedPath := utils.NormalizeRelativePath(relativePath)
	explanation := Explanation{Path: normalizedPath}
	segments := utils.SplitRelativePath(normalizedPath)
	scope := ruleSet.matcher
	for index := 0; index < len(segments)-1; index++ {
		ancestor := utils.JoinRelativePath(scope.Directory(), segments[index])
		if decision := scope.Check(ancestor, true, -1); decision.Excluded {
			explanation.Decision = decision
			explanation.ExcludedBy = ancestor
			explanation.Sources = ruleSet.applicableSources(scope)
			return explanation
		}
		scope = scope.Enter(ancestor)
	}
	explanation.Decision = scope.Check(normalizedPath, isDirectory, size)
	explanation.Sources = ruleSet.applicableSources(scope)
	return explanation
}

// ExplainOnDisk is Explain with the entry kind and size taken from the file system. A path
// that does not exist is evaluated as a file of unknown size.
func (ruleSet *RuleSet) ExplainOnDisk(relativePath string) Explanation {
	normalizedPath := utils.NormalizeRelativePath(relativePath)
	isDirectory := normalizedPath == ""
	size := int64(-1)
	if info, statErr := os.Stat(filepath.Join(ruleSet.root, filepath.FromSlash(normalizedPath))); statErr == nil {
		isDirectory = info.IsDir()
		if !isDirectory {
			size = info.Size()
		}
	}
	return ruleSet.Explain(normalizedPath, isDirectory, size)
}

func (ruleSet *RuleSet) applicableSources(scope *Matcher) []string {
	seen := map[string]struct{}{}
	files := []string{}
	for _, rule := range scope.scope.supplemental {
		if _, exists := seen[rule.source]; !exists {
			seen[rule.source] = struct{}{}
			files = append(files, rule.source)
		}
	}
	for _, rule := range append(append([]compiledRule(nil), scope.scope.repository.rules...), scope.rules...) {
		if _, exists := seen[rule.source]; !exists {
			seen[rule.source] = struct{}{}
			files = append(files, rule.source)
		}
	}
	return files
}
