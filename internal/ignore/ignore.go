// Package ignore decides which project entries are excluded from the index.
//
// Rules come from gitignore-syntax files. Files named by Options.RecurringFileNames are read in
// every directory and scoped to that directory's subtree, with deeper rules evaluated after
// shallower ones (last match wins). Files named by Options.RootFileNames are read only at the
// project root and apply tree-wide; an entry is excluded when either rule set excludes it.
// When Options.RepositoryRules is set and the root lies inside a git work tree, the recurring
// files of the work tree directories above the root apply as well, ahead of the root's own.
// Entries whose name starts with the hidden prefix and files larger than the size limit are
// always skipped, regardless of any negation rule.
package ignore

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/temirov/ctxserve/internal/utils"
)

// Reason names the predicate that excluded an entry.
type Reason string

const (
	// ReasonNone marks an included entry.
	ReasonNone Reason = ""
	// ReasonHidden marks entries whose name starts with the hidden prefix.
	ReasonHidden Reason = "hidden"
	// ReasonTooLarge marks files above the size limit.
	ReasonTooLarge Reason = "too_large"
	// ReasonRule marks entries excluded by a gitignore-syntax rule.
	ReasonRule Reason = "rule"
	// ReasonExcludeGlob marks entries excluded by a configured glob.
	ReasonExcludeGlob Reason = "exclude_glob"
)

// Options configures rule discovery and the fixed skip predicates.
type Options struct {
	RecurringFileNames []string
	RootFileNames      []string
	HiddenPrefix       string
	MaxFileSize        int64
	ExcludeGlobs       []string
	RepositoryRules    bool
	Logger             *zap.Logger
}

// Decision is the outcome of checking one entry.
type Decision struct {
	Excluded bool   `json:"excluded"`
	Reason   Reason `json:"reason,omitempty"`
	Source   string `json:"source,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

type compiledRule struct {
	pattern gitignore.Pattern
	source  string
	line    string
}

type matcherScope struct {
	root         string
	options      Options
	logger       *zap.Logger
	supplemental []compiledRule
	repository   repositoryRules
	excludeGlobs []string
	load         sourceLoader
}

// Matcher is an immutable rule scope for one directory of the project.
type Matcher struct {
	scope     *matcherScope
	directory string
	rules     []compiledRule
}

// New returns the root-directory Matcher for root. Rule files of deeper directories are read
// when the caller descends into them with Enter.
func New(root string, options Options) *Matcher {
	normalized := normalizeOptions(options)
	return newMatcher(root, normalized, diskLoader(root, normalized))
}

func newMatcher(root string, options Options, load sourceLoader) *Matcher {
	scope := &matcherScope{
		root:    root,
		options: options,
		logger:  options.Logger,
		load:    load,
	}
	for _, glob := range utils.DeduplicatePatterns(options.ExcludeGlobs) {
		if !doublestar.ValidatePattern(glob) {
			scope.logger.Warn("ignoring malformed exclude glob", zap.String("glob", glob))
			continue
		}
		scope.excludeGlobs = append(scope.excludeGlobs, glob)
	}
	for _, source := range load.supplemental() {
		scope.supplemental = append(scope.supplemental, compileSource(source, scope.logger)...)
	}
	scope.repository = load.repository()
	rootMatcher := &Matcher{scope: scope}
	return rootMatcher.withSources(load.recurring(""))
}

func normalizeOptions(options Options) Options {
	normalized := options
	if normalized.Logger == nil {
		normalized.Logger = zap.NewNop()
	}
	if normalized.HiddenPrefix == "" {
		normalized.HiddenPrefix = utils.HiddenEntryPrefix
	}
	if normalized.MaxFileSize <= 0 {
		normalized.MaxFileSize = utils.DefaultMaxFileSize
	}
	normalized.RecurringFileNames = utils.DeduplicatePatterns(normalized.RecurringFileNames)
	normalized.RootFileNames = utils.DeduplicatePatterns(normalized.RootFileNames)
	return normalized
}

// Directory reports the project-relative directory this scope belongs to.
func (matcher *Matcher) Directory() string {
	return matcher.directory
}

// Enter returns the scope for a child directory, extended with the rules found there.
// relativeDirectory is the child's full project-relative path.
func (matcher *Matcher) Enter(relativeDirectory string) *Matcher {
	child := &Matcher{scope: matcher.scope, directory: relativeDirectory, rules: matcher.rules}
	return child.withSources(matcher.scope.load.recurring(relativeDirectory))
}

func (matcher *Matcher) withSources(sources []Source) *Matcher {
	var added []compiledRule
	for _, source := range sources {
		added = append(added, compileSource(source, matcher.scope.logger)...)
	}
	if len(added) == 0 {
		return matcher
	}
	combined := make([]compiledRule, 0, len(matcher.rules)+len(added))
	combined = append(combined, matcher.rules...)
	combined = append(combined, added...)
	matcher.rules = combined
	return matcher
}

// Check evaluates the fixed predicates and every applicable rule for one entry. size is only
// consulted for files; a negative size skips the size predicate.
func (matcher *Matcher) Check(relativePath string, isDirectory bool, size int64) Decision {
	if relativePath == "" {
		return Decision{}
	}
	name := path.Base(relativePath)
	if strings.HasPrefix(name, matcher.scope.options.HiddenPrefix) {
		return Decision{Excluded: true, Reason: ReasonHidden}
	}
	if !isDirectory && size > matcher.scope.options.MaxFileSize {
		return Decision{Excluded: true, Reason: ReasonTooLarge}
	}
	return matcher.checkRules(relativePath, isDirectory)
}

// IsExcluded reports whether rules or the hidden predicate exclude the entry.
func (matcher *Matcher) IsExcluded(relativePath string, isDirectory bool) bool {
	return matcher.Check(relativePath, isDirectory, -1).Excluded
}

func (matcher *Matcher) checkRules(relativePath string, isDirectory bool) Decision {
	segments := utils.SplitRelativePath(relativePath)
	layered := lastMatch(matcher.rules, segments, isDirectory)
	if layered.Source == "" && len(matcher.scope.repository.rules) > 0 {
		layered = lastMatch(matcher.scope.repository.rules, matcher.scope.repository.qualify(segments), isDirectory)
	}
	if layered.Excluded {
		return layered
	}
	if supplemental := lastMatch(matcher.scope.supplemental, segments, isDirectory); supplemental.Excluded {
		return supplemental
	}
	for _, glob := range matcher.scope.excludeGlobs {
		if doublestar.MatchUnvalidated(glob, relativePath) {
			return Decision{Excluded: true, Reason: ReasonExcludeGlob, Pattern: glob}
		}
	}
	return layered
}

// lastMatch scans rules from the end; the first pattern that matches decides.
func lastMatch(rules []compiledRule, segments []string, isDirectory bool) Decision {
	for index := len(rules) - 1; index >= 0; index-- {
		switch rules[index].pattern.Match(segments, isDirectory) {
		case gitignore.Exclude:
			return Decision{Excluded: true, Reason: ReasonRule, Source: rules[index].source, Pattern: rules[index].line}
		case gitignore.Include:
			return Decision{Source: rules[index].source, Pattern: rules[index].line}
		}
	}
	return Decision{}
}
