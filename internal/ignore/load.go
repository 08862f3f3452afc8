package ignore

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/temirov/ctxserve/internal/config"
	"github.com/temirov/ctxserve/internal/utils"
)

const (
	negationPrefix = "!"
	anchorPrefix   = "/"
	escapePrefix   = "\\"
)

// Source is one rule file and the directory its patterns are anchored at.
type Source struct {
	File         string   `json:"file"`
	Directory    string   `json:"directory"`
	Patterns     []string `json:"patterns"`
	Supplemental bool     `json:"supplemental,omitempty"`
}

type sourceLoader interface {
	recurring(relativeDirectory string) []Source
	supplemental() []Source
	repository() repositoryRules
}

type diskSourceLoader struct {
	root    string
	options Options
}

func diskLoader(root string, options Options) sourceLoader {
	return diskSourceLoader{root: root, options: options}
}

func (loader diskSourceLoader) recurring(relativeDirectory string) []Source {
	return loader.read(relativeDirectory, loader.options.RecurringFileNames, false)
}

func (loader diskSourceLoader) supplemental() []Source {
	return loader.read("", loader.options.RootFileNames, true)
}

func (loader diskSourceLoader) repository() repositoryRules {
	if !loader.options.RepositoryRules {
		return repositoryRules{}
	}
	return loadRepositoryRules(loader.root, loader.options)
}

func (loader diskSourceLoader) read(relativeDirectory string, fileNames []string, supplemental bool) []Source {
	var sources []Source
	for _, fileName := range fileNames {
		relativeFile := utils.JoinRelativePath(relativeDirectory, fileName)
		absoluteFile := filepath.Join(loader.root, filepath.FromSlash(relativeFile))
		patterns, loadErr := config.LoadIgnoreFilePatterns(absoluteFile)
		if loadErr != nil {
			loader.options.Logger.Warn("treating unreadable rule file as empty", zap.String("path", relativeFile), zap.Error(loadErr))
			continue
		}
		if len(patterns) == 0 {
			continue
		}
		sources = append(sources, Source{
			File:         relativeFile,
			Directory:    relativeDirectory,
			Patterns:     patterns,
			Supplemental: supplemental,
		})
	}
	return sources
}

// compileSource parses the lines of one rule file. Lines whose glob syntax is malformed are dropped.
func compileSource(source Source, logger *zap.Logger) []compiledRule {
	var domain []string
	if !source.Supplemental {
		domain = utils.SplitRelativePath(source.Directory)
	}
	rules := make([]compiledRule, 0, len(source.Patterns))
	for _, line := range source.Patterns {
		if !isWellFormed(line) {
			logger.Debug("ignoring malformed rule", zap.String("source", source.File), zap.String("pattern", line))
			continue
		}
		rules = append(rules, compiledRule{
			pattern: gitignore.ParsePattern(line, domain),
			source:  source.File,
			line:    line,
		})
	}
	return rules
}

func isWellFormed(line string) bool {
	body := strings.TrimPrefix(line, negationPrefix)
	body = strings.TrimPrefix(body, anchorPrefix)
	body = strings.TrimSuffix(body, anchorPrefix)
	if body == "" || body == escapePrefix {
		return false
	}
	return doublestar.ValidatePattern(body)
}
