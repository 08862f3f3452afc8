package ignore

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/temirov/ctxserve/internal/utils"
)

const parentDirectory = ".."

// repositoryRules holds the recurring rule files of the git work tree directories above the
// project root. Their patterns are scoped relative to the work tree root, so project paths are
// qualified with prefix before matching.
type repositoryRules struct {
	prefix  []string
	sources []Source
	rules   []compiledRule
}

func (repository repositoryRules) qualify(segments []string) []string {
	qualified := make([]string, 0, len(repository.prefix)+len(segments))
	qualified = append(qualified, repository.prefix...)
	return append(qualified, segments...)
}

// findWorkTreeRoot returns the root of the git work tree enclosing directory.
func findWorkTreeRoot(directory string) (string, error) {
	repository, openErr := git.PlainOpenWithOptions(directory, &git.PlainOpenOptions{DetectDotGit: true})
	if openErr != nil {
		return "", openErr
	}
	worktree, worktreeErr := repository.Worktree()
	if worktreeErr != nil {
		return "", worktreeErr
	}
	return worktree.Filesystem.Root(), nil
}

// loadRepositoryRules reads the recurring rule files of every work tree directory from the
// work tree root down to, but excluding, the project root. The project root's own files are
// loaded by the regular scope.
func loadRepositoryRules(projectRoot string, options Options) repositoryRules {
	absoluteRoot, absErr := filepath.Abs(projectRoot)
	if absErr != nil {
		return repositoryRules{}
	}
	workTreeRoot, findErr := findWorkTreeRoot(absoluteRoot)
	if findErr != nil {
		options.Logger.Debug("no enclosing git work tree", zap.String("root", absoluteRoot), zap.Error(findErr))
		return repositoryRules{}
	}
	relativeRoot, relErr := filepath.Rel(workTreeRoot, absoluteRoot)
	if relErr != nil || relativeRoot == "." || strings.HasPrefix(relativeRoot, parentDirectory) {
		return repositoryRules{}
	}

	collected := repositoryRules{prefix: utils.SplitRelativePath(filepath.ToSlash(relativeRoot))}
	loader := diskSourceLoader{root: workTreeRoot, options: options}
	for depth := 0; depth < len(collected.prefix); depth++ {
		directory := strings.Join(collected.prefix[:depth], "/")
		// Shown relative to the project root, e.g. "../.gitignore".
		upward := strings.Repeat(parentDirectory+"/", len(collected.prefix)-depth)
		for _, source := range loader.recurring(directory) {
			source.File = upward + path.Base(source.File)
			collected.rules = append(collected.rules, compileSource(source, options.Logger)...)
			source.Directory = strings.TrimSuffix(upward, "/")
			collected.sources = append(collected.sources, source)
		}
	}
	if len(collected.sources) > 0 {
		options.Logger.Debug("applying git work tree rules above root",
			zap.String("work_tree", workTreeRoot),
			zap.Int("files", len(collected.sources)),
		)
	}
	return collected
}
