package cli

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/temirov/ctxserve/internal/assemble"
	"github.com/temirov/ctxserve/internal/config"
	"github.com/temirov/ctxserve/internal/ignore"
	"github.com/temirov/ctxserve/internal/index"
	"github.com/temirov/ctxserve/internal/tokenizer"
	"github.com/temirov/ctxserve/internal/utils"
)

func ignoreOptions(configuration config.ApplicationConfiguration, logger *zap.Logger) ignore.Options {
	return ignore.Options{
		RecurringFileNames: configuration.Ignore.Files,
		RootFileNames:      configuration.Ignore.RootFiles,
		HiddenPrefix:       configuration.Ignore.HiddenPrefix,
		MaxFileSize:        configuration.Limits.MaxFileSize,
		ExcludeGlobs:       configuration.Ignore.Exclude,
		RepositoryRules:    configuration.Ignore.RepositoryRules,
		Logger:             logger,
	}
}

func newTreeBuilder(configuration config.ApplicationConfiguration, logger *zap.Logger) *index.TreeBuilder {
	return index.NewTreeBuilder(index.Options{
		Workers: configuration.Workers.Tree,
		Ignore:  ignoreOptions(configuration, logger),
		Logger:  logger,
	})
}

func newAssembler(configuration config.ApplicationConfiguration, logger *zap.Logger) *assemble.Assembler {
	return assemble.New(assemble.Options{
		Workers:     configuration.Workers.Read,
		MaxFileSize: configuration.Limits.MaxFileSize,
		Logger:      logger,
	})
}

// buildSnapshot indexes the configured root once.
func buildSnapshot(ctx context.Context, app *application) (*index.Snapshot, error) {
	return newTreeBuilder(app.configuration, app.logger).Build(ctx, app.configuration.Root)
}

// newTokenCounter returns nil when token estimates are disabled or unavailable.
func newTokenCounter(app *application) (tokenizer.Counter, string) {
	if !app.configuration.Tokens.Enabled {
		return nil, ""
	}
	counter, model, err := tokenizer.NewCounter(tokenizer.Config{Model: app.configuration.Tokens.Model})
	if err != nil {
		app.logger.Warn("token counting disabled", zap.Error(err))
		return nil, ""
	}
	return counter, model
}

// projectRelative maps absolute arguments inside root onto the index path form.
func projectRelative(root string, candidates []string) []string {
	relative := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if filepath.IsAbs(candidate) {
			candidate = utils.RelativePathOrSelf(candidate, root)
		}
		relative = append(relative, candidate)
	}
	return relative
}
