package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/ctxserve/internal/cache"
	"github.com/temirov/ctxserve/internal/config"
	"github.com/temirov/ctxserve/internal/ignore"
	"github.com/temirov/ctxserve/internal/index"
	"github.com/temirov/ctxserve/internal/output"
	"github.com/temirov/ctxserve/internal/selection"
	"github.com/temirov/ctxserve/internal/services/httpapi"
	"github.com/temirov/ctxserve/internal/tokenizer"
	"github.com/temirov/ctxserve/internal/types"
	"github.com/temirov/ctxserve/internal/utils"
)

const (
	serveUse              = "serve"
	serveShort            = "run the HTTP API"
	treeUse               = "tree"
	treeAlias             = "t"
	treeShort             = "print the indexed project tree (" + treeAlias + ")"
	contentUse            = "content <paths...>"
	contentAlias          = "c"
	contentShort          = "print the bundle for selected paths (" + contentAlias + ")"
	checkIgnoreUse        = "check-ignore <path>"
	checkIgnoreShort      = "explain whether a path is excluded from the index"
	initUse               = "init"
	initShort             = "write a default configuration file"
	listeningMessage      = "listening on http://%s"
	configWrittenMessage  = "configuration written to %s"
	notExcludedMessage    = "%s: included"
	excludedMessage       = "%s: excluded (%s)"
	excludedByRuleMessage = "%s: excluded by %s pattern %q"
	excludedByAncestor    = "%s: excluded because %s is excluded (%s)"
	indexedMessage        = "indexed %d files in %d directories at %s"

	errorInvalidFormat = "invalid format %q; expected %s or %s"
	errorNoFilesMatch  = "none of the requested paths is in the index"
)

func newServeCommand(load loaderFunc) *cobra.Command {
	command := &cobra.Command{
		Use:   serveUse,
		Short: serveShort,
		Example: `  # Serve the current directory on the default address
  ctxserve serve

  # Serve another project with a one hour snapshot lifetime
  ctxserve serve --root ../project --ttl 1h --address 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, loadErr := load(command)
			if loadErr != nil {
				return loadErr
			}
			defer app.close()
			return runServe(command, app)
		},
	}
	addIndexFlags(command)
	addContentFlags(command)
	command.Flags().String(addressFlagName, "127.0.0.1:8000", "listen address")
	command.Flags().Duration(ttlFlagName, cache.DefaultTTL, "age after which the snapshot is rebuilt")
	command.Flags().Bool(gzipFlagName, true, "compress responses for clients that accept gzip")
	return command
}

func runServe(command *cobra.Command, app *application) error {
	ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configuration := app.configuration
	builder := newTreeBuilder(configuration, app.logger)
	indexCache := cache.New(func(buildCtx context.Context) (*index.Snapshot, error) {
		return builder.Build(buildCtx, configuration.Root)
	}, cache.Options{TTL: configuration.Cache.TTL, Logger: app.logger, BaseContext: ctx})
	indexCache.ForceRebuild()

	counter, model := newTokenCounter(app)
	server := httpapi.NewServer(httpapi.Config{
		Address:         configuration.Server.Address,
		ShutdownTimeout: configuration.Server.ShutdownTimeout,
		Gzip:            configuration.Server.Gzip,
		Root:            configuration.Root,
		Ignore:          ignoreOptions(configuration, app.logger),
		Index:           indexCache,
		Assembler:       newAssembler(configuration, app.logger),
		TokenCounter:    counter,
		TokenModel:      model,
		Logger:          app.logger,
	})
	return server.Run(ctx, func(address string) {
		app.logger.Info("server started", zap.String("address", address), zap.String("root", configuration.Root))
		writeLine(command.ErrOrStderr(), listeningMessage, address)
	})
}

func newTreeCommand(load loaderFunc) *cobra.Command {
	var format string
	command := &cobra.Command{
		Use:     treeUse,
		Aliases: []string{treeAlias},
		Short:   treeShort,
		Example: `  # Render the tree with connectors
  ctxserve tree

  # Emit the snapshot tree as JSON
  ctxserve tree --format json --root ./project`,
		Args: cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			if format != output.FormatRaw && format != output.FormatJSON {
				return fmt.Errorf(errorInvalidFormat, format, output.FormatRaw, output.FormatJSON)
			}
			app, loadErr := load(command)
			if loadErr != nil {
				return loadErr
			}
			defer app.close()
			snapshot, buildErr := buildSnapshot(command.Context(), app)
			if buildErr != nil {
				return buildErr
			}
			writeLine(command.ErrOrStderr(), indexedMessage, snapshot.Files, snapshot.Directories, utils.FormatTimestamp(snapshot.BuiltAt))
			return output.WriteTree(command.OutOrStdout(), snapshot.Root, format)
		},
	}
	addIndexFlags(command)
	command.Flags().StringVar(&format, formatFlagName, output.FormatRaw, "output format (raw or json)")
	return command
}

func newContentCommand(load loaderFunc) *cobra.Command {
	command := &cobra.Command{
		Use:     contentUse,
		Aliases: []string{contentAlias},
		Short:   contentShort,
		Example: `  # Bundle a directory and a single file
  ctxserve content src README.md

  # Include a token estimate in the summary line
  ctxserve content --tokens --model gpt-4o .`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			app, loadErr := load(command)
			if loadErr != nil {
				return loadErr
			}
			defer app.close()
			return runContent(command, app, arguments)
		},
	}
	addIndexFlags(command)
	addContentFlags(command)
	return command
}

func runContent(command *cobra.Command, app *application, requestedPaths []string) error {
	snapshot, buildErr := buildSnapshot(command.Context(), app)
	if buildErr != nil {
		return buildErr
	}
	resolved := selection.Resolve(snapshot, projectRelative(app.configuration.Root, requestedPaths))
	for _, unknown := range resolved.Unknown {
		app.logger.Warn("path is not in the index", zap.String("path", unknown))
	}
	if len(resolved.Files) == 0 {
		return errors.New(errorNoFilesMatch)
	}

	result, assembleErr := newAssembler(app.configuration, app.logger).Assemble(command.Context(), snapshot.RootPath, resolved.Files)
	if assembleErr != nil {
		return assembleErr
	}
	bundle := output.FormatBundle(result.Documents)
	if _, writeErr := fmt.Fprint(command.OutOrStdout(), bundle); writeErr != nil {
		return writeErr
	}

	summary := output.Summary{Files: len(result.Documents), Skipped: len(result.Skipped), Bytes: result.Bytes}
	if counter, model := newTokenCounter(app); counter != nil {
		if tokens, countErr := tokenizer.CountText(counter, bundle); countErr == nil {
			summary.Tokens = tokens
			summary.Model = model
		} else {
			app.logger.Warn("token count failed", zap.Error(countErr))
		}
	}
	writeLine(command.ErrOrStderr(), "%s", output.FormatSummaryLine(summary))
	return nil
}

func newCheckIgnoreCommand(load loaderFunc) *cobra.Command {
	var format string
	command := &cobra.Command{
		Use:   checkIgnoreUse,
		Short: checkIgnoreShort,
		Example: `  # Find out which rule hides a file
  ctxserve check-ignore build/out.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			if format != output.FormatRaw && format != output.FormatJSON {
				return fmt.Errorf(errorInvalidFormat, format, output.FormatRaw, output.FormatJSON)
			}
			app, loadErr := load(command)
			if loadErr != nil {
				return loadErr
			}
			defer app.close()
			ruleSet, compileErr := ignore.Compile(app.configuration.Root, ignoreOptions(app.configuration, app.logger))
			if compileErr != nil {
				return compileErr
			}
			explanation := ruleSet.ExplainOnDisk(projectRelative(app.configuration.Root, arguments)[0])
			if format == output.FormatJSON {
				encoder := json.NewEncoder(command.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(types.NewCheckIgnoreResponse(explanation, ruleSet.Sources()))
			}
			writeLine(command.OutOrStdout(), "%s", describeExplanation(explanation))
			return nil
		},
	}
	addIndexFlags(command)
	command.Flags().StringVar(&format, formatFlagName, output.FormatRaw, "output format (raw or json)")
	return command
}

func describeExplanation(explanation ignore.Explanation) string {
	decision := explanation.Decision
	displayPath := explanation.Path
	if displayPath == "" {
		displayPath = "."
	}
	switch {
	case !decision.Excluded:
		return fmt.Sprintf(notExcludedMessage, displayPath)
	case explanation.ExcludedBy != "":
		return fmt.Sprintf(excludedByAncestor, displayPath, explanation.ExcludedBy, describeDecision(decision))
	case decision.Reason == ignore.ReasonRule:
		return fmt.Sprintf(excludedByRuleMessage, displayPath, decision.Source, decision.Pattern)
	default:
		return fmt.Sprintf(excludedMessage, displayPath, describeDecision(decision))
	}
}

func describeDecision(decision ignore.Decision) string {
	switch decision.Reason {
	case ignore.ReasonRule:
		return fmt.Sprintf("%s: %s", decision.Source, decision.Pattern)
	case ignore.ReasonExcludeGlob:
		return fmt.Sprintf("exclude glob %s", decision.Pattern)
	default:
		return string(decision.Reason)
	}
}

func newInitCommand() *cobra.Command {
	var global bool
	var force bool
	command := &cobra.Command{
		Use:   initUse,
		Short: initShort,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			target := config.InitTargetLocal
			if global {
				target = config.InitTargetGlobal
			}
			destination, initErr := config.InitializeConfiguration(config.InitOptions{Target: target, Force: force})
			if initErr != nil {
				return initErr
			}
			writeLine(command.OutOrStdout(), configWrittenMessage, destination)
			return nil
		},
	}
	command.Flags().BoolVar(&global, globalFlagName, false, "write to the global configuration directory")
	command.Flags().BoolVar(&force, forceFlagName, false, "overwrite an existing configuration file")
	return command
}
