// Package cli provides the command line interface.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/ctxserve/internal/config"
	"github.com/temirov/ctxserve/internal/utils"
)

const (
	configFlagName   = "config"
	versionFlagName  = "version"
	rootFlagName     = "root"
	logLevelFlagName = "log-level"
	logFileFlagName  = "log-file"
	excludeFlagName  = "exclude"
	maxFileSizeFlag  = "max-file-size"
	treeWorkersFlag  = "tree-workers"
	readWorkersFlag  = "read-workers"
	tokensFlagName   = "tokens"
	modelFlagName    = "model"
	addressFlagName  = "address"
	ttlFlagName      = "ttl"
	gzipFlagName     = "gzip"
	formatFlagName   = "format"
	globalFlagName   = "global"
	forceFlagName    = "force"

	versionTemplate = "ctxserve version: %s\n"
	rootUse         = "ctxserve"
	rootShort       = "ctxserve indexes a project and serves its structure and content"

	configFlagUsage   = "path to a configuration file (default ./" + utils.ConfigFileName + ")"
	versionFlagUsage  = "display application version"
	rootFlagUsage     = "project root directory"
	logLevelFlagUsage = "log level (debug, info, warn, error)"
	logFileFlagUsage  = "also write JSON logs to this rotating file"

	errorLoadConfigurationFormat = "load configuration: %w"
	errorLoggerFormat            = "initialize logger: %w"
)

const rootLong = `ctxserve walks a project directory, honoring .gitignore files and a root .contextignore,
and keeps an in-memory snapshot of the resulting tree. Clients select files or directories
from the tree and receive their contents as one delimited text bundle.
Use serve to run the HTTP API, or tree and content for one-shot output.`

// Execute runs the ctxserve application.
func Execute() error {
	return NewRootCommand().Execute()
}

// application carries what a command needs once configuration has been loaded.
type application struct {
	configuration config.ApplicationConfiguration
	logger        *zap.Logger
}

// NewRootCommand builds the root Cobra command.
func NewRootCommand() *cobra.Command {
	var showVersion bool
	var configPath string

	rootCommand := &cobra.Command{
		Use:           rootUse,
		Short:         rootShort,
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			if showVersion {
				_, err := fmt.Fprintf(command.OutOrStdout(), versionTemplate, utils.GetApplicationVersion())
				return err
			}
			return command.Help()
		},
	}
	rootCommand.Flags().BoolVar(&showVersion, versionFlagName, false, versionFlagUsage)
	persistent := rootCommand.PersistentFlags()
	persistent.StringVar(&configPath, configFlagName, "", configFlagUsage)
	persistent.String(rootFlagName, ".", rootFlagUsage)
	persistent.String(logLevelFlagName, "info", logLevelFlagUsage)
	persistent.String(logFileFlagName, "", logFileFlagUsage)

	load := func(command *cobra.Command) (*application, error) {
		return loadApplication(command, configPath)
	}
	rootCommand.AddCommand(
		newServeCommand(load),
		newTreeCommand(load),
		newContentCommand(load),
		newCheckIgnoreCommand(load),
		newInitCommand(),
	)
	rootCommand.InitDefaultHelpCmd()
	rootCommand.InitDefaultCompletionCmd()
	return rootCommand
}

type loaderFunc func(command *cobra.Command) (*application, error)

func loadApplication(command *cobra.Command, configPath string) (*application, error) {
	configuration, loadErr := config.LoadApplicationConfiguration(config.LoadOptions{
		ExplicitFilePath: configPath,
		Flags:            command.Flags(),
	})
	if loadErr != nil {
		return nil, fmt.Errorf(errorLoadConfigurationFormat, loadErr)
	}
	logger, loggerErr := utils.NewApplicationLogger(configuration.LoggerOptions())
	if loggerErr != nil {
		return nil, fmt.Errorf(errorLoggerFormat, loggerErr)
	}
	logger.Debug("configuration loaded",
		zap.String("root", configuration.Root),
		zap.Strings("ignore_files", configuration.Ignore.Files),
		zap.Strings("root_ignore_files", configuration.Ignore.RootFiles),
		zap.Int64("max_file_size", configuration.Limits.MaxFileSize),
	)
	return &application{configuration: configuration, logger: logger}, nil
}

func (app *application) close() {
	_ = app.logger.Sync()
}

// addIndexFlags registers the flags that shape a tree build.
func addIndexFlags(command *cobra.Command) {
	flags := command.Flags()
	flags.StringSlice(excludeFlagName, nil, "extra glob excluded everywhere (repeatable)")
	flags.Int64(maxFileSizeFlag, utils.DefaultMaxFileSize, "files larger than this many bytes are skipped")
	flags.Int(treeWorkersFlag, 8, "concurrent directory scans")
}

// addContentFlags registers the flags that shape assembly.
func addContentFlags(command *cobra.Command) {
	flags := command.Flags()
	flags.Int(readWorkersFlag, config.DefaultReadWorkers(), "concurrent file reads")
	flags.Bool(tokensFlagName, false, "estimate the token count of assembled bundles")
	flags.String(modelFlagName, "gpt-4o", "tokenizer model used for token estimates")
}

func writeLine(writer io.Writer, format string, arguments ...interface{}) {
	_, _ = fmt.Fprintf(writer, format+"\n", arguments...)
}
