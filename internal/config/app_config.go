package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/temirov/ctxserve/internal/utils"
)

// Configuration keys understood by viper. Nested keys map onto the mapstructure tags below.
const (
	KeyRoot                  = "root"
	KeyIgnoreFiles           = "ignore.files"
	KeyIgnoreRootFiles       = "ignore.root_files"
	KeyIgnoreHiddenPrefix    = "ignore.hidden_prefix"
	KeyIgnoreExclude         = "ignore.exclude"
	KeyIgnoreRepositoryRules = "ignore.repository_rules"
	KeyLimitsMaxFileSize     = "limits.max_file_size"
	KeyCacheTTL              = "cache.ttl"
	KeyWorkersTree           = "workers.tree"
	KeyWorkersRead           = "workers.read"
	KeyServerAddress         = "server.address"
	KeyServerShutdownTimeout = "server.shutdown_timeout"
	KeyServerGzip            = "server.gzip"
	KeyTokensEnabled         = "tokens.enabled"
	KeyTokensModel           = "tokens.model"
	KeyLogLevel              = "log.level"
	KeyLogFile               = "log.file"
	KeyLogMaxSizeMB          = "log.max_size_mb"
	KeyLogMaxBackups         = "log.max_backups"
	KeyLogMaxAgeDays         = "log.max_age_days"

	environmentPrefix = "CTXSERVE"

	defaultRoot            = "."
	defaultCacheTTL        = 24 * time.Hour
	defaultTreeWorkers     = 8
	defaultServerAddress   = "127.0.0.1:8000"
	defaultShutdownTimeout = 5 * time.Second
	defaultTokenizerModel  = "gpt-4o"
	defaultLogLevel        = "info"
	defaultLogMaxSizeMB    = 10
	defaultLogMaxBackups   = 3
	defaultLogMaxAgeDays   = 28
	maximumReadWorkers     = 32
	readWorkersPerCPU      = 4

	errorWorkingDirectoryFormat = "determine working directory: %w"
	errorResolvePathFormat      = "resolve configuration path %s: %w"
	errorStatFormat             = "stat configuration %s: %w"
	errorDirectoryPathFormat    = "configuration path %s is a directory"
	errorReadFormat             = "read configuration from %s: %w"
	errorBindFlagFormat         = "bind flag %s: %w"
	errorDecodeFormat           = "decode configuration: %w"
	errorInvalidFormat          = "invalid configuration: %w"
)

// FlagBindings maps command line flag names to configuration keys.
var FlagBindings = map[string]string{
	"root":          KeyRoot,
	"address":       KeyServerAddress,
	"gzip":          KeyServerGzip,
	"ttl":           KeyCacheTTL,
	"max-file-size": KeyLimitsMaxFileSize,
	"tree-workers":  KeyWorkersTree,
	"read-workers":  KeyWorkersRead,
	"exclude":       KeyIgnoreExclude,
	"tokens":        KeyTokensEnabled,
	"model":         KeyTokensModel,
	"log-level":     KeyLogLevel,
	"log-file":      KeyLogFile,
}

// LoadOptions controls how application configuration is discovered.
type LoadOptions struct {
	WorkingDirectory string
	ExplicitFilePath string
	Flags            *pflag.FlagSet
}

// ApplicationConfiguration holds every setting consumed by the indexing engine and its boundaries.
type ApplicationConfiguration struct {
	Root    string              `mapstructure:"root"`
	Ignore  IgnoreConfiguration `mapstructure:"ignore"`
	Limits  LimitConfiguration  `mapstructure:"limits"`
	Cache   CacheConfiguration  `mapstructure:"cache"`
	Workers WorkerConfiguration `mapstructure:"workers"`
	Server  ServerConfiguration `mapstructure:"server"`
	Tokens  TokenConfiguration  `mapstructure:"tokens"`
	Log     LogConfiguration    `mapstructure:"log"`
}

// IgnoreConfiguration names the rule files and fixed skip conventions.
type IgnoreConfiguration struct {
	Files        []string `mapstructure:"files"`
	RootFiles    []string `mapstructure:"root_files"`
	HiddenPrefix string   `mapstructure:"hidden_prefix"`
	Exclude      []string `mapstructure:"exclude"`

	// RepositoryRules applies the rule files of enclosing git work tree directories above root.
	RepositoryRules bool `mapstructure:"repository_rules"`
}

// LimitConfiguration bounds the size of indexed and assembled files.
type LimitConfiguration struct {
	MaxFileSize int64 `mapstructure:"max_file_size"`
}

// CacheConfiguration controls snapshot expiry.
type CacheConfiguration struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// WorkerConfiguration sizes the bounded worker pools.
type WorkerConfiguration struct {
	Tree int `mapstructure:"tree"`
	Read int `mapstructure:"read"`
}

// ServerConfiguration configures the HTTP boundary.
type ServerConfiguration struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Gzip            bool          `mapstructure:"gzip"`
}

// TokenConfiguration controls token counting of assembled bundles.
type TokenConfiguration struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// LogConfiguration controls the application logger.
type LogConfiguration struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultReadWorkers returns min(32, 4*NumCPU).
func DefaultReadWorkers() int {
	workers := runtime.NumCPU() * readWorkersPerCPU
	if workers > maximumReadWorkers {
		return maximumReadWorkers
	}
	if workers < 1 {
		return 1
	}
	return workers
}

func applyDefaults(reader *viper.Viper) {
	reader.SetDefault(KeyRoot, defaultRoot)
	reader.SetDefault(KeyIgnoreFiles, []string{utils.GitIgnoreFileName})
	reader.SetDefault(KeyIgnoreRootFiles, []string{utils.ContextIgnoreFileName})
	reader.SetDefault(KeyIgnoreHiddenPrefix, utils.HiddenEntryPrefix)
	reader.SetDefault(KeyIgnoreExclude, []string{})
	reader.SetDefault(KeyIgnoreRepositoryRules, true)
	reader.SetDefault(KeyLimitsMaxFileSize, utils.DefaultMaxFileSize)
	reader.SetDefault(KeyCacheTTL, defaultCacheTTL)
	reader.SetDefault(KeyWorkersTree, defaultTreeWorkers)
	reader.SetDefault(KeyWorkersRead, DefaultReadWorkers())
	reader.SetDefault(KeyServerAddress, defaultServerAddress)
	reader.SetDefault(KeyServerShutdownTimeout, defaultShutdownTimeout)
	reader.SetDefault(KeyServerGzip, true)
	reader.SetDefault(KeyTokensEnabled, false)
	reader.SetDefault(KeyTokensModel, defaultTokenizerModel)
	reader.SetDefault(KeyLogLevel, defaultLogLevel)
	reader.SetDefault(KeyLogFile, "")
	reader.SetDefault(KeyLogMaxSizeMB, defaultLogMaxSizeMB)
	reader.SetDefault(KeyLogMaxBackups, defaultLogMaxBackups)
	reader.SetDefault(KeyLogMaxAgeDays, defaultLogMaxAgeDays)
}

// LoadApplicationConfiguration layers defaults, the global file, the local file, CTXSERVE_*
// environment variables and explicitly set flags, in increasing priority.
func LoadApplicationConfiguration(options LoadOptions) (ApplicationConfiguration, error) {
	workingDirectory := options.WorkingDirectory
	if workingDirectory == "" {
		currentDirectory, err := os.Getwd()
		if err != nil {
			return ApplicationConfiguration{}, fmt.Errorf(errorWorkingDirectoryFormat, err)
		}
		workingDirectory = currentDirectory
	}

	reader := viper.New()
	applyDefaults(reader)
	reader.SetEnvPrefix(environmentPrefix)
	reader.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	reader.AutomaticEnv()

	if homeDirectory, err := os.UserHomeDir(); err == nil && homeDirectory != "" {
		globalPath := filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName, utils.ConfigFileName)
		if mergeErr := mergeConfigurationFromPath(reader, globalPath); mergeErr != nil {
			return ApplicationConfiguration{}, mergeErr
		}
	}

	localPath, resolveErr := resolveLocalConfigPath(workingDirectory, options.ExplicitFilePath)
	if resolveErr != nil {
		return ApplicationConfiguration{}, resolveErr
	}
	if mergeErr := mergeConfigurationFromPath(reader, localPath); mergeErr != nil {
		return ApplicationConfiguration{}, mergeErr
	}

	if options.Flags != nil {
		for flagName, key := range FlagBindings {
			flag := options.Flags.Lookup(flagName)
			if flag == nil {
				continue
			}
			if bindErr := reader.BindPFlag(key, flag); bindErr != nil {
				return ApplicationConfiguration{}, fmt.Errorf(errorBindFlagFormat, flagName, bindErr)
			}
		}
	}

	var configuration ApplicationConfiguration
	if decodeErr := reader.Unmarshal(&configuration); decodeErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf(errorDecodeFormat, decodeErr)
	}
	configuration.Ignore.Files = utils.DeduplicatePatterns(configuration.Ignore.Files)
	configuration.Ignore.RootFiles = utils.DeduplicatePatterns(configuration.Ignore.RootFiles)
	configuration.Ignore.Exclude = utils.DeduplicatePatterns(configuration.Ignore.Exclude)
	if !filepath.IsAbs(configuration.Root) {
		configuration.Root = filepath.Join(workingDirectory, configuration.Root)
	}

	if validationErr := configuration.Validate(); validationErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf(errorInvalidFormat, validationErr)
	}
	return configuration, nil
}

// Validate rejects settings the engine cannot operate with.
func (configuration ApplicationConfiguration) Validate() error {
	var problems []error
	if strings.TrimSpace(configuration.Root) == "" {
		problems = append(problems, errors.New("root must not be empty"))
	}
	if configuration.Limits.MaxFileSize <= 0 {
		problems = append(problems, fmt.Errorf("%s must be positive, got %d", KeyLimitsMaxFileSize, configuration.Limits.MaxFileSize))
	}
	if configuration.Cache.TTL <= 0 {
		problems = append(problems, fmt.Errorf("%s must be positive, got %s", KeyCacheTTL, configuration.Cache.TTL))
	}
	if configuration.Workers.Tree <= 0 {
		problems = append(problems, fmt.Errorf("%s must be positive, got %d", KeyWorkersTree, configuration.Workers.Tree))
	}
	if configuration.Workers.Read <= 0 {
		problems = append(problems, fmt.Errorf("%s must be positive, got %d", KeyWorkersRead, configuration.Workers.Read))
	}
	if configuration.Ignore.HiddenPrefix == "" {
		problems = append(problems, fmt.Errorf("%s must not be empty", KeyIgnoreHiddenPrefix))
	}
	return errors.Join(problems...)
}

// LoggerOptions converts the log section into utils.LoggerOptions.
func (configuration ApplicationConfiguration) LoggerOptions() utils.LoggerOptions {
	return utils.LoggerOptions{
		Level:      configuration.Log.Level,
		FilePath:   configuration.Log.File,
		MaxSizeMB:  configuration.Log.MaxSizeMB,
		MaxBackups: configuration.Log.MaxBackups,
		MaxAgeDays: configuration.Log.MaxAgeDays,
	}
}

func resolveLocalConfigPath(workingDirectory, explicitPath string) (string, error) {
	if explicitPath != "" {
		if filepath.IsAbs(explicitPath) {
			return explicitPath, nil
		}
		if workingDirectory == "" {
			absolute, err := filepath.Abs(explicitPath)
			if err != nil {
				return "", fmt.Errorf(errorResolvePathFormat, explicitPath, err)
			}
			return absolute, nil
		}
		return filepath.Join(workingDirectory, explicitPath), nil
	}
	if workingDirectory == "" {
		return "", nil
	}
	return filepath.Join(workingDirectory, utils.ConfigFileName), nil
}

func mergeConfigurationFromPath(reader *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil
		}
		return fmt.Errorf(errorStatFormat, path, statErr)
	}
	if info.IsDir() {
		return fmt.Errorf(errorDirectoryPathFormat, path)
	}
	reader.SetConfigFile(path)
	if readErr := reader.MergeInConfig(); readErr != nil {
		return fmt.Errorf(errorReadFormat, path, readErr)
	}
	return nil
}
