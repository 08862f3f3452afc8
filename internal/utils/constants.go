package utils

// ErrorLogFormat defines the formatting string for error log messages.
const ErrorLogFormat = "Error: %v"

// ApplicationExecutionFailedMessage prefixes the fatal log entry emitted when the root command fails.
const ApplicationExecutionFailedMessage = "ctxserve failed"

// Names of well-known project entries.
const (
	// GitIgnoreFileName is the per-directory rule file recognized by default.
	GitIgnoreFileName = ".gitignore"
	// ContextIgnoreFileName is the project-root supplemental rule file recognized by default.
	ContextIgnoreFileName = ".contextignore"
	// HiddenEntryPrefix marks entries that are never indexed.
	HiddenEntryPrefix = "."
	// ConfigFileName is the name of the configuration file looked up in the working directory.
	ConfigFileName = ".ctxserve.yaml"
	// GlobalConfigDirectoryName is the directory under the user home holding the global configuration.
	GlobalConfigDirectoryName = ".ctxserve"
)

// DefaultMaxFileSize is the size above which files are neither indexed nor read.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024
