package utils

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogLevel       = "info"
	logMessageKey         = "message"
	logLevelKey           = "level"
	logTimeKey            = "time"
	errorLogLevelFormat   = "parse log level %q: %w"
	errorLogBuilderFormat = "build logger: %w"
)

// LoggerOptions controls the verbosity and optional rotating file sink of the application logger.
type LoggerOptions struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewApplicationLogger constructs a zap logger configured for human-readable console output.
// When FilePath is set, entries are additionally written as JSON to a lumberjack-rotated file.
func NewApplicationLogger(options LoggerOptions) (*zap.Logger, error) {
	levelName := strings.TrimSpace(options.Level)
	if levelName == "" {
		levelName = defaultLogLevel
	}
	level, levelErr := zapcore.ParseLevel(levelName)
	if levelErr != nil {
		return nil, fmt.Errorf(errorLogLevelFormat, levelName, levelErr)
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	config := zap.NewProductionConfig()
	config.Level = atomicLevel
	config.Encoding = "console"
	config.DisableCaller = true
	config.DisableStacktrace = true
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.EncoderConfig.TimeKey = ""
	config.EncoderConfig.NameKey = ""
	config.EncoderConfig.CallerKey = ""
	config.EncoderConfig.MessageKey = logMessageKey
	config.EncoderConfig.StacktraceKey = ""

	logger, buildErr := config.Build()
	if buildErr != nil {
		return nil, fmt.Errorf(errorLogBuilderFormat, buildErr)
	}
	if strings.TrimSpace(options.FilePath) == "" {
		return logger, nil
	}

	fileEncoderConfig := zap.NewProductionEncoderConfig()
	fileEncoderConfig.TimeKey = logTimeKey
	fileEncoderConfig.LevelKey = logLevelKey
	fileEncoderConfig.MessageKey = logMessageKey
	fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	rotatingFile := &lumberjack.Logger{
		Filename:   options.FilePath,
		MaxSize:    options.MaxSizeMB,
		MaxBackups: options.MaxBackups,
		MaxAge:     options.MaxAgeDays,
		Compress:   true,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig), zapcore.AddSync(rotatingFile), atomicLevel)
	return logger.WithOptions(zap.WrapCore(func(consoleCore zapcore.Core) zapcore.Core {
		return zapcore.NewTee(consoleCore, fileCore)
	})), nil
}

// NewBootstrapLogger returns a console logger usable before configuration is loaded.
func NewBootstrapLogger() *zap.Logger {
	logger, err := NewApplicationLogger(LoggerOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, ErrorLogFormat+"\n", err)
		return zap.NewNop()
	}
	return logger
}
