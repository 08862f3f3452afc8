package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/temirov/ctxserve/internal/utils"
)

// ErrConfigurationExists is returned when init would overwrite a file without force.
var ErrConfigurationExists = errors.New("configuration file already exists")

// InitTarget selects the directory that receives the configuration template.
type InitTarget string

const (
	// InitTargetLocal writes configuration into the working directory.
	InitTargetLocal InitTarget = "local"
	// InitTargetGlobal writes configuration into the global configuration directory.
	InitTargetGlobal InitTarget = "global"

	defaultConfigurationTemplate = `root: .
ignore:
  files: [.gitignore]
  root_files: [.contextignore]
  hidden_prefix: "."
  exclude: []
  repository_rules: true
limits:
  max_file_size: 10485760
cache:
  ttl: 24h
workers:
  tree: 8
server:
  address: 127.0.0.1:8000
  shutdown_timeout: 5s
  gzip: true
tokens:
  enabled: false
  model: gpt-4o
log:
  level: info
  file: ""
`
)

// InitOptions controls template placement and overwrite behavior.
type InitOptions struct {
	Target           InitTarget
	Force            bool
	WorkingDirectory string
}

// InitializeConfiguration writes the commented default template and returns its path.
func InitializeConfiguration(options InitOptions) (string, error) {
	destinationPath, err := initDestination(options)
	if err != nil {
		return "", err
	}
	_, statErr := os.Stat(destinationPath)
	switch {
	case statErr == nil && !options.Force:
		return "", fmt.Errorf("%w: %s", ErrConfigurationExists, destinationPath)
	case statErr != nil && !errors.Is(statErr, fs.ErrNotExist):
		return "", fmt.Errorf("inspect configuration path %s: %w", destinationPath, statErr)
	}
	if err := writeFileAtomically(destinationPath, []byte(defaultConfigurationTemplate)); err != nil {
		return "", err
	}
	return destinationPath, nil
}

func initDestination(options InitOptions) (string, error) {
	switch options.Target {
	case "", InitTargetLocal:
		directory := options.WorkingDirectory
		if directory == "" {
			current, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("determine working directory for configuration: %w", err)
			}
			directory = current
		}
		return filepath.Join(directory, utils.ConfigFileName), nil
	case InitTargetGlobal:
		homeDirectory, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory for configuration: %w", err)
		}
		return filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName, utils.ConfigFileName), nil
	default:
		return "", fmt.Errorf("unsupported init target %q", options.Target)
	}
}

// writeFileAtomically stages data next to the destination and renames it into place.
func writeFileAtomically(destinationPath string, data []byte) error {
	directory := filepath.Dir(destinationPath)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("create configuration directory %s: %w", directory, err)
	}
	staged, err := os.CreateTemp(directory, ".ctxserve-*.tmp")
	if err != nil {
		return fmt.Errorf("stage configuration in %s: %w", directory, err)
	}
	stagedPath := staged.Name()
	if _, err := staged.Write(data); err != nil {
		_ = staged.Close()
		_ = os.Remove(stagedPath)
		return fmt.Errorf("write configuration to %s: %w", stagedPath, err)
	}
	if err := staged.Close(); err != nil {
		_ = os.Remove(stagedPath)
		return fmt.Errorf("close staged configuration %s: %w", stagedPath, err)
	}
	if err := os.Rename(stagedPath, destinationPath); err != nil {
		_ = os.Remove(stagedPath)
		return fmt.Errorf("move configuration to %s: %w", destinationPath, err)
	}
	return nil
}
