package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/temirov/ctxserve/internal/utils"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	homeDirectory := t.TempDir()
	t.Setenv("HOME", homeDirectory)
	t.Setenv("USERPROFILE", homeDirectory)
	return homeDirectory
}

func TestLoadApplicationConfigurationDefaults(t *testing.T) {
	isolateHome(t)
	workingDirectory := t.TempDir()

	configuration, err := LoadApplicationConfiguration(LoadOptions{WorkingDirectory: workingDirectory})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(workingDirectory, "."), configuration.Root)
	require.Equal(t, []string{utils.GitIgnoreFileName}, configuration.Ignore.Files)
	require.Equal(t, []string{utils.ContextIgnoreFileName}, configuration.Ignore.RootFiles)
	require.Equal(t, utils.HiddenEntryPrefix, configuration.Ignore.HiddenPrefix)
	require.True(t, configuration.Ignore.RepositoryRules)
	require.Equal(t, utils.DefaultMaxFileSize, configuration.Limits.MaxFileSize)
	require.Equal(t, 24*time.Hour, configuration.Cache.TTL)
	require.Equal(t, DefaultReadWorkers(), configuration.Workers.Read)
	require.Equal(t, 8, configuration.Workers.Tree)
	require.True(t, configuration.Server.Gzip)
	require.Equal(t, "127.0.0.1:8000", configuration.Server.Address)
}

func TestLoadApplicationConfigurationMergesSources(t *testing.T) {
	testCases := []struct {
		name          string
		globalContent string
		localContent  string
		explicitPath  string
		environment   map[string]string
		flagArguments []string
		expectTTL     time.Duration
		expectAddress string
		expectExclude []string
	}{
		{
			name:          "local_overrides_global",
			globalContent: "cache:\n  ttl: 2h\nserver:\n  address: 0.0.0.0:9000\n",
			localContent:  "cache:\n  ttl: 30m\nignore:\n  exclude: ['**/*.tmp', '**/*.tmp']\n",
			expectTTL:     30 * time.Minute,
			expectAddress: "0.0.0.0:9000",
			expectExclude: []string{"**/*.tmp"},
		},
		{
			name:          "explicit_path_replaces_local",
			localContent:  "cache:\n  ttl: 30m\n",
			explicitPath:  "custom.yaml",
			expectTTL:     24 * time.Hour,
			expectAddress: "127.0.0.1:8000",
			expectExclude: []string{},
		},
		{
			name:          "environment_overrides_files",
			localContent:  "server:\n  address: 127.0.0.1:7000\n",
			environment:   map[string]string{"CTXSERVE_SERVER_ADDRESS": "127.0.0.1:7100"},
			expectTTL:     24 * time.Hour,
			expectAddress: "127.0.0.1:7100",
			expectExclude: []string{},
		},
		{
			name:          "flags_override_everything",
			localContent:  "cache:\n  ttl: 30m\n",
			environment:   map[string]string{"CTXSERVE_CACHE_TTL": "45m"},
			flagArguments: []string{"--ttl", "5m", "--exclude", "vendor/**"},
			expectTTL:     5 * time.Minute,
			expectAddress: "127.0.0.1:8000",
			expectExclude: []string{"vendor/**"},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			homeDirectory := isolateHome(t)
			workingDirectory := t.TempDir()
			for key, value := range testCase.environment {
				t.Setenv(key, value)
			}
			if testCase.globalContent != "" {
				globalDirectory := filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName)
				require.NoError(t, os.MkdirAll(globalDirectory, 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(globalDirectory, utils.ConfigFileName), []byte(testCase.globalContent), 0o600))
			}
			if testCase.localContent != "" {
				require.NoError(t, os.WriteFile(filepath.Join(workingDirectory, utils.ConfigFileName), []byte(testCase.localContent), 0o600))
			}
			if testCase.explicitPath != "" {
				require.NoError(t, os.WriteFile(filepath.Join(workingDirectory, testCase.explicitPath), []byte("root: .\n"), 0o600))
			}

			flags := pflag.NewFlagSet(testCase.name, pflag.ContinueOnError)
			flags.Duration("ttl", 24*time.Hour, "")
			flags.StringSlice("exclude", nil, "")
			require.NoError(t, flags.Parse(testCase.flagArguments))

			configuration, err := LoadApplicationConfiguration(LoadOptions{
				WorkingDirectory: workingDirectory,
				ExplicitFilePath: testCase.explicitPath,
				Flags:            flags,
			})
			require.NoError(t, err)
			require.Equal(t, testCase.expectTTL, configuration.Cache.TTL)
			require.Equal(t, testCase.expectAddress, configuration.Server.Address)
			require.Equal(t, testCase.expectExclude, configuration.Ignore.Exclude)
		})
	}
}

func TestLoadApplicationConfigurationRejectsInvalidValues(t *testing.T) {
	isolateHome(t)
	workingDirectory := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workingDirectory, utils.ConfigFileName), []byte("workers:\n  read: 0\nlimits:\n  max_file_size: -1\n"), 0o600))

	_, err := LoadApplicationConfiguration(LoadOptions{WorkingDirectory: workingDirectory})
	require.Error(t, err)
	require.Contains(t, err.Error(), KeyWorkersRead)
	require.Contains(t, err.Error(), KeyLimitsMaxFileSize)
}

func TestLoadApplicationConfigurationRejectsDirectoryPath(t *testing.T) {
	isolateHome(t)
	workingDirectory := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(workingDirectory, "conf.yaml"), 0o755))

	_, err := LoadApplicationConfiguration(LoadOptions{WorkingDirectory: workingDirectory, ExplicitFilePath: "conf.yaml"})
	require.Error(t, err)
}
