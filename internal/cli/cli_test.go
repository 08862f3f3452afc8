package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/ctxserve/internal/cli"
	"github.com/temirov/ctxserve/internal/output"
	"github.com/temirov/ctxserve/internal/types"
	"github.com/temirov/ctxserve/internal/utils"
)

func writeProject(testingHandle *testing.T) string {
	testingHandle.Helper()
	testingHandle.Setenv("HOME", testingHandle.TempDir())
	root := testingHandle.TempDir()
	for relativePath, content := range map[string]string{
		"a.txt":         "alpha\n",
		".secret":       "token",
		".gitignore":    "build/\n",
		"build/out.bin": "bin",
		"src/x.py":      "print('x')\n",
	} {
		absolutePath := filepath.Join(root, filepath.FromSlash(relativePath))
		require.NoError(testingHandle, os.MkdirAll(filepath.Dir(absolutePath), 0o755))
		require.NoError(testingHandle, os.WriteFile(absolutePath, []byte(content), 0o644))
	}
	return root
}

func runCommand(testingHandle *testing.T, arguments ...string) (string, string, error) {
	testingHandle.Helper()
	command := cli.NewRootCommand()
	var stdout, stderr bytes.Buffer
	command.SetOut(&stdout)
	command.SetErr(&stderr)
	command.SetArgs(append(arguments, "--log-level", "error"))
	executeErr := command.Execute()
	return stdout.String(), stderr.String(), executeErr
}

func TestTreeRaw(t *testing.T) {
	root := writeProject(t)
	stdout, _, err := runCommand(t, "tree", "--root", root)
	require.NoError(t, err)
	expected := strings.Join([]string{".", "├── src/", "│   └── x.py", "└── a.txt", ""}, "\n")
	require.Equal(t, expected, stdout)
}

func TestTreeJSONHonorsExcludeFlag(t *testing.T) {
	root := writeProject(t)
	stdout, _, err := runCommand(t, "tree", "--root", root, "--format", "json", "--exclude", "**/*.py")
	require.NoError(t, err)
	require.Contains(t, stdout, `"path": "a.txt"`)
	require.NotContains(t, stdout, "x.py")
	require.NotContains(t, stdout, `"path": "src"`)
}

func TestTreeRejectsUnknownFormat(t *testing.T) {
	root := writeProject(t)
	_, _, err := runCommand(t, "tree", "--root", root, "--format", "xml")
	require.Error(t, err)
}

func TestTreeMissingRoot(t *testing.T) {
	writeProject(t)
	_, _, err := runCommand(t, "tree", "--root", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "root directory not found")
}

func TestContentWritesBundleAndSummary(t *testing.T) {
	root := writeProject(t)
	stdout, stderr, err := runCommand(t, "content", "--root", root, "a.txt", "src", "gone.txt")
	require.NoError(t, err)

	documents, parseErr := output.ParseBundle(stdout)
	require.NoError(t, parseErr)
	require.Len(t, documents, 2)
	require.Equal(t, "src/x.py", documents[0].Path)
	require.Equal(t, "a.txt", documents[1].Path)
	require.Contains(t, stderr, "Summary: 2 files")
}

func TestContentAcceptsAbsolutePathsInsideRoot(t *testing.T) {
	root := writeProject(t)
	stdout, _, err := runCommand(t, "content", "--root", root, filepath.Join(root, "src", "x.py"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stdout, output.BeginMarker("src/x.py", len("print('x')\n"))))
}

func TestContentWithoutMatches(t *testing.T) {
	root := writeProject(t)
	_, _, err := runCommand(t, "content", "--root", root, "build/out.bin")
	require.Error(t, err)
}

func TestCheckIgnore(t *testing.T) {
	root := writeProject(t)

	stdout, _, err := runCommand(t, "check-ignore", "--root", root, "build/out.bin")
	require.NoError(t, err)
	require.Equal(t, "build/out.bin: excluded because build is excluded (.gitignore: build/)\n", stdout)

	stdout, _, err = runCommand(t, "check-ignore", "--root", root, "a.txt")
	require.NoError(t, err)
	require.Equal(t, "a.txt: included\n", stdout)

	stdout, _, err = runCommand(t, "check-ignore", "--root", root, "--format", "json", ".secret")
	require.NoError(t, err)
	var response types.CheckIgnoreResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &response))
	require.True(t, response.Excluded)
	require.Equal(t, "hidden", string(response.Reason))
}

func TestInitWritesConfiguration(t *testing.T) {
	workingDirectory := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(workingDirectory)

	stdout, _, err := runCommand(t, "init")
	require.NoError(t, err)
	require.Contains(t, stdout, utils.ConfigFileName)
	_, statErr := os.Stat(filepath.Join(workingDirectory, utils.ConfigFileName))
	require.NoError(t, statErr)

	_, _, err = runCommand(t, "init")
	require.Error(t, err)

	_, _, err = runCommand(t, "init", "--force")
	require.NoError(t, err)
}

func TestVersionFlag(t *testing.T) {
	stdout, _, err := runCommand(t, "--version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stdout, "ctxserve version: "))
}

type lockedBuffer struct {
	mutex  sync.Mutex
	buffer bytes.Buffer
}

func (buffer *lockedBuffer) Write(data []byte) (int, error) {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	return buffer.buffer.Write(data)
}

func (buffer *lockedBuffer) String() string {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	return buffer.buffer.String()
}

func TestServeUntilCanceled(t *testing.T) {
	root := writeProject(t)
	command := cli.NewRootCommand()
	stderr := &lockedBuffer{}
	command.SetOut(&bytes.Buffer{})
	command.SetErr(stderr)
	command.SetArgs([]string{"serve", "--root", root, "--address", "127.0.0.1:0", "--log-level", "error"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- command.ExecuteContext(ctx) }()

	addressPattern := regexp.MustCompile(`listening on (http://\S+)`)
	var baseURL string
	require.Eventually(t, func() bool {
		match := addressPattern.FindStringSubmatch(stderr.String())
		if match == nil {
			return false
		}
		baseURL = match[1]
		return true
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		response, err := http.Get(baseURL + "/api/project-structure")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
