package ignore_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5"

	"github.com/temirov/ctxserve/internal/ignore"
	"github.com/temirov/ctxserve/internal/utils"
)

func writeFixture(testingHandle *testing.T, root string, files map[string]string) {
	testingHandle.Helper()
	for relativePath, content := range files {
		absolutePath := filepath.Join(root, filepath.FromSlash(relativePath))
		if mkdirErr := os.MkdirAll(filepath.Dir(absolutePath), 0o755); mkdirErr != nil {
			testingHandle.Fatalf("create directory for %s: %v", relativePath, mkdirErr)
		}
		if writeErr := os.WriteFile(absolutePath, []byte(content), 0o644); writeErr != nil {
			testingHandle.Fatalf("write %s: %v", relativePath, writeErr)
		}
	}
}

func defaultOptions() ignore.Options {
	return ignore.Options{
		RecurringFileNames: []string{utils.GitIgnoreFileName},
		RootFileNames:      []string{utils.ContextIgnoreFileName},
		HiddenPrefix:       utils.HiddenEntryPrefix,
		MaxFileSize:        64,
	}
}

func layeredFixture(testingHandle *testing.T) string {
	testingHandle.Helper()
	root := testingHandle.TempDir()
	writeFixture(testingHandle, root, map[string]string{
		".gitignore":           "build/\n*.log\n!keep.log\n!.secret\n",
		".contextignore":       "secrets/\n",
		".secret":              "token",
		"a.txt":                "alpha",
		"debug.log":            "log",
		"keep.log":             "kept",
		"build/out.bin":        "bin",
		"build/.gitignore":     "!out.bin\n",
		"secrets/key.txt":      "key",
		"src/.gitignore":       "!debug.log\n/generated\n",
		"src/x.py":             "print()",
		"src/debug.log":        "src log",
		"src/generated/gen.go": "package gen",
		"src/lib/generated/g":  "nested generated",
		"docs/.gitignore":      "[unclosed\n*.bak\n",
		"docs/guide.md":        "guide",
		"docs/guide.md.bak":    "old guide",
		"docs/notes.tmp":       "scratch",
	})
	return root
}

// lazyExcluded descends from the root scope the way traversal does.
func lazyExcluded(root string, options ignore.Options, relativePath string, isDirectory bool) bool {
	scope := ignore.New(root, options)
	segments := strings.Split(relativePath, "/")
	for index := 0; index < len(segments)-1; index++ {
		ancestor := strings.Join(segments[:index+1], "/")
		if scope.IsExcluded(ancestor, true) {
			return true
		}
		scope = scope.Enter(ancestor)
	}
	return scope.IsExcluded(relativePath, isDirectory)
}

func TestLayeredRules(testingHandle *testing.T) {
	root := layeredFixture(testingHandle)
	options := defaultOptions()
	options.ExcludeGlobs = []string{"**/*.tmp"}

	ruleSet, compileErr := ignore.Compile(root, options)
	if compileErr != nil {
		testingHandle.Fatalf("compile: %v", compileErr)
	}

	testCases := []struct {
		name         string
		relativePath string
		isDirectory  bool
		expected     bool
	}{
		{name: "plain file kept", relativePath: "a.txt", expected: false},
		{name: "hidden file not overridable", relativePath: ".secret", expected: true},
		{name: "root glob excludes", relativePath: "debug.log", expected: true},
		{name: "negation re-includes", relativePath: "keep.log", expected: false},
		{name: "directory rule excludes directory", relativePath: "build", isDirectory: true, expected: true},
		{name: "excluded directory hides descendants", relativePath: "build/out.bin", expected: true},
		{name: "supplemental rule applies", relativePath: "secrets", isDirectory: true, expected: true},
		{name: "supplemental rule hides descendants", relativePath: "secrets/key.txt", expected: true},
		{name: "deeper negation overrides shallower rule", relativePath: "src/debug.log", expected: false},
		{name: "anchored rule scoped to its directory", relativePath: "src/generated", isDirectory: true, expected: true},
		{name: "anchored rule does not match deeper", relativePath: "src/lib/generated/g", expected: false},
		{name: "nested rule file after malformed line", relativePath: "docs/guide.md.bak", expected: true},
		{name: "nested rules do not leak to siblings", relativePath: "docs/guide.md", expected: false},
		{name: "exclude glob", relativePath: "docs/notes.tmp", expected: true},
		{name: "regular source kept", relativePath: "src/x.py", expected: false},
	}
	for _, testCase := range testCases {
		testingHandle.Run(testCase.name, func(t *testing.T) {
			eager := ruleSet.IsExcluded(testCase.relativePath, testCase.isDirectory)
			if eager != testCase.expected {
				t.Fatalf("compiled rule set: expected excluded=%t for %s, got %t", testCase.expected, testCase.relativePath, eager)
			}
			lazy := lazyExcluded(root, options, testCase.relativePath, testCase.isDirectory)
			if lazy != eager {
				t.Fatalf("lazy and compiled decisions differ for %s: lazy=%t compiled=%t", testCase.relativePath, lazy, eager)
			}
		})
	}
}

func TestSizePredicateIsNotOverridable(testingHandle *testing.T) {
	root := testingHandle.TempDir()
	writeFixture(testingHandle, root, map[string]string{
		".gitignore": "!big.txt\n",
		"big.txt":    strings.Repeat("x", 128),
	})
	scope := ignore.New(root, defaultOptions())

	decision := scope.Check("big.txt", false, 128)
	if !decision.Excluded || decision.Reason != ignore.ReasonTooLarge {
		testingHandle.Fatalf("expected too_large exclusion, got %+v", decision)
	}
	if scope.Check("big.txt", false, 64).Excluded {
		testingHandle.Fatalf("expected file at the limit to be kept")
	}
	if scope.Check("big", true, 1<<40).Excluded {
		testingHandle.Fatalf("expected size predicate to ignore directories")
	}
}

func TestUnreadableRuleFileIsEmpty(testingHandle *testing.T) {
	root := testingHandle.TempDir()
	writeFixture(testingHandle, root, map[string]string{
		"rules/placeholder": "",
		"kept.txt":          "kept",
	})
	options := defaultOptions()
	options.RecurringFileNames = []string{"rules"}

	ruleSet, compileErr := ignore.Compile(root, options)
	if compileErr != nil {
		testingHandle.Fatalf("compile: %v", compileErr)
	}
	if ruleSet.IsExcluded("kept.txt", false) {
		testingHandle.Fatalf("expected unreadable rule source to exclude nothing")
	}
	if len(ruleSet.Sources()) != 0 {
		testingHandle.Fatalf("expected no sources, got %+v", ruleSet.Sources())
	}
}

func TestCompileSkipsRuleFilesInsideExcludedDirectories(testingHandle *testing.T) {
	root := layeredFixture(testingHandle)
	ruleSet, compileErr := ignore.Compile(root, defaultOptions())
	if compileErr != nil {
		testingHandle.Fatalf("compile: %v", compileErr)
	}

	var files []string
	for _, source := range ruleSet.Sources() {
		files = append(files, source.File)
	}
	expected := []string{".contextignore", ".gitignore", "docs/.gitignore", "src/.gitignore"}
	if strings.Join(files, ",") != strings.Join(expected, ",") {
		testingHandle.Fatalf("expected sources %v, got %v", expected, files)
	}
}

func TestExplainReportsMatchingRule(testingHandle *testing.T) {
	root := layeredFixture(testingHandle)
	ruleSet, compileErr := ignore.Compile(root, defaultOptions())
	if compileErr != nil {
		testingHandle.Fatalf("compile: %v", compileErr)
	}

	viaAncestor := ruleSet.Explain("build/out.bin", false, -1)
	if viaAncestor.ExcludedBy != "build" || viaAncestor.Decision.Source != ".gitignore" || viaAncestor.Decision.Pattern != "build/" {
		testingHandle.Fatalf("unexpected explanation %+v", viaAncestor)
	}

	supplemental := ruleSet.Explain("./secrets/key.txt", false, -1)
	if supplemental.Decision.Source != ".contextignore" || supplemental.Decision.Reason != ignore.ReasonRule {
		testingHandle.Fatalf("unexpected explanation %+v", supplemental)
	}

	reincluded := ruleSet.Explain("src/debug.log", false, 3)
	if reincluded.Decision.Excluded || reincluded.Decision.Source != "src/.gitignore" {
		testingHandle.Fatalf("unexpected explanation %+v", reincluded)
	}
}

func TestExplainOnDiskUsesEntryKindAndSize(testingHandle *testing.T) {
	root := layeredFixture(testingHandle)
	writeFixture(testingHandle, root, map[string]string{"big.txt": strings.Repeat("x", 65)})
	ruleSet, compileErr := ignore.Compile(root, defaultOptions())
	if compileErr != nil {
		testingHandle.Fatalf("compile: %v", compileErr)
	}

	testCases := []struct {
		path     string
		excluded bool
		reason   ignore.Reason
	}{
		{path: "a.txt", excluded: false},
		{path: "build", excluded: true, reason: ignore.ReasonRule},
		{path: "big.txt", excluded: true, reason: ignore.ReasonTooLarge},
		{path: "debug.log", excluded: true, reason: ignore.ReasonRule},
		{path: "missing.log", excluded: true, reason: ignore.ReasonRule},
		{path: ".secret", excluded: true, reason: ignore.ReasonHidden},
		{path: "", excluded: false},
	}
	for _, testCase := range testCases {
		explanation := ruleSet.ExplainOnDisk(testCase.path)
		if explanation.Decision.Excluded != testCase.excluded || explanation.Decision.Reason != testCase.reason {
			testingHandle.Fatalf("%q: unexpected explanation %+v", testCase.path, explanation)
		}
	}
}

func TestCompileRejectsMissingRoot(testingHandle *testing.T) {
	missing := filepath.Join(testingHandle.TempDir(), "absent")
	if _, compileErr := ignore.Compile(missing, defaultOptions()); compileErr == nil {
		testingHandle.Fatalf("expected an error for a missing root")
	}
}

func TestRepositoryRulesAboveRoot(testingHandle *testing.T) {
	repositoryRoot := testingHandle.TempDir()
	if _, initErr := git.PlainInit(repositoryRoot, false); initErr != nil {
		testingHandle.Fatalf("init repository: %v", initErr)
	}
	writeFixture(testingHandle, repositoryRoot, map[string]string{
		".gitignore":         "*.log\n/sub/app/local.txt\n",
		"sub/.gitignore":     "tmp/\n",
		"sub/app/.gitignore": "!keep.log\n",
		"sub/app/a.txt":      "alpha",
		"sub/app/debug.log":  "log",
		"sub/app/keep.log":   "kept",
		"sub/app/local.txt":  "local",
		"sub/app/tmp/x.txt":  "scratch",
	})
	projectRoot := filepath.Join(repositoryRoot, "sub", "app")
	options := defaultOptions()
	options.RepositoryRules = true

	testCases := []struct {
		path        string
		isDirectory bool
		excluded    bool
	}{
		{path: "a.txt", excluded: false},
		{path: "debug.log", excluded: true},
		{path: "keep.log", excluded: false},
		{path: "local.txt", excluded: true},
		{path: "tmp", isDirectory: true, excluded: true},
		{path: "tmp/x.txt", excluded: true},
	}
	ruleSet, compileErr := ignore.Compile(projectRoot, options)
	if compileErr != nil {
		testingHandle.Fatalf("compile: %v", compileErr)
	}
	for _, testCase := range testCases {
		testingHandle.Run(testCase.path, func(t *testing.T) {
			if lazy := lazyExcluded(projectRoot, options, testCase.path, testCase.isDirectory); lazy != testCase.excluded {
				t.Fatalf("lazy scope: expected excluded=%v, got %v", testCase.excluded, lazy)
			}
			if compiled := ruleSet.IsExcluded(testCase.path, testCase.isDirectory); compiled != testCase.excluded {
				t.Fatalf("compiled rule set: expected excluded=%v, got %v", testCase.excluded, compiled)
			}
		})
	}

	explanation := ruleSet.Explain("debug.log", false, 3)
	if explanation.Decision.Source != "../../.gitignore" || explanation.Decision.Pattern != "*.log" {
		testingHandle.Fatalf("unexpected explanation %+v", explanation.Decision)
	}
	var files []string
	for _, source := range ruleSet.Sources() {
		files = append(files, source.File)
	}
	if strings.Join(files, ",") != "../../.gitignore,../.gitignore,.gitignore" {
		testingHandle.Fatalf("unexpected rule sources %v", files)
	}

	options.RepositoryRules = false
	if lazyExcluded(projectRoot, options, "debug.log", false) {
		testingHandle.Fatalf("work tree rules must not apply when disabled")
	}
}

func TestRepositoryRulesAtWorkTreeRoot(testingHandle *testing.T) {
	repositoryRoot := testingHandle.TempDir()
	if _, initErr := git.PlainInit(repositoryRoot, false); initErr != nil {
		testingHandle.Fatalf("init repository: %v", initErr)
	}
	writeFixture(testingHandle, repositoryRoot, map[string]string{
		".gitignore": "*.log\n",
		"debug.log":  "log",
	})
	options := defaultOptions()
	options.RepositoryRules = true
	ruleSet, compileErr := ignore.Compile(repositoryRoot, options)
	if compileErr != nil {
		testingHandle.Fatalf("compile: %v", compileErr)
	}
	if !ruleSet.IsExcluded("debug.log", false) {
		testingHandle.Fatalf("expected root rules to apply")
	}
	if sources := ruleSet.Sources(); len(sources) != 1 || sources[0].File != ".gitignore" {
		testingHandle.Fatalf("root rule file must be loaded once, got %+v", sources)
	}
}
