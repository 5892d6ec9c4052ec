package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestEnv isolates the configuration and returns a fresh memory
// locator for the test.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "IMAPFS_") {
			t.Setenv(name, "")
			_ = os.Unsetenv(name)
		}
	}

	name := strings.NewReplacer("/", "-", " ", "-").Replace(t.Name())
	locator := "memory://" + name
	t.Setenv("IMAPFS_LOCATOR", locator)
	return locator
}

func runCmd(t *testing.T, stdin string, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	var outBuf, errBuf bytes.Buffer
	exitCode = Run(context.Background(), args, strings.NewReader(stdin), &outBuf, &errBuf)
	return outBuf.String(), errBuf.String(), exitCode
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	stdout, stderr, code := runCmd(t, stdin, args...)
	require.Equal(t, ExitOK, code, "imapfs %v failed: %s", args, stderr)
	return stdout
}

// fakeEditor installs a shell script as $VISUAL.
func fakeEditor(t *testing.T, body string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "editor")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	t.Setenv("VISUAL", path)
}

// ---------------------------------------------------------------------------
// put / get
// ---------------------------------------------------------------------------

func TestPutGetRoundTrip(t *testing.T) {
	setupTestEnv(t)

	stdout := mustRun(t, "line one\r\nline two\rline three\n", "put", "notes.txt")
	assert.Equal(t, "notes.txt:1\n", stdout)

	stdout = mustRun(t, "", "get", "notes.txt")
	assert.Equal(t, "line one\nline two\nline three\n", stdout)

	for _, alias := range []string{"cat", "fetch", "show"} {
		assert.Equal(t, stdout, mustRun(t, "", alias, "notes.txt:1"))
	}
}

func TestPutReplacesByDefault(t *testing.T) {
	setupTestEnv(t)

	mustRun(t, "v1", "put", "doc")
	stdout := mustRun(t, "v2", "put", "doc")
	assert.Equal(t, "doc:2\n", stdout)

	assert.Equal(t, "doc:2\n", mustRun(t, "", "list"))
	assert.Equal(t, "v2", mustRun(t, "", "get", "doc"))
}

func TestPutNoReplaceKeepsBoth(t *testing.T) {
	setupTestEnv(t)

	mustRun(t, "v1", "put", "doc")
	mustRun(t, "v2", "store", "--no-replace", "doc")

	assert.Equal(t, "doc:1\ndoc:2\n", mustRun(t, "", "ls"))

	_, stderr, code := runCmd(t, "", "get", "doc")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "doc:1")
	assert.Contains(t, stderr, "doc:2")
	assert.Equal(t, 1, strings.Count(stderr, "\n"), "one line per failure")
}

func TestPutReplaceFromConfigEnv(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("IMAPFS_REPLACE", "false")

	mustRun(t, "v1", "put", "doc")
	mustRun(t, "v2", "put", "doc")
	assert.Equal(t, "doc:1\ndoc:2\n", mustRun(t, "", "list"))

	mustRun(t, "v3", "put", "-r", "doc:2")
	assert.Equal(t, "doc:1\ndoc:3\n", mustRun(t, "", "list"))
}

func TestPutStaleVersionFails(t *testing.T) {
	setupTestEnv(t)

	mustRun(t, "v1", "put", "doc")
	mustRun(t, "v2", "put", "doc")

	_, stderr, code := runCmd(t, "v3", "put", "doc:1")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "imapfs: ")
	assert.Contains(t, stderr, "doc:1")
	assert.Equal(t, "doc:2\n", mustRun(t, "", "list"), "nothing appended")
}

func TestPutFromFileAndGetToFile(t *testing.T) {
	setupTestEnv(t)
	dir := t.TempDir()

	in := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(in, []byte("from file\n"), 0o644))

	mustRun(t, "", "put", "-f", in, "copy")

	out := filepath.Join(dir, "out.txt")
	assert.Empty(t, mustRun(t, "", "get", "-o", out, "copy"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "from file\n", string(data))
}

func TestPutMissingFile(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "", "put", "-f", "/nonexistent/file", "x")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "/nonexistent/file")
}

// ---------------------------------------------------------------------------
// list
// ---------------------------------------------------------------------------

func TestListSortedRows(t *testing.T) {
	setupTestEnv(t)

	for _, name := range []string{"f", "e", "f", "f"} {
		mustRun(t, "x", "put", "--no-replace", name)
	}

	assert.Equal(t, "e:2\nf:1\nf:3\nf:4\n", mustRun(t, "", "list"))
	assert.Equal(t, "e:2\n", mustRun(t, "", "list", "e"))
	assert.Equal(t, "e:2\nf:3\n", mustRun(t, "", "list", "f:3", "e", "f:3"))
	assert.Empty(t, mustRun(t, "", "list", "missing"))
}

func TestListJSON(t *testing.T) {
	setupTestEnv(t)

	mustRun(t, "x", "put", "a")
	stdout := mustRun(t, "", "list", "--format", "json")

	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	assert.Equal(t, []listEntry{{Name: "a", Version: 1}}, entries)
}

func TestListInvalidIdentifierReportedAfterRows(t *testing.T) {
	setupTestEnv(t)

	mustRun(t, "x", "put", "a")
	stdout, stderr, code := runCmd(t, "", "list", "a", "bad/name")
	assert.Equal(t, ExitError, code)
	assert.Equal(t, "a:1\n", stdout)
	assert.Contains(t, stderr, "bad/name")
}

func TestIdentifierFlagSeparatesOwners(t *testing.T) {
	setupTestEnv(t)

	mustRun(t, "alice's", "put", "-i", "alice", "shared")
	mustRun(t, "bob's", "put", "--identifier", "bob", "shared")

	assert.Equal(t, "shared:1\n", mustRun(t, "", "list", "-i", "alice"))
	assert.Equal(t, "shared:2\n", mustRun(t, "", "list", "-i", "bob"))
	assert.Equal(t, "alice's", mustRun(t, "", "get", "-i", "alice", "shared"))
}

// ---------------------------------------------------------------------------
// delete
// ---------------------------------------------------------------------------

func TestDeleteBatchContinuesAfterFailure(t *testing.T) {
	setupTestEnv(t)

	mustRun(t, "a", "put", "a")
	mustRun(t, "b", "put", "b")

	stdout, stderr, code := runCmd(t, "", "rm", "a", "missing", "b")
	assert.Equal(t, ExitError, code)
	assert.Equal(t, "a:1\nb:2\n", stdout)
	assert.Contains(t, stderr, "missing")
	assert.Equal(t, 1, strings.Count(stderr, "imapfs: "))

	assert.Empty(t, mustRun(t, "", "list"))
}

func TestDeleteAliases(t *testing.T) {
	setupTestEnv(t)

	for _, alias := range []string{"delete", "del", "remove"} {
		mustRun(t, "x", "put", "f")
		mustRun(t, "", alias, "f")
		assert.Empty(t, mustRun(t, "", "list"))
	}
}

// ---------------------------------------------------------------------------
// edit
// ---------------------------------------------------------------------------

func TestEditUnchanged(t *testing.T) {
	setupTestEnv(t)
	fakeEditor(t, "exit 0")

	mustRun(t, "hello\n", "put", "greeting")

	stdout, stderr, code := runCmd(t, "", "edit", "greeting")
	assert.Equal(t, ExitOK, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "unchanged")
	assert.Equal(t, "greeting:1\n", mustRun(t, "", "list"))
}

func TestEditNewFile(t *testing.T) {
	setupTestEnv(t)
	fakeEditor(t, `printf 'new\n' > "$1"`)

	stdout := mustRun(t, "", "vi", "fresh")
	assert.Equal(t, "fresh:1\n", stdout)
	assert.Equal(t, "new\n", mustRun(t, "", "get", "fresh"))
}

func TestEditReplaces(t *testing.T) {
	setupTestEnv(t)
	fakeEditor(t, `printf 'edited\n' >> "$1"`)

	mustRun(t, "draft\n", "put", "doc")
	mustRun(t, "", "e", "doc")

	assert.Equal(t, "doc:2\n", mustRun(t, "", "list"))
	assert.Equal(t, "draft\nedited\n", mustRun(t, "", "get", "doc"))
}

func TestEditorFailure(t *testing.T) {
	setupTestEnv(t)
	fakeEditor(t, "exit 2")

	mustRun(t, "draft\n", "put", "doc")
	_, stderr, code := runCmd(t, "", "edit", "doc")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "editor")
	assert.Equal(t, "doc:1\n", mustRun(t, "", "list"))
}

// ---------------------------------------------------------------------------
// errors and exit codes
// ---------------------------------------------------------------------------

func TestUsageErrors(t *testing.T) {
	setupTestEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"get without identifier", []string{"get"}},
		{"get with two identifiers", []string{"get", "a", "b"}},
		{"put without identifier", []string{"put"}},
		{"edit without identifier", []string{"edit"}},
		{"delete without identifier", []string{"delete"}},
		{"unknown flag", []string{"list", "--bogus"}},
		{"conflicting replace flags", []string{"put", "-r", "--no-replace", "x"}},
		{"unknown list format", []string{"list", "--format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, code := runCmd(t, "", tt.args...)
			assert.Equal(t, ExitUsage, code, "stderr: %s", stderr)
			assert.True(t, strings.HasPrefix(stderr, "imapfs: ") || strings.Contains(stderr, "\nimapfs: "), "stderr: %s", stderr)
		})
	}
}

func TestUsageErrorsWithBrokenConfig(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("IMAPFS_LOGGING_LEVEL", "bogus")

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"get without identifier", []string{"get"}},
		{"conflicting replace flags", []string{"put", "-r", "--no-replace", "x"}},
		{"conflicting replace flags on edit", []string{"edit", "--replace", "--no-replace", "x"}},
		{"unknown list format", []string{"list", "--format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, code := runCmd(t, "", tt.args...)
			assert.Equal(t, ExitUsage, code, "stderr: %s", stderr)
			assert.NotContains(t, strings.ToLower(stderr), "bogus", "configuration must not be loaded")
		})
	}

	_, stderr, code := runCmd(t, "", "list")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, strings.ToLower(stderr), "bogus")
}

func TestInvalidIdentifierIsOperationalError(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "", "get", "dir/file")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "dir/file")
}

func TestNotFound(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "", "get", "nothing")
	assert.Equal(t, ExitError, code)
	assert.Equal(t, "imapfs: not found: nothing\n", stderr)
}

func TestMissingLocator(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("IMAPFS_LOCATOR", "")
	_ = os.Unsetenv("IMAPFS_LOCATOR")

	_, stderr, code := runCmd(t, "", "list")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "locator")
}

func TestMailboxFlagOverridesEnv(t *testing.T) {
	setupTestEnv(t)

	mustRun(t, "x", "put", "-m", "memory://"+t.Name()+"-other", "elsewhere")
	assert.Empty(t, mustRun(t, "", "list"))
	assert.Equal(t, "elsewhere:1\n", mustRun(t, "", "list", "--mailbox", "memory://"+t.Name()+"-other"))
}

func TestMalformedLocatorIsAccessError(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "", "list", "-m", "pop3://host")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "pop3")
}

func TestInvalidLogLevel(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "", "list", "--log-level", "chatty")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "Level")
}

// ---------------------------------------------------------------------------
// config / version / metrics
// ---------------------------------------------------------------------------

func TestConfigShowHidesSecrets(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("IMAPFS_PASSWORD", "hunter2")
	t.Setenv("IMAPFS_IDENTIFIER", "me")

	stdout := mustRun(t, "", "config", "show")
	assert.Contains(t, stdout, "identifier: me")
	assert.NotContains(t, stdout, "hunter2")
}

func TestConfigInit(t *testing.T) {
	setupTestEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	assert.Equal(t, path+"\n", mustRun(t, "", "config", "init", path))

	_, stderr, code := runCmd(t, "", "config", "init", path)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "already exists")

	mustRun(t, "", "config", "init", "--force", path)
	mustRun(t, "", "--config", path, "config", "show")
}

func TestVersion(t *testing.T) {
	stdout := mustRun(t, "", "version")
	assert.True(t, strings.HasPrefix(stdout, "imapfs "))
}

func TestMetricsFile(t *testing.T) {
	setupTestEnv(t)
	path := filepath.Join(t.TempDir(), "imapfs.prom")

	mustRun(t, "x", "put", "--metrics-file", path, "m")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "imapfs_mailbox_operations_total")
	assert.Contains(t, string(data), `operation="append"`)
}
