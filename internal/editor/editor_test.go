package editor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script acting as an editor.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-editor")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("VISUAL", "")
	t.Setenv("EDITOR", "")
	assert.Equal(t, DefaultCommand, Resolve(""))
	assert.Equal(t, "nano", Resolve("nano"))

	t.Setenv("EDITOR", "emacs")
	assert.Equal(t, "emacs", Resolve("nano"))

	t.Setenv("VISUAL", "code --wait")
	assert.Equal(t, "code --wait", Resolve("nano"))
}

func TestEditRoundTrip(t *testing.T) {
	script := writeScript(t, `printf 'edited\n' >> "$1"`)
	dir := t.TempDir()

	e := &External{Command: script, Dir: dir}
	draft, err := e.Edit(context.Background(), "notes.md", []byte("original\n"))
	require.NoError(t, err)

	assert.Equal(t, "original\nedited\n", string(draft.Content))
	assert.True(t, strings.HasPrefix(draft.Location, dir))
	assert.True(t, strings.HasSuffix(draft.Location, "notes.md"), "extension kept for syntax highlighting")

	_, err = os.Stat(draft.Location)
	require.NoError(t, err, "draft survives until discarded")

	require.NoError(t, draft.Discard())
	_, err = os.Stat(draft.Location)
	assert.True(t, os.IsNotExist(err))
}

func TestEditCommandWithArguments(t *testing.T) {
	script := writeScript(t, `printf '%s' "$1" > "$2"`)

	e := &External{Command: script + " marker", Dir: t.TempDir()}
	draft, err := e.Edit(context.Background(), "f", nil)
	require.NoError(t, err)
	assert.Equal(t, "marker", string(draft.Content))
}

func TestEditFailureRemovesDraft(t *testing.T) {
	script := writeScript(t, "exit 3")
	dir := t.TempDir()

	e := &External{Command: script, Dir: dir}
	_, err := e.Edit(context.Background(), "f", []byte("x"))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEditNoCommand(t *testing.T) {
	_, err := (&External{Command: "  "}).Edit(context.Background(), "f", nil)
	assert.Error(t, err)
}
