// Package editor hands file content to an external text editor.
package editor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/filestore"
)

// DefaultCommand is used when nothing else names an editor.
const DefaultCommand = "vi"

// Resolve picks the editor command: $VISUAL, then $EDITOR, then the
// configured command, then vi.
func Resolve(configured string) string {
	for _, candidate := range []string{os.Getenv("VISUAL"), os.Getenv("EDITOR"), configured} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return DefaultCommand
}

// External edits content in a temporary file with an external command.
// The command may carry arguments ("code --wait"); the file path is
// appended as the last argument.
type External struct {
	Command string

	// Dir holds drafts. Empty uses the system temp directory.
	Dir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// New creates an editor wired to the process terminal.
func New(command string) *External {
	return &External{
		Command: command,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Edit writes content to a draft file, runs the editor on it and reads it
// back. The draft stays on disk until Discard is called so that content is
// recoverable if saving fails.
func (e *External) Edit(ctx context.Context, name string, content []byte) (*filestore.Draft, error) {
	args := strings.Fields(e.Command)
	if len(args) == 0 {
		return nil, fmt.Errorf("no editor configured")
	}

	f, err := os.CreateTemp(e.Dir, "imapfs-*-"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write draft: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write draft: %w", err)
	}

	logger.Debug("Editing %s in %s with %s", name, path, args[0])

	cmd := exec.CommandContext(ctx, args[0], append(args[1:], path)...)
	cmd.Stdin = e.Stdin
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%s: %w", args[0], err)
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read draft %s: %w", path, err)
	}

	return &filestore.Draft{
		Content:  edited,
		Location: path,
		Discard: func() error {
			return os.Remove(path)
		},
	}, nil
}
