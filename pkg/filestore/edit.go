package filestore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/message"
)

// Editor hands content to the user and returns the edited draft.
type Editor interface {
	Edit(ctx context.Context, name string, content []byte) (*Draft, error)
}

// EditorFunc adapts a function to the Editor interface.
type EditorFunc func(ctx context.Context, name string, content []byte) (*Draft, error)

// Edit calls f(ctx, name, content).
func (f EditorFunc) Edit(ctx context.Context, name string, content []byte) (*Draft, error) {
	return f(ctx, name, content)
}

// Draft is edited content that may still live outside the store.
type Draft struct {
	// Content is the edited payload
	Content []byte

	// Location tells the user where unsaved content can be recovered
	Location string

	// Discard releases the draft once it is saved. May be nil.
	Discard func() error
}

func (d *Draft) discard() {
	if d.Discard == nil {
		return
	}
	if err := d.Discard(); err != nil {
		logger.Warn("Failed to remove draft %s: %v", d.Location, err)
	}
}

// EditOutcome tells what Edit did.
type EditOutcome int

const (
	// EditSaved means the draft was written as a new version
	EditSaved EditOutcome = iota

	// EditUnchanged means an existing version was left alone because the
	// draft did not change it
	EditUnchanged
)

// EditResult reports what Edit did.
type EditResult struct {
	Outcome EditOutcome

	// Put is the write result when Outcome is EditSaved
	Put *PutResult
}

// Edit runs a read-modify-write cycle on the version arg designates.
//
// If the fetch fails for any reason other than access, the edit starts
// from empty content under the name in arg and the first save never
// retires anything. Unchanged content over an existing version is not
// written. On a failed save the draft is kept and its location logged.
func (s *Store) Edit(ctx context.Context, arg string, editor Editor, replace bool) (*EditResult, error) {
	id, err := ParseIdentifier(arg)
	if err != nil {
		return nil, err
	}

	var (
		existing *File
		name     = id.Name
		content  []byte
	)

	file, err := s.Fetch(ctx, arg)
	switch {
	case err == nil:
		existing = file
		name = file.Name
		content = file.Payload
	case IsAccess(err):
		return nil, err
	default:
		if name == "" {
			return nil, &Error{Code: ErrInvalidIdentifier, Message: "cannot start a new file without a name", Identifier: arg, Err: err}
		}
		logger.Warn("%v; starting from empty content", err)
		content = []byte{}
	}

	draft, err := editor.Edit(ctx, name, content)
	if err != nil {
		return nil, fmt.Errorf("editor failed: %w", err)
	}

	if existing != nil && bytes.Equal(message.Canonical(draft.Content), content) {
		logger.Warn("%s unchanged, nothing replaced", existing.Ref)
		draft.discard()
		return &EditResult{Outcome: EditUnchanged}, nil
	}

	target, replaceExisting := name, false
	if existing != nil {
		target, replaceExisting = existing.Ref.String(), replace
	}

	put, err := s.Put(ctx, target, draft.Content, replaceExisting)
	if err != nil {
		logger.Warn("Edited content of %s was not saved cleanly, draft kept at %s", name, draft.Location)
		if put == nil {
			return nil, err
		}
		return &EditResult{Outcome: EditSaved, Put: put}, err
	}

	draft.discard()
	return &EditResult{Outcome: EditSaved, Put: put}, nil
}
