// Package filestore implements a flat, versioned file store on a mailbox.
//
// Each file version is one message. The store reconciles file semantics
// (one current version per name, replace, conflict detection) with a
// backend that only appends, searches, flags and compacts:
//
//   - Replace appends the new version first and retires the old one after.
//     A failure between the two leaves a visible duplicate, never a loss.
//   - A replace against an explicit version that no longer exists fails
//     NotFound before anything is appended.
//   - Compaction is mailbox-wide: retiring one version purges every
//     flagged message in the folder.
//
// Every operation dials one session and releases it before returning.
// Concurrent clients on the same mailbox are not coordinated.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/message"
)

// DefaultOwner is the owner marker used when none is configured.
const DefaultOwner = "imapfs"

// Options configures a Store.
type Options struct {
	// Owner is the owner marker written on and searched for every version
	Owner string
}

// Store implements the file verbs on top of a mailbox.Dialer.
type Store struct {
	dialer mailbox.Dialer
	owner  string
}

// File is a fetched version.
type File struct {
	Ref

	// Payload has canonical \n line endings
	Payload []byte
}

// PutResult reports what Put did.
type PutResult struct {
	// Created is the version that was appended
	Created Ref

	// Retired is the version that was replaced, nil if none
	Retired *Ref
}

// New creates a store. An empty owner falls back to DefaultOwner.
func New(dialer mailbox.Dialer, opts Options) *Store {
	owner := opts.Owner
	if owner == "" {
		owner = DefaultOwner
	}
	return &Store{dialer: dialer, owner: owner}
}

// Owner returns the owner marker of the store.
func (s *Store) Owner() string {
	return s.owner
}

// withSession dials a session, runs fn and releases the session on every
// path. A release failure is logged and never replaces fn's result.
func (s *Store) withSession(ctx context.Context, verb string, fn func(session mailbox.Session) error) error {
	session, err := s.dialer.Dial(ctx)
	if err != nil {
		return backendError("failed to open mailbox", "", err)
	}

	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn("%s: failed to release mailbox: %v", verb, closeErr)
		}
	}()

	return fn(session)
}

// List returns versions sorted by their name:uid string.
//
// Without args it returns every owned live version. Otherwise it returns
// the union of all versions each argument designates. An argument that
// matches nothing contributes nothing. Other per-argument failures are
// joined into the returned error while the remaining arguments are still
// listed; an access failure stops the listing.
func (s *Store) List(ctx context.Context, args []string) ([]Ref, error) {
	var (
		refs []Ref
		errs []error
	)

	err := s.withSession(ctx, "list", func(session mailbox.Session) error {
		resolver := NewResolver(session, s.owner)

		if len(args) == 0 {
			owned, err := resolver.Owned(ctx)
			if err != nil {
				return err
			}
			refs = owned
			return nil
		}

		seen := make(map[Ref]bool)
		for _, arg := range args {
			id, err := ParseIdentifier(arg)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			matches, err := resolver.Resolve(ctx, id, false)
			if err != nil {
				if IsAccess(err) {
					return err
				}
				if CodeOf(err) != ErrNotFound {
					errs = append(errs, err)
				}
				continue
			}

			for _, ref := range matches {
				if !seen[ref] {
					seen[ref] = true
					refs = append(refs, ref)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs, errors.Join(errs...)
}

// Fetch returns the unique version arg designates.
//
// A stored digest that does not match the payload is logged as a warning;
// the payload is still returned.
func (s *Store) Fetch(ctx context.Context, arg string) (*File, error) {
	id, err := ParseIdentifier(arg)
	if err != nil {
		return nil, err
	}

	var file *File
	err = s.withSession(ctx, "get", func(session mailbox.Session) error {
		ref, err := NewResolver(session, s.owner).ResolveOne(ctx, id)
		if err != nil {
			return err
		}

		body, err := session.FetchBody(ctx, ref.UID)
		if err != nil {
			return backendError("failed to fetch", ref.String(), err)
		}
		payload := message.Canonical(body)

		s.verifyDigest(ctx, session, ref, payload)

		file = &File{Ref: ref, Payload: payload}
		return nil
	})
	return file, err
}

func (s *Store) verifyDigest(ctx context.Context, session mailbox.Session, ref Ref, payload []byte) {
	header, err := session.FetchHeader(ctx, ref.UID)
	if err != nil {
		logger.Debug("Skipping digest check of %s: %v", ref, err)
		return
	}
	env, err := message.Split(header)
	if err != nil {
		logger.Debug("Skipping digest check of %s: %v", ref, err)
		return
	}

	ok, present := message.VerifyDigest(env.Header.Get(message.DigestHeader), payload)
	if present && !ok {
		logger.Warn("%s: payload does not match its stored digest", ref)
	}
}

// Put stores payload under the name arg designates.
//
// Without replace a new version is always created. With replace:
//   - name:uid retires exactly that version. If it no longer exists or
//     has another name, Put fails NotFound before appending anything.
//   - name retires the single current version. With several versions it
//     warns and retires nothing; with none it only creates.
//   - name:* creates without retiring.
//   - :uid takes the name from the stored version.
//
// The new version is appended before anything is retired. If retirement
// fails the returned result still names the created version alongside an
// ErrBackend error.
func (s *Store) Put(ctx context.Context, arg string, payload []byte, replace bool) (*PutResult, error) {
	id, err := ParseIdentifier(arg)
	if err != nil {
		return nil, err
	}
	if id.Name == "" && !replace {
		return nil, invalidIdentifier(arg, "(a name is required to create)")
	}

	var result *PutResult
	err = s.withSession(ctx, "put", func(session mailbox.Session) error {
		resolver := NewResolver(session, s.owner)

		var retire *Ref
		switch {
		case !replace || id.AllVersions:
		case id.HasVersion:
			ref, err := resolver.ResolveOne(ctx, id)
			if err != nil {
				return err
			}
			retire = &ref
		default:
			refs, err := resolver.Resolve(ctx, id, false)
			switch {
			case CodeOf(err) == ErrNotFound:
			case err != nil:
				return err
			case len(refs) > 1:
				logger.Warn("%s has %d versions, none replaced", id.Name, len(refs))
			default:
				retire = &refs[0]
			}
		}

		name := id.Name
		if name == "" {
			name = retire.Name
		}

		raw, err := message.New(s.owner, name, payload).Encode()
		if err != nil {
			return &Error{Code: ErrInvalidIdentifier, Message: "cannot encode", Identifier: name, Err: err}
		}

		uid, err := session.Append(ctx, raw)
		if err != nil {
			return backendError("append failed", name, err)
		}
		result = &PutResult{Created: Ref{Name: name, UID: uid}}
		logger.Debug("Created %s", result.Created)

		if retire == nil {
			return nil
		}
		if err := session.Expunge(ctx, retire.UID); err != nil {
			return &Error{
				Code:       ErrBackend,
				Message:    fmt.Sprintf("created %s but failed to retire", result.Created),
				Identifier: retire.String(),
				Err:        err,
			}
		}
		result.Retired = retire
		logger.Debug("Retired %s", retire)
		return nil
	})
	return result, err
}

// Delete removes the unique version each argument designates.
//
// Arguments are processed independently: failures are joined into the
// returned error and the remaining arguments are still attempted. An
// access failure stops the batch. The returned refs are the versions that
// were removed.
func (s *Store) Delete(ctx context.Context, args []string) ([]Ref, error) {
	if len(args) == 0 {
		return nil, UsageError("delete needs at least one identifier")
	}

	var (
		deleted []Ref
		errs    []error
	)

	err := s.withSession(ctx, "delete", func(session mailbox.Session) error {
		resolver := NewResolver(session, s.owner)

		for _, arg := range args {
			id, err := ParseIdentifier(arg)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			ref, err := resolver.ResolveOne(ctx, id)
			if err != nil {
				if IsAccess(err) {
					return err
				}
				errs = append(errs, err)
				continue
			}

			if err := session.Expunge(ctx, ref.UID); err != nil {
				fsErr := backendError("failed to delete", ref.String(), err)
				if fsErr.Code == ErrAccess {
					return fsErr
				}
				errs = append(errs, fsErr)
				continue
			}

			logger.Debug("Deleted %s", ref)
			deleted = append(deleted, ref)
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	return deleted, errors.Join(errs...)
}
