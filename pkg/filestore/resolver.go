package filestore

import (
	"context"
	"errors"

	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/message"
)

// Ref names one concrete version of a file.
type Ref struct {
	Name string
	UID  mailbox.UID
}

// String returns the name:uid address of the version.
func (r Ref) String() string {
	return r.Name + ":" + r.UID.String()
}

// Resolver maps identifiers to versions on one session.
//
// Names are read from the backend on every call and never cached, since
// other clients may rewrite the mailbox between operations.
type Resolver struct {
	session mailbox.Session
	owner   string
}

// NewResolver creates a resolver for the versions owned by owner.
func NewResolver(session mailbox.Session, owner string) *Resolver {
	return &Resolver{session: session, owner: owner}
}

// decodeName fetches the header of uid and returns its name. Search
// matches the owner by substring, so the owner marker is compared exactly
// here. A different owner or a subject outside the name grammar makes the
// message foreign: ok is false and err is nil. Only access failures and
// vanished messages are reported as errors.
func (r *Resolver) decodeName(ctx context.Context, uid mailbox.UID) (name string, ok bool, err error) {
	header, err := r.session.FetchHeader(ctx, uid)
	if err != nil {
		if errors.Is(err, mailbox.ErrAccessDenied) || errors.Is(err, mailbox.ErrMessageNotFound) || ctx.Err() != nil {
			return "", false, err
		}
		logger.Debug("Ignoring uid %d: cannot decode name: %v", uid, err)
		return "", false, nil
	}

	env, err := message.Split(header)
	if err != nil {
		logger.Debug("Ignoring uid %d: cannot parse header: %v", uid, err)
		return "", false, nil
	}

	if owner := env.Owner(); owner != r.owner {
		logger.Debug("Ignoring uid %d: owned by %q", uid, owner)
		return "", false, nil
	}

	name = env.Subject()
	if !message.ValidName(name) {
		logger.Debug("Ignoring uid %d: foreign subject %q", uid, name)
		return "", false, nil
	}
	return name, true, nil
}

// Owned returns every live version owned by the store, unsorted.
func (r *Resolver) Owned(ctx context.Context) ([]Ref, error) {
	return r.search(ctx, "")
}

// search runs an owner search and keeps candidates whose decoded name
// equals name exactly. An empty name keeps every owned version.
func (r *Resolver) search(ctx context.Context, name string) ([]Ref, error) {
	uids, err := r.session.Search(ctx, mailbox.Criteria{Owner: r.owner, Subject: name})
	if err != nil {
		return nil, backendError("search failed", name, err)
	}

	refs := make([]Ref, 0, len(uids))
	for _, uid := range uids {
		decoded, ok, err := r.decodeName(ctx, uid)
		if err != nil {
			if errors.Is(err, mailbox.ErrMessageNotFound) {
				// Expunged by another client since the search.
				continue
			}
			return nil, backendError("failed to read name", Ref{Name: name, UID: uid}.String(), err)
		}
		if !ok || (name != "" && decoded != name) {
			continue
		}
		refs = append(refs, Ref{Name: decoded, UID: uid})
	}
	return refs, nil
}

// Resolve returns the versions id designates.
//
// An explicit version resolves to itself if it exists, is ours to decode,
// and matches the name hint; otherwise NotFound. A name resolves to its
// live versions: none is NotFound, more than one with unique set is
// Ambiguous carrying every candidate.
func (r *Resolver) Resolve(ctx context.Context, id Identifier, unique bool) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if id.HasVersion {
		name, ok, err := r.decodeName(ctx, id.Version)
		if err != nil && !errors.Is(err, mailbox.ErrMessageNotFound) {
			return nil, backendError("failed to read name", id.String(), err)
		}
		if err != nil || !ok || (id.Name != "" && name != id.Name) {
			return nil, notFound(id.String())
		}
		return []Ref{{Name: name, UID: id.Version}}, nil
	}

	if id.Name == "" {
		return nil, invalidIdentifier(id.String(), "(no name or version)")
	}

	refs, err := r.search(ctx, id.Name)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, notFound(id.Name)
	}
	if len(refs) > 1 && unique {
		return nil, ambiguous(id.Name, refs)
	}
	return refs, nil
}

// ResolveOne resolves id to exactly one version.
func (r *Resolver) ResolveOne(ctx context.Context, id Identifier) (Ref, error) {
	refs, err := r.Resolve(ctx, id, true)
	if err != nil {
		return Ref{}, err
	}
	return refs[0], nil
}
