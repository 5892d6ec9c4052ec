// Package mailbox defines the backend session consumed by the file store.
//
// A Session is a live, authenticated connection with one folder selected.
// It exposes only what a message store offers natively: search, fetch,
// append, and flag-then-compact. Nothing is transactional and nothing is
// updated in place.
//
// Implementations:
//   - pkg/mailbox/imap:   IMAP4rev1 server (the production backend)
//   - pkg/mailbox/memory: process-local mailbox (tests, scratch use)
//   - pkg/mailbox/badger: persistent local mailbox
//   - pkg/mailbox/s3:     object-store mailbox
//
// Thread Safety:
// A Session is used by one goroutine at a time. Callers open one session
// per operation and close it before returning.
package mailbox

import (
	"context"
	"strconv"
)

// UID is the backend-assigned identifier of a message. It is stable for
// the life of the message and never reused once the message is expunged.
type UID uint32

// String returns the decimal form used in identifiers.
func (u UID) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

// Criteria selects live messages by header values.
//
// Matching is case-insensitive substring matching, as IMAP SEARCH HEADER
// does. Callers must re-validate exact equality on the candidates.
type Criteria struct {
	// Owner matches the owner marker header. Required.
	Owner string

	// Subject matches the name field. Empty matches any subject.
	Subject string
}

// Session is one open backend connection with a folder selected.
type Session interface {
	// Search returns the UIDs of all live (not flagged deleted) messages
	// matching the criteria, in ascending order.
	Search(ctx context.Context, criteria Criteria) ([]UID, error)

	// FetchSubject returns the raw subject of one message.
	//
	// Returns ErrMessageNotFound if uid does not exist.
	FetchSubject(ctx context.Context, uid UID) (string, error)

	// FetchHeader returns the raw header block of one message, including
	// the terminating blank line.
	//
	// Returns ErrMessageNotFound if uid does not exist.
	FetchHeader(ctx context.Context, uid UID) ([]byte, error)

	// FetchBody returns the body of one message as stored (wire line
	// endings).
	//
	// Returns ErrMessageNotFound if uid does not exist.
	FetchBody(ctx context.Context, uid UID) ([]byte, error)

	// Append stores a complete RFC 5322 message and returns its UID.
	Append(ctx context.Context, raw []byte) (UID, error)

	// Expunge flags uid as deleted and compacts the folder. Compaction is
	// folder-wide: every flagged message is purged, not only uid.
	//
	// Returns ErrMessageNotFound if uid does not exist.
	Expunge(ctx context.Context, uid UID) error

	// Close releases the folder and ends the session.
	Close() error
}

// Dialer opens sessions. Every store operation dials exactly one session.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Session, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}
