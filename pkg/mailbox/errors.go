package mailbox

import "errors"

// Standard session errors. Implementations wrap them with context:
//
//	return fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
//
// and callers test with errors.Is.
var (
	// ErrMessageNotFound indicates the UID does not name a message in the
	// selected folder (never existed, or already expunged).
	ErrMessageNotFound = errors.New("message not found")

	// ErrAccessDenied indicates the backend refused access: bad locator,
	// failed authentication, missing folder, or a connection that was
	// dropped. It is always fatal to the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrClosed indicates the session was already closed.
	ErrClosed = errors.New("session closed")

	// ErrUIDExhausted indicates the folder has handed out every UID and
	// cannot store another message without reusing one.
	ErrUIDExhausted = errors.New("uid space exhausted")
)
