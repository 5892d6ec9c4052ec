package filestore

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/mailbox/memory"
	"github.com/marmos91/imapfs/pkg/message"
	"github.com/stretchr/testify/require"
)

const testOwner = "test-owner"

func newTestStore(t *testing.T) (*Store, *memory.MemoryMailbox) {
	t.Helper()
	mbox := memory.NewMemoryMailbox()
	return New(mbox, Options{Owner: testOwner}), mbox
}

// create appends a version without replacing anything.
func create(t *testing.T, store *Store, name, payload string) Ref {
	t.Helper()
	result, err := store.Put(context.Background(), name, []byte(payload), false)
	require.NoError(t, err)
	return result.Created
}

// appendRaw stores a hand-built message, bypassing the encoder.
func appendRaw(t *testing.T, mbox mailbox.Dialer, raw string) mailbox.UID {
	t.Helper()
	ctx := context.Background()
	s, err := mbox.Dial(ctx)
	require.NoError(t, err)
	defer s.Close()

	uid, err := s.Append(ctx, []byte(raw))
	require.NoError(t, err)
	return uid
}

func strs(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

// captureLog redirects the logger into a buffer for the rest of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLevel("WARN")
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return &buf
}

// faultDialer wraps a dialer and injects failures into its sessions.
type faultDialer struct {
	inner mailbox.Dialer

	dialErr    error
	searchErr  error
	headerErr  map[mailbox.UID]error
	appendErr  error
	expungeErr error
	closeErr   error
	closeCount int
	calls      []string
}

func (d *faultDialer) Dial(ctx context.Context) (mailbox.Session, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	s, err := d.inner.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &faultSession{Session: s, d: d}, nil
}

type faultSession struct {
	mailbox.Session
	d *faultDialer
}

func (s *faultSession) Search(ctx context.Context, criteria mailbox.Criteria) ([]mailbox.UID, error) {
	s.d.calls = append(s.d.calls, "search")
	if s.d.searchErr != nil {
		return nil, s.d.searchErr
	}
	return s.Session.Search(ctx, criteria)
}

func (s *faultSession) FetchHeader(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	s.d.calls = append(s.d.calls, "header")
	if err := s.d.headerErr[uid]; err != nil {
		return nil, err
	}
	return s.Session.FetchHeader(ctx, uid)
}

func (s *faultSession) Append(ctx context.Context, raw []byte) (mailbox.UID, error) {
	s.d.calls = append(s.d.calls, "append")
	if s.d.appendErr != nil {
		return 0, s.d.appendErr
	}
	return s.Session.Append(ctx, raw)
}

func (s *faultSession) Expunge(ctx context.Context, uid mailbox.UID) error {
	s.d.calls = append(s.d.calls, "expunge")
	if s.d.expungeErr != nil {
		return s.d.expungeErr
	}
	return s.Session.Expunge(ctx, uid)
}

func (s *faultSession) Close() error {
	s.d.closeCount++
	err := s.Session.Close()
	if s.d.closeErr != nil {
		return s.d.closeErr
	}
	return err
}

func foreignMessage(owner, subject, body string) string {
	return "From: someone@example.org\r\n" +
		message.OwnerHeader + ": " + owner + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" + body
}
