package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/message"
)

// MemoryMailbox implements mailbox.Dialer over an in-memory folder.
//
// It is designed for:
//   - Testing the file store without a server
//   - Scratch use from the CLI (memory://name, lives as long as the process)
//
// Characteristics:
//   - Volatile: data is lost when the process exits
//   - IMAP-like: UIDs grow monotonically and are never reused, searches are
//     case-insensitive substring matches, expunge purges every flagged
//     message
//
// Thread Safety:
// All state is protected by a sync.RWMutex. Raw messages are copied on the
// way in and out.
type MemoryMailbox struct {
	mu       sync.RWMutex
	messages map[mailbox.UID]*storedMessage
	nextUID  mailbox.UID
}

type storedMessage struct {
	raw     []byte
	deleted bool
}

// NewMemoryMailbox creates an empty mailbox. The first appended message
// gets UID 1.
func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{
		messages: make(map[mailbox.UID]*storedMessage),
		nextUID:  1,
	}
}

var (
	sharedMu sync.Mutex
	shared   = make(map[string]*MemoryMailbox)
)

// Shared returns the process-wide mailbox registered under name, creating
// it on first use. memory:// locators resolve through it.
func Shared(name string) *MemoryMailbox {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	m, ok := shared[name]
	if !ok {
		m = NewMemoryMailbox()
		shared[name] = m
	}
	return m
}

// ResetShared drops every shared mailbox.
func ResetShared() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	shared = make(map[string]*MemoryMailbox)
}

// Dial opens a session on the mailbox.
func (m *MemoryMailbox) Dial(ctx context.Context) (mailbox.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{mbox: m}, nil
}

// Flag marks uid deleted without compacting, as another client would.
func (m *MemoryMailbox) Flag(uid mailbox.UID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[uid]
	if !ok {
		return fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}
	msg.deleted = true
	return nil
}

// Len returns the number of stored messages, flagged ones included.
func (m *MemoryMailbox) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

type session struct {
	mbox   *MemoryMailbox
	closed bool
}

func (s *session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return mailbox.ErrClosed
	}
	return nil
}

func (s *session) Search(ctx context.Context, criteria mailbox.Criteria) ([]mailbox.UID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mbox.mu.RLock()
	defer s.mbox.mu.RUnlock()

	uids := make([]mailbox.UID, 0)
	for uid, msg := range s.mbox.messages {
		if msg.deleted {
			continue
		}
		env, err := message.Split(msg.raw)
		if err != nil {
			continue
		}
		if mailbox.Matches(env, criteria) {
			uids = append(uids, uid)
		}
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *session) lookup(uid mailbox.UID) (*message.Envelope, error) {
	msg, ok := s.mbox.messages[uid]
	if !ok {
		return nil, fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}
	return message.Split(msg.raw)
}

func (s *session) FetchSubject(ctx context.Context, uid mailbox.UID) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}

	s.mbox.mu.RLock()
	defer s.mbox.mu.RUnlock()

	env, err := s.lookup(uid)
	if err != nil {
		return "", err
	}
	return env.Header.Get(message.SubjectHeader), nil
}

func (s *session) FetchHeader(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mbox.mu.RLock()
	defer s.mbox.mu.RUnlock()

	env, err := s.lookup(uid)
	if err != nil {
		return nil, err
	}
	return message.EncodeHeader(env.Header)
}

func (s *session) FetchBody(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mbox.mu.RLock()
	defer s.mbox.mu.RUnlock()

	env, err := s.lookup(uid)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), env.Body...), nil
}

func (s *session) Append(ctx context.Context, raw []byte) (mailbox.UID, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	if _, err := message.Split(raw); err != nil {
		return 0, fmt.Errorf("refusing malformed message: %w", err)
	}

	s.mbox.mu.Lock()
	defer s.mbox.mu.Unlock()

	uid := s.mbox.nextUID
	if uid == math.MaxUint32 {
		return 0, mailbox.ErrUIDExhausted
	}
	s.mbox.nextUID++
	s.mbox.messages[uid] = &storedMessage{raw: append([]byte(nil), raw...)}

	return uid, nil
}

func (s *session) Expunge(ctx context.Context, uid mailbox.UID) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mbox.mu.Lock()
	defer s.mbox.mu.Unlock()

	msg, ok := s.mbox.messages[uid]
	if !ok {
		return fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}
	msg.deleted = true

	for id, m := range s.mbox.messages {
		if m.deleted {
			delete(s.mbox.messages, id)
		}
	}
	return nil
}

func (s *session) Close() error {
	if s.closed {
		return mailbox.ErrClosed
	}
	s.closed = true
	return nil
}
