// Package badger implements a persistent local mailbox on BadgerDB.
//
// Key layout:
//
//	m:<uid, 10 digits>   message record (msgpack, raw message zstd-compressed)
//	uidnext              next UID to assign (uint32, big endian)
//
// Zero-padded UIDs keep prefix iteration in ascending UID order. The UID
// counter only grows, so UIDs are never reused after expunge.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/klauspost/compress/zstd"
	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/message"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	messagePrefix = "m:"
	uidNextKey    = "uidnext"

	// maxConflictRetries bounds retries of a transaction that lost a
	// write conflict against a concurrent session.
	maxConflictRetries = 5
)

var (
	encoder = mustEncoder()
	decoder = mustDecoder()
)

func mustEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("badger mailbox: zstd encoder: %v", err))
	}
	return enc
}

func mustDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("badger mailbox: zstd decoder: %v", err))
	}
	return dec
}

// BadgerMailboxConfig contains configuration for the BadgerDB mailbox.
type BadgerMailboxConfig struct {
	// Dir is the directory where BadgerDB keeps its files
	Dir string `mapstructure:"dir" validate:"required"`

	// SyncWrites fsyncs every commit
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 32)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`
}

// BadgerMailbox implements mailbox.Dialer on a BadgerDB directory.
//
// BadgerDB allows a single process per directory, so the database is
// opened on the first Dial and closed when the last session closes.
// Sessions dialed concurrently in one process share the handle.
type BadgerMailbox struct {
	config BadgerMailboxConfig

	mu   sync.Mutex
	db   *badger.DB
	refs int
}

// record is the stored form of one message.
type record struct {
	Deleted bool   `msgpack:"d"`
	Raw     []byte `msgpack:"r"`
}

// NewBadgerMailbox creates a dialer for the directory in config.
func NewBadgerMailbox(config BadgerMailboxConfig) *BadgerMailbox {
	return &BadgerMailbox{config: config}
}

func messageKey(uid mailbox.UID) []byte {
	return []byte(fmt.Sprintf("%s%010d", messagePrefix, uint32(uid)))
}

func parseMessageKey(key []byte) (mailbox.UID, bool) {
	digits, ok := strings.CutPrefix(string(key), messagePrefix)
	if !ok {
		return 0, false
	}
	uid, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, false
	}
	return mailbox.UID(uid), true
}

func encodeRecord(r *record) ([]byte, error) {
	stored := record{
		Deleted: r.Deleted,
		Raw:     encoder.EncodeAll(r.Raw, nil),
	}
	return msgpack.Marshal(&stored)
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	raw, err := decoder.DecodeAll(r.Raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress message: %w", err)
	}
	r.Raw = raw
	return &r, nil
}

func (m *BadgerMailbox) open() (*badger.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		opts := badger.DefaultOptions(m.config.Dir)
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None) // messages are compressed before storage
		opts = opts.WithSyncWrites(m.config.SyncWrites)

		blockCacheMB := m.config.BlockCacheSizeMB
		if blockCacheMB == 0 {
			blockCacheMB = 32
		}
		opts = opts.WithBlockCacheSize(blockCacheMB << 20)

		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open BadgerDB at %s: %w: %w", m.config.Dir, mailbox.ErrAccessDenied, err)
		}
		logger.Debug("BadgerDB mailbox opened: dir=%s", m.config.Dir)
		m.db = db
	}

	m.refs++
	return m.db, nil
}

func (m *BadgerMailbox) release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs--
	if m.refs > 0 || m.db == nil {
		return nil
	}

	err := m.db.Close()
	m.db = nil
	if err != nil {
		return fmt.Errorf("failed to close BadgerDB at %s: %w", m.config.Dir, err)
	}
	return nil
}

// Dial opens the database if needed and returns a session on it.
func (m *BadgerMailbox) Dial(ctx context.Context) (mailbox.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := m.open()
	if err != nil {
		return nil, err
	}
	return &session{mbox: m, db: db}, nil
}

type session struct {
	mbox   *BadgerMailbox
	db     *badger.DB
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

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *session) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		logger.Debug("BadgerDB transaction conflict, retrying (attempt %d)", attempt+1)
	}
	return err
}

func getRecord(txn *badger.Txn, uid mailbox.UID) (*record, error) {
	item, err := txn.Get(messageKey(uid))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}
	if err != nil {
		return nil, err
	}

	var r *record
	err = item.Value(func(val []byte) error {
		var decodeErr error
		r, decodeErr = decodeRecord(val)
		return decodeErr
	})
	return r, err
}

func putRecord(txn *badger.Txn, uid mailbox.UID, r *record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return txn.Set(messageKey(uid), data)
}

func (s *session) Search(ctx context.Context, criteria mailbox.Criteria) ([]mailbox.UID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	uids := make([]mailbox.UID, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(messagePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			uid, ok := parseMessageKey(item.Key())
			if !ok {
				continue
			}

			var r *record
			if err := item.Value(func(val []byte) error {
				var decodeErr error
				r, decodeErr = decodeRecord(val)
				return decodeErr
			}); err != nil {
				logger.Warn("Skipping unreadable message uid=%d: %v", uid, err)
				continue
			}
			if r.Deleted {
				continue
			}

			env, err := message.Split(r.Raw)
			if err != nil {
				continue
			}
			if mailbox.Matches(env, criteria) {
				uids = append(uids, uid)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return uids, nil
}

func (s *session) fetch(uid mailbox.UID) (*message.Envelope, error) {
	var r *record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = getRecord(txn, uid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return message.Split(r.Raw)
}

func (s *session) FetchSubject(ctx context.Context, uid mailbox.UID) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}

	env, err := s.fetch(uid)
	if err != nil {
		return "", err
	}
	return env.Header.Get(message.SubjectHeader), nil
}

func (s *session) FetchHeader(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	env, err := s.fetch(uid)
	if err != nil {
		return nil, err
	}
	return message.EncodeHeader(env.Header)
}

func (s *session) FetchBody(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	env, err := s.fetch(uid)
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

func (s *session) Append(ctx context.Context, raw []byte) (mailbox.UID, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	if _, err := message.Split(raw); err != nil {
		return 0, fmt.Errorf("refusing malformed message: %w", err)
	}

	var uid mailbox.UID
	err := s.update(func(txn *badger.Txn) error {
		var err error
		if uid, err = readCounter(txn); err != nil {
			return err
		}
		// The counter holds the next UID in 32 bits, so the last UID can
		// never be assigned.
		if uid == math.MaxUint32 {
			return mailbox.ErrUIDExhausted
		}

		if err := putRecord(txn, uid, &record{Raw: raw}); err != nil {
			return err
		}

		next := make([]byte, 4)
		binary.BigEndian.PutUint32(next, uint32(uid)+1)
		return txn.Set([]byte(uidNextKey), next)
	})
	if err != nil {
		return 0, fmt.Errorf("append failed: %w", err)
	}
	return uid, nil
}

// readCounter returns the next UID to assign, 1 for an empty mailbox.
func readCounter(txn *badger.Txn) (mailbox.UID, error) {
	item, err := txn.Get([]byte(uidNextKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	var uid mailbox.UID
	err = item.Value(func(val []byte) error {
		if len(val) != 4 || binary.BigEndian.Uint32(val) == 0 {
			return fmt.Errorf("corrupt %s counter", uidNextKey)
		}
		uid = mailbox.UID(binary.BigEndian.Uint32(val))
		return nil
	})
	return uid, err
}

// Expunge flags uid in one transaction and purges every flagged message in
// a second one, mirroring STORE +FLAGS \Deleted followed by EXPUNGE.
func (s *session) Expunge(ctx context.Context, uid mailbox.UID) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	err := s.update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, uid)
		if err != nil {
			return err
		}
		r.Deleted = true
		return putRecord(txn, uid, r)
	})
	if err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		doomed, err := flagged(txn)
		if err != nil {
			return err
		}
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// flagged returns the keys of every message flagged deleted.
func flagged(txn *badger.Txn) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(messagePrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var deleted bool
		if err := item.Value(func(val []byte) error {
			var r record
			if err := msgpack.Unmarshal(val, &r); err != nil {
				return err
			}
			deleted = r.Deleted
			return nil
		}); err != nil {
			return nil, err
		}
		if deleted {
			keys = append(keys, item.KeyCopy(nil))
		}
	}
	return keys, nil
}

func (s *session) Close() error {
	if s.closed {
		return mailbox.ErrClosed
	}
	s.closed = true
	return s.mbox.release()
}
