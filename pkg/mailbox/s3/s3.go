// Package s3 implements a mailbox on Amazon S3 or S3-compatible storage.
//
// Object layout under the configured prefix:
//
//	messages/<uid, 10 digits>.eml   raw RFC 5322 message
//	deleted/<uid, 10 digits>        \Deleted flag marker (empty object)
//	uidnext                         next UID to assign (decimal text)
//
// New messages are created with If-None-Match: * so two writers can never
// claim the same UID. The uidnext counter only grows and keeps UIDs from
// being reused after the newest message is expunged.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/message"
)

const (
	messagesDir = "messages/"
	deletedDir  = "deleted/"
	uidNextKey  = "uidnext"

	// maxAllocateAttempts bounds UID allocation retries under contention
	maxAllocateAttempts = 16

	// S3 allows max 1000 objects per delete request
	maxBatchSize = 1000
)

// S3MailboxConfig contains configuration for the S3 mailbox.
type S3MailboxConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys.
	// Example: "imapfs/work/" results in keys like "imapfs/work/messages/..."
	KeyPrefix string
}

// S3Mailbox implements mailbox.Dialer on an S3 bucket.
//
// Thread Safety:
// Safe for concurrent use. Several processes may share one prefix.
type S3Mailbox struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// NewS3Mailbox creates an S3 mailbox. Bucket access is verified on Dial.
func NewS3Mailbox(cfg S3MailboxConfig) (*S3Mailbox, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Mailbox{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: prefix,
	}, nil
}

// Dial verifies bucket access and returns a session.
func (m *S3Mailbox) Dial(ctx context.Context) (mailbox.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(m.bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w: %w", m.bucket, mailbox.ErrAccessDenied, err)
	}

	return &session{mbox: m}, nil
}

func (m *S3Mailbox) key(parts ...string) string {
	return m.keyPrefix + strings.Join(parts, "")
}

func formatUID(uid mailbox.UID) string {
	return fmt.Sprintf("%010d", uint32(uid))
}

func (m *S3Mailbox) messageKey(uid mailbox.UID) string {
	return m.key(messagesDir, formatUID(uid), ".eml")
}

func (m *S3Mailbox) deletedKey(uid mailbox.UID) string {
	return m.key(deletedDir, formatUID(uid))
}

// parseUID extracts the UID from a messages/ or deleted/ key.
func (m *S3Mailbox) parseUID(key, dir string) (mailbox.UID, bool) {
	name, ok := strings.CutPrefix(key, m.key(dir))
	if !ok {
		return 0, false
	}
	name = strings.TrimSuffix(name, ".eml")
	uid, err := strconv.ParseUint(name, 10, 32)
	if err != nil || uid == 0 {
		return 0, false
	}
	return mailbox.UID(uid), true
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// isPreconditionFailed reports a lost conditional write. S3 answers 412
// PreconditionFailed, or 409 ConditionalRequestConflict when a concurrent
// write to the same key is still in flight.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// session implements mailbox.Session. S3 is stateless, so a session only
// tracks whether it was closed.
type session struct {
	mbox   *S3Mailbox
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

// listUIDs returns the UIDs of every object under dir.
func (s *session) listUIDs(ctx context.Context, dir string) ([]mailbox.UID, error) {
	paginator := s3.NewListObjectsV2Paginator(s.mbox.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.mbox.bucket),
		Prefix: aws.String(s.mbox.key(dir)),
	})

	var uids []mailbox.UID
	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if uid, ok := s.mbox.parseUID(*obj.Key, dir); ok {
				uids = append(uids, uid)
			}
		}
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *session) getObject(ctx context.Context, key string) ([]byte, error) {
	result, err := s.mbox.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.mbox.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *session) fetch(ctx context.Context, uid mailbox.UID) (*message.Envelope, error) {
	raw, err := s.getObject(ctx, s.mbox.messageKey(uid))
	if isNotFound(err) {
		return nil, fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", uid, err)
	}
	return message.Split(raw)
}

func (s *session) Search(ctx context.Context, criteria mailbox.Criteria) ([]mailbox.UID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	all, err := s.listUIDs(ctx, messagesDir)
	if err != nil {
		return nil, err
	}
	flagged, err := s.listUIDs(ctx, deletedDir)
	if err != nil {
		return nil, err
	}
	deleted := make(map[mailbox.UID]bool, len(flagged))
	for _, uid := range flagged {
		deleted[uid] = true
	}

	uids := make([]mailbox.UID, 0)
	for _, uid := range all {
		if deleted[uid] {
			continue
		}

		env, err := s.fetch(ctx, uid)
		if errors.Is(err, mailbox.ErrMessageNotFound) {
			// Purged by a concurrent expunge after listing.
			continue
		}
		if err != nil {
			return nil, err
		}
		if mailbox.Matches(env, criteria) {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func (s *session) FetchSubject(ctx context.Context, uid mailbox.UID) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}

	env, err := s.fetch(ctx, uid)
	if err != nil {
		return "", err
	}
	return env.Header.Get(message.SubjectHeader), nil
}

func (s *session) FetchHeader(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	env, err := s.fetch(ctx, uid)
	if err != nil {
		return nil, err
	}
	return message.EncodeHeader(env.Header)
}

func (s *session) FetchBody(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	env, err := s.fetch(ctx, uid)
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

// parseCounter decodes the uidnext object. A missing counter starts at 1.
func parseCounter(data []byte) (mailbox.UID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s counter: %w", uidNextKey, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("corrupt %s counter: zero", uidNextKey)
	}
	return mailbox.UID(n), nil
}

// readCounter returns the uidnext value and its ETag. etag is nil when the
// counter does not exist yet.
func (s *session) readCounter(ctx context.Context) (next mailbox.UID, etag *string, err error) {
	result, err := s.mbox.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.mbox.bucket),
		Key:    aws.String(s.mbox.key(uidNextKey)),
	})
	if isNotFound(err) {
		return 1, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read %s counter: %w", uidNextKey, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read %s counter: %w", uidNextKey, err)
	}
	next, err = parseCounter(data)
	if err != nil {
		return 0, nil, err
	}
	return next, result.ETag, nil
}

// advanceCounter makes uidnext greater than past. The counter only grows:
// every write is conditional on the value it replaces, so a slow writer
// can never move it back.
func (s *session) advanceCounter(ctx context.Context, past mailbox.UID) error {
	if past == math.MaxUint32 {
		return fmt.Errorf("uid %d: %w", past, mailbox.ErrUIDExhausted)
	}

	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		next, etag, err := s.readCounter(ctx)
		if err != nil {
			return err
		}
		if next > past {
			return nil
		}

		input := &s3.PutObjectInput{
			Bucket: aws.String(s.mbox.bucket),
			Key:    aws.String(s.mbox.key(uidNextKey)),
			Body:   strings.NewReader((past + 1).String()),
		}
		if etag == nil {
			input.IfNoneMatch = aws.String("*")
		} else {
			input.IfMatch = etag
		}

		_, err = s.mbox.client.PutObject(ctx, input)
		if err == nil {
			return nil
		}
		if !isPreconditionFailed(err) {
			return fmt.Errorf("failed to advance %s counter: %w", uidNextKey, err)
		}
		logger.Debug("S3 mailbox: %s changed concurrently, retrying", uidNextKey)
	}

	return fmt.Errorf("failed to advance %s counter: too much contention", uidNextKey)
}

// nextUID returns the first UID not below the counter and above every
// stored message.
func (s *session) nextUID(ctx context.Context) (mailbox.UID, error) {
	next, _, err := s.readCounter(ctx)
	if err != nil {
		return 0, err
	}

	uids, err := s.listUIDs(ctx, messagesDir)
	if err != nil {
		return 0, err
	}
	if n := len(uids); n > 0 && uids[n-1] >= next {
		if uids[n-1] == math.MaxUint32 {
			return 0, mailbox.ErrUIDExhausted
		}
		next = uids[n-1] + 1
	}
	return next, nil
}

func (s *session) Append(ctx context.Context, raw []byte) (mailbox.UID, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	if _, err := message.Split(raw); err != nil {
		return 0, fmt.Errorf("refusing malformed message: %w", err)
	}

	uid, err := s.nextUID(ctx)
	if err != nil {
		return 0, err
	}

	for attempt := 0; ; attempt++ {
		_, err = s.mbox.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.mbox.bucket),
			Key:         aws.String(s.mbox.messageKey(uid)),
			Body:        bytes.NewReader(raw),
			ContentType: aws.String("message/rfc822"),
			IfNoneMatch: aws.String("*"),
		})
		if err == nil {
			break
		}
		if !isPreconditionFailed(err) || attempt+1 >= maxAllocateAttempts {
			return 0, fmt.Errorf("failed to put message: %w", err)
		}
		if uid == math.MaxUint32 {
			return 0, mailbox.ErrUIDExhausted
		}
		logger.Debug("S3 mailbox: uid %d taken, retrying", uid)
		uid++
	}

	// The message is stored. Expunge advances the counter again before it
	// purges, so a failure here cannot lead to reuse.
	if err := s.advanceCounter(ctx, uid); err != nil {
		logger.Warn("S3 mailbox: %v", err)
	}

	return uid, nil
}

// Expunge writes the deleted marker for uid, then purges every flagged
// message with batch deletes.
func (s *session) Expunge(ctx context.Context, uid mailbox.UID) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	_, err := s.mbox.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.mbox.bucket),
		Key:    aws.String(s.mbox.messageKey(uid)),
	})
	if isNotFound(err) {
		return fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to head message %d: %w", uid, err)
	}

	_, err = s.mbox.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.mbox.bucket),
		Key:    aws.String(s.mbox.deletedKey(uid)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("failed to flag message %d: %w", uid, err)
	}

	flagged, err := s.listUIDs(ctx, deletedDir)
	if err != nil {
		return err
	}
	if len(flagged) == 0 {
		return nil
	}

	// Once purged, a UID is only protected by the counter, so it must be
	// past every flagged UID before anything is deleted.
	if err := s.advanceCounter(ctx, flagged[len(flagged)-1]); err != nil {
		return err
	}

	// Message objects go first so a partial failure never leaves a live
	// message without its marker.
	var messageKeys, markerKeys []string
	for _, f := range flagged {
		messageKeys = append(messageKeys, s.mbox.messageKey(f))
		markerKeys = append(markerKeys, s.mbox.deletedKey(f))
	}
	if err := s.deleteBatch(ctx, messageKeys); err != nil {
		return err
	}
	return s.deleteBatch(ctx, markerKeys)
}

// deleteBatch removes keys in chunks of maxBatchSize.
func (s *session) deleteBatch(ctx context.Context, keys []string) error {
	var errs []error

	for i := 0; i < len(keys); i += maxBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(i+maxBatchSize, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, key := range keys[i:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}

		result, err := s.mbox.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.mbox.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}

		for _, deleteErr := range result.Errors {
			errMsg := "unknown error"
			if deleteErr.Code != nil && deleteErr.Message != nil {
				errMsg = fmt.Sprintf("%s: %s", *deleteErr.Code, *deleteErr.Message)
			}
			errs = append(errs, fmt.Errorf("delete %s: %s", aws.ToString(deleteErr.Key), errMsg))
		}
	}

	return errors.Join(errs...)
}

func (s *session) Close() error {
	if s.closed {
		return mailbox.ErrClosed
	}
	s.closed = true
	return nil
}
