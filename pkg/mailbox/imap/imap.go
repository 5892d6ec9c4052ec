// Package imap implements mailbox.Session on an IMAP4rev1 server.
//
// Every Dial opens a fresh connection, authenticates, resolves the folder
// against the server's hierarchy delimiter and selects it read-write.
// Close issues CLOSE then LOGOUT.
//
// The underlying client is synchronous and has no notion of contexts, so
// the context is only checked between commands: a server that stops
// answering hangs the current command.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/message"
)

// DefaultFolder is selected when the locator names no folder.
const DefaultFolder = "INBOX"

// IMAPDialerConfig contains configuration for connecting to an IMAP server.
type IMAPDialerConfig struct {
	// Address is host:port of the server
	Address string

	// TLS selects implicit TLS (imaps). Otherwise the connection starts in
	// plaintext.
	TLS bool

	// StartTLS upgrades a plaintext connection before authenticating.
	// Ignored when TLS is set.
	StartTLS bool

	// InsecureSkipVerify disables certificate verification
	InsecureSkipVerify bool

	// Username and Password are sent with LOGIN
	Username string
	Password string

	// Folder is the folder path with "/" separators. It is rewritten with
	// the server's delimiter. Empty selects INBOX.
	Folder string
}

// IMAPDialer implements mailbox.Dialer for an IMAP server.
type IMAPDialer struct {
	config IMAPDialerConfig
}

// NewIMAPDialer creates a dialer. No connection is made until Dial.
func NewIMAPDialer(config IMAPDialerConfig) *IMAPDialer {
	return &IMAPDialer{config: config}
}

// NormalizeFolder rewrites a "/"-separated folder path with the server's
// hierarchy delimiter. An empty path selects INBOX.
func NormalizeFolder(folder, delimiter string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return DefaultFolder
	}
	if delimiter == "" || delimiter == "/" {
		return folder
	}
	return strings.ReplaceAll(folder, "/", delimiter)
}

func accessError(format string, err error, args ...any) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), mailbox.ErrAccessDenied, err)
}

// Dial connects, logs in and selects the folder.
//
// Every failure here is an access failure: unreachable server, rejected
// credentials, missing folder.
func (d *IMAPDialer) Dial(ctx context.Context) (mailbox.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := d.connect()
	if err != nil {
		return nil, err
	}

	folder, err := d.open(c)
	if err != nil {
		_ = c.Logout()
		return nil, err
	}

	logger.Debug("IMAP session open: address=%s folder=%s", d.config.Address, folder)
	return &session{c: c, folder: folder}, nil
}

func (d *IMAPDialer) connect() (*client.Client, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: d.config.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed servers
	}
	if host, _, ok := strings.Cut(d.config.Address, ":"); ok {
		tlsConfig.ServerName = host
	}

	var (
		c   *client.Client
		err error
	)
	if d.config.TLS {
		c, err = client.DialTLS(d.config.Address, tlsConfig)
	} else {
		c, err = client.Dial(d.config.Address)
	}
	if err != nil {
		return nil, accessError("failed to connect to %s", err, d.config.Address)
	}

	if !d.config.TLS && d.config.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Logout()
			return nil, accessError("STARTTLS with %s failed", err, d.config.Address)
		}
	}

	return c, nil
}

func (d *IMAPDialer) open(c *client.Client) (string, error) {
	if err := c.Login(d.config.Username, d.config.Password); err != nil {
		return "", accessError("login as %q failed", err, d.config.Username)
	}

	delimiter, err := hierarchyDelimiter(c)
	if err != nil {
		return "", accessError("failed to query hierarchy delimiter", err)
	}

	folder := NormalizeFolder(d.config.Folder, delimiter)
	if _, err := c.Select(folder, false); err != nil {
		return "", accessError("failed to select folder %q", err, folder)
	}

	return folder, nil
}

// hierarchyDelimiter asks the server with LIST "" "".
func hierarchyDelimiter(c *client.Client) (string, error) {
	infos := make(chan *goimap.MailboxInfo, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "", infos)
	}()

	delimiter := "/"
	for info := range infos {
		if info.Delimiter != "" {
			delimiter = info.Delimiter
		}
	}
	if err := <-done; err != nil {
		return "", err
	}
	return delimiter, nil
}

// session implements mailbox.Session on one IMAP connection.
type session struct {
	c      *client.Client
	folder string
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

// wrap turns a command failure into an error. A dropped connection is an
// access failure; anything else is an ordinary backend failure.
func (s *session) wrap(op string, err error) error {
	if s.c.State() == goimap.LogoutState {
		return fmt.Errorf("%s: connection lost: %w: %w", op, mailbox.ErrAccessDenied, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *session) search(criteria *goimap.SearchCriteria) ([]mailbox.UID, error) {
	raw, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, s.wrap("UID SEARCH", err)
	}

	uids := make([]mailbox.UID, len(raw))
	for i, uid := range raw {
		uids[i] = mailbox.UID(uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *session) Search(ctx context.Context, criteria mailbox.Criteria) ([]mailbox.UID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	c := goimap.NewSearchCriteria()
	c.Header.Add(message.OwnerHeader, criteria.Owner)
	if criteria.Subject != "" {
		c.Header.Add(message.SubjectHeader, criteria.Subject)
	}
	c.WithoutFlags = []string{goimap.DeletedFlag}

	return s.search(c)
}

// fetchSection fetches one body section of one message.
func (s *session) fetchSection(uid mailbox.UID, specifier goimap.PartSpecifier) ([]byte, error) {
	seqset := new(goimap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &goimap.BodySectionName{
		BodyPartName: goimap.BodyPartName{Specifier: specifier},
		Peek:         true,
	}
	items := []goimap.FetchItem{goimap.FetchUid, section.FetchItem()}

	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, messages)
	}()

	var found *goimap.Message
	for msg := range messages {
		if msg.Uid == uint32(uid) {
			found = msg
		}
	}
	if err := <-done; err != nil {
		return nil, s.wrap("UID FETCH", err)
	}
	if found == nil {
		return nil, fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}

	literal := found.GetBody(section)
	if literal == nil {
		return []byte{}, nil
	}
	data, err := io.ReadAll(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to read uid %d: %w", uid, err)
	}
	return data, nil
}

func (s *session) FetchSubject(ctx context.Context, uid mailbox.UID) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}

	header, err := s.fetchSection(uid, goimap.HeaderSpecifier)
	if err != nil {
		return "", err
	}

	env, err := message.Split(header)
	if err != nil {
		return "", fmt.Errorf("uid %d: %w", uid, err)
	}
	return env.Header.Get(message.SubjectHeader), nil
}

func (s *session) FetchHeader(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.fetchSection(uid, goimap.HeaderSpecifier)
}

func (s *session) FetchBody(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.fetchSection(uid, goimap.TextSpecifier)
}

// Append stores raw and finds its UID again by Message-Id, which works on
// servers without UIDPLUS.
func (s *session) Append(ctx context.Context, raw []byte) (mailbox.UID, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	env, err := message.Split(raw)
	if err != nil {
		return 0, fmt.Errorf("refusing malformed message: %w", err)
	}
	messageID := env.MessageID()
	if messageID == "" {
		return 0, fmt.Errorf("refusing message without %s", message.MessageIDHeader)
	}

	if err := s.c.Append(s.folder, nil, time.Now(), bytes.NewBuffer(raw)); err != nil {
		return 0, s.wrap("APPEND", err)
	}

	criteria := goimap.NewSearchCriteria()
	criteria.Header.Add(message.MessageIDHeader, messageID)
	uids, err := s.search(criteria)
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("appended message %s not found in %s", messageID, s.folder)
	}

	return uids[len(uids)-1], nil
}

func (s *session) Expunge(ctx context.Context, uid mailbox.UID) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uint32(uid))

	// UID STORE on a missing UID succeeds silently, so check first.
	criteria := goimap.NewSearchCriteria()
	criteria.Uid = seqset
	existing, err := s.search(criteria)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}

	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	if err := s.c.UidStore(seqset, item, []interface{}{goimap.DeletedFlag}, nil); err != nil {
		return s.wrap("UID STORE", err)
	}

	if err := s.c.Expunge(nil); err != nil {
		return s.wrap("EXPUNGE", err)
	}
	return nil
}

func (s *session) Close() error {
	if s.closed {
		return mailbox.ErrClosed
	}
	s.closed = true

	var errs []error
	if err := s.c.Close(); err != nil {
		errs = append(errs, fmt.Errorf("CLOSE: %w", err))
	}
	if err := s.c.Logout(); err != nil {
		errs = append(errs, fmt.Errorf("LOGOUT: %w", err))
	}
	return errors.Join(errs...)
}
