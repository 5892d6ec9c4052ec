// Package message implements the naming convention that maps a stored file
// version onto a mailbox message and back.
//
// A file version is an RFC 5322 message:
//
//	From: <owner> <imapfs@localhost>
//	Subject: <name>
//	X-Imapfs-Owner: <owner>
//	X-Imapfs-Digest: xxh3:<hex>
//	Message-Id: <uuid@imapfs>
//	Content-Type: text/plain; charset=utf-8
//
//	<payload, CRLF line endings>
//
// The owner header marks messages managed by the store; everything else in
// the mailbox is foreign and ignored.
package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

const (
	// OwnerHeader carries the owner marker.
	OwnerHeader = "X-Imapfs-Owner"

	// DigestHeader carries the xxh3 digest of the canonical payload.
	DigestHeader = "X-Imapfs-Digest"

	// SubjectHeader carries the file name.
	SubjectHeader = "Subject"

	// MessageIDHeader is used to find a message right after APPEND.
	MessageIDHeader = "Message-Id"

	fromAddress = "imapfs@localhost"
	idDomain    = "imapfs"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidName reports whether s is a legal file name token.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// Message is a file version ready to be appended.
type Message struct {
	Owner     string
	Name      string
	Payload   []byte
	MessageID string
	Date      time.Time
}

// New builds a message for payload with a fresh Message-Id.
func New(owner, name string, payload []byte) *Message {
	return &Message{
		Owner:     owner,
		Name:      name,
		Payload:   Canonical(payload),
		MessageID: uuid.NewString() + "@" + idDomain,
		Date:      time.Now(),
	}
}

// Encode renders the message in wire form.
func (m *Message) Encode() ([]byte, error) {
	if !ValidName(m.Name) {
		return nil, fmt.Errorf("invalid file name %q", m.Name)
	}
	if m.Owner == "" {
		return nil, fmt.Errorf("owner marker is required")
	}

	var h mail.Header
	h.SetDate(m.Date)
	h.SetAddressList("From", []*mail.Address{{Name: m.Owner, Address: fromAddress}})
	h.SetSubject(m.Name)
	h.Set(OwnerHeader, m.Owner)
	h.Set(DigestHeader, Digest(m.Payload))
	h.Set(MessageIDHeader, "<"+m.MessageID+">")
	h.Set("MIME-Version", "1.0")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "8bit")

	raw, err := EncodeHeader(h.Header.Header)
	if err != nil {
		return nil, err
	}
	return append(raw, Wire(m.Payload)...), nil
}

// EncodeHeader renders a header block, blank line included.
func EncodeHeader(h textproto.Header) ([]byte, error) {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return buf.Bytes(), nil
}

// Envelope is a parsed stored message.
type Envelope struct {
	Header textproto.Header
	Body   []byte
}

// Split parses raw into header and body. raw may be a header block alone,
// as returned by a header-only fetch.
func Split(raw []byte) (*Envelope, error) {
	r := bufio.NewReader(bytes.NewReader(raw))

	h, err := textproto.ReadHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &Envelope{Header: h, Body: body}, nil
}

// Subject returns the decoded subject, or the raw value if it cannot be
// decoded.
func (e *Envelope) Subject() string {
	mh := mail.Header{Header: gomessage.Header{Header: e.Header}}
	subject, err := mh.Subject()
	if err != nil {
		return strings.TrimSpace(e.Header.Get(SubjectHeader))
	}
	return strings.TrimSpace(subject)
}

// Owner returns the owner marker, empty for foreign messages.
func (e *Envelope) Owner() string {
	return strings.TrimSpace(e.Header.Get(OwnerHeader))
}

// MessageID returns the Message-Id without angle brackets.
func (e *Envelope) MessageID() string {
	return strings.Trim(strings.TrimSpace(e.Header.Get(MessageIDHeader)), "<>")
}

// Digest returns the digest header value for a canonical payload.
func Digest(payload []byte) string {
	return fmt.Sprintf("xxh3:%016x", xxh3.Hash(payload))
}

// VerifyDigest checks a canonical payload against a digest header value.
// present is false when no digest was recorded.
func VerifyDigest(header string, payload []byte) (ok, present bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return true, false
	}
	return header == Digest(payload), true
}
