// Package locator parses mailbox connection strings.
//
// Supported forms:
//
//	imap://[user[:pass]@]host[:port][/folder]    plaintext IMAP (143)
//	imaps://[user[:pass]@]host[:port][/folder]   IMAP over TLS (993)
//	memory://[name]                              process-local mailbox
//	badger:///dir[?folder=sub]                   BadgerDB directory
//	s3://bucket[/prefix]                         S3 bucket and key prefix
//
// User info is percent-decoded. Folders keep "/" as separator; the IMAP
// backend rewrites it with the server's hierarchy delimiter.
package locator

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marmos91/imapfs/pkg/mailbox"
)

// Scheme selects the backend.
type Scheme string

const (
	SchemeIMAP   Scheme = "imap"
	SchemeIMAPS  Scheme = "imaps"
	SchemeMemory Scheme = "memory"
	SchemeBadger Scheme = "badger"
	SchemeS3     Scheme = "s3"
)

const (
	// DefaultIMAPPort is the plaintext IMAP port
	DefaultIMAPPort = 143

	// DefaultIMAPSPort is the implicit TLS IMAP port
	DefaultIMAPSPort = 993

	// DefaultMemoryName is used by memory:// without a name
	DefaultMemoryName = "default"
)

// Locator is a parsed connection string.
type Locator struct {
	Scheme Scheme

	// Host and Port address an IMAP server
	Host string
	Port int

	// Username and Password come from the user info, if present
	Username    string
	Password    string
	HasPassword bool

	// Folder is the IMAP folder with "/" separators, empty for INBOX
	Folder string

	// Name is the memory mailbox name
	Name string

	// Dir is the BadgerDB directory
	Dir string

	// Bucket and Prefix address an S3 mailbox
	Bucket string
	Prefix string
}

func invalid(raw, reason string) error {
	return fmt.Errorf("invalid locator %q: %s: %w", redact(raw), reason, mailbox.ErrAccessDenied)
}

// redact hides the password of a raw locator for error messages.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// Parse parses a locator. A malformed locator wraps mailbox.ErrAccessDenied
// since it can never reach a mailbox.
func Parse(raw string) (*Locator, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, invalid(raw, "empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, invalid(raw, err.Error())
	}

	loc := &Locator{Scheme: Scheme(strings.ToLower(u.Scheme))}
	switch loc.Scheme {
	case SchemeIMAP, SchemeIMAPS:
		err = loc.parseIMAP(raw, u)
	case SchemeMemory:
		loc.Name = u.Host
		if loc.Name == "" {
			loc.Name = DefaultMemoryName
		}
	case SchemeBadger:
		err = loc.parseBadger(raw, u)
	case SchemeS3:
		loc.Bucket = u.Host
		loc.Prefix = strings.Trim(u.Path, "/")
		if loc.Bucket == "" {
			err = invalid(raw, "bucket is required")
		}
	case "":
		err = invalid(raw, "scheme is required")
	default:
		err = invalid(raw, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if err != nil {
		return nil, err
	}
	return loc, nil
}

func (l *Locator) parseIMAP(raw string, u *url.URL) error {
	l.Host = u.Hostname()
	if l.Host == "" {
		return invalid(raw, "host is required")
	}

	l.Port = DefaultIMAPPort
	if l.Scheme == SchemeIMAPS {
		l.Port = DefaultIMAPSPort
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return invalid(raw, fmt.Sprintf("bad port %q", p))
		}
		l.Port = port
	}

	if u.User != nil {
		l.Username = u.User.Username()
		l.Password, l.HasPassword = u.User.Password()
	}

	l.Folder = strings.Trim(u.Path, "/")
	return nil
}

func (l *Locator) parseBadger(raw string, u *url.URL) error {
	if u.Host != "" && u.Host != "localhost" {
		return invalid(raw, "badger locators are local, use badger:///path")
	}
	if u.Path == "" {
		return invalid(raw, "directory is required")
	}

	l.Dir = filepath.Clean(u.Path)
	if folder := strings.Trim(u.Query().Get("folder"), "/"); folder != "" {
		if strings.Contains(folder, "..") {
			return invalid(raw, "folder may not leave the directory")
		}
		l.Folder = folder
		l.Dir = filepath.Join(l.Dir, filepath.FromSlash(folder))
	}
	return nil
}

// Address returns host:port of an IMAP locator.
func (l *Locator) Address() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// TLS reports whether the IMAP connection starts with TLS.
func (l *Locator) TLS() bool {
	return l.Scheme == SchemeIMAPS
}

// WithCredentials fills missing user info from configured credentials.
func (l *Locator) WithCredentials(username, password string) {
	if l.Username == "" {
		l.Username = username
	}
	if !l.HasPassword && password != "" {
		l.Password = password
		l.HasPassword = true
	}
}

// String formats the locator with the password hidden.
func (l *Locator) String() string {
	switch l.Scheme {
	case SchemeMemory:
		return "memory://" + l.Name
	case SchemeBadger:
		return "badger://" + filepath.ToSlash(l.Dir)
	case SchemeS3:
		if l.Prefix == "" {
			return "s3://" + l.Bucket
		}
		return "s3://" + l.Bucket + "/" + l.Prefix
	}

	u := url.URL{Scheme: string(l.Scheme), Host: l.Address()}
	if l.Username != "" {
		if l.HasPassword {
			u.User = url.UserPassword(l.Username, "xxxxx")
		} else {
			u.User = url.User(l.Username)
		}
	}
	if l.Folder != "" {
		u.Path = "/" + l.Folder
	}
	return u.String()
}
