package imap

import (
	"context"
	"errors"
	"net"
	"testing"

	memorybackend "github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/marmos91/imapfs/pkg/mailbox"
	mailboxtesting "github.com/marmos91/imapfs/pkg/mailbox/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs an in-process IMAP server backed by go-imap's memory
// backend. It accepts username/password and has a single INBOX.
func startServer(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.New(memorybackend.New())
	srv.AllowInsecureAuth = true

	go func() {
		_ = srv.Serve(listener)
	}()
	t.Cleanup(func() { _ = srv.Close() })

	return listener.Addr().String()
}

func testConfig(address string) IMAPDialerConfig {
	return IMAPDialerConfig{
		Address:  address,
		Username: "username",
		Password: "password",
	}
}

// TestIMAPMailbox runs the complete Session test suite against a real IMAP
// conversation.
func TestIMAPMailbox(t *testing.T) {
	suite := &mailboxtesting.SessionTestSuite{
		NewDialer: func(t *testing.T) mailbox.Dialer {
			return NewIMAPDialer(testConfig(startServer(t)))
		},
	}

	suite.Run(t)
}

func TestNormalizeFolder(t *testing.T) {
	tests := []struct {
		name      string
		folder    string
		delimiter string
		want      string
	}{
		{"empty is inbox", "", "/", "INBOX"},
		{"slash only is inbox", "/", ".", "INBOX"},
		{"plain", "Files", ".", "Files"},
		{"nested with dot", "Archive/Files", ".", "Archive.Files"},
		{"nested with slash", "Archive/Files", "/", "Archive/Files"},
		{"trailing slash", "Archive/Files/", ".", "Archive.Files"},
		{"no delimiter", "Archive/Files", "", "Archive/Files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeFolder(tt.folder, tt.delimiter))
		})
	}
}

func TestDialBadCredentials(t *testing.T) {
	config := testConfig(startServer(t))
	config.Password = "wrong"

	_, err := NewIMAPDialer(config).Dial(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mailbox.ErrAccessDenied), "got %v", err)
}

func TestDialMissingFolder(t *testing.T) {
	config := testConfig(startServer(t))
	config.Folder = "Nowhere"

	_, err := NewIMAPDialer(config).Dial(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mailbox.ErrAccessDenied), "got %v", err)
}

func TestDialUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = NewIMAPDialer(testConfig(address)).Dial(context.Background())
	assert.True(t, errors.Is(err, mailbox.ErrAccessDenied), "got %v", err)
}

func TestForeignMessagesIgnored(t *testing.T) {
	// The memory backend seeds INBOX with one message that has no owner.
	dialer := NewIMAPDialer(testConfig(startServer(t)))
	session, err := dialer.Dial(context.Background())
	require.NoError(t, err)
	defer session.Close()

	uids, err := session.Search(context.Background(), mailbox.Criteria{Owner: "imapfs"})
	require.NoError(t, err)
	assert.Empty(t, uids)
}
