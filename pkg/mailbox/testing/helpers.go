package testing

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/message"
	"github.com/stretchr/testify/require"
)

var ownerSeq atomic.Uint64

// uniqueOwner returns an owner marker no other test uses.
func uniqueOwner(t *testing.T) string {
	t.Helper()
	base := strings.NewReplacer("/", "-", " ", "-").Replace(t.Name())
	return fmt.Sprintf("suite-%d-%s", ownerSeq.Add(1), base)
}

// mustDial opens a session and closes it when the test ends.
func mustDial(t *testing.T, dialer mailbox.Dialer) mailbox.Session {
	t.Helper()
	session, err := dialer.Dial(testContext())
	require.NoError(t, err, "Dial should succeed")
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// mustAppend stores a file version and returns its UID.
func mustAppend(t *testing.T, session mailbox.Session, owner, name, payload string) mailbox.UID {
	t.Helper()
	raw, err := message.New(owner, name, []byte(payload)).Encode()
	require.NoError(t, err, "Encode should succeed")

	uid, err := session.Append(testContext(), raw)
	require.NoError(t, err, "Append should succeed")
	require.NotZero(t, uid, "Append should return a UID")
	return uid
}

// mustSearch runs a search and fails the test on error.
func mustSearch(t *testing.T, session mailbox.Session, owner, subject string) []mailbox.UID {
	t.Helper()
	uids, err := session.Search(testContext(), mailbox.Criteria{Owner: owner, Subject: subject})
	require.NoError(t, err, "Search should succeed")
	return uids
}
