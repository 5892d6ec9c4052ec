package testing

import (
	"errors"
	"strings"
	"testing"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunFetchTests executes FetchSubject and FetchBody contract tests.
func (suite *SessionTestSuite) RunFetchTests(t *testing.T) {
	t.Run("FetchSubject_Basic", suite.testFetchSubject)
	t.Run("FetchHeader_Basic", suite.testFetchHeader)
	t.Run("FetchBody_WireLineEndings", suite.testFetchBodyWire)
	t.Run("FetchBody_Empty", suite.testFetchBodyEmpty)
	t.Run("Fetch_NotFound", suite.testFetchNotFound)
}

func (suite *SessionTestSuite) testFetchSubject(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)

	uid := mustAppend(t, session, uniqueOwner(t), "report.md", "x\n")

	subject, err := session.FetchSubject(testContext(), uid)
	require.NoError(t, err)
	assert.Equal(t, "report.md", strings.TrimSpace(subject))
}

func (suite *SessionTestSuite) testFetchHeader(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)
	owner := uniqueOwner(t)

	uid := mustAppend(t, session, owner, "report.md", "x\n")

	header, err := session.FetchHeader(testContext(), uid)
	require.NoError(t, err)

	env, err := message.Split(header)
	require.NoError(t, err)
	assert.Equal(t, owner, env.Owner())
	assert.Equal(t, "report.md", env.Subject())
	assert.Empty(t, env.Body, "header fetch must not include the body")

	ok, present := message.VerifyDigest(env.Header.Get(message.DigestHeader), []byte("x\n"))
	assert.True(t, present)
	assert.True(t, ok)
}

func (suite *SessionTestSuite) testFetchBodyWire(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)

	uid := mustAppend(t, session, uniqueOwner(t), "lines", "one\ntwo\r\nthree\r")

	body, err := session.FetchBody(testContext(), uid)
	require.NoError(t, err)
	assert.Equal(t, "one\r\ntwo\r\nthree\r\n", string(body))
	assert.Equal(t, "one\ntwo\nthree\n", string(message.Canonical(body)))
}

func (suite *SessionTestSuite) testFetchBodyEmpty(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)

	uid := mustAppend(t, session, uniqueOwner(t), "empty", "")

	body, err := session.FetchBody(testContext(), uid)
	require.NoError(t, err)
	assert.Empty(t, message.Canonical(body))
}

func (suite *SessionTestSuite) testFetchNotFound(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)

	uid := mustAppend(t, session, uniqueOwner(t), "gone", "x\n")
	require.NoError(t, session.Expunge(testContext(), uid))

	_, err := session.FetchSubject(testContext(), uid)
	assert.True(t, errors.Is(err, mailbox.ErrMessageNotFound), "FetchSubject: got %v", err)

	_, err = session.FetchHeader(testContext(), uid)
	assert.True(t, errors.Is(err, mailbox.ErrMessageNotFound), "FetchHeader: got %v", err)

	_, err = session.FetchBody(testContext(), uid)
	assert.True(t, errors.Is(err, mailbox.ErrMessageNotFound), "FetchBody: got %v", err)
}
