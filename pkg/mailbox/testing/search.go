package testing

import (
	"testing"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSearchTests executes Append and Search contract tests.
func (suite *SessionTestSuite) RunSearchTests(t *testing.T) {
	t.Run("Search_ByOwner", suite.testSearchByOwner)
	t.Run("Search_BySubject", suite.testSearchBySubject)
	t.Run("Search_SubjectIsSubstring", suite.testSearchSubjectSubstring)
	t.Run("Search_Empty", suite.testSearchEmpty)
	t.Run("Append_UIDsIncrease", suite.testAppendUIDsIncrease)
	t.Run("Append_VisibleToNewSession", suite.testAppendVisibleToNewSession)
}

func (suite *SessionTestSuite) testSearchByOwner(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)
	owner := uniqueOwner(t)
	other := uniqueOwner(t)

	a := mustAppend(t, session, owner, "alpha", "a\n")
	b := mustAppend(t, session, owner, "beta", "b\n")
	mustAppend(t, session, other, "alpha", "foreign\n")

	assert.Equal(t, []mailbox.UID{a, b}, mustSearch(t, session, owner, ""))
}

func (suite *SessionTestSuite) testSearchBySubject(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)
	owner := uniqueOwner(t)

	a := mustAppend(t, session, owner, "alpha", "a\n")
	mustAppend(t, session, owner, "beta", "b\n")
	a2 := mustAppend(t, session, owner, "alpha", "a2\n")

	assert.Equal(t, []mailbox.UID{a, a2}, mustSearch(t, session, owner, "alpha"))
}

func (suite *SessionTestSuite) testSearchSubjectSubstring(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)
	owner := uniqueOwner(t)

	exact := mustAppend(t, session, owner, "notes", "1\n")
	longer := mustAppend(t, session, owner, "notes.txt", "2\n")

	// Substring semantics: both match, the caller filters exact names.
	uids := mustSearch(t, session, owner, "notes")
	assert.Contains(t, uids, exact)
	assert.Contains(t, uids, longer)
}

func (suite *SessionTestSuite) testSearchEmpty(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)

	uids := mustSearch(t, session, uniqueOwner(t), "")
	assert.Empty(t, uids)
}

func (suite *SessionTestSuite) testAppendUIDsIncrease(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)
	owner := uniqueOwner(t)

	first := mustAppend(t, session, owner, "file", "1\n")
	anchor := mustAppend(t, session, owner, "anchor", "a\n")
	require.NoError(t, session.Expunge(testContext(), first))
	second := mustAppend(t, session, owner, "file", "2\n")

	assert.Greater(t, anchor, first)
	assert.Greater(t, second, anchor, "UIDs must keep increasing after expunge")
}

func (suite *SessionTestSuite) testAppendVisibleToNewSession(t *testing.T) {
	dialer := suite.NewDialer(t)
	owner := uniqueOwner(t)

	writer, err := dialer.Dial(testContext())
	require.NoError(t, err)
	uid := mustAppend(t, writer, owner, "shared", "x\n")
	require.NoError(t, writer.Close())

	reader := mustDial(t, dialer)
	assert.Equal(t, []mailbox.UID{uid}, mustSearch(t, reader, owner, "shared"))
}
