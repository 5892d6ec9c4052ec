package testing

import (
	"errors"
	"testing"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunExpungeTests executes Expunge contract tests.
func (suite *SessionTestSuite) RunExpungeTests(t *testing.T) {
	t.Run("Expunge_Removes", suite.testExpungeRemoves)
	t.Run("Expunge_LeavesOthers", suite.testExpungeLeavesOthers)
	t.Run("Expunge_NotFound", suite.testExpungeNotFound)
}

func (suite *SessionTestSuite) testExpungeRemoves(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)
	owner := uniqueOwner(t)

	uid := mustAppend(t, session, owner, "doomed", "x\n")
	require.NoError(t, session.Expunge(testContext(), uid))

	assert.Empty(t, mustSearch(t, session, owner, "doomed"))
}

func (suite *SessionTestSuite) testExpungeLeavesOthers(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)
	owner := uniqueOwner(t)

	keep := mustAppend(t, session, owner, "keep", "k\n")
	drop := mustAppend(t, session, owner, "drop", "d\n")
	require.NoError(t, session.Expunge(testContext(), drop))

	assert.Equal(t, []mailbox.UID{keep}, mustSearch(t, session, owner, ""))
}

func (suite *SessionTestSuite) testExpungeNotFound(t *testing.T) {
	dialer := suite.NewDialer(t)
	session := mustDial(t, dialer)

	uid := mustAppend(t, session, uniqueOwner(t), "once", "x\n")
	require.NoError(t, session.Expunge(testContext(), uid))

	err := session.Expunge(testContext(), uid)
	assert.True(t, errors.Is(err, mailbox.ErrMessageNotFound), "got %v", err)
}
