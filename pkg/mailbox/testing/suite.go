package testing

import (
	"context"
	"testing"

	"github.com/marmos91/imapfs/pkg/mailbox"
)

// SessionTestSuite is a test suite for mailbox.Session implementations.
// It tests the interface contract, not implementation details, so it runs
// unchanged against memory, badger, s3 and a live IMAP server.
//
// Every test uses its own owner marker, so the folder under test may hold
// unrelated messages.
//
// Usage:
//
//	func TestMyMailbox(t *testing.T) {
//	    suite := &mailboxtesting.SessionTestSuite{
//	        NewDialer: func(t *testing.T) mailbox.Dialer {
//	            return mymailbox.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type SessionTestSuite struct {
	// NewDialer returns a dialer for a folder. Each test calls it once and
	// may dial several sessions from it; they must share state.
	NewDialer func(t *testing.T) mailbox.Dialer
}

// Run executes all tests in the suite.
func (suite *SessionTestSuite) Run(t *testing.T) {
	t.Run("SearchOperations", suite.RunSearchTests)
	t.Run("FetchOperations", suite.RunFetchTests)
	t.Run("ExpungeOperations", suite.RunExpungeTests)
}

func testContext() context.Context {
	return context.Background()
}
