package mailbox

import (
	"strings"

	"github.com/marmos91/imapfs/pkg/message"
)

// Matches applies criteria to a parsed message the way IMAP SEARCH HEADER
// does. Backends that keep raw messages themselves (memory, badger, s3)
// share it so that they behave like a real server.
func Matches(env *message.Envelope, criteria Criteria) bool {
	if !containsFold(env.Header.Get(message.OwnerHeader), criteria.Owner) {
		return false
	}
	if criteria.Subject == "" {
		return true
	}
	return containsFold(env.Header.Get(message.SubjectHeader), criteria.Subject)
}

func containsFold(value, substr string) bool {
	if substr == "" {
		return value != ""
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(substr))
}
