package filestore

import (
	"strconv"
	"strings"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/message"
)

// Identifier is a parsed user address.
//
// Accepted forms:
//
//	name        current version of name (must be unique)
//	name:uid    explicit version; name must match the stored name
//	name:*      every version of name
//	:uid        explicit version, no name check
//	name:       same as name
type Identifier struct {
	// Name is the file name, empty for :uid
	Name string

	// Version is the explicit UID when HasVersion is set
	Version    mailbox.UID
	HasVersion bool

	// AllVersions is set for name:*
	AllVersions bool
}

// String formats the identifier back into its canonical address.
func (id Identifier) String() string {
	switch {
	case id.AllVersions:
		return id.Name + ":*"
	case id.HasVersion:
		return id.Name + ":" + id.Version.String()
	default:
		return id.Name
	}
}

// ParseIdentifier parses arg. It fails with ErrInvalidIdentifier when
// neither a name nor a version is present, when the name is not a valid
// token, when the version is neither digits nor *, when the digits do not
// fit a UID, and for :* (a wildcard needs a name).
func ParseIdentifier(arg string) (Identifier, error) {
	name, version, hasColon := strings.Cut(arg, ":")

	if name != "" && !message.ValidName(name) {
		return Identifier{}, invalidIdentifier(arg, "(bad name)")
	}

	id := Identifier{Name: name}
	switch {
	case !hasColon || version == "":
		// bare name, or name with an empty version
	case version == "*":
		id.AllVersions = true
	default:
		if strings.TrimLeft(version, "0123456789") != "" {
			return Identifier{}, invalidIdentifier(arg, "(bad version)")
		}
		n, err := strconv.ParseUint(version, 10, 32)
		if err != nil {
			return Identifier{}, invalidIdentifier(arg, "(version out of range)")
		}
		id.Version = mailbox.UID(n)
		id.HasVersion = true
	}

	if id.Name == "" && !id.HasVersion {
		return Identifier{}, invalidIdentifier(arg, "(no name or version)")
	}
	return id, nil
}
