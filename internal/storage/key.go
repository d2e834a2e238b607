package storage

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// TopicKey returns the case-insensitive lookup key for a topic name. Names
// are NFC-normalized before lowercasing so display-case and composition
// variants of the same name resolve to one key.
func TopicKey(name string) string {
	return strings.ToLower(norm.NFC.String(name))
}
