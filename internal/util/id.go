package util

import "github.com/oklog/ulid/v2"

// NewID returns a ULID string. Ids minted later sort after earlier ones,
// so request ids line up with session and message ids in logs.
func NewID() string {
	return ulid.Make().String()
}
