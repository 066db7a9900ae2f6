package models

import "github.com/oklog/ulid/v2"

// NewReference returns a fresh correlation reference. ULIDs sort by creation
// time and use only characters every rail accepts in a reference.
func NewReference() string {
	return ulid.Make().String()
}
