package store

import gonanoid "github.com/matoous/go-nanoid/v2"

// uidLength matches the width of the externally visible identifiers. Short
// random uids are exposed instead of sequential row ids.
const uidLength = 10

// NewUID mints a fresh external identifier.
func NewUID() (string, error) {
	return gonanoid.New(uidLength)
}
