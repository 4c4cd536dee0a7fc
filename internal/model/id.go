package model

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string used to identify app instances and runs.
func NewID() string {
	return ulid.Make().String()
}

// IDSource produces unique identifiers. Engines take one at construction so
// tests can supply deterministic ids.
type IDSource func() string

// ShortID lowercases an id so it can be embedded in container and image names,
// which docker requires to be lowercase.
func ShortID(id string) string {
	return strings.ToLower(id)
}
