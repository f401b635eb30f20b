// Package idgen mints tracking identifiers backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefix is prepended to every tracking id.
const Prefix = "track_"

// Alphabet is URL-safe so ids can sit in a path segment unescaped.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"

// Length is the number of random characters after the prefix.
const Length = 21

// NewTrackingID returns a fresh, globally unique tracking id.
func NewTrackingID() (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return Prefix + id, nil
}
