// Package gen provides utility functions for generating values.
package gen

import (
	"github.com/google/uuid"
)

// ID returns a new random download identifier.
func ID() string {
	return uuid.NewString()
}

// ShortID returns the first block of a new random identifier, for names that end up on disk.
func ShortID() string {
	return ID()[:8]
}
