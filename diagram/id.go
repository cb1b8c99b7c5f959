package diagram

import "github.com/google/uuid"

// NewID returns a fresh client-generated entity id.
func NewID() string {
	return uuid.New().String()
}
