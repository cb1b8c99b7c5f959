package store

import "errors"

// Common errors returned by store operations.
var (
	// ErrDuplicateID is returned when an entity with the same id already exists.
	ErrDuplicateID = errors.New("store: duplicate id")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("store: entity not found")

	// ErrProjectMismatch is returned when an entity belongs to another project.
	ErrProjectMismatch = errors.New("store: entity belongs to another project")

	// ErrInvalidEntity is returned when an entity is missing required fields.
	ErrInvalidEntity = errors.New("store: invalid entity")
)
