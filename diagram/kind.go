package diagram

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// StandardType is one of the built-in component types.
type StandardType string

const (
	// TypeUsers represents the human users of a system.
	TypeUsers StandardType = "USERS"

	// TypeClient represents a client application.
	TypeClient StandardType = "CLIENT"

	// TypeServer represents a server or backend service.
	TypeServer StandardType = "SERVER"

	// TypeDatabase represents a data store.
	TypeDatabase StandardType = "DATABASE"

	// TypeCommunicationInfrastructure represents a network or bus that
	// components talk through.
	TypeCommunicationInfrastructure StandardType = "COMMUNICATION_INFRASTRUCTURE"
)

// IsValid returns true if the standard type is one of the known values.
func (t StandardType) IsValid() bool {
	switch t {
	case TypeUsers, TypeClient, TypeServer, TypeDatabase, TypeCommunicationInfrastructure:
		return true
	default:
		return false
	}
}

// String returns the wire representation of the standard type.
func (t StandardType) String() string {
	return string(t)
}

// CustomKindName is the name used for custom component kinds where a single
// label is needed (rule evaluation, logging).
const CustomKindName = "CUSTOM"

// ComponentKind is either a standard component type or a reference to a
// user-defined custom component type. The zero value is invalid.
//
// On the wire a standard kind is a JSON string and a custom kind is a JSON
// integer holding the custom component type id.
type ComponentKind struct {
	standard StandardType
	customID int
	custom   bool
}

// Standard returns the kind for a built-in component type.
func Standard(t StandardType) ComponentKind {
	return ComponentKind{standard: t}
}

// Custom returns the kind for a custom component type id.
func Custom(id int) ComponentKind {
	return ComponentKind{customID: id, custom: true}
}

// IsCustom reports whether the kind references a custom component type.
func (k ComponentKind) IsCustom() bool {
	return k.custom
}

// CustomID returns the custom component type id and true for custom kinds.
func (k ComponentKind) CustomID() (int, bool) {
	return k.customID, k.custom
}

// StandardType returns the standard type and true for standard kinds.
func (k ComponentKind) StandardType() (StandardType, bool) {
	if k.custom {
		return "", false
	}
	return k.standard, true
}

// Is reports whether the kind is the given standard type.
func (k ComponentKind) Is(t StandardType) bool {
	return !k.custom && k.standard == t
}

// IsValid returns true for custom kinds and known standard types.
func (k ComponentKind) IsValid() bool {
	return k.custom || k.standard.IsValid()
}

// IsSystemOrCustom reports whether the kind is a client, server, database or
// custom component. These are the kinds that own communication interfaces.
func (k ComponentKind) IsSystemOrCustom() bool {
	if k.custom {
		return true
	}
	switch k.standard {
	case TypeClient, TypeServer, TypeDatabase:
		return true
	default:
		return false
	}
}

// Name returns the standard type name, or CustomKindName for custom kinds.
func (k ComponentKind) Name() string {
	if k.custom {
		return CustomKindName
	}
	return string(k.standard)
}

// String returns a human-readable representation of the kind.
func (k ComponentKind) String() string {
	if k.custom {
		return "custom:" + strconv.Itoa(k.customID)
	}
	return string(k.standard)
}

// MarshalJSON encodes standard kinds as strings and custom kinds as integers.
func (k ComponentKind) MarshalJSON() ([]byte, error) {
	if k.custom {
		return json.Marshal(k.customID)
	}
	return json.Marshal(string(k.standard))
}

// UnmarshalJSON accepts either a standard type string or a custom type integer.
func (k *ComponentKind) UnmarshalJSON(data []byte) error {
	var id int
	if err := json.Unmarshal(data, &id); err == nil {
		*k = Custom(id)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("component type must be a string or an integer: %w", err)
	}

	t := StandardType(s)
	if !t.IsValid() {
		return fmt.Errorf("invalid component type: %s", s)
	}
	*k = Standard(t)
	return nil
}

// ParseComponentKind parses a standard type name or a decimal custom type id.
func ParseComponentKind(s string) (ComponentKind, error) {
	if id, err := strconv.Atoi(s); err == nil {
		return Custom(id), nil
	}
	t := StandardType(s)
	if !t.IsValid() {
		return ComponentKind{}, fmt.Errorf("invalid component type: %s", s)
	}
	return Standard(t), nil
}
