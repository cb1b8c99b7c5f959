package rules

import (
	"errors"
	"fmt"

	"github.com/zero-day-ai/threatmodel/diagram"
)

// ErrInvalidConnection is matched by every rejection the engine produces.
var ErrInvalidConnection = errors.New("invalid connection")

// ErrUnknownEndpoint is returned when an anchor references a component that
// does not exist.
var ErrUnknownEndpoint = errors.New("connection endpoint does not exist")

// Reason names the rule that rejected a connection.
type Reason string

const (
	// ReasonUserConnectionInvalid: users may only connect to a client,
	// server, database or custom component.
	ReasonUserConnectionInvalid Reason = "USER_CONNECTION_INVALID"

	// ReasonComponentToUserInvalid: only a client, server, database or
	// custom component may connect to users.
	ReasonComponentToUserInvalid Reason = "COMPONENT_TO_USER_INVALID"

	// ReasonComponentToCommunicationInfraInvalid: a system component may only
	// connect to communication infrastructure, through one of its interfaces.
	ReasonComponentToCommunicationInfraInvalid Reason = "COMPONENT_TO_COMMUNICATION_INFRA_INVALID"

	// ReasonCommunicationInfraToComponentInvalid: communication infrastructure
	// may only connect to an interface of a system component.
	ReasonCommunicationInfraToComponentInvalid Reason = "COMMUNICATION_INFRA_TO_COMPONENT_INVALID"

	// ReasonInvalidConnection: no rule covers the pair.
	ReasonInvalidConnection Reason = "INVALID_CONNECTION"
)

// ConnectionError describes a rejected connection.
type ConnectionError struct {
	Reason Reason
	From   diagram.ComponentKind
	To     diagram.ComponentKind
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("invalid connection %s -> %s: %s", e.From, e.To, e.Reason)
}

// Is makes every ConnectionError match ErrInvalidConnection.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrInvalidConnection
}

// ReasonOf extracts the rejection reason from err, if it is a ConnectionError.
func ReasonOf(err error) (Reason, bool) {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}
