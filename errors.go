package threatmodel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zero-day-ai/threatmodel/autosave"
	"github.com/zero-day-ai/threatmodel/remote"
	"github.com/zero-day-ai/threatmodel/rules"
	"github.com/zero-day-ai/threatmodel/store"
)

// Sentinel errors for common editor error conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrDuplicateID indicates an entity with the same id already exists.
	ErrDuplicateID = store.ErrDuplicateID

	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidConnection indicates the connection rules rejected a pair of
	// anchors. Use rules.ReasonOf to get the rule that decided.
	ErrInvalidConnection = rules.ErrInvalidConnection

	// ErrSaveFailed indicates the backend did not accept a save.
	ErrSaveFailed = remote.ErrSave

	// ErrLoadFailed indicates the system could not be fetched.
	ErrLoadFailed = remote.ErrLoad

	// ErrAuthentication indicates the backend rejected the credentials.
	ErrAuthentication = remote.ErrAuthentication

	// ErrClosed indicates the editor was closed.
	ErrClosed = errors.New("editor is closed")

	// ErrNotAllowed indicates an operation that does not apply to the
	// target, such as adding an interface to a users component.
	ErrNotAllowed = errors.New("operation not allowed")
)

// Error kinds categorize errors by their type.
const (
	KindDuplicateID       = "duplicate_id"
	KindNotFound          = "not_found"
	KindInvalidConnection = "invalid_connection"
	KindSaveFailed        = "save_failed"
	KindLoadFailed        = "load_failed"
	KindAuthentication    = "authentication"
	KindTimeout           = "timeout"
	KindConfiguration     = "configuration"
	KindValidation        = "validation"
	KindInternal          = "internal"
)

// Error is a structured error type that wraps underlying errors with the
// operation that failed and the category of error.
//
// Error supports unwrapping, so errors.Is(err, ErrNotFound) and
// errors.As(err, &rules.ConnectionError{}) see through it.
type Error struct {
	// Op is the operation that failed (e.g., "Editor.DeleteComponent").
	Op string

	// Kind categorizes the error (e.g., KindNotFound).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional debugging information (optional).
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("threatmodel: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("threatmodel: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("threatmodel: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op when the target sets one), and
// otherwise delegates to the underlying error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the provided context added.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	newErr.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		newErr.Context[k] = v
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// KindOf returns the Kind of err if it is or wraps an *Error, and
// KindInternal otherwise. It returns "" for a nil error.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// classify picks the kind that best describes err.
func classify(err error) string {
	switch {
	case errors.Is(err, remote.ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, autosave.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, rules.ErrInvalidConnection):
		return KindInvalidConnection
	case errors.Is(err, store.ErrDuplicateID):
		return KindDuplicateID
	case errors.Is(err, store.ErrNotFound), errors.Is(err, rules.ErrUnknownEndpoint):
		return KindNotFound
	case errors.Is(err, ErrNotAllowed), errors.Is(err, store.ErrInvalidEntity), errors.Is(err, store.ErrProjectMismatch):
		return KindValidation
	case errors.Is(err, remote.ErrSave):
		return KindSaveFailed
	case errors.Is(err, remote.ErrLoad):
		return KindLoadFailed
	default:
		return KindInternal
	}
}

// wrapErr returns nil for a nil err and an *Error with a classified Kind
// otherwise.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Op: op, Kind: classify(err), Err: err}
}

// NewNotFoundError creates a new Error with KindNotFound.
func NewNotFoundError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// NewConfigurationError creates a new Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConfiguration, Err: err}
}

// NewInternalError creates a new Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindInternal, Err: err}
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. This is intended for use in defer statements to ensure
// cleanup errors are not silently ignored.
//
// If logger is nil, slog.Default() is used.
//
// Example usage:
//
//	defer threatmodel.CloseWithLog(backend, logger, "redis backend")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
