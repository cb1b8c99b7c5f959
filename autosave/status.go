package autosave

import "time"

// Status is the reconciliation state of the editor against the backend.
type Status int

const (
	// StatusUninitialized means no system has been loaded yet.
	StatusUninitialized Status = iota
	StatusUpToDate
	StatusNotUpToDate
	StatusSaving
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusUpToDate:
		return "upToDate"
	case StatusNotUpToDate:
		return "notUpToDate"
	case StatusSaving:
		return "saving"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TimestampLayout formats the last save time in helper texts.
const TimestampLayout = "2006-01-02 15:04:05"

// View is a point-in-time copy of the machine state.
type View struct {
	Status      Status
	HelperText  string
	LastSave    time.Time
	Blocked     bool
	Initialized bool
	LastError   error
}
