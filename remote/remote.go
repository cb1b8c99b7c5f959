// Package remote defines the backend contract for loading and saving a
// project's system diagram, and the wire shapes exchanged with it.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/store"
)

var (
	// ErrAuthentication is returned when the backend rejects the caller's
	// credentials. Callers should end the session.
	ErrAuthentication = errors.New("authentication required")

	// ErrLoad wraps failures to fetch a system.
	ErrLoad = errors.New("failed to load system")

	// ErrSave wraps failures to persist a system.
	ErrSave = errors.New("failed to save system")
)

// SystemData is the persisted diagram of one project.
//
// Client-only presentation fields (component anchors visibility, connection
// visibility) are not part of the wire format.
type SystemData struct {
	Components       []diagram.Component       `json:"components"`
	Connections      []diagram.Connection      `json:"connections"`
	ConnectionPoints []diagram.ConnectionPoint `json:"connectionPoints"`
	PointsOfAttack   []diagram.PointOfAttack   `json:"pointsOfAttack"`
	LastAutoSaveDate *time.Time                `json:"lastAutoSaveDate,omitempty"`
}

// System is a project's diagram as stored by the backend.
type System struct {
	// ID is assigned by the backend on first save.
	ID        string     `json:"id,omitempty"`
	ProjectID string     `json:"projectId"`
	Image     string     `json:"image,omitempty"`
	Data      SystemData `json:"data"`
}

// Backend loads and saves systems.
type Backend interface {
	// GetSystem returns the project's system, or nil when none was saved yet.
	GetSystem(ctx context.Context, projectID string) (*System, error)

	// SaveSystem creates or replaces the project's system and returns what
	// the backend accepted.
	SaveSystem(ctx context.Context, sys System) (*System, error)
}

// FromSnapshot builds the wire payload for a snapshot.
func FromSnapshot(snap store.Snapshot, systemID string, savedAt time.Time) System {
	data := SystemData{
		Components:       snap.Components(),
		Connections:      snap.Connections(),
		ConnectionPoints: snap.ConnectionPoints(),
		PointsOfAttack:   snap.PointsOfAttack(),
	}
	if !savedAt.IsZero() {
		t := savedAt.UTC()
		data.LastAutoSaveDate = &t
	}
	return System{
		ID:        systemID,
		ProjectID: snap.ProjectID(),
		Data:      data,
	}
}

// LastSave returns the last autosave time, or the zero time.
func (s *System) LastSave() time.Time {
	if s == nil || s.Data.LastAutoSaveDate == nil {
		return time.Time{}
	}
	return *s.Data.LastAutoSaveDate
}

// Snapshot returns the system's entities as a detached store snapshot.
func (s *System) Snapshot() store.Snapshot {
	return store.NewSnapshot(s.ProjectID, s.Data.Components, s.Data.Connections,
		s.Data.ConnectionPoints, s.Data.PointsOfAttack)
}
