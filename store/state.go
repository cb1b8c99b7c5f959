package store

import (
	"maps"
	"slices"
	"strings"

	"github.com/zero-day-ai/threatmodel/diagram"
)

// state is one committed version of the four collections. A committed state
// is never mutated; batches work on a copy and swap it in on commit.
type state struct {
	projectID        string
	components       map[string]diagram.Component
	connections      map[string]diagram.Connection
	connectionPoints map[string]diagram.ConnectionPoint
	pointsOfAttack   map[string]diagram.PointOfAttack
}

func newState(projectID string) *state {
	return &state{
		projectID:        projectID,
		components:       make(map[string]diagram.Component),
		connections:      make(map[string]diagram.Connection),
		connectionPoints: make(map[string]diagram.ConnectionPoint),
		pointsOfAttack:   make(map[string]diagram.PointOfAttack),
	}
}

// clone copies the maps. Entity values are shared; writers replace values
// with modified clones instead of mutating them.
func (s *state) clone() *state {
	return &state{
		projectID:        s.projectID,
		components:       maps.Clone(s.components),
		connections:      maps.Clone(s.connections),
		connectionPoints: maps.Clone(s.connectionPoints),
		pointsOfAttack:   maps.Clone(s.pointsOfAttack),
	}
}

// Snapshot is an immutable view of the store at one revision.
// Accessors return copies; callers may modify them freely.
type Snapshot struct {
	st       *state
	revision uint64
}

// EmptySnapshot returns a snapshot with no entities for the given project.
func EmptySnapshot(projectID string) Snapshot {
	return Snapshot{st: newState(projectID)}
}

// NewSnapshot builds a detached snapshot from entity lists. It is used for
// data that never lived in a store, such as a server response.
func NewSnapshot(projectID string, components []diagram.Component, connections []diagram.Connection,
	connectionPoints []diagram.ConnectionPoint, pointsOfAttack []diagram.PointOfAttack) Snapshot {
	st := newState(projectID)
	for _, c := range components {
		st.components[c.ID] = c.Clone()
	}
	for _, c := range connections {
		st.connections[c.ID] = c.Clone()
	}
	for _, cp := range connectionPoints {
		st.connectionPoints[cp.ID] = cp
	}
	for _, p := range pointsOfAttack {
		st.pointsOfAttack[p.ID] = p.Clone()
	}
	return Snapshot{st: st}
}

// ProjectID returns the project the snapshot belongs to.
func (s Snapshot) ProjectID() string { return s.st.projectID }

// Revision returns the store revision the snapshot was taken at.
func (s Snapshot) Revision() uint64 { return s.revision }

// Count returns the number of entities of the given kind.
func (s Snapshot) Count(kind Kind) int {
	switch kind {
	case KindComponent:
		return len(s.st.components)
	case KindConnection:
		return len(s.st.connections)
	case KindConnectionPoint:
		return len(s.st.connectionPoints)
	case KindPointOfAttack:
		return len(s.st.pointsOfAttack)
	default:
		return 0
	}
}

// Component returns the component with the given id.
func (s Snapshot) Component(id string) (diagram.Component, bool) {
	c, ok := s.st.components[id]
	return c.Clone(), ok
}

// Connection returns the connection with the given id.
func (s Snapshot) Connection(id string) (diagram.Connection, bool) {
	c, ok := s.st.connections[id]
	return c.Clone(), ok
}

// ConnectionPoint returns the connection point with the given id.
func (s Snapshot) ConnectionPoint(id string) (diagram.ConnectionPoint, bool) {
	cp, ok := s.st.connectionPoints[id]
	return cp, ok
}

// PointOfAttack returns the point of attack with the given id.
func (s Snapshot) PointOfAttack(id string) (diagram.PointOfAttack, bool) {
	p, ok := s.st.pointsOfAttack[id]
	return p.Clone(), ok
}

// Components returns all components ordered by id.
func (s Snapshot) Components() []diagram.Component {
	return sortedValues(s.st.components, func(c diagram.Component) string { return c.ID }, diagram.Component.Clone)
}

// Connections returns all connections ordered by id.
func (s Snapshot) Connections() []diagram.Connection {
	return sortedValues(s.st.connections, func(c diagram.Connection) string { return c.ID }, diagram.Connection.Clone)
}

// ConnectionPoints returns all connection points ordered by id.
func (s Snapshot) ConnectionPoints() []diagram.ConnectionPoint {
	return sortedValues(s.st.connectionPoints, func(c diagram.ConnectionPoint) string { return c.ID }, nil)
}

// PointsOfAttack returns all points of attack ordered by id.
func (s Snapshot) PointsOfAttack() []diagram.PointOfAttack {
	return sortedValues(s.st.pointsOfAttack, func(p diagram.PointOfAttack) string { return p.ID }, diagram.PointOfAttack.Clone)
}

// ConnectionsOf returns the connections touching the given component.
func (s Snapshot) ConnectionsOf(componentID string) []diagram.Connection {
	var out []diagram.Connection
	for _, c := range s.Connections() {
		if c.Touches(componentID) {
			out = append(out, c)
		}
	}
	return out
}

// PointsOfAttackOf returns the points of attack owned by the given component.
func (s Snapshot) PointsOfAttackOf(componentID string) []diagram.PointOfAttack {
	var out []diagram.PointOfAttack
	for _, p := range s.PointsOfAttack() {
		if p.ComponentID == componentID {
			out = append(out, p)
		}
	}
	return out
}

// ConnectionPointsOf returns the connection points on the given component.
func (s Snapshot) ConnectionPointsOf(componentID string) []diagram.ConnectionPoint {
	var out []diagram.ConnectionPoint
	for _, cp := range s.ConnectionPoints() {
		if cp.ComponentID == componentID {
			out = append(out, cp)
		}
	}
	return out
}

func sortedValues[T any](m map[string]T, id func(T) string, clone func(T) T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		if clone != nil {
			v = clone(v)
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return strings.Compare(id(a), id(b)) })
	return out
}
