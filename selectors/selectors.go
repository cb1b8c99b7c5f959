// Package selectors derives read models from the store for presentation.
//
// Read models are recomputed at most once per store revision.
package selectors

import (
	"sync"

	"github.com/zero-day-ai/threatmodel/autosave"
	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/store"
)

// ComponentView is a component with the entities hanging off it.
type ComponentView struct {
	Component        diagram.Component
	PointsOfAttack   []diagram.PointOfAttack
	ConnectionPoints []diagram.ConnectionPoint
}

// ConnectionView is a connection with both endpoint components resolved.
// From or To is nil when the referenced component is missing.
type ConnectionView struct {
	Connection     diagram.Connection
	From           *diagram.Component
	To             *diagram.Component
	PointsOfAttack []diagram.PointOfAttack
}

// Model is the full set of read models for one revision.
type Model struct {
	Revision    uint64
	Components  []ComponentView
	Connections []ConnectionView

	componentIndex map[string]int
}

// Build computes the read models for a snapshot.
func Build(snap store.Snapshot) *Model {
	m := &Model{
		Revision:       snap.Revision(),
		componentIndex: make(map[string]int),
	}

	poasByComponent := make(map[string][]diagram.PointOfAttack)
	poasByConnection := make(map[string][]diagram.PointOfAttack)
	for _, p := range snap.PointsOfAttack() {
		if p.ConnectionID != "" {
			poasByConnection[p.ConnectionID] = append(poasByConnection[p.ConnectionID], p)
			continue
		}
		poasByComponent[p.ComponentID] = append(poasByComponent[p.ComponentID], p)
	}
	cpsByComponent := make(map[string][]diagram.ConnectionPoint)
	for _, cp := range snap.ConnectionPoints() {
		cpsByComponent[cp.ComponentID] = append(cpsByComponent[cp.ComponentID], cp)
	}

	components := snap.Components()
	m.Components = make([]ComponentView, 0, len(components))
	byID := make(map[string]*diagram.Component, len(components))
	for i, c := range components {
		m.componentIndex[c.ID] = i
		m.Components = append(m.Components, ComponentView{
			Component:        c,
			PointsOfAttack:   poasByComponent[c.ID],
			ConnectionPoints: cpsByComponent[c.ID],
		})
		byID[c.ID] = &m.Components[i].Component
	}

	for _, conn := range snap.Connections() {
		m.Connections = append(m.Connections, ConnectionView{
			Connection:     conn,
			From:           byID[conn.From.ID],
			To:             byID[conn.To.ID],
			PointsOfAttack: poasByConnection[conn.ID],
		})
	}
	return m
}

// Component returns the view of one component.
func (m *Model) Component(id string) (ComponentView, bool) {
	i, ok := m.componentIndex[id]
	if !ok {
		return ComponentView{}, false
	}
	return m.Components[i], true
}

// PointsOfAttackOf returns the component-level points of attack of a component.
func (m *Model) PointsOfAttackOf(componentID string) []diagram.PointOfAttack {
	v, _ := m.Component(componentID)
	return v.PointsOfAttack
}

// InterfacesOf returns the communication interfaces of a component as seen
// through its connection points. Names come from the embedded descriptor when
// present.
func (m *Model) InterfacesOf(componentID string) []diagram.CommunicationInterface {
	v, ok := m.Component(componentID)
	if !ok {
		return nil
	}
	out := make([]diagram.CommunicationInterface, 0, len(v.ConnectionPoints))
	for _, cp := range v.ConnectionPoints {
		if ci, ok := v.Component.CommunicationInterface(cp.ID); ok {
			out = append(out, ci)
			continue
		}
		out = append(out, diagram.CommunicationInterface{ID: cp.ID, Name: cp.Name})
	}
	return out
}

// Selectors caches the Model of a store by revision. Models are shared
// between callers and must be treated as read-only.
type Selectors struct {
	store *store.Store

	mu    sync.Mutex
	model *Model
}

// New creates selectors over s.
func New(s *store.Store) *Selectors {
	return &Selectors{store: s}
}

// Model returns the read models for the current revision.
func (s *Selectors) Model() *Model {
	snap := s.store.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != nil && s.model.Revision == snap.Revision() {
		return s.model
	}
	s.model = Build(snap)
	return s.model
}

// SaveStatus is the presentation of the autosave state.
type SaveStatus struct {
	Status     string
	HelperText string

	// Busy is true while a save is in flight.
	Busy bool

	// CanSave reports whether an explicit save would do anything.
	CanSave bool
}

// SaveStatusOf maps an autosave view to its presentation.
func SaveStatusOf(v autosave.View) SaveStatus {
	return SaveStatus{
		Status:     v.Status.String(),
		HelperText: v.HelperText,
		Busy:       v.Status == autosave.StatusSaving,
		CanSave:    v.Status == autosave.StatusNotUpToDate || v.Status == autosave.StatusFailed,
	}
}
