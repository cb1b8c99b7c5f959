// Package selection tracks what the user has focused in the diagram editor.
//
// It holds four independent single-focus selections (component, connection,
// point of attack, connection point), the in-progress connection draft of the
// two-click connector gesture, and the set of components currently in use
// (being dragged) by any collaborator.
package selection

import (
	"slices"
	"sync"

	"github.com/zero-day-ai/threatmodel/diagram"
)

// DraftState is the state of the connector gesture.
type DraftState string

const (
	// DraftIdle means no connection is being drawn.
	DraftIdle DraftState = "idle"

	// DraftPending means the first anchor has been clicked.
	DraftPending DraftState = "pending"
)

// ClickResult tells the caller what an anchor click did to the draft.
type ClickResult int

const (
	// ClickStarted means the click opened a new draft.
	ClickStarted ClickResult = iota

	// ClickIgnored means the click repeated the pending anchor and changed nothing.
	ClickIgnored

	// ClickCompletes means the click is a second anchor; the caller must
	// validate the pair and call Commit on success.
	ClickCompletes
)

// State is the selection and interaction state of one editor session.
//
// Thread-safety: all methods are safe for concurrent use.
type State struct {
	mu sync.RWMutex

	component       string
	connection      string
	pointOfAttack   string
	connectionPoint string

	draft *diagram.Anchor

	inUse []string
}

// New returns an empty selection state.
func New() *State {
	return &State{}
}

// SelectComponent focuses a component. An empty id clears the selection.
func (s *State) SelectComponent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.component = id
}

// SelectConnection focuses a connection. An empty id clears the selection.
func (s *State) SelectConnection(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connection = id
}

// SelectPointOfAttack focuses a point of attack. An empty id clears the selection.
func (s *State) SelectPointOfAttack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointOfAttack = id
}

// SelectConnectionPoint focuses a connection point. An empty id clears the selection.
func (s *State) SelectConnectionPoint(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionPoint = id
}

// Deselect clears every selection and resets the connection draft.
func (s *State) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.component = ""
	s.connection = ""
	s.pointOfAttack = ""
	s.connectionPoint = ""
	s.draft = nil
}

// Forget clears any selection or draft that references a removed entity.
func (s *State) Forget(componentIDs, connectionIDs, pointOfAttackIDs, connectionPointIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(componentIDs, s.component) {
		s.component = ""
	}
	if slices.Contains(connectionIDs, s.connection) {
		s.connection = ""
	}
	if slices.Contains(pointOfAttackIDs, s.pointOfAttack) {
		s.pointOfAttack = ""
	}
	if slices.Contains(connectionPointIDs, s.connectionPoint) {
		s.connectionPoint = ""
	}
	if s.draft != nil && slices.Contains(componentIDs, s.draft.ID) {
		s.draft = nil
	}
	s.inUse = slices.DeleteFunc(s.inUse, func(id string) bool { return slices.Contains(componentIDs, id) })
}

// Selected returns the current selections.
func (s *State) Selected() Selected {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Selected{
		ComponentID:       s.component,
		ConnectionID:      s.connection,
		PointOfAttackID:   s.pointOfAttack,
		ConnectionPointID: s.connectionPoint,
	}
}

// Selected is a copy of the current selections. Empty strings mean nothing
// is selected for that kind.
type Selected struct {
	ComponentID       string
	ConnectionID      string
	PointOfAttackID   string
	ConnectionPointID string
}

// Draft returns the pending anchor of the connector gesture, if any.
func (s *State) Draft() (diagram.Anchor, DraftState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draft == nil {
		return diagram.Anchor{}, DraftIdle
	}
	return *s.draft, DraftPending
}

// Click feeds an anchor click into the connector gesture.
//
// In idle state the anchor becomes the pending start. Clicking the pending
// anchor again is ignored: it neither cancels the draft nor yields a self-loop.
// Any other anchor returns ClickCompletes together with the pending start;
// the draft stays pending until Commit is called.
func (s *State) Click(a diagram.Anchor) (diagram.Anchor, ClickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		anchor := a
		s.draft = &anchor
		return a, ClickStarted
	}
	if s.draft.SameAs(a) {
		return *s.draft, ClickIgnored
	}
	return *s.draft, ClickCompletes
}

// Commit returns the draft to idle after a connection was created from the
// given start anchor. It is a no-op if the draft changed in the meantime.
func (s *State) Commit(from diagram.Anchor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil || !s.draft.SameAs(from) {
		return false
	}
	s.draft = nil
	return true
}

// ResetDraft cancels the connector gesture.
func (s *State) ResetDraft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = nil
}

// AddInUse marks a component as being manipulated. Adding an id that is
// already present is a no-op.
func (s *State) AddInUse(componentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.inUse, componentID) {
		return false
	}
	s.inUse = append(s.inUse, componentID)
	return true
}

// RemoveInUse unmarks a component. Removing an absent id is a no-op.
func (s *State) RemoveInUse(componentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.inUse, componentID)
	if i < 0 {
		return false
	}
	s.inUse = slices.Delete(s.inUse, i, i+1)
	return true
}

// IsInUse reports whether the component is marked in use.
func (s *State) IsInUse(componentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.inUse, componentID)
}

// IsAnyComponentInUse reports whether any component is marked in use.
func (s *State) IsAnyComponentInUse() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inUse) > 0
}

// InUse returns the components currently marked in use.
func (s *State) InUse() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.inUse)
}
