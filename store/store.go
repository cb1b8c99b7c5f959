// Package store holds the normalized entity collections of a system diagram.
//
// The store is a deliberately dumb primitive: it inserts, updates and removes
// single entities and never cascades. Higher layers (the cascade package, the
// editor) compose several mutations into one Batch, which commits atomically:
// readers either see the state before the batch or after it, never in between.
//
// Every commit produces a ChangeSet that is delivered to subscribed listeners
// after the write lock has been released.
//
// Example:
//
//	s := store.New("project-1")
//	err := s.Batch(func(tx *store.Tx) error {
//	    if err := tx.CreateComponent(srv); err != nil {
//	        return err
//	    }
//	    for _, p := range diagram.SeedPointsOfAttack(srv) {
//	        if err := tx.CreatePointOfAttack(p); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
package store

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/zero-day-ai/threatmodel/diagram"
)

// Listener is called after a batch commits with the changes it made.
// Listeners run in commit order and must not start batches themselves.
type Listener func(ChangeSet)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for integrity warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store holds the four entity collections of one project.
//
// Thread-safety: all methods are safe for concurrent use. Batches are
// serialized; snapshots are lock-free once taken.
type Store struct {
	mu         sync.RWMutex
	st         *state
	revision   uint64
	hasChanged bool

	listenerMu sync.RWMutex
	listeners  map[int]Listener
	nextID     int

	// notifyMu keeps listener delivery in commit order.
	notifyMu sync.Mutex

	logger *slog.Logger
}

// New creates an empty store for the given project.
func New(projectID string, opts ...Option) *Store {
	s := &Store{
		st:        newState(projectID),
		listeners: make(map[int]Listener),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProjectID returns the project the store currently holds.
func (s *Store) ProjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.projectID
}

// Revision returns the number of committed, non-empty batches.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// HasChanged reports whether any batch changed the store since the last
// ResetChanged.
func (s *Store) HasChanged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasChanged
}

// ResetChanged clears the changed flag.
func (s *Store) ResetChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasChanged = false
}

// Snapshot returns an immutable view of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{st: s.st, revision: s.revision}
}

// Subscribe registers a listener for committed batches and returns a function
// that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners, id)
	}
}

// Batch runs fn against a working copy of the store and commits the result
// atomically. If fn returns an error nothing is committed and the error is
// returned unchanged.
func (s *Store) Batch(fn func(tx *Tx) error) error {
	_, err := s.BatchChanges(fn)
	return err
}

// BatchChanges is like Batch but also returns the committed ChangeSet.
// A panic in fn discards the batch and leaves the store usable.
func (s *Store) BatchChanges(fn func(tx *Tx) error) (ChangeSet, error) {
	s.mu.Lock()
	locked := true
	defer func() {
		if locked {
			s.mu.Unlock()
		}
	}()

	tx := &Tx{st: s.st.clone(), changes: newChangeSet()}
	if err := fn(tx); err != nil {
		return ChangeSet{}, err
	}

	cs := tx.changes
	cs.Bulk = !tx.nonBulk
	if cs.Empty() {
		cs.Revision = s.revision
		return cs, nil
	}

	s.st = tx.st
	s.revision++
	s.hasChanged = true
	cs.Revision = s.revision

	// Taking notifyMu before releasing mu keeps deliveries ordered.
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	locked = false
	s.mu.Unlock()
	s.notify(cs)

	return cs, nil
}

func (s *Store) notify(cs ChangeSet) {
	s.listenerMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		l(cs)
	}
}

// Reset switches the store to another project and drops all entities.
// The reset counts as a bulk change.
func (s *Store) Reset(projectID string) {
	s.mu.Lock()
	prev := s.st
	s.st = newState(projectID)
	cs := newChangeSet()
	cs.Bulk = true
	for id := range prev.components {
		cs.record(KindComponent, opRemove, id)
	}
	for id := range prev.connections {
		cs.record(KindConnection, opRemove, id)
	}
	for id := range prev.connectionPoints {
		cs.record(KindConnectionPoint, opRemove, id)
	}
	for id := range prev.pointsOfAttack {
		cs.record(KindPointOfAttack, opRemove, id)
	}
	if !cs.Empty() {
		s.revision++
	}
	cs.Revision = s.revision

	s.notifyMu.Lock()
	s.mu.Unlock()
	if !cs.Empty() {
		s.notify(cs)
	}
	s.notifyMu.Unlock()
}

// tolerate logs store integrity errors and passes them on. Integrity errors
// are programming errors, not user-facing ones.
func (s *Store) tolerate(op string, err error) error {
	if err != nil && (errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateID)) {
		s.logger.Warn("store integrity violation ignored", "op", op, "error", err)
	}
	return err
}

// CreateComponent inserts a single component.
func (s *Store) CreateComponent(c diagram.Component) error {
	return s.tolerate("CreateComponent", s.Batch(func(tx *Tx) error { return tx.CreateComponent(c) }))
}

// UpdateComponent updates a single component. A missing id is logged and
// reported as ErrNotFound; the store is left untouched.
func (s *Store) UpdateComponent(id string, fn func(*diagram.Component)) error {
	return s.tolerate("UpdateComponent", s.Batch(func(tx *Tx) error { return tx.UpdateComponent(id, fn) }))
}

// RemoveComponent removes a single component without cascading.
func (s *Store) RemoveComponent(id string) error {
	return s.tolerate("RemoveComponent", s.Batch(func(tx *Tx) error { return tx.RemoveComponent(id) }))
}

// CreateConnection inserts a single connection.
func (s *Store) CreateConnection(c diagram.Connection) error {
	return s.tolerate("CreateConnection", s.Batch(func(tx *Tx) error { return tx.CreateConnection(c) }))
}

// UpdateConnection updates a single connection.
func (s *Store) UpdateConnection(id string, fn func(*diagram.Connection)) error {
	return s.tolerate("UpdateConnection", s.Batch(func(tx *Tx) error { return tx.UpdateConnection(id, fn) }))
}

// RemoveConnection removes a single connection without cascading.
func (s *Store) RemoveConnection(id string) error {
	return s.tolerate("RemoveConnection", s.Batch(func(tx *Tx) error { return tx.RemoveConnection(id) }))
}

// CreateConnectionPoint inserts a single connection point.
func (s *Store) CreateConnectionPoint(cp diagram.ConnectionPoint) error {
	return s.tolerate("CreateConnectionPoint", s.Batch(func(tx *Tx) error { return tx.CreateConnectionPoint(cp) }))
}

// UpdateConnectionPoint updates a single connection point.
func (s *Store) UpdateConnectionPoint(id string, fn func(*diagram.ConnectionPoint)) error {
	return s.tolerate("UpdateConnectionPoint", s.Batch(func(tx *Tx) error { return tx.UpdateConnectionPoint(id, fn) }))
}

// RemoveConnectionPoint removes a single connection point.
func (s *Store) RemoveConnectionPoint(id string) error {
	return s.tolerate("RemoveConnectionPoint", s.Batch(func(tx *Tx) error { return tx.RemoveConnectionPoint(id) }))
}

// CreatePointOfAttack inserts a single point of attack.
func (s *Store) CreatePointOfAttack(p diagram.PointOfAttack) error {
	return s.tolerate("CreatePointOfAttack", s.Batch(func(tx *Tx) error { return tx.CreatePointOfAttack(p) }))
}

// UpdatePointOfAttack updates a single point of attack.
func (s *Store) UpdatePointOfAttack(id string, fn func(*diagram.PointOfAttack)) error {
	return s.tolerate("UpdatePointOfAttack", s.Batch(func(tx *Tx) error { return tx.UpdatePointOfAttack(id, fn) }))
}

// RemovePointOfAttack removes a single point of attack.
func (s *Store) RemovePointOfAttack(id string) error {
	return s.tolerate("RemovePointOfAttack", s.Batch(func(tx *Tx) error { return tx.RemovePointOfAttack(id) }))
}

// Load replaces the whole store content with server data in one bulk batch.
// Client-only fields of entities that survive the load are preserved.
func (s *Store) Load(components []diagram.Component, connections []diagram.Connection,
	connectionPoints []diagram.ConnectionPoint, pointsOfAttack []diagram.PointOfAttack) ChangeSet {
	cs, _ := s.BatchChanges(func(tx *Tx) error {
		tx.SetComponents(components)
		tx.SetConnections(connections)
		tx.SetConnectionPoints(connectionPoints)
		tx.SetPointsOfAttack(pointsOfAttack)
		return nil
	})
	return cs
}
