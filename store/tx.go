package store

import (
	"fmt"

	"github.com/zero-day-ai/threatmodel/diagram"
)

// Tx is a batch of mutations applied atomically by Store.Batch.
// A Tx is only valid inside the function passed to Batch.
type Tx struct {
	st      *state
	changes ChangeSet
	nonBulk bool
}

// Snapshot returns a view of the batch's working state, including the
// mutations made so far in this batch.
func (tx *Tx) Snapshot() Snapshot {
	return Snapshot{st: tx.st}
}

func (tx *Tx) checkProject(kind Kind, id, projectID string) error {
	if id == "" {
		return fmt.Errorf("%w: %s without id", ErrInvalidEntity, kind)
	}
	if projectID != "" && tx.st.projectID != "" && projectID != tx.st.projectID {
		return fmt.Errorf("%w: %s %s in project %s", ErrProjectMismatch, kind, id, projectID)
	}
	return nil
}

func insert[T any](tx *Tx, kind Kind, m map[string]T, id string, v T) error {
	if _, exists := m[id]; exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicateID, kind, id)
	}
	m[id] = v
	tx.nonBulk = true
	tx.changes.record(kind, opCreate, id)
	return nil
}

func modify[T any](tx *Tx, kind Kind, m map[string]T, id string, clone func(T) T, fn func(*T)) error {
	cur, ok := m[id]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	next := clone(cur)
	fn(&next)
	m[id] = next
	tx.nonBulk = true
	tx.changes.record(kind, opUpdate, id)
	return nil
}

func remove[T any](tx *Tx, kind Kind, m map[string]T, id string) error {
	if _, ok := m[id]; !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	delete(m, id)
	tx.nonBulk = true
	tx.changes.record(kind, opRemove, id)
	return nil
}

func identity[T any](v T) T { return v }

// CreateComponent inserts a component. Fails with ErrDuplicateID if present.
func (tx *Tx) CreateComponent(c diagram.Component) error {
	if err := tx.checkProject(KindComponent, c.ID, c.ProjectID); err != nil {
		return err
	}
	if c.ProjectID == "" {
		c.ProjectID = tx.st.projectID
	}
	return insert(tx, KindComponent, tx.st.components, c.ID, c.Clone())
}

// UpdateComponent applies fn to a copy of the component and stores the result.
// The id cannot be changed.
func (tx *Tx) UpdateComponent(id string, fn func(*diagram.Component)) error {
	return modify(tx, KindComponent, tx.st.components, id, diagram.Component.Clone, func(c *diagram.Component) {
		fn(c)
		c.ID = id
	})
}

// RemoveComponent deletes a component. It does not cascade.
func (tx *Tx) RemoveComponent(id string) error {
	return remove(tx, KindComponent, tx.st.components, id)
}

// CreateConnection inserts a connection. Fails with ErrDuplicateID if present.
func (tx *Tx) CreateConnection(c diagram.Connection) error {
	if err := tx.checkProject(KindConnection, c.ID, c.ProjectID); err != nil {
		return err
	}
	if c.ProjectID == "" {
		c.ProjectID = tx.st.projectID
	}
	return insert(tx, KindConnection, tx.st.connections, c.ID, c.Clone())
}

// UpdateConnection applies fn to a copy of the connection and stores the result.
func (tx *Tx) UpdateConnection(id string, fn func(*diagram.Connection)) error {
	return modify(tx, KindConnection, tx.st.connections, id, diagram.Connection.Clone, func(c *diagram.Connection) {
		fn(c)
		c.ID = id
	})
}

// RemoveConnection deletes a connection. It does not cascade.
func (tx *Tx) RemoveConnection(id string) error {
	return remove(tx, KindConnection, tx.st.connections, id)
}

// CreateConnectionPoint inserts a connection point.
func (tx *Tx) CreateConnectionPoint(cp diagram.ConnectionPoint) error {
	if err := tx.checkProject(KindConnectionPoint, cp.ID, cp.ProjectID); err != nil {
		return err
	}
	if cp.ProjectID == "" {
		cp.ProjectID = tx.st.projectID
	}
	return insert(tx, KindConnectionPoint, tx.st.connectionPoints, cp.ID, cp)
}

// UpdateConnectionPoint applies fn to a copy of the connection point.
func (tx *Tx) UpdateConnectionPoint(id string, fn func(*diagram.ConnectionPoint)) error {
	return modify(tx, KindConnectionPoint, tx.st.connectionPoints, id, identity[diagram.ConnectionPoint], func(cp *diagram.ConnectionPoint) {
		fn(cp)
		cp.ID = id
	})
}

// RemoveConnectionPoint deletes a connection point.
func (tx *Tx) RemoveConnectionPoint(id string) error {
	return remove(tx, KindConnectionPoint, tx.st.connectionPoints, id)
}

// CreatePointOfAttack inserts a point of attack. Assets are deduplicated.
func (tx *Tx) CreatePointOfAttack(p diagram.PointOfAttack) error {
	if err := tx.checkProject(KindPointOfAttack, p.ID, p.ProjectID); err != nil {
		return err
	}
	if p.ProjectID == "" {
		p.ProjectID = tx.st.projectID
	}
	p = p.Clone()
	p.Assets = dedupe(p.Assets)
	return insert(tx, KindPointOfAttack, tx.st.pointsOfAttack, p.ID, p)
}

// UpdatePointOfAttack applies fn to a copy of the point of attack.
// Assets are deduplicated after fn runs.
func (tx *Tx) UpdatePointOfAttack(id string, fn func(*diagram.PointOfAttack)) error {
	return modify(tx, KindPointOfAttack, tx.st.pointsOfAttack, id, diagram.PointOfAttack.Clone, func(p *diagram.PointOfAttack) {
		fn(p)
		p.ID = id
		p.Assets = dedupe(p.Assets)
	})
}

// RemovePointOfAttack deletes a point of attack.
func (tx *Tx) RemovePointOfAttack(id string) error {
	return remove(tx, KindPointOfAttack, tx.st.pointsOfAttack, id)
}

func dedupe(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
