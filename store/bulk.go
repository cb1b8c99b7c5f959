package store

import (
	"github.com/zero-day-ai/threatmodel/diagram"
)

// Bulk operations replace entities with data coming from the server.
// The server does not round-trip every client-side field, so a bulk write
// re-attaches the locally known value of those fields when the incoming
// record leaves them empty:
//
//   - Component: AlwaysShowAnchors
//   - Connection: CommunicationInterfaceID, Visible
//   - ConnectionPoint: ComponentID, ComponentName
//   - PointOfAttack: ComponentID, ComponentName
//
// Bulk writes are not user edits and do not make a batch count as one.

func mergeComponent(prev *diagram.Component, next diagram.Component) diagram.Component {
	next = next.Clone()
	if prev != nil && next.AlwaysShowAnchors == nil && prev.AlwaysShowAnchors != nil {
		v := *prev.AlwaysShowAnchors
		next.AlwaysShowAnchors = &v
	}
	return next
}

func mergeConnection(prev *diagram.Connection, next diagram.Connection) diagram.Connection {
	next = next.Clone()
	if prev == nil {
		next.Visible = true
		return next
	}
	if next.CommunicationInterfaceID == "" {
		next.CommunicationInterfaceID = prev.CommunicationInterfaceID
	}
	next.Visible = prev.Visible
	return next
}

func mergeConnectionPoint(prev *diagram.ConnectionPoint, next diagram.ConnectionPoint) diagram.ConnectionPoint {
	if prev == nil {
		return next
	}
	if next.ComponentID == "" {
		next.ComponentID = prev.ComponentID
	}
	if next.ComponentName == "" {
		next.ComponentName = prev.ComponentName
	}
	return next
}

func mergePointOfAttack(prev *diagram.PointOfAttack, next diagram.PointOfAttack) diagram.PointOfAttack {
	next = next.Clone()
	next.Assets = dedupe(next.Assets)
	if prev == nil {
		return next
	}
	if next.ComponentID == "" {
		next.ComponentID = prev.ComponentID
	}
	if next.ComponentName == "" {
		next.ComponentName = prev.ComponentName
	}
	return next
}

func upsert[T any](tx *Tx, kind Kind, m map[string]T, items []T, id func(T) string, merge func(*T, T) T) {
	for _, item := range items {
		key := id(item)
		if key == "" {
			continue
		}
		if prev, ok := m[key]; ok {
			m[key] = merge(&prev, item)
			tx.changes.record(kind, opUpdate, key)
			continue
		}
		m[key] = merge(nil, item)
		tx.changes.record(kind, opCreate, key)
	}
}

func replace[T any](tx *Tx, kind Kind, m map[string]T, items []T, id func(T) string, merge func(*T, T) T) {
	keep := make(map[string]struct{}, len(items))
	for _, item := range items {
		keep[id(item)] = struct{}{}
	}
	for key := range m {
		if _, ok := keep[key]; !ok {
			delete(m, key)
			tx.changes.record(kind, opRemove, key)
		}
	}
	upsert(tx, kind, m, items, id, merge)
}

func componentID(c diagram.Component) string             { return c.ID }
func connectionID(c diagram.Connection) string           { return c.ID }
func connectionPointID(c diagram.ConnectionPoint) string { return c.ID }
func pointOfAttackID(p diagram.PointOfAttack) string     { return p.ID }

// SetComponents replaces all components.
func (tx *Tx) SetComponents(items []diagram.Component) {
	replace(tx, KindComponent, tx.st.components, items, componentID, mergeComponent)
}

// UpsertComponents inserts or replaces the given components.
func (tx *Tx) UpsertComponents(items []diagram.Component) {
	upsert(tx, KindComponent, tx.st.components, items, componentID, mergeComponent)
}

// SetConnections replaces all connections.
func (tx *Tx) SetConnections(items []diagram.Connection) {
	replace(tx, KindConnection, tx.st.connections, items, connectionID, mergeConnection)
}

// UpsertConnections inserts or replaces the given connections.
func (tx *Tx) UpsertConnections(items []diagram.Connection) {
	upsert(tx, KindConnection, tx.st.connections, items, connectionID, mergeConnection)
}

// SetConnectionPoints replaces all connection points.
func (tx *Tx) SetConnectionPoints(items []diagram.ConnectionPoint) {
	replace(tx, KindConnectionPoint, tx.st.connectionPoints, items, connectionPointID, mergeConnectionPoint)
}

// UpsertConnectionPoints inserts or replaces the given connection points.
func (tx *Tx) UpsertConnectionPoints(items []diagram.ConnectionPoint) {
	upsert(tx, KindConnectionPoint, tx.st.connectionPoints, items, connectionPointID, mergeConnectionPoint)
}

// SetPointsOfAttack replaces all points of attack.
func (tx *Tx) SetPointsOfAttack(items []diagram.PointOfAttack) {
	replace(tx, KindPointOfAttack, tx.st.pointsOfAttack, items, pointOfAttackID, mergePointOfAttack)
}

// UpsertPointsOfAttack inserts or replaces the given points of attack.
func (tx *Tx) UpsertPointsOfAttack(items []diagram.PointOfAttack) {
	upsert(tx, KindPointOfAttack, tx.st.pointsOfAttack, items, pointOfAttackID, mergePointOfAttack)
}
