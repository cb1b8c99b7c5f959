// Package cascade computes and applies the transitive removal set of a
// deletion in the system diagram.
//
// Planning is a pure function of a store snapshot: the full set of entities to
// remove is computed before anything is removed, so the outcome does not depend
// on removal order. Applying a plan happens inside a single store batch, so
// readers never observe a half-deleted diagram.
//
// Cascade rules:
//
//   - Deleting a component removes every connection touching it (with the
//     connection rule below), its points of attack, its connection points and
//     the component.
//   - Deleting a connection removes the points of attack tied to it and the
//     connection. Connection points survive; they belong to the interface.
//   - Deleting a communication interface removes it from its component, removes
//     its connection point and point of attack, and deletes every connection
//     attached to that interface (with the connection rule).
package cascade

import (
	"fmt"
	"slices"

	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/store"
)

// Plan is the complete set of changes a deletion implies.
type Plan struct {
	Components       []string
	Connections      []string
	ConnectionPoints []string
	PointsOfAttack   []string

	// Interfaces maps a component id to the embedded communication interface
	// ids to drop from it. Components that are removed entirely are not listed.
	Interfaces map[string][]string
}

// Empty reports whether the plan removes nothing.
func (p Plan) Empty() bool {
	return len(p.Components) == 0 && len(p.Connections) == 0 &&
		len(p.ConnectionPoints) == 0 && len(p.PointsOfAttack) == 0 && len(p.Interfaces) == 0
}

type builder struct {
	snap             store.Snapshot
	components       map[string]struct{}
	connections      map[string]struct{}
	connectionPoints map[string]struct{}
	pointsOfAttack   map[string]struct{}
	interfaces       map[string]map[string]struct{}
}

func newBuilder(snap store.Snapshot) *builder {
	return &builder{
		snap:             snap,
		components:       make(map[string]struct{}),
		connections:      make(map[string]struct{}),
		connectionPoints: make(map[string]struct{}),
		pointsOfAttack:   make(map[string]struct{}),
		interfaces:       make(map[string]map[string]struct{}),
	}
}

func (b *builder) connection(id string) {
	if _, done := b.connections[id]; done {
		return
	}
	b.connections[id] = struct{}{}
	for _, p := range b.snap.PointsOfAttack() {
		if p.ConnectionID == id {
			b.pointsOfAttack[p.ID] = struct{}{}
		}
	}
}

func (b *builder) component(id string) {
	b.components[id] = struct{}{}
	for _, c := range b.snap.ConnectionsOf(id) {
		b.connection(c.ID)
	}
	for _, p := range b.snap.PointsOfAttackOf(id) {
		b.pointsOfAttack[p.ID] = struct{}{}
	}
	for _, cp := range b.snap.ConnectionPointsOf(id) {
		b.connectionPoints[cp.ID] = struct{}{}
	}
	delete(b.interfaces, id)
}

func (b *builder) iface(componentID, ifaceID string) {
	if _, removed := b.components[componentID]; !removed {
		if b.interfaces[componentID] == nil {
			b.interfaces[componentID] = make(map[string]struct{})
		}
		b.interfaces[componentID][ifaceID] = struct{}{}
	}

	if cp, ok := b.snap.ConnectionPoint(ifaceID); ok && (cp.ComponentID == "" || cp.ComponentID == componentID) {
		b.connectionPoints[cp.ID] = struct{}{}
	}
	for _, p := range b.snap.PointsOfAttackOf(componentID) {
		if p.Type == diagram.PointOfAttackCommunicationInterfaces && (p.ConnectionPointID == ifaceID || p.ID == ifaceID) {
			b.pointsOfAttack[p.ID] = struct{}{}
		}
	}
	for _, c := range b.snap.Connections() {
		if c.From.References(componentID, ifaceID) || c.To.References(componentID, ifaceID) {
			b.connection(c.ID)
		}
	}
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (b *builder) plan() Plan {
	p := Plan{
		Components:       keys(b.components),
		Connections:      keys(b.connections),
		ConnectionPoints: keys(b.connectionPoints),
		PointsOfAttack:   keys(b.pointsOfAttack),
	}
	if len(b.interfaces) > 0 {
		p.Interfaces = make(map[string][]string, len(b.interfaces))
		for comp, ids := range b.interfaces {
			p.Interfaces[comp] = keys(ids)
		}
	}
	return p
}

// PlanComponentDeletion computes the removal set for deleting a component.
func PlanComponentDeletion(snap store.Snapshot, componentID string) (Plan, error) {
	if _, ok := snap.Component(componentID); !ok {
		return Plan{}, fmt.Errorf("%w: component %s", store.ErrNotFound, componentID)
	}
	b := newBuilder(snap)
	b.component(componentID)
	return b.plan(), nil
}

// PlanConnectionDeletion computes the removal set for deleting a connection.
func PlanConnectionDeletion(snap store.Snapshot, connectionID string) (Plan, error) {
	if _, ok := snap.Connection(connectionID); !ok {
		return Plan{}, fmt.Errorf("%w: connection %s", store.ErrNotFound, connectionID)
	}
	b := newBuilder(snap)
	b.connection(connectionID)
	return b.plan(), nil
}

// PlanInterfaceDeletion computes the removal set for deleting a communication
// interface from a component.
func PlanInterfaceDeletion(snap store.Snapshot, componentID, ifaceID string) (Plan, error) {
	comp, ok := snap.Component(componentID)
	if !ok {
		return Plan{}, fmt.Errorf("%w: component %s", store.ErrNotFound, componentID)
	}
	_, embedded := comp.CommunicationInterface(ifaceID)
	_, hasPoint := snap.ConnectionPoint(ifaceID)
	if !embedded && !hasPoint {
		return Plan{}, fmt.Errorf("%w: communication interface %s on component %s", store.ErrNotFound, ifaceID, componentID)
	}
	b := newBuilder(snap)
	b.iface(componentID, ifaceID)
	return b.plan(), nil
}

// Apply performs the plan inside a batch. Entities that are already gone are
// skipped, so applying a plan twice is harmless.
func (p Plan) Apply(tx *store.Tx) error {
	snap := tx.Snapshot()

	for compID, ifaces := range p.Interfaces {
		if _, ok := snap.Component(compID); !ok {
			continue
		}
		err := tx.UpdateComponent(compID, func(c *diagram.Component) {
			for _, id := range ifaces {
				c.RemoveCommunicationInterface(id)
			}
		})
		if err != nil {
			return err
		}
	}

	for _, id := range p.PointsOfAttack {
		if _, ok := snap.PointOfAttack(id); ok {
			if err := tx.RemovePointOfAttack(id); err != nil {
				return err
			}
		}
	}
	for _, id := range p.ConnectionPoints {
		if _, ok := snap.ConnectionPoint(id); ok {
			if err := tx.RemoveConnectionPoint(id); err != nil {
				return err
			}
		}
	}
	for _, id := range p.Connections {
		if _, ok := snap.Connection(id); ok {
			if err := tx.RemoveConnection(id); err != nil {
				return err
			}
		}
	}
	for _, id := range p.Components {
		if _, ok := snap.Component(id); ok {
			if err := tx.RemoveComponent(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Planner computes a plan from a snapshot.
type Planner func(store.Snapshot) (Plan, error)

// Execute plans against the batch's own view of the store and applies the
// plan in the same batch. It returns the plan that was applied.
func Execute(s *store.Store, planner Planner) (Plan, error) {
	var plan Plan
	err := s.Batch(func(tx *store.Tx) error {
		var err error
		plan, err = planner(tx.Snapshot())
		if err != nil {
			return err
		}
		return plan.Apply(tx)
	})
	if err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// DeleteComponent removes a component and everything depending on it.
func DeleteComponent(s *store.Store, componentID string) (Plan, error) {
	return Execute(s, func(snap store.Snapshot) (Plan, error) {
		return PlanComponentDeletion(snap, componentID)
	})
}

// DeleteConnection removes a connection and its points of attack.
func DeleteConnection(s *store.Store, connectionID string) (Plan, error) {
	return Execute(s, func(snap store.Snapshot) (Plan, error) {
		return PlanConnectionDeletion(snap, connectionID)
	})
}

// DeleteInterface removes a communication interface and everything attached to it.
func DeleteInterface(s *store.Store, componentID, ifaceID string) (Plan, error) {
	return Execute(s, func(snap store.Snapshot) (Plan, error) {
		return PlanInterfaceDeletion(snap, componentID, ifaceID)
	})
}
