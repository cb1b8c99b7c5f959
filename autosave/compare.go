package autosave

import (
	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/store"
)

// Equal reports whether two snapshots agree on the fields the backend
// persists: component identity, name, description and position, connection
// names and routing, connection point names and point-of-attack assets.
// Waypoints and assets are compared as sets. Client-only fields such as
// AlwaysShowAnchors and Visible are ignored.
func Equal(a, b store.Snapshot) bool {
	for _, kind := range store.Kinds {
		if a.Count(kind) != b.Count(kind) {
			return false
		}
	}

	for _, ca := range a.Components() {
		cb, ok := b.Component(ca.ID)
		if !ok || !componentEqual(ca, cb) {
			return false
		}
	}
	for _, ca := range a.Connections() {
		cb, ok := b.Connection(ca.ID)
		if !ok || !connectionEqual(ca, cb) {
			return false
		}
	}
	for _, pa := range a.ConnectionPoints() {
		pb, ok := b.ConnectionPoint(pa.ID)
		if !ok || pa.Name != pb.Name {
			return false
		}
	}
	for _, pa := range a.PointsOfAttack() {
		pb, ok := b.PointOfAttack(pa.ID)
		if !ok || !sameSet(pa.Assets, pb.Assets) {
			return false
		}
	}
	return true
}

func componentEqual(a, b diagram.Component) bool {
	return a.Name == b.Name && a.Description == b.Description &&
		a.X == b.X && a.Y == b.Y &&
		a.GridX == b.GridX && a.GridY == b.GridY
}

func connectionEqual(a, b diagram.Connection) bool {
	return a.Name == b.Name && a.Recalculate == b.Recalculate && sameSet(a.Waypoints, b.Waypoints)
}

func sameSet[T comparable](a, b []T) bool {
	seen := make(map[T]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	other := make(map[T]struct{}, len(b))
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			return false
		}
		other[v] = struct{}{}
	}
	return len(seen) == len(other)
}
