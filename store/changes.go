package store

import "slices"

// Kind identifies one of the four entity collections.
type Kind string

const (
	KindComponent       Kind = "component"
	KindConnection      Kind = "connection"
	KindConnectionPoint Kind = "connection_point"
	KindPointOfAttack   Kind = "point_of_attack"
)

// Kinds lists all entity kinds.
var Kinds = []Kind{KindComponent, KindConnection, KindConnectionPoint, KindPointOfAttack}

// KindChanges records the ids touched in one collection by a committed batch.
type KindChanges struct {
	Created []string
	Updated []string
	Removed []string
}

func (k *KindChanges) empty() bool {
	return len(k.Created) == 0 && len(k.Updated) == 0 && len(k.Removed) == 0
}

// ChangeSet describes everything a committed batch changed.
type ChangeSet struct {
	// Revision is the store revision after the batch committed.
	Revision uint64

	// Bulk is true when the batch consisted only of bulk loads (Set/Upsert).
	// Bulk loads do not count as user edits for autosave purposes.
	Bulk bool

	Changes map[Kind]*KindChanges
}

func newChangeSet() ChangeSet {
	return ChangeSet{Changes: make(map[Kind]*KindChanges, len(Kinds))}
}

// Empty reports whether the batch changed nothing.
func (c ChangeSet) Empty() bool {
	for _, k := range c.Changes {
		if !k.empty() {
			return false
		}
	}
	return true
}

// Of returns the changes recorded for one kind. Never nil.
func (c ChangeSet) Of(kind Kind) KindChanges {
	if k, ok := c.Changes[kind]; ok {
		return *k
	}
	return KindChanges{}
}

// Removed reports whether the given id of the given kind was removed.
func (c ChangeSet) Removed(kind Kind, id string) bool {
	return slices.Contains(c.Of(kind).Removed, id)
}

func (c *ChangeSet) record(kind Kind, op string, id string) {
	k, ok := c.Changes[kind]
	if !ok {
		k = &KindChanges{}
		c.Changes[kind] = k
	}
	switch op {
	case opCreate:
		k.Created = appendUnique(k.Created, id)
	case opUpdate:
		if !slices.Contains(k.Created, id) {
			k.Updated = appendUnique(k.Updated, id)
		}
	case opRemove:
		if i := slices.Index(k.Created, id); i >= 0 {
			k.Created = slices.Delete(k.Created, i, i+1)
			return
		}
		k.Updated = slices.DeleteFunc(k.Updated, func(s string) bool { return s == id })
		k.Removed = appendUnique(k.Removed, id)
	}
}

const (
	opCreate = "create"
	opUpdate = "update"
	opRemove = "remove"
)

func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
