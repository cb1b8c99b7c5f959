package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/threatmodel/diagram"
)

func newServer(id string) diagram.Component {
	return diagram.Component{ID: id, ProjectID: "p1", Type: diagram.Standard(diagram.TypeServer), Name: id}
}

func TestStore_CreateComponent(t *testing.T) {
	s := New("p1")

	require.NoError(t, s.CreateComponent(newServer("a")))

	err := s.CreateComponent(newServer("a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateID))

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Count(KindComponent))
	assert.Equal(t, uint64(1), snap.Revision())
	assert.True(t, s.HasChanged())
}

func TestStore_CreateRejectsOtherProject(t *testing.T) {
	s := New("p1")
	c := newServer("a")
	c.ProjectID = "p2"

	err := s.CreateComponent(c)
	assert.ErrorIs(t, err, ErrProjectMismatch)
}

func TestStore_CreateFillsProject(t *testing.T) {
	s := New("p1")
	c := newServer("a")
	c.ProjectID = ""
	require.NoError(t, s.CreateComponent(c))

	got, ok := s.Snapshot().Component("a")
	require.True(t, ok)
	assert.Equal(t, "p1", got.ProjectID)
}

func TestStore_UpdateMissingIsTolerated(t *testing.T) {
	s := New("p1")
	before := s.Revision()

	err := s.UpdateComponent("missing", func(c *diagram.Component) { c.Name = "x" })
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before, s.Revision())
	assert.False(t, s.HasChanged())
}

func TestStore_UpdateKeepsID(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreateComponent(newServer("a")))

	require.NoError(t, s.UpdateComponent("a", func(c *diagram.Component) {
		c.ID = "hijack"
		c.Name = "renamed"
	}))

	snap := s.Snapshot()
	got, ok := snap.Component("a")
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Name)
	_, ok = snap.Component("hijack")
	assert.False(t, ok)
}

func TestStore_RemoveDoesNotCascade(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreateComponent(newServer("a")))
	require.NoError(t, s.CreatePointOfAttack(diagram.PointOfAttack{ID: "poa", ComponentID: "a"}))

	require.NoError(t, s.RemoveComponent("a"))

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Count(KindComponent))
	assert.Equal(t, 1, snap.Count(KindPointOfAttack))
}

func TestStore_BatchIsAtomic(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreateComponent(newServer("a")))
	rev := s.Revision()

	boom := errors.New("boom")
	err := s.Batch(func(tx *Tx) error {
		require.NoError(t, tx.CreateComponent(newServer("b")))
		require.NoError(t, tx.RemoveComponent("a"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snap := s.Snapshot()
	_, hasA := snap.Component("a")
	_, hasB := snap.Component("b")
	assert.True(t, hasA)
	assert.False(t, hasB)
	assert.Equal(t, rev, s.Revision())
}

func TestStore_PanickingBatchReleasesLock(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreateComponent(newServer("a")))
	rev := s.Revision()

	assert.Panics(t, func() {
		_ = s.Batch(func(tx *Tx) error {
			require.NoError(t, tx.CreateComponent(newServer("b")))
			panic("listener bug")
		})
	})

	_, hasB := s.Snapshot().Component("b")
	assert.False(t, hasB)
	assert.Equal(t, rev, s.Revision())

	require.NoError(t, s.CreateComponent(newServer("c")))
	assert.Equal(t, rev+1, s.Revision())
}

func TestStore_SnapshotIsImmutable(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreatePointOfAttack(diagram.PointOfAttack{ID: "poa", ComponentID: "a", Assets: []int{1}}))
	snap := s.Snapshot()

	require.NoError(t, s.UpdatePointOfAttack("poa", func(p *diagram.PointOfAttack) { p.AddAsset(2) }))

	old, _ := snap.PointOfAttack("poa")
	assert.Equal(t, []int{1}, old.Assets)

	cur, _ := s.Snapshot().PointOfAttack("poa")
	assert.Equal(t, []int{1, 2}, cur.Assets)

	// Mutating a returned copy does not leak back.
	cur.Assets[0] = 99
	again, _ := s.Snapshot().PointOfAttack("poa")
	assert.Equal(t, []int{1, 2}, again.Assets)
}

func TestStore_AssetsAreDeduplicated(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreatePointOfAttack(diagram.PointOfAttack{ID: "poa", Assets: []int{1, 1, 2}}))
	require.NoError(t, s.UpdatePointOfAttack("poa", func(p *diagram.PointOfAttack) {
		p.Assets = append(p.Assets, 2, 3)
	}))

	got, _ := s.Snapshot().PointOfAttack("poa")
	assert.Equal(t, []int{1, 2, 3}, got.Assets)
}

func TestStore_ListenersReceiveChangeSets(t *testing.T) {
	s := New("p1")

	var mu sync.Mutex
	var got []ChangeSet
	unsubscribe := s.Subscribe(func(cs ChangeSet) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, cs)
	})

	require.NoError(t, s.Batch(func(tx *Tx) error {
		if err := tx.CreateComponent(newServer("a")); err != nil {
			return err
		}
		return tx.CreateComponent(newServer("b"))
	}))
	require.NoError(t, s.UpdateComponent("a", func(c *diagram.Component) { c.Name = "A" }))

	unsubscribe()
	require.NoError(t, s.RemoveComponent("b"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, got[0].Of(KindComponent).Created)
	assert.False(t, got[0].Bulk)
	assert.Equal(t, []string{"a"}, got[1].Of(KindComponent).Updated)
	assert.Equal(t, uint64(2), got[1].Revision)
}

func TestStore_EmptyBatchDoesNotNotify(t *testing.T) {
	s := New("p1")
	called := false
	s.Subscribe(func(ChangeSet) { called = true })

	require.NoError(t, s.Batch(func(tx *Tx) error {
		if err := tx.CreateComponent(newServer("a")); err != nil {
			return err
		}
		return tx.RemoveComponent("a")
	}))

	assert.False(t, called)
	assert.Equal(t, uint64(0), s.Revision())
}

func TestStore_UpsertConnectionPointsPreservesClientFields(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreateConnectionPoint(diagram.ConnectionPoint{
		ID:            "cp",
		Name:          "db-link",
		ComponentID:   "srv",
		ComponentName: "API",
	}))

	s.Batch(func(tx *Tx) error {
		tx.UpsertConnectionPoints([]diagram.ConnectionPoint{{ID: "cp", Name: "db-link v2", ProjectID: "p1"}})
		return nil
	})

	got, ok := s.Snapshot().ConnectionPoint("cp")
	require.True(t, ok)
	assert.Equal(t, "db-link v2", got.Name)
	assert.Equal(t, "srv", got.ComponentID)
	assert.Equal(t, "API", got.ComponentName)
}

func TestStore_UpsertConnectionPointsTakesIncomingValues(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreateConnectionPoint(diagram.ConnectionPoint{ID: "cp", ComponentID: "old"}))

	s.Batch(func(tx *Tx) error {
		tx.UpsertConnectionPoints([]diagram.ConnectionPoint{{ID: "cp", ComponentID: "new"}})
		return nil
	})

	got, _ := s.Snapshot().ConnectionPoint("cp")
	assert.Equal(t, "new", got.ComponentID)
}

func TestStore_LoadPreservesConnectionEnrichment(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreateConnection(diagram.Connection{
		ID:                       "conn",
		CommunicationInterfaceID: "iface",
		Visible:                  false,
	}))
	show := true
	c := newServer("a")
	c.AlwaysShowAnchors = &show
	require.NoError(t, s.CreateComponent(c))

	cs := s.Load(
		[]diagram.Component{newServer("a")},
		[]diagram.Connection{{ID: "conn", Name: "from server"}, {ID: "fresh"}},
		nil,
		nil,
	)
	assert.True(t, cs.Bulk)

	snap := s.Snapshot()
	conn, _ := snap.Connection("conn")
	assert.Equal(t, "iface", conn.CommunicationInterfaceID)
	assert.Equal(t, "from server", conn.Name)
	assert.False(t, conn.Visible)

	fresh, _ := snap.Connection("fresh")
	assert.True(t, fresh.Visible)

	comp, _ := snap.Component("a")
	require.NotNil(t, comp.AlwaysShowAnchors)
	assert.True(t, *comp.AlwaysShowAnchors)
}

func TestStore_SetRemovesMissing(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreateComponent(newServer("a")))
	require.NoError(t, s.CreateComponent(newServer("b")))

	cs := s.Load([]diagram.Component{newServer("b")}, nil, nil, nil)

	assert.Equal(t, []string{"a"}, cs.Of(KindComponent).Removed)
	assert.Equal(t, 1, s.Snapshot().Count(KindComponent))
}

func TestStore_Reset(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.CreateComponent(newServer("a")))

	var bulk bool
	s.Subscribe(func(cs ChangeSet) { bulk = cs.Bulk })
	s.Reset("p2")

	assert.True(t, bulk)
	assert.Equal(t, "p2", s.ProjectID())
	assert.Equal(t, 0, s.Snapshot().Count(KindComponent))
}

func TestStore_ResetEmptyKeepsRevision(t *testing.T) {
	s := New("p1")
	calls := 0
	s.Subscribe(func(ChangeSet) { calls++ })

	s.Reset("p1")
	assert.Equal(t, uint64(0), s.Revision())
	assert.Zero(t, calls)

	require.NoError(t, s.CreateComponent(newServer("a")))
	s.Reset("p1")
	assert.Equal(t, uint64(2), s.Revision())
	assert.Equal(t, 2, calls)

	s.Reset("p2")
	assert.Equal(t, uint64(2), s.Revision())
	assert.Equal(t, "p2", s.ProjectID())
}

func TestSnapshot_Queries(t *testing.T) {
	s := New("p1")
	require.NoError(t, s.Batch(func(tx *Tx) error {
		for _, id := range []string{"b", "a", "c"} {
			if err := tx.CreateComponent(newServer(id)); err != nil {
				return err
			}
		}
		if err := tx.CreateConnection(diagram.Connection{ID: "ab", From: diagram.Anchor{ID: "a"}, To: diagram.Anchor{ID: "b"}}); err != nil {
			return err
		}
		if err := tx.CreatePointOfAttack(diagram.PointOfAttack{ID: "p", ComponentID: "a"}); err != nil {
			return err
		}
		return tx.CreateConnectionPoint(diagram.ConnectionPoint{ID: "cp", ComponentID: "a"})
	}))

	snap := s.Snapshot()
	comps := snap.Components()
	require.Len(t, comps, 3)
	assert.Equal(t, "a", comps[0].ID)
	assert.Equal(t, "c", comps[2].ID)

	assert.Len(t, snap.ConnectionsOf("a"), 1)
	assert.Len(t, snap.ConnectionsOf("b"), 1)
	assert.Empty(t, snap.ConnectionsOf("c"))
	assert.Len(t, snap.PointsOfAttackOf("a"), 1)
	assert.Len(t, snap.ConnectionPointsOf("a"), 1)
}

func TestStore_ConcurrentReadersSeeWholeBatches(t *testing.T) {
	s := New("p1")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := s.Snapshot()
			// Components and their point of attack are always written together.
			assert.Equal(t, snap.Count(KindComponent), snap.Count(KindPointOfAttack))
		}
	}()

	for i := 0; i < 200; i++ {
		id := diagram.NewID()
		require.NoError(t, s.Batch(func(tx *Tx) error {
			if err := tx.CreateComponent(newServer(id)); err != nil {
				return err
			}
			return tx.CreatePointOfAttack(diagram.PointOfAttack{ID: "poa-" + id, ComponentID: id})
		}))
	}
	close(stop)
	wg.Wait()
}
