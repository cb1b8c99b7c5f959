package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/threatmodel/diagram"
)

func anchor(id string, o diagram.Orientation, iface string) diagram.Anchor {
	return diagram.Anchor{ID: id, Type: diagram.Standard(diagram.TypeServer), Anchor: o, CommunicationInterfaceID: iface}
}

func TestState_SelectionsAreIndependent(t *testing.T) {
	s := New()
	s.SelectComponent("c1")
	s.SelectConnection("conn1")
	s.SelectPointOfAttack("poa1")
	s.SelectConnectionPoint("cp1")
	s.SelectComponent("c2")

	got := s.Selected()
	assert.Equal(t, Selected{
		ComponentID:       "c2",
		ConnectionID:      "conn1",
		PointOfAttackID:   "poa1",
		ConnectionPointID: "cp1",
	}, got)

	s.Deselect()
	assert.Equal(t, Selected{}, s.Selected())
}

func TestState_DraftLifecycle(t *testing.T) {
	s := New()
	_, st := s.Draft()
	assert.Equal(t, DraftIdle, st)

	first := anchor("a", diagram.OrientationRight, "i1")
	_, res := s.Click(first)
	assert.Equal(t, ClickStarted, res)

	pending, st := s.Draft()
	assert.Equal(t, DraftPending, st)
	assert.Equal(t, first, pending)

	second := anchor("b", diagram.OrientationLeft, "")
	from, res := s.Click(second)
	assert.Equal(t, ClickCompletes, res)
	assert.Equal(t, first, from)

	// Still pending until the caller commits.
	_, st = s.Draft()
	assert.Equal(t, DraftPending, st)

	assert.True(t, s.Commit(from))
	_, st = s.Draft()
	assert.Equal(t, DraftIdle, st)
}

func TestState_ClickingSameAnchorIsNoop(t *testing.T) {
	s := New()
	first := anchor("a", diagram.OrientationTop, "")
	s.Click(first)

	from, res := s.Click(first)
	assert.Equal(t, ClickIgnored, res)
	assert.Equal(t, first, from)

	_, st := s.Draft()
	assert.Equal(t, DraftPending, st)
}

func TestState_SameComponentOtherOrientationCompletes(t *testing.T) {
	s := New()
	s.Click(anchor("a", diagram.OrientationTop, ""))

	_, res := s.Click(anchor("a", diagram.OrientationBottom, ""))
	assert.Equal(t, ClickCompletes, res)
}

func TestState_CommitWithStaleAnchor(t *testing.T) {
	s := New()
	s.Click(anchor("a", diagram.OrientationTop, ""))
	s.ResetDraft()
	s.Click(anchor("b", diagram.OrientationTop, ""))

	assert.False(t, s.Commit(anchor("a", diagram.OrientationTop, "")))
	_, st := s.Draft()
	assert.Equal(t, DraftPending, st)
}

func TestState_InUseIsASet(t *testing.T) {
	s := New()

	assert.True(t, s.AddInUse("c1"))
	assert.False(t, s.AddInUse("c1"))
	assert.True(t, s.IsAnyComponentInUse())

	assert.True(t, s.RemoveInUse("c1"))
	assert.False(t, s.IsInUse("c1"))
	assert.False(t, s.IsAnyComponentInUse())

	assert.False(t, s.RemoveInUse("c1"))
	assert.False(t, s.RemoveInUse("never-added"))
}

func TestState_Forget(t *testing.T) {
	s := New()
	s.SelectComponent("c1")
	s.SelectConnection("conn1")
	s.SelectPointOfAttack("poa1")
	s.SelectConnectionPoint("keep")
	s.AddInUse("c1")
	s.AddInUse("c2")
	s.Click(anchor("c1", diagram.OrientationTop, ""))

	s.Forget([]string{"c1"}, []string{"conn1"}, []string{"poa1"}, nil)

	got := s.Selected()
	assert.Empty(t, got.ComponentID)
	assert.Empty(t, got.ConnectionID)
	assert.Empty(t, got.PointOfAttackID)
	assert.Equal(t, "keep", got.ConnectionPointID)
	require.Equal(t, []string{"c2"}, s.InUse())

	_, st := s.Draft()
	assert.Equal(t, DraftIdle, st)
}
