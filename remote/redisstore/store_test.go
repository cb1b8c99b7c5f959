package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/redisconn"
	"github.com/zero-day-ai/threatmodel/remote"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := New(Options{
		Options: redisconn.Options{
			URL:            fmt.Sprintf("redis://%s", mr.Addr()),
			ConnectTimeout: 5 * time.Second,
		},
		Prefix: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func sampleSystem() remote.System {
	comp := diagram.Component{ID: "c1", ProjectID: "p1", Name: "API", Type: diagram.Custom(7), X: 10, Y: 20}
	return remote.System{
		ProjectID: "p1",
		Data: remote.SystemData{
			Components: []diagram.Component{comp},
			PointsOfAttack: []diagram.PointOfAttack{
				{ID: "a1", ProjectID: "p1", ComponentID: "c1", Type: diagram.PointOfAttackUserInterface, Assets: []int{1, 2}},
			},
		},
	}
}

func TestGetSystem_None(t *testing.T) {
	s, _ := setupTestStore(t)

	sys, err := s.GetSystem(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, sys)
}

func TestSaveAndGet(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	saved, err := s.SaveSystem(ctx, sampleSystem())
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, fixed, saved.LastSave())

	assert.True(t, mr.Exists("test:system:p1"))
	members, err := s.client.SMembers(ctx, "test:systems").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, members)

	got, err := s.GetSystem(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.ID, got.ID)
	require.Len(t, got.Data.Components, 1)
	id, ok := got.Data.Components[0].Type.CustomID()
	assert.True(t, ok)
	assert.Equal(t, 7, id)
	assert.Equal(t, []int{1, 2}, got.Data.PointsOfAttack[0].Assets)

	// Second save keeps the id and bumps the revision.
	got.Data.Components[0].Name = "Gateway"
	again, err := s.SaveSystem(ctx, *got)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, again.ID)

	rev, err := s.Revision(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
}

func TestSaveSystem_RequiresProject(t *testing.T) {
	s, _ := setupTestStore(t)

	_, err := s.SaveSystem(context.Background(), remote.System{})
	assert.ErrorIs(t, err, remote.ErrSave)
}

func TestGetSystem_Corrupt(t *testing.T) {
	s, _ := setupTestStore(t)
	require.NoError(t, s.client.HSet(context.Background(), "test:system:p1", "id", "x", "data", "{not json").Err())

	_, err := s.GetSystem(context.Background(), "p1")
	assert.ErrorIs(t, err, remote.ErrLoad)
}

func TestListAndDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"p2", "p1"} {
		sys := sampleSystem()
		sys.ProjectID = id
		_, err := s.SaveSystem(ctx, sys)
		require.NoError(t, err)
	}

	ids, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)

	require.NoError(t, s.DeleteSystem(ctx, "p1"))
	ids, err = s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids)

	sys, err := s.GetSystem(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, sys)

	rev, err := s.Revision(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, rev)
}

func TestServerDown(t *testing.T) {
	s, mr := setupTestStore(t)
	mr.Close()

	_, err := s.GetSystem(context.Background(), "p1")
	assert.ErrorIs(t, err, remote.ErrLoad)
	assert.Error(t, s.Ping(context.Background()))
}
