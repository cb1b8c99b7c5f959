package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/threatmodel"
	"github.com/zero-day-ai/threatmodel/diagram"
)

func newTestEditor(t *testing.T) *threatmodel.Editor {
	t.Helper()
	e, err := threatmodel.New("demo", threatmodel.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, e.Load(context.Background()))
	return e
}

func TestParseScenario(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid",
			yaml: `
steps:
  - op: create
    ref: a
    type: SERVER
  - op: save
`,
		},
		{
			name:    "no steps",
			yaml:    "project_id: p\n",
			wantErr: "validation failed",
		},
		{
			name: "unknown op",
			yaml: `
steps:
  - op: explode
`,
			wantErr: "validation failed",
		},
		{
			name: "unknown expectation",
			yaml: `
steps:
  - op: save
    expect: sadness
`,
			wantErr: "validation failed",
		},
		{
			name: "create without type",
			yaml: `
steps:
  - op: create
    name: x
`,
			wantErr: "type is required",
		},
		{
			name: "create with unknown type",
			yaml: `
steps:
  - op: create
    type: TOASTER
`,
			wantErr: "step 1",
		},
		{
			name: "connect without target endpoint",
			yaml: `
steps:
  - op: connect
    from: {ref: a}
`,
			wantErr: "to is required",
		},
		{
			name: "endpoint side",
			yaml: `
steps:
  - op: connect
    from: {ref: a, side: diagonal}
    to: {ref: b}
`,
			wantErr: "validation failed",
		},
		{
			name: "move without target",
			yaml: `
steps:
  - op: move
    x: 10
`,
			wantErr: "target is required",
		},
		{
			name: "asset with bad point of attack",
			yaml: `
steps:
  - op: add_asset
    target: a
    point_of_attack: MOAT
    asset: 1
`,
			wantErr: "step 1",
		},
		{
			name:    "malformed",
			yaml:    "steps: [",
			wantErr: "failed to parse scenario",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseScenario([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, s.Steps, 2)
		})
	}
}

func TestRunner_Run(t *testing.T) {
	sc, err := LoadScenario("testdata/edit.yaml")
	require.NoError(t, err)
	assert.Equal(t, "demo", sc.ProjectID)

	e := newTestEditor(t)
	r := NewRunner(e)

	result, err := r.Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, "demo", result.ProjectID)
	assert.Equal(t, len(sc.Steps), result.Steps)
	assert.Equal(t, "upToDate", result.Status)
	assert.Equal(t, 4, result.Components)
	assert.Equal(t, 3, result.Connections)
	assert.Equal(t, 2, result.ConnectionPoints)
	// users 1, server 3, infrastructure 1, database 3, plus one per interface
	assert.Equal(t, 10, result.PointsOfAttack)

	snap := e.Store().Snapshot()

	api, ok := snap.Component(r.id("api"))
	require.True(t, ok)
	assert.Equal(t, "Gateway", api.Name)
	assert.Equal(t, "Public entry point", api.Description)

	login, ok := snap.Connection(r.id("login"))
	require.True(t, ok)
	assert.Equal(t, "Connection: Users -> API", login.Name)
	assert.Equal(t, []float64{100, 0, 100, 50}, login.Waypoints)

	ifacePoA, err := r.pointOfAttack(Step{Target: "api", PointOfAttack: string(diagram.PointOfAttackCommunicationInterfaces), Interface: "eth0"})
	require.NoError(t, err)
	p, ok := snap.PointOfAttack(ifacePoA)
	require.True(t, ok)
	assert.Equal(t, []int{3}, p.Assets)
	assert.Equal(t, "Gateway", p.ComponentName)
}

func TestRunner_UnexpectedError(t *testing.T) {
	sc, err := ParseScenario([]byte(`
steps:
  - op: delete
    target: ghost
`))
	require.NoError(t, err)

	_, err = NewRunner(newTestEditor(t)).Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (delete)")
	assert.Equal(t, threatmodel.KindNotFound, threatmodel.KindOf(err))
}

func TestRunner_MissingExpectedError(t *testing.T) {
	sc, err := ParseScenario([]byte(`
steps:
  - op: create
    ref: users
    type: USERS
  - op: create
    ref: api
    type: SERVER
  - op: connect
    from: {ref: users}
    to: {ref: api, side: left}
    expect: invalid_connection
`))
	require.NoError(t, err)

	_, err = NewRunner(newTestEditor(t)).Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected invalid_connection error, got none")
}

func TestRunner_InterfaceLifecycle(t *testing.T) {
	sc, err := ParseScenario([]byte(`
steps:
  - op: create
    ref: api
    type: SERVER
  - op: create
    ref: bus
    type: COMMUNICATION_INFRASTRUCTURE
    x: 300
  - op: add_interface
    ref: eth0
    target: api
    name: eth0
    type: ETHERNET
  - op: connect
    ref: link
    from: {ref: api, interface: eth0}
    to: {ref: bus, side: left}
  - op: delete_interface
    target: api
    interface: eth0
  - op: delete_connection
    target: link
    expect: not_found
`))
	require.NoError(t, err)

	result, err := NewRunner(newTestEditor(t)).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Connections)
	assert.Equal(t, 0, result.ConnectionPoints)
	assert.Equal(t, 4, result.PointsOfAttack)
}

func TestRunner_Cancelled(t *testing.T) {
	sc, err := ParseScenario([]byte("steps:\n  - op: save\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewRunner(newTestEditor(t)).Run(ctx, sc)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOps(t *testing.T) {
	ops := Ops()
	assert.Contains(t, ops, OpConnect)
	assert.Contains(t, ops, OpSave)

	// every listed op must pass validation
	for _, op := range ops {
		st := Step{Op: op, Target: "x", Type: "SERVER", Interface: "i", PointOfAttack: "USER_INTERFACE",
			From: &Endpoint{Ref: "a"}, To: &Endpoint{Ref: "b"}}
		s := Scenario{Steps: []Step{st}}
		assert.NoError(t, s.Validate(), op)
	}
}
