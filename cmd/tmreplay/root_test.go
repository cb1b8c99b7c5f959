package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/threatmodel/health"
	"github.com/zero-day-ai/threatmodel/redisconn"
	"github.com/zero-day-ai/threatmodel/remote/redisstore"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threatmodel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCmd_InMemory(t *testing.T) {
	out, err := execute(t, "--config", "testdata/threatmodel.yaml", "--scenario", "testdata/edit.yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "project:           demo")
	assert.Contains(t, out, "status:            upToDate")
	assert.Contains(t, out, "components:        4")
	assert.NotContains(t, out, "system:")
}

func TestRootCmd_ProjectPrecedence(t *testing.T) {
	out, err := execute(t, "--config", "testdata/threatmodel.yaml", "--scenario", "testdata/edit.yaml",
		"--project", "override", "--json")
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "override", result.ProjectID)
	assert.Equal(t, 3, result.Connections)
}

func TestRootCmd_ProjectFromConfig(t *testing.T) {
	scenario := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(scenario, []byte("steps:\n  - op: save\n"), 0o600))

	out, err := execute(t, "--config", "testdata/threatmodel.yaml", "--scenario", scenario, "--json")
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "from-config", result.ProjectID)
}

func TestRootCmd_Errors(t *testing.T) {
	t.Run("missing scenario", func(t *testing.T) {
		_, err := execute(t, "--config", "testdata/threatmodel.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--scenario is required")
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := execute(t, "--config", "testdata/nope.yaml", "--scenario", "testdata/edit.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading config")
	})

	t.Run("no project", func(t *testing.T) {
		cfg := writeConfig(t, "backend:\n  type: none\nlogging:\n  level: error\n")
		scenario := filepath.Join(t.TempDir(), "s.yaml")
		require.NoError(t, os.WriteFile(scenario, []byte("steps:\n  - op: save\n"), 0o600))

		_, err := execute(t, "--config", cfg, "--scenario", scenario)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no project id")
	})

	t.Run("unexpected args", func(t *testing.T) {
		_, err := execute(t, "extra")
		require.Error(t, err)
	})
}

func TestRootCmd_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := writeConfig(t, `
backend:
  redis:
    url: redis://`+mr.Addr()+`
    prefix: replay
logging:
  level: error
`)

	out, err := execute(t, "--config", cfg, "--scenario", "testdata/edit.yaml", "--json")
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "upToDate", result.Status)
	assert.NotEmpty(t, result.SystemID)

	store, err := redisstore.New(redisstore.Options{
		Options: redisconn.Options{URL: "redis://" + mr.Addr()},
		Prefix:  "replay",
	})
	require.NoError(t, err)
	defer store.Close()

	sys, err := store.GetSystem(context.Background(), "demo")
	require.NoError(t, err)
	require.NotNil(t, sys)
	assert.Equal(t, result.SystemID, sys.ID)

	snap := sys.Snapshot()
	assert.Len(t, snap.Components(), 4)
	assert.Len(t, snap.Connections(), 3)

	// a second replay loads the saved system and adds to it
	out, err = execute(t, "--config", cfg, "--scenario", "testdata/edit.yaml", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 8, result.Components)
	assert.Equal(t, sys.ID, result.SystemID)
}

func TestRootCmd_PresenceEnabled(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := writeConfig(t, `
project_id: demo
presence:
  enabled: true
  url: redis://`+mr.Addr()+`
logging:
  level: error
`)
	scenario := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(scenario, []byte(`
steps:
  - op: create
    ref: api
    type: SERVER
  - op: in_use
    target: api
  - op: release
    target: api
`), 0o600))

	out, err := execute(t, "--config", cfg, "--scenario", scenario, "--json")
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.Components)
}

type healthReport struct {
	Status health.Status   `json:"status"`
	Checks []health.Result `json:"checks"`
}

func TestRootCmd_Check(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := writeConfig(t, `
backend:
  redis:
    url: redis://`+mr.Addr()+`
presence:
  enabled: true
  url: redis://`+mr.Addr()+`
logging:
  level: error
`)

		out, err := execute(t, "--config", cfg, "--check")
		require.NoError(t, err)

		var report healthReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.True(t, report.Status.IsHealthy())
		require.Len(t, report.Checks, 3)
		assert.Equal(t, "config", report.Checks[0].Name)
		assert.Equal(t, "redis backend", report.Checks[1].Name)
		assert.Equal(t, "presence", report.Checks[2].Name)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := writeConfig(t, `
backend:
  redis:
    url: redis://`+addr+`
logging:
  level: error
`)

		out, err := execute(t, "--config", cfg, "--check")
		require.ErrorIs(t, err, errUnhealthy)

		var report healthReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.True(t, report.Status.IsUnhealthy())
	})
}
