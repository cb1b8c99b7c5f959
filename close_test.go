package threatmodel

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/redisconn"
	"github.com/zero-day-ai/threatmodel/remote/redisstore"
)

type failingCloser struct {
	err   error
	calls int
}

func (f *failingCloser) Close() error {
	f.calls++
	return f.err
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestCloseWithLog_Nil(t *testing.T) {
	logger, buf := bufferLogger()

	CloseWithLog(nil, logger, "presence tracker")

	assert.Empty(t, buf.String())
}

func TestCloseWithLog_Editor(t *testing.T) {
	logger, buf := bufferLogger()
	backend := newMemoryBackend()

	e, err := New("p1", WithBackend(backend), WithLogger(logger))
	require.NoError(t, err)

	// twice, as deferred cleanup after an explicit Close does
	CloseWithLog(e, logger, "editor")
	CloseWithLog(e, logger, "editor")

	assert.NotContains(t, buf.String(), "failed to close resource")

	_, err = e.CreateComponent(diagram.Standard(diagram.TypeServer), "late", 0, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWithLog_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, buf := bufferLogger()

	s, err := redisstore.New(redisstore.Options{Options: redisconn.Options{URL: "redis://" + mr.Addr()}})
	require.NoError(t, err)

	CloseWithLog(s, logger, "redis backend")
	assert.Empty(t, buf.String())

	// a closed client refuses a second close
	CloseWithLog(s, logger, "redis backend")
	out := buf.String()
	assert.Contains(t, out, "failed to close resource")
	assert.Contains(t, out, "resource=\"redis backend\"")
	assert.Contains(t, out, "level=WARN")
}

func TestCloseWithLog_Error(t *testing.T) {
	logger, buf := bufferLogger()
	c := &failingCloser{err: errors.New("lease revoke failed")}

	func() {
		defer CloseWithLog(c, logger, "session registry")
	}()

	assert.Equal(t, 1, c.calls)
	assert.Contains(t, buf.String(), "session registry")
	assert.Contains(t, buf.String(), "lease revoke failed")
}

func TestCloseWithLog_NilLogger(t *testing.T) {
	c := &failingCloser{err: errors.New("boom")}

	require.NotPanics(t, func() {
		CloseWithLog(c, nil, "rest backend")
	})
	assert.Equal(t, 1, c.calls)
}

func TestCloseWithLog_OnlyFailuresLogged(t *testing.T) {
	logger, buf := bufferLogger()

	ok := &failingCloser{}
	bad := &failingCloser{err: errors.New("connection reset")}

	func() {
		defer CloseWithLog(bad, logger, "presence tracker")
		defer CloseWithLog(ok, logger, "redis backend")
	}()

	out := buf.String()
	assert.Contains(t, out, "presence tracker")
	assert.Contains(t, out, "connection reset")
	assert.NotContains(t, out, "redis backend")
}
