package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zero-day-ai/threatmodel/config"
	"github.com/zero-day-ai/threatmodel/redisconn"
	"github.com/zero-day-ai/threatmodel/remote"
	"github.com/zero-day-ai/threatmodel/remote/redisstore"
	"github.com/zero-day-ai/threatmodel/remote/rest"
)

// backendHandle is the configured backend and whatever must be closed with it.
// Backend is nil for the in-memory "none" type.
type backendHandle struct {
	Backend remote.Backend
	closer  io.Closer
	logger  *slog.Logger
}

func (b *backendHandle) Close() {
	if b.closer == nil {
		return
	}
	if err := b.closer.Close(); err != nil {
		b.logger.Warn("failed to close backend", "error", err)
	}
}

func newBackend(cfg config.BackendConfig, timeout time.Duration, logger *slog.Logger) (*backendHandle, error) {
	h := &backendHandle{logger: logger}

	switch typ := cfg.GetType(); typ {
	case config.BackendNone:
		logger.Info("no backend configured, edits stay in memory")
	case config.BackendREST:
		c, err := rest.New(restOptions(cfg.REST, timeout, logger))
		if err != nil {
			return nil, fmt.Errorf("creating rest backend: %w", err)
		}
		h.Backend = c
	case config.BackendRedis:
		s, err := redisstore.New(redisOptions(cfg.Redis, logger))
		if err != nil {
			return nil, fmt.Errorf("connecting redis backend: %w", err)
		}
		h.Backend = s
		h.closer = s
	default:
		return nil, fmt.Errorf("unknown backend type %q", typ)
	}
	return h, nil
}

func restOptions(cfg *config.RESTConfig, timeout time.Duration, logger *slog.Logger) rest.Options {
	if cfg == nil {
		return rest.Options{Timeout: timeout, Logger: logger}
	}
	return rest.Options{
		BaseURL:           cfg.BaseURL,
		Token:             cfg.GetToken(),
		Timeout:           timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	}
}

func redisOptions(cfg *config.RedisConfig, logger *slog.Logger) redisstore.Options {
	opts := redisstore.Options{Logger: logger}
	if cfg != nil {
		opts.Options = redisconn.Options{URL: cfg.URL}
		opts.Prefix = cfg.Prefix
	}
	return opts
}
