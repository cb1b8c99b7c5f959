package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zero-day-ai/threatmodel/config"
	"github.com/zero-day-ai/threatmodel/health"
	"github.com/zero-day-ai/threatmodel/presence"
	"github.com/zero-day-ai/threatmodel/redisconn"
	"github.com/zero-day-ai/threatmodel/remote/redisstore"
	"github.com/zero-day-ai/threatmodel/session"
)

var errUnhealthy = errors.New("dependencies are unhealthy")

// dependencyChecks returns one check per configured dependency. Each check
// opens its own connection so a failed dial is reported rather than fatal.
func dependencyChecks(cfg *config.Config, configFile string, logger *slog.Logger) []health.Check {
	var checks []health.Check

	if configFile != "" {
		checks = append(checks, health.Check{
			Name: "config",
			Run:  func(context.Context) health.Status { return health.FileCheck(configFile) },
		})
	}

	switch cfg.Backend.GetType() {
	case config.BackendREST:
		checks = append(checks, health.Check{
			Name: "rest backend",
			Run: func(ctx context.Context) health.Status {
				return health.URLCheck(ctx, cfg.Backend.REST.BaseURL)
			},
		})
	case config.BackendRedis:
		checks = append(checks, health.Check{
			Name: "redis backend",
			Run: func(ctx context.Context) health.Status {
				s, err := redisstore.New(redisOptions(cfg.Backend.Redis, logger))
				if err != nil {
					return health.Unhealthy("redis backend unreachable", map[string]any{"error": err.Error()})
				}
				defer s.Close()
				return health.PingCheck(ctx, "redis backend", s)
			},
		})
	}

	if cfg.Presence.IsEnabled() {
		checks = append(checks, health.Check{
			Name: "presence",
			Run: func(ctx context.Context) health.Status {
				t, err := presence.New("health", "tmreplay-check", presence.Options{
					Options: redisconn.Options{URL: cfg.Presence.URL},
					Prefix:  cfg.Presence.Prefix,
					Logger:  logger,
				})
				if err != nil {
					return health.Unhealthy("presence unreachable", map[string]any{"error": err.Error()})
				}
				defer t.Close()
				return health.PingCheck(ctx, "presence", t)
			},
		})
	}

	if cfg.Session != nil {
		checks = append(checks, health.Check{
			Name: "session registry",
			Run: func(ctx context.Context) health.Status {
				r, err := session.New(cfg.Session.SessionRegistry(), logger)
				if err != nil {
					return health.Unhealthy("session registry unreachable", map[string]any{"error": err.Error()})
				}
				defer r.Close()
				return health.PingCheck(ctx, "session registry", r)
			},
		})
	}

	return checks
}

func runChecks(ctx context.Context, cfg *config.Config, configFile string, w io.Writer, logger *slog.Logger) error {
	checks := dependencyChecks(cfg, configFile, logger)
	overall, results := health.RunAll(ctx, checks...)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Status  health.Status   `json:"status"`
		Results []health.Result `json:"checks"`
	}{overall, results}); err != nil {
		return fmt.Errorf("writing health report: %w", err)
	}

	if overall.IsUnhealthy() {
		return errUnhealthy
	}
	return nil
}
