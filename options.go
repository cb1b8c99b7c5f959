package threatmodel

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/threatmodel/config"
	"github.com/zero-day-ai/threatmodel/remote"
	"github.com/zero-day-ai/threatmodel/rules"
)

// Option configures an Editor.
type Option func(*editorConfig)

// editorConfig holds configuration for an Editor instance.
type editorConfig struct {
	logger        *slog.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider

	backend  remote.Backend
	presence Presence
	rules    []rules.Rule

	gridSize        float64
	connectionLabel string
	textDelay       time.Duration
	idleDelay       time.Duration
	saveTimeout     time.Duration
	now             func() time.Time
}

func defaultEditorConfig() editorConfig {
	return editorConfig{
		logger:          slog.Default(),
		gridSize:        config.DefaultGridSize,
		connectionLabel: config.DefaultConnectionLabel,
		textDelay:       config.DefaultTextDebounce,
		idleDelay:       config.DefaultIdleDelay,
		saveTimeout:     config.DefaultRequestTimeout,
		now:             time.Now,
	}
}

// WithLogger sets a custom logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *editorConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets an OpenTelemetry tracer for save rounds.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *editorConfig) {
		c.tracer = tracer
	}
}

// WithMeterProvider enables autosave metrics.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *editorConfig) {
		c.meterProvider = provider
	}
}

// WithBackend sets where the system is loaded from and saved to. Without a
// backend the editor works in memory and every save succeeds locally.
func WithBackend(backend remote.Backend) Option {
	return func(c *editorConfig) {
		c.backend = backend
	}
}

// WithPresence shares in-use components with collaborators.
func WithPresence(p Presence) Option {
	return func(c *editorConfig) {
		c.presence = p
	}
}

// WithRules replaces the default connection rule table.
func WithRules(table []rules.Rule) Option {
	return func(c *editorConfig) {
		c.rules = table
	}
}

// WithGridSize sets the snapping grid spacing.
func WithGridSize(size float64) Option {
	return func(c *editorConfig) {
		if size > 0 {
			c.gridSize = size
		}
	}
}

// WithConnectionLabel sets the prefix of synthesized connection names.
func WithConnectionLabel(label string) Option {
	return func(c *editorConfig) {
		if label != "" {
			c.connectionLabel = label
		}
	}
}

// WithTextDebounce sets how long text edits wait before they are committed.
func WithTextDebounce(d time.Duration) Option {
	return func(c *editorConfig) {
		if d > 0 {
			c.textDelay = d
		}
	}
}

// WithIdleDelay sets how long edits must pause before autosave runs.
func WithIdleDelay(d time.Duration) Option {
	return func(c *editorConfig) {
		if d > 0 {
			c.idleDelay = d
		}
	}
}

// WithSaveTimeout bounds a single save request.
func WithSaveTimeout(d time.Duration) Option {
	return func(c *editorConfig) {
		if d > 0 {
			c.saveTimeout = d
		}
	}
}

// WithClock overrides the clock used for save timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *editorConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithConfig applies the editor, autosave and rules sections of a loaded
// configuration. Backend, presence and telemetry are built by the caller.
func WithConfig(cfg *config.Config) Option {
	return func(c *editorConfig) {
		if cfg == nil {
			return
		}
		c.gridSize = cfg.Editor.GetGridSize()
		c.connectionLabel = cfg.Editor.GetConnectionLabel()
		c.textDelay = cfg.Editor.GetTextDebounce()
		c.idleDelay = cfg.Autosave.GetIdleDelay()
		c.saveTimeout = cfg.Autosave.GetTimeout()
		if len(cfg.Rules) > 0 {
			c.rules = cfg.Rules
		}
	}
}
