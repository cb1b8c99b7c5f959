// Package autosave keeps the backend copy of a system diagram in step with
// the live store.
//
// Edits mark the diagram not up to date and hold saving until the user has
// been idle for a while. A save round sends a snapshot to the backend; when
// it succeeds the snapshot is compared with the live store, and edits that
// landed during the round leave the diagram not up to date so the next idle
// period saves them.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/threatmodel/debounce"
	"github.com/zero-day-ai/threatmodel/store"
)

// Defaults.
const (
	DefaultIdleDelay = 2 * time.Second
	DefaultTimeout   = 30 * time.Second
)

// ErrTimeout is reported when a save round exceeds the request timeout.
var ErrTimeout = errors.New("save timed out")

// Saver persists a snapshot of the diagram.
type Saver interface {
	Save(ctx context.Context, snap store.Snapshot) error
}

// SaverFunc adapts a function to the Saver interface.
type SaverFunc func(ctx context.Context, snap store.Snapshot) error

// Save calls f.
func (f SaverFunc) Save(ctx context.Context, snap store.Snapshot) error {
	return f(ctx, snap)
}

// Option configures an Autosaver.
type Option func(*Autosaver)

// WithIdleDelay sets how long the user must be idle before a save starts.
func WithIdleDelay(d time.Duration) Option {
	return func(a *Autosaver) {
		if d > 0 {
			a.idleDelay = d
		}
	}
}

// WithTimeout sets the per-round request timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Autosaver) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Autosaver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTracer enables a span per save round.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Autosaver) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

// WithMeterProvider enables save metrics.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(a *Autosaver) {
		a.meterProvider = provider
	}
}

// WithClock overrides the time source used for save timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Autosaver) {
		if now != nil {
			a.now = now
		}
	}
}

// Autosaver drives a Machine from store changes and performs save rounds.
type Autosaver struct {
	store   *store.Store
	saver   Saver
	machine *Machine

	idleDelay time.Duration
	timeout   time.Duration
	now       func() time.Time

	logger        *slog.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	metrics       *otelMetrics

	idle        *debounce.Debouncer[struct{}]
	unsubscribe func()

	// saveMu is held from Begin until the round completes, so the machine
	// is only ever in the saving state while a round runs.
	saveMu sync.Mutex

	closeOnce sync.Once
}

// New creates an Autosaver for s and starts listening for edits.
func New(s *store.Store, saver Saver, opts ...Option) (*Autosaver, error) {
	if s == nil || saver == nil {
		return nil, errors.New("autosave: store and saver are required")
	}

	a := &Autosaver{
		store:     s,
		saver:     saver,
		idleDelay: DefaultIdleDelay,
		timeout:   DefaultTimeout,
		now:       time.Now,
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(a)
	}

	metrics, err := newOTelMetrics(a.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("autosave: %w", err)
	}
	a.metrics = metrics

	a.machine = NewMachine(a.now)
	a.idle = debounce.New(a.idleDelay, func(struct{}) { a.onIdle() })
	a.unsubscribe = s.Subscribe(a.onChange)

	return a, nil
}

// Machine exposes the underlying state machine.
func (a *Autosaver) Machine() *Machine {
	return a.machine
}

// View returns the current autosave state.
func (a *Autosaver) View() View {
	return a.machine.View()
}

// OnChange registers a listener for autosave state transitions.
func (a *Autosaver) OnChange(fn func(View)) {
	a.machine.OnChange(fn)
}

// Loaded marks the store as freshly loaded from the backend.
func (a *Autosaver) Loaded(lastSave time.Time) {
	a.idle.Cancel()
	a.machine.Loaded(lastSave)
	a.store.ResetChanged()
}

func (a *Autosaver) onChange(cs store.ChangeSet) {
	// Bulk loads mirror the backend and are not edits.
	if cs.Bulk || cs.Empty() {
		return
	}
	if !a.machine.View().Initialized {
		return
	}
	a.machine.Changed()
	a.idle.Call(struct{}{})
}

func (a *Autosaver) onIdle() {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.machine.Release()
	if a.machine.Begin() {
		_ = a.round(context.Background())
	}
}

// maxFlushRounds bounds Flush when edits keep arriving during its saves.
const maxFlushRounds = 3

// Flush saves pending edits now instead of waiting for the idle delay. It
// waits for an in-flight round and returns once the diagram is up to date,
// a round fails or ctx is done.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	for i := 0; i < maxFlushRounds; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.idle.Cancel()
		a.machine.Release()
		if !a.machine.Begin() {
			return nil
		}
		if err := a.round(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SaveNow starts a save round immediately, ignoring the idle hold. It also
// retries after a failed round. It returns nil without saving when the
// diagram is already up to date.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.idle.Cancel()
	if !a.machine.BeginNow() {
		return nil
	}
	return a.round(ctx)
}

// round performs one save. The caller holds saveMu and has moved the
// machine to the saving state.
func (a *Autosaver) round(ctx context.Context) error {
	snap := a.store.Snapshot()
	ctx, span := a.startSpan(ctx, snap)

	saveCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	err := a.saver.Save(saveCtx, snap)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(saveCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, a.timeout, err)
		}
		a.machine.Failed(err)
		a.recordRound(ctx, span, snap.ProjectID(), "error", elapsed, err)
		a.logger.Error("autosave failed",
			"project_id", snap.ProjectID(),
			"revision", snap.Revision(),
			"error", err)
		return err
	}

	converged := Equal(snap, a.store.Snapshot())
	a.machine.Succeeded(converged)
	if converged {
		a.store.ResetChanged()
		a.recordRound(ctx, span, snap.ProjectID(), "ok", elapsed, nil)
		a.logger.Info("autosave succeeded",
			"project_id", snap.ProjectID(),
			"revision", snap.Revision(),
			"duration", elapsed)
		return nil
	}

	a.recordRound(ctx, span, snap.ProjectID(), "resave", elapsed, nil)
	a.logger.Info("autosave overtaken by edits",
		"project_id", snap.ProjectID(),
		"saved_revision", snap.Revision(),
		"live_revision", a.store.Revision())
	// Re-arm the idle trigger so the newer edits are saved once the user
	// pauses again.
	a.idle.Call(struct{}{})
	return nil
}

// Close stops listening for edits and waits for an in-flight idle save.
// It does not flush pending edits; call Flush first for that.
func (a *Autosaver) Close() error {
	a.closeOnce.Do(func() {
		a.unsubscribe()
		a.idle.Stop()
	})
	return nil
}
