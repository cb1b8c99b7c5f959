package threatmodel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zero-day-ai/threatmodel/autosave"
	"github.com/zero-day-ai/threatmodel/cascade"
	"github.com/zero-day-ai/threatmodel/debounce"
	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/remote"
	"github.com/zero-day-ai/threatmodel/rules"
	"github.com/zero-day-ai/threatmodel/selection"
	"github.com/zero-day-ai/threatmodel/selectors"
	"github.com/zero-day-ai/threatmodel/store"
)

// Presence shares which components this client is manipulating.
// *presence.Tracker implements it.
type Presence interface {
	MarkInUse(ctx context.Context, componentID string) error
	Release(ctx context.Context, componentID string) error
}

// Alert is a one-shot notification about a failure the user should see.
type Alert struct {
	Op      string
	Kind    string
	Message string
	Err     error
	At      time.Time
}

// TextField names a debounced text input.
type TextField string

const (
	TextComponentName        TextField = "component.name"
	TextComponentDescription TextField = "component.description"
	TextConnectionName       TextField = "connection.name"
)

type textKey struct {
	field TextField
	id    string
}

// Editor is the editing session of one project's system diagram.
//
// Thread-safety: all methods are safe for concurrent use. Listeners run on
// the goroutine that caused the event and must not block.
type Editor struct {
	cfg       editorConfig
	projectID string

	store     *store.Store
	selection *selection.State
	rules     *rules.Engine
	selectors *selectors.Selectors
	autosaver *autosave.Autosaver

	mu       sync.Mutex
	systemID string
	texts    map[textKey]*debounce.Debouncer[string]
	closed   bool

	alertListeners  []func(Alert)
	authListeners   []func(error)
	statusListeners []func(autosave.View)
}

// New creates an editor for the given project. Call Load before editing so
// that autosave knows the backend state.
func New(projectID string, opts ...Option) (*Editor, error) {
	if projectID == "" {
		return nil, NewConfigurationError("New", errors.New("project id is required"))
	}

	cfg := defaultEditorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var ruleOpts []rules.Option
	if len(cfg.rules) > 0 {
		ruleOpts = append(ruleOpts, rules.WithRules(cfg.rules))
	}
	engine, err := rules.New(ruleOpts...)
	if err != nil {
		return nil, NewConfigurationError("New", err)
	}

	e := &Editor{
		cfg:       cfg,
		projectID: projectID,
		store:     store.New(projectID, store.WithLogger(cfg.logger)),
		selection: selection.New(),
		rules:     engine,
		texts:     make(map[textKey]*debounce.Debouncer[string]),
	}
	e.selectors = selectors.New(e.store)

	saveOpts := []autosave.Option{
		autosave.WithIdleDelay(cfg.idleDelay),
		autosave.WithTimeout(cfg.saveTimeout),
		autosave.WithLogger(cfg.logger),
		autosave.WithClock(cfg.now),
	}
	if cfg.tracer != nil {
		saveOpts = append(saveOpts, autosave.WithTracer(cfg.tracer))
	}
	if cfg.meterProvider != nil {
		saveOpts = append(saveOpts, autosave.WithMeterProvider(cfg.meterProvider))
	}
	e.autosaver, err = autosave.New(e.store, autosave.SaverFunc(e.save), saveOpts...)
	if err != nil {
		return nil, NewInternalError("New", err)
	}
	e.autosaver.OnChange(e.onStatus)

	return e, nil
}

// save sends a snapshot to the backend and remembers the system id it
// assigned.
func (e *Editor) save(ctx context.Context, snap store.Snapshot) error {
	if e.cfg.backend == nil {
		return nil
	}
	sys := remote.FromSnapshot(snap, e.currentSystemID(), e.cfg.now())
	accepted, err := e.cfg.backend.SaveSystem(ctx, sys)
	if err != nil {
		if !errors.Is(err, remote.ErrSave) {
			err = fmt.Errorf("%w: %w", remote.ErrSave, err)
		}
		return err
	}
	if accepted != nil && accepted.ID != "" {
		e.mu.Lock()
		e.systemID = accepted.ID
		e.mu.Unlock()
	}
	return nil
}

func (e *Editor) onStatus(v autosave.View) {
	if v.Status == autosave.StatusFailed && v.LastError != nil {
		e.alert("Editor.Save", v.LastError)
	}

	e.mu.Lock()
	listeners := slices.Clone(e.statusListeners)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}

// alert notifies alert listeners and, for authentication failures, auth
// listeners as well.
func (e *Editor) alert(op string, err error) {
	kind := classify(err)
	a := Alert{
		Op:      op,
		Kind:    kind,
		Message: err.Error(),
		Err:     err,
		At:      e.cfg.now(),
	}

	e.mu.Lock()
	alerts := slices.Clone(e.alertListeners)
	var auth []func(error)
	if kind == KindAuthentication {
		auth = append(auth, e.authListeners...)
	}
	e.mu.Unlock()

	for _, fn := range alerts {
		fn(a)
	}
	for _, fn := range auth {
		fn(err)
	}
}

// OnAlert registers a listener for user-visible failures.
func (e *Editor) OnAlert(fn func(Alert)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alertListeners = append(e.alertListeners, fn)
}

// OnAuthError registers a listener for rejected credentials.
func (e *Editor) OnAuthError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authListeners = append(e.authListeners, fn)
}

// OnStatusChange registers a listener for autosave state transitions.
func (e *Editor) OnStatusChange(fn func(autosave.View)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusListeners = append(e.statusListeners, fn)
}

func (e *Editor) currentSystemID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.systemID
}

func (e *Editor) open(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return &Error{Op: op, Kind: KindInternal, Err: ErrClosed}
	}
	return nil
}

// ProjectID returns the project being edited.
func (e *Editor) ProjectID() string { return e.projectID }

// SystemID returns the backend id of the system, or "" before the first save.
func (e *Editor) SystemID() string { return e.currentSystemID() }

// Store exposes the underlying graph store.
func (e *Editor) Store() *store.Store { return e.store }

// Selection exposes the interaction state.
func (e *Editor) Selection() *selection.State { return e.selection }

// Model returns the read models for the current revision.
func (e *Editor) Model() *selectors.Model { return e.selectors.Model() }

// View returns the autosave state.
func (e *Editor) View() autosave.View { return e.autosaver.View() }

// SaveStatus returns the presentation of the autosave state.
func (e *Editor) SaveStatus() selectors.SaveStatus {
	return selectors.SaveStatusOf(e.autosaver.View())
}

// Load fetches the project's system from the backend and replaces the
// diagram with it. A project without a system loads empty. On failure the
// diagram is left as it was and an alert is raised.
func (e *Editor) Load(ctx context.Context) error {
	const op = "Editor.Load"
	if err := e.open(op); err != nil {
		return err
	}

	var sys *remote.System
	if e.cfg.backend != nil {
		var err error
		sys, err = e.cfg.backend.GetSystem(ctx, e.projectID)
		if err != nil {
			if !errors.Is(err, remote.ErrLoad) {
				err = fmt.Errorf("%w: %w", remote.ErrLoad, err)
			}
			e.alert(op, err)
			e.cfg.logger.Error("failed to load system", "project_id", e.projectID, "error", err)
			return wrapErr(op, err)
		}
	}

	e.cancelAllTexts()
	e.selection.Deselect()

	if sys == nil {
		e.store.Reset(e.projectID)
		e.mu.Lock()
		e.systemID = ""
		e.mu.Unlock()
		e.autosaver.Loaded(time.Time{})
		e.cfg.logger.Info("no system stored, starting empty", "project_id", e.projectID)
		return nil
	}

	// Load replaces the entities in place so fields the backend does not
	// round-trip survive a reload.
	e.store.Load(sys.Data.Components, sys.Data.Connections, sys.Data.ConnectionPoints, sys.Data.PointsOfAttack)
	e.mu.Lock()
	e.systemID = sys.ID
	e.mu.Unlock()
	e.autosaver.Loaded(sys.LastSave())

	e.cfg.logger.Info("system loaded",
		"project_id", e.projectID,
		"system_id", sys.ID,
		"components", len(sys.Data.Components),
		"connections", len(sys.Data.Connections))
	return nil
}

// CreateComponent places a new component with its default points of attack.
func (e *Editor) CreateComponent(kind diagram.ComponentKind, name string, x, y float64) (diagram.Component, error) {
	const op = "Editor.CreateComponent"
	if err := e.open(op); err != nil {
		return diagram.Component{}, err
	}
	if !kind.IsValid() {
		return diagram.Component{}, wrapErr(op, fmt.Errorf("%w: component type %s", store.ErrInvalidEntity, kind))
	}

	c := diagram.NewComponent(e.projectID, kind, name, x, y, e.cfg.gridSize)
	err := e.store.Batch(func(tx *store.Tx) error {
		if err := tx.CreateComponent(c); err != nil {
			return err
		}
		for _, p := range diagram.SeedPointsOfAttack(c) {
			if err := tx.CreatePointOfAttack(p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return diagram.Component{}, wrapErr(op, err)
	}
	return c, nil
}

// MoveComponent moves a component and asks the renderer to reroute every
// connection attached to it.
func (e *Editor) MoveComponent(id string, x, y float64) error {
	const op = "Editor.MoveComponent"
	if err := e.open(op); err != nil {
		return err
	}
	return wrapErr(op, e.store.Batch(func(tx *store.Tx) error {
		if err := tx.UpdateComponent(id, func(c *diagram.Component) { c.MoveTo(x, y, e.cfg.gridSize) }); err != nil {
			return err
		}
		for _, conn := range tx.Snapshot().ConnectionsOf(id) {
			if err := tx.UpdateConnection(conn.ID, func(c *diagram.Connection) { c.Recalculate = true }); err != nil {
				return err
			}
		}
		return nil
	}))
}

// SetAlwaysShowAnchors toggles the anchor display of a component.
func (e *Editor) SetAlwaysShowAnchors(id string, show bool) error {
	const op = "Editor.SetAlwaysShowAnchors"
	if err := e.open(op); err != nil {
		return err
	}
	return wrapErr(op, e.store.UpdateComponent(id, func(c *diagram.Component) {
		v := show
		c.AlwaysShowAnchors = &v
	}))
}

// RenameComponent records a name edit. The store is updated once typing
// pauses for the text debounce delay; PendingText returns the draft until then.
func (e *Editor) RenameComponent(id, name string) error {
	return e.editText("Editor.RenameComponent", TextComponentName, id, name)
}

// DescribeComponent records a description edit, debounced like RenameComponent.
func (e *Editor) DescribeComponent(id, description string) error {
	return e.editText("Editor.DescribeComponent", TextComponentDescription, id, description)
}

// RenameConnection records a connection name edit, debounced like
// RenameComponent.
func (e *Editor) RenameConnection(id, name string) error {
	return e.editText("Editor.RenameConnection", TextConnectionName, id, name)
}

// PendingText returns the draft of a text field that has not been committed
// to the store yet.
func (e *Editor) PendingText(field TextField, id string) (string, bool) {
	e.mu.Lock()
	d, ok := e.texts[textKey{field, id}]
	e.mu.Unlock()
	if !ok {
		return "", false
	}
	return d.Peek()
}

func (e *Editor) editText(op string, field TextField, id, value string) error {
	if err := e.open(op); err != nil {
		return err
	}

	snap := e.store.Snapshot()
	switch field {
	case TextConnectionName:
		if _, ok := snap.Connection(id); !ok {
			return NewNotFoundError(op, fmt.Errorf("%w: connection %s", store.ErrNotFound, id))
		}
	default:
		if _, ok := snap.Component(id); !ok {
			return NewNotFoundError(op, fmt.Errorf("%w: component %s", store.ErrNotFound, id))
		}
	}

	key := textKey{field, id}
	e.mu.Lock()
	d, ok := e.texts[key]
	if !ok {
		d = debounce.New(e.cfg.textDelay, func(v string) { e.commitText(key, v) })
		e.texts[key] = d
	}
	e.mu.Unlock()

	d.Call(value)
	return nil
}

// commitText writes a debounced text value to the store. The entity may
// have been deleted in the meantime, which the store logs.
func (e *Editor) commitText(key textKey, value string) {
	var err error
	switch key.field {
	case TextComponentName:
		err = e.store.Batch(func(tx *store.Tx) error {
			if err := tx.UpdateComponent(key.id, func(c *diagram.Component) { c.Name = value }); err != nil {
				return err
			}
			snap := tx.Snapshot()
			for _, p := range snap.PointsOfAttackOf(key.id) {
				if err := tx.UpdatePointOfAttack(p.ID, func(p *diagram.PointOfAttack) { p.ComponentName = value }); err != nil {
					return err
				}
			}
			for _, cp := range snap.ConnectionPointsOf(key.id) {
				if err := tx.UpdateConnectionPoint(cp.ID, func(cp *diagram.ConnectionPoint) { cp.ComponentName = value }); err != nil {
					return err
				}
			}
			return nil
		})
	case TextComponentDescription:
		err = e.store.UpdateComponent(key.id, func(c *diagram.Component) { c.Description = value })
	case TextConnectionName:
		err = e.store.UpdateConnection(key.id, func(c *diagram.Connection) { c.Name = value })
	}
	if err != nil {
		e.cfg.logger.Warn("text edit dropped",
			"field", string(key.field),
			"id", key.id,
			"error", err)
	}
}

func (e *Editor) flushTexts() {
	e.mu.Lock()
	pending := make([]*debounce.Debouncer[string], 0, len(e.texts))
	for _, d := range e.texts {
		pending = append(pending, d)
	}
	e.mu.Unlock()

	for _, d := range pending {
		d.Flush()
	}
}

// dropTexts discards text drafts of entities that no longer exist.
func (e *Editor) dropTexts(componentIDs, connectionIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range componentIDs {
		for _, f := range []TextField{TextComponentName, TextComponentDescription} {
			if d, ok := e.texts[textKey{f, id}]; ok {
				d.Cancel()
				delete(e.texts, textKey{f, id})
			}
		}
	}
	for _, id := range connectionIDs {
		if d, ok := e.texts[textKey{TextConnectionName, id}]; ok {
			d.Cancel()
			delete(e.texts, textKey{TextConnectionName, id})
		}
	}
}

func (e *Editor) cancelAllTexts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, d := range e.texts {
		d.Cancel()
		delete(e.texts, k)
	}
}

// forget clears selection state and text drafts for removed entities.
func (e *Editor) forget(plan cascade.Plan) {
	e.selection.Forget(plan.Components, plan.Connections, plan.PointsOfAttack, plan.ConnectionPoints)
	e.dropTexts(plan.Components, plan.Connections)
}

// DeleteComponent removes a component together with its connections,
// points of attack and connection points.
func (e *Editor) DeleteComponent(id string) error {
	const op = "Editor.DeleteComponent"
	if err := e.open(op); err != nil {
		return err
	}

	inUse := e.selection.IsInUse(id)
	plan, err := cascade.DeleteComponent(e.store, id)
	if err != nil {
		return wrapErr(op, err)
	}
	e.forget(plan)

	if inUse && e.cfg.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.saveTimeout)
		defer cancel()
		if err := e.cfg.presence.Release(ctx, id); err != nil {
			e.cfg.logger.Warn("failed to release component presence", "component_id", id, "error", err)
		}
	}

	e.cfg.logger.Debug("component deleted",
		"component_id", id,
		"connections", len(plan.Connections),
		"points_of_attack", len(plan.PointsOfAttack))
	return nil
}

// ClickAnchor feeds an anchor click into the connector gesture. The first
// click starts a draft; a click on another anchor creates the connection and
// returns it. A rejected pair returns an invalid_connection error and keeps
// the draft so the user can pick another target.
func (e *Editor) ClickAnchor(a diagram.Anchor) (*diagram.Connection, error) {
	const op = "Editor.ClickAnchor"
	if err := e.open(op); err != nil {
		return nil, err
	}

	from, result := e.selection.Click(a)
	if result != selection.ClickCompletes {
		return nil, nil
	}

	conn, err := e.rules.Connect(e.store.Snapshot(), e.cfg.connectionLabel, from, a)
	if err != nil {
		werr := wrapErr(op, err)
		if reason, ok := rules.ReasonOf(err); ok {
			var te *Error
			if errors.As(werr, &te) {
				werr = te.WithContext(map[string]any{"reason": string(reason)})
			}
		}
		return nil, werr
	}

	if err := e.store.CreateConnection(conn); err != nil {
		return nil, wrapErr(op, err)
	}
	e.selection.Commit(from)
	return &conn, nil
}

// ResetConnector cancels a pending connector gesture.
func (e *Editor) ResetConnector() {
	e.selection.ResetDraft()
}

// SelectComponent focuses a component. An empty id clears the selection.
func (e *Editor) SelectComponent(id string) { e.selection.SelectComponent(id) }

// SelectConnection focuses a connection. An empty id clears the selection.
func (e *Editor) SelectConnection(id string) { e.selection.SelectConnection(id) }

// SelectPointOfAttack focuses a point of attack. An empty id clears the selection.
func (e *Editor) SelectPointOfAttack(id string) { e.selection.SelectPointOfAttack(id) }

// SelectConnectionPoint focuses a connection point. An empty id clears the selection.
func (e *Editor) SelectConnectionPoint(id string) { e.selection.SelectConnectionPoint(id) }

// Deselect clears every selection and the connector draft.
func (e *Editor) Deselect() { e.selection.Deselect() }

// SetWaypoints stores the path the renderer computed for a connection.
func (e *Editor) SetWaypoints(id string, waypoints []float64) error {
	const op = "Editor.SetWaypoints"
	if err := e.open(op); err != nil {
		return err
	}
	points := append([]float64(nil), waypoints...)
	return wrapErr(op, e.store.UpdateConnection(id, func(c *diagram.Connection) {
		c.Waypoints = points
		c.Recalculate = false
	}))
}

// DeleteConnection removes a connection and its points of attack.
func (e *Editor) DeleteConnection(id string) error {
	const op = "Editor.DeleteConnection"
	if err := e.open(op); err != nil {
		return err
	}
	plan, err := cascade.DeleteConnection(e.store, id)
	if err != nil {
		return wrapErr(op, err)
	}
	e.forget(plan)
	return nil
}

// AddAsset attaches an asset to a point of attack. Adding an attached asset
// is a no-op.
func (e *Editor) AddAsset(pointOfAttackID string, assetID int) error {
	const op = "Editor.AddAsset"
	if err := e.open(op); err != nil {
		return err
	}
	snap := e.store.Snapshot()
	p, ok := snap.PointOfAttack(pointOfAttackID)
	if !ok {
		return NewNotFoundError(op, fmt.Errorf("%w: point of attack %s", store.ErrNotFound, pointOfAttackID))
	}
	if p.HasAsset(assetID) {
		return nil
	}
	return wrapErr(op, e.store.UpdatePointOfAttack(pointOfAttackID, func(p *diagram.PointOfAttack) { p.AddAsset(assetID) }))
}

// RemoveAsset detaches an asset from a point of attack. Removing an absent
// asset is a no-op.
func (e *Editor) RemoveAsset(pointOfAttackID string, assetID int) error {
	const op = "Editor.RemoveAsset"
	if err := e.open(op); err != nil {
		return err
	}
	snap := e.store.Snapshot()
	p, ok := snap.PointOfAttack(pointOfAttackID)
	if !ok {
		return NewNotFoundError(op, fmt.Errorf("%w: point of attack %s", store.ErrNotFound, pointOfAttackID))
	}
	if !p.HasAsset(assetID) {
		return nil
	}
	return wrapErr(op, e.store.UpdatePointOfAttack(pointOfAttackID, func(p *diagram.PointOfAttack) { p.RemoveAsset(assetID) }))
}

// AddCommunicationInterface adds a named interface to a system or custom
// component, creating its connection point and point of attack.
func (e *Editor) AddCommunicationInterface(componentID, name, ifaceType string) (diagram.CommunicationInterface, error) {
	const op = "Editor.AddCommunicationInterface"
	if err := e.open(op); err != nil {
		return diagram.CommunicationInterface{}, err
	}

	var ci diagram.CommunicationInterface
	err := e.store.Batch(func(tx *store.Tx) error {
		c, ok := tx.Snapshot().Component(componentID)
		if !ok {
			return fmt.Errorf("%w: component %s", store.ErrNotFound, componentID)
		}
		if !c.Type.IsSystemOrCustom() {
			return fmt.Errorf("%w: %s components have no communication interfaces", ErrNotAllowed, c.Type)
		}

		var cp diagram.ConnectionPoint
		var poa diagram.PointOfAttack
		ci, cp, poa = diagram.NewCommunicationInterface(c, name, ifaceType)
		if err := tx.UpdateComponent(componentID, func(c *diagram.Component) {
			c.CommunicationInterfaces = append(c.CommunicationInterfaces, ci)
		}); err != nil {
			return err
		}
		if err := tx.CreateConnectionPoint(cp); err != nil {
			return err
		}
		return tx.CreatePointOfAttack(poa)
	})
	if err != nil {
		return diagram.CommunicationInterface{}, wrapErr(op, err)
	}
	return ci, nil
}

// DeleteCommunicationInterface removes an interface from a component along
// with its connection point, its point of attack and every connection
// attached through it.
func (e *Editor) DeleteCommunicationInterface(componentID, ifaceID string) error {
	const op = "Editor.DeleteCommunicationInterface"
	if err := e.open(op); err != nil {
		return err
	}
	plan, err := cascade.DeleteInterface(e.store, componentID, ifaceID)
	if err != nil {
		return wrapErr(op, err)
	}
	e.forget(plan)
	return nil
}

// MarkComponentInUse records that the user started manipulating a component
// and tells collaborators. Presence failures are logged and alerted but do
// not fail the call.
func (e *Editor) MarkComponentInUse(ctx context.Context, id string) error {
	const op = "Editor.MarkComponentInUse"
	if err := e.open(op); err != nil {
		return err
	}
	if !e.selection.AddInUse(id) || e.cfg.presence == nil {
		return nil
	}
	if err := e.cfg.presence.MarkInUse(ctx, id); err != nil {
		e.cfg.logger.Warn("failed to publish presence", "component_id", id, "error", err)
		e.alert(op, err)
	}
	return nil
}

// MarkComponentReleased records that the user stopped manipulating a
// component.
func (e *Editor) MarkComponentReleased(ctx context.Context, id string) error {
	const op = "Editor.MarkComponentReleased"
	if err := e.open(op); err != nil {
		return err
	}
	if !e.selection.RemoveInUse(id) || e.cfg.presence == nil {
		return nil
	}
	if err := e.cfg.presence.Release(ctx, id); err != nil {
		e.cfg.logger.Warn("failed to publish presence", "component_id", id, "error", err)
		e.alert(op, err)
	}
	return nil
}

// Flush commits pending text edits and saves without waiting for the idle
// delay. It returns once the diagram is up to date or a save failed.
func (e *Editor) Flush(ctx context.Context) error {
	const op = "Editor.Flush"
	if err := e.open(op); err != nil {
		return err
	}
	e.flushTexts()
	return wrapErr(op, e.autosaver.Flush(ctx))
}

// SaveNow commits pending text edits and saves immediately, retrying after
// a failed save.
func (e *Editor) SaveNow(ctx context.Context) error {
	const op = "Editor.SaveNow"
	if err := e.open(op); err != nil {
		return err
	}
	e.flushTexts()
	return wrapErr(op, e.autosaver.SaveNow(ctx))
}

// Close commits pending text edits and stops autosave. Unsaved edits are
// not saved; call Flush first for that.
func (e *Editor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.flushTexts()

	e.mu.Lock()
	texts := make([]*debounce.Debouncer[string], 0, len(e.texts))
	for _, d := range e.texts {
		texts = append(texts, d)
	}
	e.mu.Unlock()
	for _, d := range texts {
		d.Stop()
	}

	return e.autosaver.Close()
}
