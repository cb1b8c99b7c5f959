package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/threatmodel"
	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/store"
)

// Step operations.
const (
	OpCreate           = "create"
	OpMove             = "move"
	OpRename           = "rename"
	OpDescribe         = "describe"
	OpShowAnchors      = "show_anchors"
	OpDelete           = "delete"
	OpConnect          = "connect"
	OpResetConnector   = "reset_connector"
	OpRenameConnection = "rename_connection"
	OpWaypoints        = "waypoints"
	OpDeleteConnection = "delete_connection"
	OpAddInterface     = "add_interface"
	OpDeleteInterface  = "delete_interface"
	OpAddAsset         = "add_asset"
	OpRemoveAsset      = "remove_asset"
	OpInUse            = "in_use"
	OpRelease          = "release"
	OpFlush            = "flush"
	OpSave             = "save"
)

// Scenario is a scripted editing session.
type Scenario struct {
	// ProjectID is used when no project is given on the command line.
	ProjectID string `yaml:"project_id,omitempty"`

	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`
}

// Step is one editor command. Entities are referenced by the ref given to
// them when they were created; an unknown ref is passed through as an id.
type Step struct {
	Op string `yaml:"op" validate:"required,oneof=create move rename describe show_anchors delete connect reset_connector rename_connection waypoints delete_connection add_interface delete_interface add_asset remove_asset in_use release flush save"`

	// Ref names the entity created by this step.
	Ref string `yaml:"ref,omitempty"`

	// Target is the ref of the entity the step acts on.
	Target string `yaml:"target,omitempty"`

	// Type is a component kind for create and an interface type for
	// add_interface.
	Type        string `yaml:"type,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`

	X float64 `yaml:"x,omitempty"`
	Y float64 `yaml:"y,omitempty"`

	From *Endpoint `yaml:"from,omitempty"`
	To   *Endpoint `yaml:"to,omitempty"`

	Interface     string    `yaml:"interface,omitempty"`
	PointOfAttack string    `yaml:"point_of_attack,omitempty"`
	Asset         int       `yaml:"asset,omitempty"`
	Waypoints     []float64 `yaml:"waypoints,omitempty"`
	Show          bool      `yaml:"show,omitempty"`

	// Expect is the error kind the step must fail with.
	Expect string `yaml:"expect,omitempty" validate:"omitempty,oneof=duplicate_id not_found invalid_connection save_failed load_failed authentication timeout configuration validation internal"`
}

// Endpoint is one side of a connect step.
type Endpoint struct {
	Ref       string `yaml:"ref" validate:"required"`
	Side      string `yaml:"side,omitempty" validate:"omitempty,oneof=top right bottom left"`
	Interface string `yaml:"interface,omitempty"`
}

var validate = validator.New()

// Validate checks the scenario structure and the fields each operation needs.
func (s *Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("scenario validation failed: %w", err)
	}

	for i, st := range s.Steps {
		var missing string
		switch st.Op {
		case OpCreate:
			if st.Type == "" {
				missing = "type"
			} else if _, err := diagram.ParseComponentKind(st.Type); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		case OpConnect:
			if st.From == nil {
				missing = "from"
			} else if st.To == nil {
				missing = "to"
			}
		case OpDeleteInterface:
			if st.Target == "" {
				missing = "target"
			} else if st.Interface == "" {
				missing = "interface"
			}
		case OpAddAsset, OpRemoveAsset:
			if st.Target == "" {
				missing = "target"
			} else if st.PointOfAttack == "" {
				missing = "point_of_attack"
			} else if _, err := diagram.ParsePointOfAttackType(st.PointOfAttack); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		case OpResetConnector, OpFlush, OpSave:
		default:
			if st.Target == "" {
				missing = "target"
			}
		}
		if missing != "" {
			return fmt.Errorf("step %d (%s): %s is required", i+1, st.Op, missing)
		}
	}
	return nil
}

// ParseScenario parses and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}

// Result summarizes a replayed scenario.
type Result struct {
	ProjectID        string `json:"project_id"`
	SystemID         string `json:"system_id,omitempty"`
	Steps            int    `json:"steps"`
	Status           string `json:"status"`
	HelperText       string `json:"helper_text,omitempty"`
	Components       int    `json:"components"`
	Connections      int    `json:"connections"`
	ConnectionPoints int    `json:"connection_points"`
	PointsOfAttack   int    `json:"points_of_attack"`
}

// Runner replays scenarios against an editor.
type Runner struct {
	editor *threatmodel.Editor
	refs   map[string]string
}

// NewRunner creates a runner for e. The editor must already be loaded.
func NewRunner(e *threatmodel.Editor) *Runner {
	return &Runner{editor: e, refs: make(map[string]string)}
}

// Run executes every step, then saves. A step fails the run when its error
// kind differs from what it expects.
func (r *Runner) Run(ctx context.Context, s *Scenario) (Result, error) {
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		err := r.step(ctx, st)
		if got := threatmodel.KindOf(err); got != st.Expect {
			if err == nil {
				return Result{}, fmt.Errorf("step %d (%s): expected %s error, got none", i+1, st.Op, st.Expect)
			}
			return Result{}, fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
	}

	if err := r.editor.SaveNow(ctx); err != nil {
		return Result{}, fmt.Errorf("final save: %w", err)
	}
	return r.result(len(s.Steps)), nil
}

func (r *Runner) result(steps int) Result {
	snap := r.editor.Store().Snapshot()
	view := r.editor.View()
	return Result{
		ProjectID:        r.editor.ProjectID(),
		SystemID:         r.editor.SystemID(),
		Steps:            steps,
		Status:           view.Status.String(),
		HelperText:       view.HelperText,
		Components:       snap.Count(store.KindComponent),
		Connections:      snap.Count(store.KindConnection),
		ConnectionPoints: snap.Count(store.KindConnectionPoint),
		PointsOfAttack:   snap.Count(store.KindPointOfAttack),
	}
}

func (r *Runner) id(ref string) string {
	if id, ok := r.refs[ref]; ok {
		return id
	}
	return ref
}

func (r *Runner) remember(ref, id string) {
	if ref != "" {
		r.refs[ref] = id
	}
}

func (r *Runner) anchor(ep *Endpoint) diagram.Anchor {
	a := diagram.Anchor{ID: r.id(ep.Ref), Anchor: diagram.Orientation(ep.Side)}
	if a.Anchor == "" {
		a.Anchor = diagram.OrientationRight
	}
	if ep.Interface != "" {
		a.CommunicationInterfaceID = r.id(ep.Interface)
	}
	return a
}

// pointOfAttack finds the point of attack of the given type on a component.
// With an interface ref it picks the one backing that interface.
func (r *Runner) pointOfAttack(st Step) (string, error) {
	componentID := r.id(st.Target)
	ifaceID := ""
	if st.Interface != "" {
		ifaceID = r.id(st.Interface)
	}
	for _, p := range r.editor.Store().Snapshot().PointsOfAttackOf(componentID) {
		if string(p.Type) == st.PointOfAttack && p.ConnectionPointID == ifaceID {
			return p.ID, nil
		}
	}
	return "", threatmodel.NewNotFoundError("Runner.PointOfAttack",
		fmt.Errorf("%w: %s point of attack on %s", threatmodel.ErrNotFound, st.PointOfAttack, st.Target))
}

var errUnknownOp = errors.New("unknown operation")

func (r *Runner) step(ctx context.Context, st Step) error {
	e := r.editor
	switch st.Op {
	case OpCreate:
		kind, err := diagram.ParseComponentKind(st.Type)
		if err != nil {
			return err
		}
		c, err := e.CreateComponent(kind, st.Name, st.X, st.Y)
		if err != nil {
			return err
		}
		r.remember(st.Ref, c.ID)
		return nil
	case OpMove:
		return e.MoveComponent(r.id(st.Target), st.X, st.Y)
	case OpRename:
		return e.RenameComponent(r.id(st.Target), st.Name)
	case OpDescribe:
		return e.DescribeComponent(r.id(st.Target), st.Description)
	case OpShowAnchors:
		return e.SetAlwaysShowAnchors(r.id(st.Target), st.Show)
	case OpDelete:
		return e.DeleteComponent(r.id(st.Target))
	case OpConnect:
		// A step is a complete gesture, so an earlier rejected draft is dropped.
		e.ResetConnector()
		if _, err := e.ClickAnchor(r.anchor(st.From)); err != nil {
			return err
		}
		conn, err := e.ClickAnchor(r.anchor(st.To))
		if err != nil {
			return err
		}
		if conn != nil {
			r.remember(st.Ref, conn.ID)
		}
		return nil
	case OpResetConnector:
		e.ResetConnector()
		return nil
	case OpRenameConnection:
		return e.RenameConnection(r.id(st.Target), st.Name)
	case OpWaypoints:
		return e.SetWaypoints(r.id(st.Target), st.Waypoints)
	case OpDeleteConnection:
		return e.DeleteConnection(r.id(st.Target))
	case OpAddInterface:
		ci, err := e.AddCommunicationInterface(r.id(st.Target), st.Name, st.Type)
		if err != nil {
			return err
		}
		r.remember(st.Ref, ci.ID)
		return nil
	case OpDeleteInterface:
		return e.DeleteCommunicationInterface(r.id(st.Target), r.id(st.Interface))
	case OpAddAsset, OpRemoveAsset:
		id, err := r.pointOfAttack(st)
		if err != nil {
			return err
		}
		if st.Op == OpAddAsset {
			return e.AddAsset(id, st.Asset)
		}
		return e.RemoveAsset(id, st.Asset)
	case OpInUse:
		return e.MarkComponentInUse(ctx, r.id(st.Target))
	case OpRelease:
		return e.MarkComponentReleased(ctx, r.id(st.Target))
	case OpFlush:
		return e.Flush(ctx)
	case OpSave:
		return e.SaveNow(ctx)
	}
	return fmt.Errorf("%w: %s", errUnknownOp, st.Op)
}

// Ops lists the supported operations in display order.
func Ops() []string {
	return []string{
		OpCreate, OpMove, OpRename, OpDescribe, OpShowAnchors, OpDelete,
		OpConnect, OpResetConnector, OpRenameConnection, OpWaypoints, OpDeleteConnection,
		OpAddInterface, OpDeleteInterface, OpAddAsset, OpRemoveAsset,
		OpInUse, OpRelease, OpFlush, OpSave,
	}
}
