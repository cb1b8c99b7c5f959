// Package rules decides whether two component anchors may be connected and
// synthesizes the resulting connection.
//
// The rule table is ordered. Each rule has a guard and an allow condition,
// both written as CEL expressions. The first rule whose guard matches decides:
// if its allow condition holds the connection is legal, otherwise it is
// rejected with the rule's reason. When no guard matches the connection is
// rejected with ReasonInvalidConnection.
//
// Expressions see these variables:
//
//	from_kind, to_kind                  string  standard type name or "CUSTOM"
//	from_system, to_system              bool    client, server, database or custom
//	from_has_interface, to_has_interface bool   anchor references an interface
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/store"
)

// Rule is one row of the connection rule table.
type Rule struct {
	Name   string `yaml:"name"`
	Guard  string `yaml:"guard"`
	Allow  string `yaml:"allow"`
	Reason Reason `yaml:"reason"`
}

// DefaultRules is the standard connection rule table.
var DefaultRules = []Rule{
	{
		Name:   "users",
		Guard:  "from_kind == 'USERS'",
		Allow:  "to_system",
		Reason: ReasonUserConnectionInvalid,
	},
	{
		Name:   "to-users",
		Guard:  "to_kind == 'USERS'",
		Allow:  "from_system",
		Reason: ReasonComponentToUserInvalid,
	},
	{
		Name:   "component-to-infrastructure",
		Guard:  "from_system",
		Allow:  "to_kind == 'COMMUNICATION_INFRASTRUCTURE' && from_has_interface",
		Reason: ReasonComponentToCommunicationInfraInvalid,
	},
	{
		Name:   "infrastructure-to-component",
		Guard:  "from_kind == 'COMMUNICATION_INFRASTRUCTURE'",
		Allow:  "to_system && to_has_interface",
		Reason: ReasonCommunicationInfraToComponentInvalid,
	},
}

type compiledRule struct {
	rule  Rule
	guard cel.Program
	allow cel.Program
}

// Engine evaluates a compiled rule table.
// An Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	rules []compiledRule
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	rules []Rule
}

// WithRules replaces the default rule table.
func WithRules(rules []Rule) Option {
	return func(c *engineConfig) {
		c.rules = rules
	}
}

// New compiles the rule table. It fails if any expression does not compile.
func New(opts ...Option) (*Engine, error) {
	cfg := engineConfig{rules: DefaultRules}
	for _, opt := range opts {
		opt(&cfg)
	}

	env, err := cel.NewEnv(
		cel.Variable("from_kind", cel.StringType),
		cel.Variable("to_kind", cel.StringType),
		cel.Variable("from_system", cel.BoolType),
		cel.Variable("to_system", cel.BoolType),
		cel.Variable("from_has_interface", cel.BoolType),
		cel.Variable("to_has_interface", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}

	engine := &Engine{rules: make([]compiledRule, 0, len(cfg.rules))}
	for _, r := range cfg.rules {
		guard, err := compile(env, r.Guard)
		if err != nil {
			return nil, fmt.Errorf("rule %q guard: %w", r.Name, err)
		}
		allow, err := compile(env, r.Allow)
		if err != nil {
			return nil, fmt.Errorf("rule %q allow: %w", r.Name, err)
		}
		if r.Reason == "" {
			r.Reason = ReasonInvalidConnection
		}
		engine.rules = append(engine.rules, compiledRule{rule: r, guard: guard, allow: allow})
	}

	return engine, nil
}

// MustNew is like New but panics on error. Intended for the default table.
func MustNew(opts ...Option) *Engine {
	e, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return e
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return prg, nil
}

func evalBool(prg cel.Program, vars map[string]any) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return b, nil
}

func variables(from, to diagram.Anchor) map[string]any {
	return map[string]any{
		"from_kind":          from.Type.Name(),
		"to_kind":            to.Type.Name(),
		"from_system":        from.Type.IsSystemOrCustom(),
		"to_system":          to.Type.IsSystemOrCustom(),
		"from_has_interface": from.HasCommunicationInterface(),
		"to_has_interface":   to.HasCommunicationInterface(),
	}
}

// Validate reports whether from -> to is a legal connection. It returns nil or
// a *ConnectionError; evaluation failures of custom tables are reported as a
// ConnectionError with ReasonInvalidConnection.
func (e *Engine) Validate(from, to diagram.Anchor) error {
	vars := variables(from, to)
	reject := func(reason Reason) error {
		return &ConnectionError{Reason: reason, From: from.Type, To: to.Type}
	}

	for _, r := range e.rules {
		matched, err := evalBool(r.guard, vars)
		if err != nil {
			return reject(ReasonInvalidConnection)
		}
		if !matched {
			continue
		}
		allowed, err := evalBool(r.allow, vars)
		if err != nil || !allowed {
			return reject(r.rule.Reason)
		}
		return nil
	}
	return reject(ReasonInvalidConnection)
}

// Build synthesizes the connection for a validated pair. The connection name
// is "<label>: <from name> -> <to name>" and the communication interface id is
// taken from the system-side anchor.
func Build(label string, fromComponent, toComponent diagram.Component, from, to diagram.Anchor) diagram.Connection {
	ifaceID := to.CommunicationInterfaceID
	if from.Type.IsSystemOrCustom() && from.HasCommunicationInterface() {
		ifaceID = from.CommunicationInterfaceID
	} else if !to.Type.IsSystemOrCustom() {
		ifaceID = ""
	}

	return diagram.Connection{
		ID:                       diagram.NewID(),
		ProjectID:                fromComponent.ProjectID,
		Name:                     fmt.Sprintf("%s: %s -> %s", label, fromComponent.Name, toComponent.Name),
		From:                     from,
		To:                       to,
		CommunicationInterfaceID: ifaceID,
		ConnectionPoints:         []string{},
		Waypoints:                []float64{},
		Recalculate:              true,
		Visible:                  true,
	}
}

// Connect resolves both anchors against the snapshot, validates the pair and
// builds the connection. Anchor types are taken from the stored components.
func (e *Engine) Connect(snap store.Snapshot, label string, from, to diagram.Anchor) (diagram.Connection, error) {
	fromComponent, ok := snap.Component(from.ID)
	if !ok {
		return diagram.Connection{}, fmt.Errorf("%w: component %s", ErrUnknownEndpoint, from.ID)
	}
	toComponent, ok := snap.Component(to.ID)
	if !ok {
		return diagram.Connection{}, fmt.Errorf("%w: component %s", ErrUnknownEndpoint, to.ID)
	}
	from.Type = fromComponent.Type
	to.Type = toComponent.Type

	if err := e.Validate(from, to); err != nil {
		return diagram.Connection{}, err
	}
	return Build(label, fromComponent, toComponent, from, to), nil
}
