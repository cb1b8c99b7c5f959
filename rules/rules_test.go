package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/threatmodel/diagram"
	"github.com/zero-day-ai/threatmodel/store"
)

var (
	users    = diagram.Standard(diagram.TypeUsers)
	client   = diagram.Standard(diagram.TypeClient)
	server   = diagram.Standard(diagram.TypeServer)
	database = diagram.Standard(diagram.TypeDatabase)
	infra    = diagram.Standard(diagram.TypeCommunicationInfrastructure)
	custom   = diagram.Custom(9)

	allKinds = []diagram.ComponentKind{users, client, server, database, infra, custom}
)

func anchorOf(id string, kind diagram.ComponentKind, iface string) diagram.Anchor {
	return diagram.Anchor{ID: id, Type: kind, Anchor: diagram.OrientationRight, CommunicationInterfaceID: iface}
}

// expectedReason is the rule table written out by hand. An empty reason
// means the connection is legal.
func expectedReason(from, to diagram.ComponentKind, fromIface, toIface bool) Reason {
	switch {
	case from.Is(diagram.TypeUsers):
		if to.IsSystemOrCustom() {
			return ""
		}
		return ReasonUserConnectionInvalid
	case to.Is(diagram.TypeUsers):
		if from.IsSystemOrCustom() {
			return ""
		}
		return ReasonComponentToUserInvalid
	case from.IsSystemOrCustom():
		if to.Is(diagram.TypeCommunicationInfrastructure) && fromIface {
			return ""
		}
		return ReasonComponentToCommunicationInfraInvalid
	case from.Is(diagram.TypeCommunicationInfrastructure):
		if to.IsSystemOrCustom() && toIface {
			return ""
		}
		return ReasonCommunicationInfraToComponentInvalid
	default:
		return ReasonInvalidConnection
	}
}

func TestEngine_ValidateMatchesTable(t *testing.T) {
	engine := MustNew()

	for _, from := range allKinds {
		for _, to := range allKinds {
			for _, fromIface := range []bool{false, true} {
				for _, toIface := range []bool{false, true} {
					fi, ti := "", ""
					if fromIface {
						fi = "if-from"
					}
					if toIface {
						ti = "if-to"
					}
					name := from.String() + "->" + to.String()
					want := expectedReason(from, to, fromIface, toIface)

					err := engine.Validate(anchorOf("a", from, fi), anchorOf("b", to, ti))
					if want == "" {
						assert.NoError(t, err, name)
						continue
					}
					require.Error(t, err, name)
					assert.True(t, errors.Is(err, ErrInvalidConnection), name)
					reason, ok := ReasonOf(err)
					assert.True(t, ok, name)
					assert.Equal(t, want, reason, name)
				}
			}
		}
	}
}

func TestEngine_Validate(t *testing.T) {
	engine := MustNew()

	tests := []struct {
		name   string
		from   diagram.Anchor
		to     diagram.Anchor
		reason Reason
	}{
		{"users to server", anchorOf("u", users, ""), anchorOf("s", server, ""), ""},
		{"users to custom", anchorOf("u", users, ""), anchorOf("x", custom, ""), ""},
		{"users to users", anchorOf("u", users, ""), anchorOf("v", users, ""), ReasonUserConnectionInvalid},
		{"users to infrastructure", anchorOf("u", users, ""), anchorOf("n", infra, ""), ReasonUserConnectionInvalid},
		{"client to users", anchorOf("c", client, ""), anchorOf("u", users, ""), ""},
		{"infrastructure to users", anchorOf("n", infra, ""), anchorOf("u", users, ""), ReasonComponentToUserInvalid},
		{"server iface to infrastructure", anchorOf("s", server, "i"), anchorOf("n", infra, ""), ""},
		{"server to infrastructure without iface", anchorOf("s", server, ""), anchorOf("n", infra, ""), ReasonComponentToCommunicationInfraInvalid},
		{"server to database", anchorOf("s", server, "i"), anchorOf("d", database, ""), ReasonComponentToCommunicationInfraInvalid},
		{"infrastructure to database iface", anchorOf("n", infra, ""), anchorOf("d", database, "i"), ""},
		{"infrastructure to database without iface", anchorOf("n", infra, ""), anchorOf("d", database, ""), ReasonCommunicationInfraToComponentInvalid},
		{"infrastructure to infrastructure", anchorOf("n", infra, ""), anchorOf("m", infra, "i"), ReasonCommunicationInfraToComponentInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Validate(tt.from, tt.to)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var ce *ConnectionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.reason, ce.Reason)
			assert.Contains(t, err.Error(), string(tt.reason))
		})
	}
}

func TestNew_RejectsBadExpressions(t *testing.T) {
	_, err := New(WithRules([]Rule{{Name: "broken", Guard: "from_kind ==", Allow: "true"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	_, err = New(WithRules([]Rule{{Name: "unknown-var", Guard: "true", Allow: "nope"}}))
	assert.Error(t, err)
}

func TestEngine_CustomRuleTable(t *testing.T) {
	engine, err := New(WithRules([]Rule{
		{Name: "anything-goes", Guard: "true", Allow: "from_kind != to_kind"},
	}))
	require.NoError(t, err)

	assert.NoError(t, engine.Validate(anchorOf("a", users, ""), anchorOf("b", infra, "")))

	err = engine.Validate(anchorOf("a", users, ""), anchorOf("b", users, ""))
	reason, _ := ReasonOf(err)
	assert.Equal(t, ReasonInvalidConnection, reason)
}

func TestEngine_NonBoolExpressionRejects(t *testing.T) {
	engine, err := New(WithRules([]Rule{{Name: "string", Guard: "from_kind", Allow: "true"}}))
	if err != nil {
		// A checker that already rejects the non-bool guard is fine too.
		return
	}
	assert.ErrorIs(t, engine.Validate(anchorOf("a", server, ""), anchorOf("b", infra, "")), ErrInvalidConnection)
}

func TestBuild(t *testing.T) {
	srv := diagram.Component{ID: "s", ProjectID: "p1", Name: "API", Type: server}
	net := diagram.Component{ID: "n", ProjectID: "p1", Name: "LAN", Type: infra}

	conn := Build("Connection", srv, net, anchorOf("s", server, "iface-1"), anchorOf("n", infra, ""))

	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, "p1", conn.ProjectID)
	assert.Equal(t, "Connection: API -> LAN", conn.Name)
	assert.Equal(t, "iface-1", conn.CommunicationInterfaceID)
	assert.True(t, conn.Recalculate)
	assert.True(t, conn.Visible)
	assert.Empty(t, conn.ConnectionPoints)
	assert.Empty(t, conn.Waypoints)

	back := Build("Connection", net, srv, anchorOf("n", infra, ""), anchorOf("s", server, "iface-2"))
	assert.Equal(t, "iface-2", back.CommunicationInterfaceID)
}

func TestEngine_Connect(t *testing.T) {
	s := store.New("p1")
	require.NoError(t, s.CreateComponent(diagram.Component{ID: "s", ProjectID: "p1", Name: "API", Type: server}))
	require.NoError(t, s.CreateComponent(diagram.Component{ID: "n", ProjectID: "p1", Name: "LAN", Type: infra}))
	engine := MustNew()

	// The anchor claims the wrong type; the stored component wins.
	conn, err := engine.Connect(s.Snapshot(), "Link", anchorOf("s", users, "i"), anchorOf("n", infra, ""))
	require.NoError(t, err)
	assert.Equal(t, "Link: API -> LAN", conn.Name)
	assert.True(t, conn.From.Type.Is(diagram.TypeServer))

	_, err = engine.Connect(s.Snapshot(), "Link", anchorOf("ghost", server, "i"), anchorOf("n", infra, ""))
	assert.ErrorIs(t, err, ErrUnknownEndpoint)

	_, err = engine.Connect(s.Snapshot(), "Link", anchorOf("n", infra, ""), anchorOf("s", server, ""))
	assert.ErrorIs(t, err, ErrInvalidConnection)
}
