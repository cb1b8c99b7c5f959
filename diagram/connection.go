package diagram

import (
	"encoding/json"
	"slices"
)

// Orientation is the side of a component an anchor sits on.
type Orientation string

const (
	OrientationTop    Orientation = "top"
	OrientationRight  Orientation = "right"
	OrientationBottom Orientation = "bottom"
	OrientationLeft   Orientation = "left"
)

// Anchor is a connection endpoint on a component's boundary.
type Anchor struct {
	// ID is the component id.
	ID     string        `json:"id"`
	Type   ComponentKind `json:"type"`
	Anchor Orientation   `json:"anchor"`

	CommunicationInterfaceID string `json:"communicationInterfaceId,omitempty"`
}

// HasCommunicationInterface reports whether the anchor references an interface.
func (a Anchor) HasCommunicationInterface() bool {
	return a.CommunicationInterfaceID != ""
}

// SameAs reports whether two anchors denote the same attachment point.
func (a Anchor) SameAs(other Anchor) bool {
	return a.ID == other.ID &&
		a.Anchor == other.Anchor &&
		a.CommunicationInterfaceID == other.CommunicationInterfaceID
}

// References reports whether the anchor is attached to the given interface
// of the given component.
func (a Anchor) References(componentID, interfaceID string) bool {
	return a.ID == componentID && a.CommunicationInterfaceID == interfaceID
}

// Connection is an edge between two component anchors.
type Connection struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	From      Anchor `json:"from"`
	To        Anchor `json:"to"`

	// CommunicationInterfaceID is copied from the system-side anchor.
	CommunicationInterfaceID string `json:"communicationInterfaceId,omitempty"`

	ConnectionPoints     []string        `json:"connectionPoints"`
	ConnectionPointsMeta json.RawMessage `json:"connectionPointsMeta,omitempty"`

	// Waypoints is the flattened x,y path computed by the renderer.
	Waypoints []float64 `json:"waypoints"`

	// Recalculate asks the renderer to recompute Waypoints on next paint.
	Recalculate bool `json:"recalculate"`

	// Visible is a presentation flag that never leaves the client.
	Visible bool `json:"-"`
}

// Touches reports whether either endpoint is the given component.
func (c *Connection) Touches(componentID string) bool {
	return c.From.ID == componentID || c.To.ID == componentID
}

// Clone returns a deep copy of the connection.
func (c Connection) Clone() Connection {
	out := c
	out.ConnectionPoints = slices.Clone(c.ConnectionPoints)
	out.ConnectionPointsMeta = slices.Clone(c.ConnectionPointsMeta)
	out.Waypoints = slices.Clone(c.Waypoints)
	return out
}

// ConnectionPoint backs a communication interface attachment on a component.
type ConnectionPoint struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ConnectionID  string `json:"connectionId,omitempty"`
	ProjectID     string `json:"projectId"`
	ComponentID   string `json:"componentId,omitempty"`
	ComponentName string `json:"componentName,omitempty"`
	Description   string `json:"description,omitempty"`
}
