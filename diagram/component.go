package diagram

import (
	"math"
	"slices"
)

// DefaultGridSize is the grid spacing used to snap component positions.
const DefaultGridSize = 10

// CommunicationInterface is a named channel embedded on a component.
// Its ID is shared with the ConnectionPoint and the COMMUNICATION_INTERFACES
// point of attack that back it.
type CommunicationInterface struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Component is a node of the system diagram.
type Component struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"projectId"`
	Type        ComponentKind `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`

	// X and Y are the canvas position; GridX and GridY the snapped position.
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	GridX float64 `json:"gridX"`
	GridY float64 `json:"gridY"`

	Symbol string `json:"symbol,omitempty"`

	CommunicationInterfaces []CommunicationInterface `json:"communicationInterfaces,omitempty"`

	// AlwaysShowAnchors is a presentation flag that never leaves the client.
	AlwaysShowAnchors *bool `json:"-"`
}

// NewComponent creates a component with a fresh id at the given position.
// A gridSize <= 0 uses DefaultGridSize.
func NewComponent(projectID string, kind ComponentKind, name string, x, y, gridSize float64) Component {
	c := Component{
		ID:        NewID(),
		ProjectID: projectID,
		Type:      kind,
		Name:      name,
		Symbol:    kind.Name(),
	}
	c.MoveTo(x, y, gridSize)
	return c
}

// MoveTo sets the canvas position and recomputes the snapped position.
func (c *Component) MoveTo(x, y, gridSize float64) {
	c.X = x
	c.Y = y
	c.GridX = Snap(x, gridSize)
	c.GridY = Snap(y, gridSize)
}

// Snap rounds v to the nearest multiple of gridSize.
func Snap(v, gridSize float64) float64 {
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	return math.Round(v/gridSize) * gridSize
}

// CommunicationInterface returns the embedded interface with the given id.
func (c *Component) CommunicationInterface(id string) (CommunicationInterface, bool) {
	for _, ci := range c.CommunicationInterfaces {
		if ci.ID == id {
			return ci, true
		}
	}
	return CommunicationInterface{}, false
}

// RemoveCommunicationInterface drops the interface with the given id and
// reports whether it was present.
func (c *Component) RemoveCommunicationInterface(id string) bool {
	before := len(c.CommunicationInterfaces)
	c.CommunicationInterfaces = slices.DeleteFunc(c.CommunicationInterfaces, func(ci CommunicationInterface) bool {
		return ci.ID == id
	})
	return len(c.CommunicationInterfaces) != before
}

// Clone returns a deep copy of the component.
func (c Component) Clone() Component {
	out := c
	out.CommunicationInterfaces = slices.Clone(c.CommunicationInterfaces)
	if c.AlwaysShowAnchors != nil {
		v := *c.AlwaysShowAnchors
		out.AlwaysShowAnchors = &v
	}
	return out
}
