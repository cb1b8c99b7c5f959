package diagram

import (
	"fmt"
	"slices"
)

// PointOfAttackType is the analysis category of a point of attack.
type PointOfAttackType string

const (
	PointOfAttackUserBehaviour               PointOfAttackType = "USER_BEHAVIOUR"
	PointOfAttackUserInterface               PointOfAttackType = "USER_INTERFACE"
	PointOfAttackProcessingInfrastructure    PointOfAttackType = "PROCESSING_INFRASTRUCTURE"
	PointOfAttackDataStorageInfrastructure   PointOfAttackType = "DATA_STORAGE_INFRASTRUCTURE"
	PointOfAttackCommunicationInfrastructure PointOfAttackType = "COMMUNICATION_INFRASTRUCTURE"
	PointOfAttackCommunicationInterfaces     PointOfAttackType = "COMMUNICATION_INTERFACES"
)

// AllPointOfAttackTypes lists every point-of-attack type in display order.
var AllPointOfAttackTypes = []PointOfAttackType{
	PointOfAttackUserBehaviour,
	PointOfAttackUserInterface,
	PointOfAttackProcessingInfrastructure,
	PointOfAttackDataStorageInfrastructure,
	PointOfAttackCommunicationInfrastructure,
	PointOfAttackCommunicationInterfaces,
}

// IsValid returns true if the type is a known point-of-attack type.
func (t PointOfAttackType) IsValid() bool {
	return slices.Contains(AllPointOfAttackTypes, t)
}

// String returns the wire representation of the type.
func (t PointOfAttackType) String() string {
	return string(t)
}

// ParsePointOfAttackType parses a string into a PointOfAttackType.
func ParsePointOfAttackType(s string) (PointOfAttackType, error) {
	t := PointOfAttackType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid point of attack type: %s", s)
	}
	return t, nil
}

// ApplicablePointOfAttackTypes returns the point-of-attack types that are
// seeded on a component of the given kind. COMMUNICATION_INTERFACES is never
// part of the result; those are created together with an interface.
func ApplicablePointOfAttackTypes(kind ComponentKind) []PointOfAttackType {
	switch {
	case kind.Is(TypeUsers):
		return []PointOfAttackType{PointOfAttackUserBehaviour}
	case kind.Is(TypeCommunicationInfrastructure):
		return []PointOfAttackType{PointOfAttackCommunicationInfrastructure}
	case kind.IsSystemOrCustom():
		return []PointOfAttackType{
			PointOfAttackUserInterface,
			PointOfAttackProcessingInfrastructure,
			PointOfAttackDataStorageInfrastructure,
		}
	default:
		return nil
	}
}

// IsApplicable reports whether a point of attack of type t may sit on a
// component of the given kind.
func IsApplicable(kind ComponentKind, t PointOfAttackType) bool {
	if t == PointOfAttackCommunicationInterfaces {
		return kind.IsSystemOrCustom()
	}
	return slices.Contains(ApplicablePointOfAttackTypes(kind), t)
}

// PointOfAttack is an analysis category attached to a component and
// optionally to a connection or connection point.
type PointOfAttack struct {
	ID                string            `json:"id"`
	Type              PointOfAttackType `json:"type"`
	ComponentID       string            `json:"componentId"`
	ConnectionID      string            `json:"connectionId,omitempty"`
	ConnectionPointID string            `json:"connectionPointId,omitempty"`
	ProjectID         string            `json:"projectId"`
	Name              string            `json:"name,omitempty"`
	ComponentName     string            `json:"componentName,omitempty"`

	// Assets holds asset ids; it never contains an id twice.
	Assets []int `json:"assets"`
}

// HasAsset reports whether the asset id is attached.
func (p *PointOfAttack) HasAsset(assetID int) bool {
	return slices.Contains(p.Assets, assetID)
}

// AddAsset attaches an asset id. Returns false if it was already present.
func (p *PointOfAttack) AddAsset(assetID int) bool {
	if p.HasAsset(assetID) {
		return false
	}
	p.Assets = append(p.Assets, assetID)
	return true
}

// RemoveAsset detaches an asset id. Returns false if it was not present.
func (p *PointOfAttack) RemoveAsset(assetID int) bool {
	before := len(p.Assets)
	p.Assets = slices.DeleteFunc(p.Assets, func(id int) bool { return id == assetID })
	return len(p.Assets) != before
}

// Clone returns a deep copy of the point of attack.
func (p PointOfAttack) Clone() PointOfAttack {
	out := p
	out.Assets = slices.Clone(p.Assets)
	return out
}

// SeedPointsOfAttack builds one point of attack per applicable type for a
// freshly created component.
func SeedPointsOfAttack(c Component) []PointOfAttack {
	types := ApplicablePointOfAttackTypes(c.Type)
	out := make([]PointOfAttack, 0, len(types))
	for _, t := range types {
		out = append(out, PointOfAttack{
			ID:            NewID(),
			Type:          t,
			ComponentID:   c.ID,
			ProjectID:     c.ProjectID,
			ComponentName: c.Name,
			Assets:        []int{},
		})
	}
	return out
}

// NewCommunicationInterface creates the three records that make up a
// communication interface on a component: the embedded descriptor, its
// connection point and its COMMUNICATION_INTERFACES point of attack.
// All three share the same id.
func NewCommunicationInterface(c Component, name, ifaceType string) (CommunicationInterface, ConnectionPoint, PointOfAttack) {
	id := NewID()
	ci := CommunicationInterface{ID: id, Name: name, Type: ifaceType}
	cp := ConnectionPoint{
		ID:            id,
		Name:          name,
		ProjectID:     c.ProjectID,
		ComponentID:   c.ID,
		ComponentName: c.Name,
	}
	poa := PointOfAttack{
		ID:                NewID(),
		Type:              PointOfAttackCommunicationInterfaces,
		ComponentID:       c.ID,
		ConnectionPointID: id,
		ProjectID:         c.ProjectID,
		Name:              name,
		ComponentName:     c.Name,
		Assets:            []int{},
	}
	return ci, cp, poa
}
