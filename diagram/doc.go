// Package diagram defines the entities of a threat-model system diagram.
//
// A diagram consists of four entity kinds, all scoped to a project:
//
//   - Component: a node on the canvas (users, client, server, database,
//     communication infrastructure, or a custom component type)
//   - Connection: an edge between two component anchors
//   - ConnectionPoint: the record backing a communication interface on a component
//   - PointOfAttack: an analysis category attached to a component, connection or
//     connection point, carrying the set of assets at risk
//
// The package only describes data and the small set of rules that are a
// property of the data itself (which point-of-attack types apply to which
// component kind, asset set semantics, grid snapping). Storage lives in the
// store package, connection legality in the rules package.
//
// Example:
//
//	srv := diagram.NewComponent("project-1", diagram.Standard(diagram.TypeServer), "API", 10, 10, 10)
//	poas := diagram.SeedPointsOfAttack(srv)
//	// poas holds one PointOfAttack per type applicable to a server
package diagram
