// Package threatmodel is the editing core of a threat-model system diagram.
//
// A system diagram is a graph of components (users, clients, servers,
// databases, communication infrastructure and custom types) joined by
// connections. Each component carries points of attack, the categories a
// threat analysis walks through, and system components may expose
// communication interfaces that connections attach to.
//
// # Core Concepts
//
// The editor is organized around a few packages:
//
//   - diagram: the entity types and their constructors
//   - store: the normalized entity collections with atomic batches
//   - selection: focus, the connector gesture and in-use components
//   - rules: the connection rule table, written as CEL expressions
//   - cascade: deletions together with everything that depends on them
//   - autosave: reconciliation of local edits with the backend
//   - selectors: read models memoized by store revision
//
// The Editor type in this package wires them together and is what most
// callers use.
//
// # Getting Started
//
// Create an editor for a project, load it and start editing:
//
//	backend, err := rest.New(rest.Options{BaseURL: "https://tm.example.com/api", Token: token})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	editor, err := threatmodel.New("project-1",
//		threatmodel.WithBackend(backend),
//		threatmodel.WithLogger(logger),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer editor.Close()
//
//	if err := editor.Load(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	users, _ := editor.CreateComponent(diagram.Standard(diagram.TypeUsers), "Users", 0, 0)
//	api, _ := editor.CreateComponent(diagram.Standard(diagram.TypeServer), "API", 200, 0)
//
//	editor.ClickAnchor(diagram.Anchor{ID: users.ID, Anchor: diagram.OrientationRight})
//	conn, err := editor.ClickAnchor(diagram.Anchor{ID: api.ID, Anchor: diagram.OrientationLeft})
//
// # Autosave
//
// Every edit marks the diagram as not up to date. Once edits pause for the
// idle delay the diagram is saved; if more edits landed while the save was in
// flight the editor stays not up to date and saves again on the next pause.
// Flush and SaveNow save without waiting. Save failures never surface as
// panics: they move the status to failed and are delivered to OnAlert
// listeners. Rejected credentials are also delivered to OnAuthError.
//
// # Error Handling
//
// Every operation returns nil or an *Error carrying the operation and a Kind:
//
//	_, err := editor.ClickAnchor(target)
//	switch threatmodel.KindOf(err) {
//	case threatmodel.KindInvalidConnection:
//		reason, _ := rules.ReasonOf(err)
//		showHint(reason)
//	case threatmodel.KindNotFound:
//		// the component was deleted by the time the click arrived
//	}
//
// The package sentinels (ErrNotFound, ErrInvalidConnection, ErrSaveFailed,
// and so on) match with errors.Is through any wrapping.
//
// # Collaboration
//
// The presence package shares in-use components and pointer positions over
// Redis, and the session package registers open editors in etcd. Both are
// optional and independent of the backend that stores the system.
//
// # Configuration
//
// The config package reads threatmodel.yaml. WithConfig applies its editor,
// autosave and rules sections; the tmreplay command shows how the remaining
// sections are turned into a backend, presence, session registration and
// telemetry.
package threatmodel
