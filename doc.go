// Package trellis is a definition-driven inversion-of-control container for Go.
//
// Unlike constructor-registry containers, trellis is built around component
// definitions: declarative records that describe how to build one named
// component, covering its target type or factory, scope, constructor
// arguments, property values, and wiring markers. Definitions are typically
// produced by an external configuration layer; trellis takes them from there.
// It selects the best constructor among candidates, autowires unresolved
// parameters and tagged fields from the registry, caches shared instances,
// and recovers field-injection cycles through early references.
//
// # Quick Start
//
//	c := trellis.New()
//	c.Register("logger", trellis.NewDefinition(
//	    trellis.WithConstructor(NewLogger),
//	))
//	c.Register("server", trellis.NewDefinition(
//	    trellis.WithConstructor(NewServer),
//	))
//
//	srv, err := trellis.Get[*Server](c)
//
// # Scopes
//
// Singleton (the default) keeps at most one shared instance per name for the
// container's lifetime, created on first request.
//
// Prototype constructs a fresh instance on every request; prototype instances
// are never cached and never tracked for destruction.
//
// # Autowiring
//
// Constructor parameters without a configured argument are resolved by type
// against every eligible definition in the registry. When several candidates
// match, ties break in strict precedence order: a Primary definition, then
// the lowest declared Priority, then identity with a registered resolvable
// value, then a name match against the consuming member. Struct fields opt in
// to field injection with a tag:
//
//	type Handler struct {
//	    Store Store  `wire:""`
//	    Audit *Audit `wire:"auditLog,optional"`
//	}
//
// # Circular References
//
// A cycle wired purely through fields is resolved by exposing each raw
// instance before its fields are populated. A cycle through constructor
// parameters is unresolvable and fails fast with a CircularCreationError
// before either constructor runs.
package trellis
