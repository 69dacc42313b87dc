package trellis

import "reflect"

// Descriptor describes one dependency to resolve: the requested type plus
// the originating member for diagnostics and name-based tie-breaking. A
// descriptor is created per resolution attempt and not retained.
type Descriptor struct {
	// Type is the requested dependency type. Slice, array and map types are
	// resolved through their element type and returned in container shape.
	Type reflect.Type

	// Member identifies the injection point (field name or parameter
	// position) for diagnostics. For fields it also participates in the
	// name-match tie-break.
	Member string

	// Required controls the failure policy: a required dependency with no
	// unique candidate fails, an optional one resolves to nothing.
	Required bool

	// Eager forces lazy, not-yet-realized candidates to be instantiated when
	// type prediction alone cannot determine their eligibility.
	Eager bool

	// Suggested carries an explicitly configured literal value. When set,
	// candidate discovery is bypassed entirely and the value is converted to
	// Type via the TypeConverter.
	Suggested any

	// nesting tracks how many container layers have been unwrapped while
	// resolving element types.
	nesting int
}

// elementOf derives the descriptor used to resolve the element type of a
// container-shaped request.
func (d Descriptor) elementOf(elem reflect.Type) Descriptor {
	return Descriptor{
		Type:     elem,
		Member:   d.Member,
		Required: d.Required,
		Eager:    d.Eager,
		nesting:  d.nesting + 1,
	}
}

// containerShaped reports whether the descriptor requests a slice, array or
// map rather than a single instance.
func (d Descriptor) containerShaped() bool {
	if d.Type == nil {
		return false
	}
	switch d.Type.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	default:
		return false
	}
}
