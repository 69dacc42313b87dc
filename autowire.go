package trellis

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/kettlebrook/trellis/internal/reflection"
)

// errorType is the reflect.Type of the error interface.
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// autowireCandidate is one component eligible to satisfy a dependency.
type autowireCandidate struct {
	name           string
	def            *Definition // nil for resolvable entries and manual instances
	instance       any
	hasInstance    bool
	fromResolvable bool
}

// resolveDependency returns the single instance (or typed collection)
// satisfying the descriptor, or fails per its Required flag. A nil result
// with a nil error means an optional dependency went unresolved.
func (c *Container) resolveDependency(res *resolution, consumer string, d Descriptor) (any, error) {
	if d.Type == nil {
		return nil, NotFoundError{}
	}

	// Deferred-provider wrappers resolve on first call, not at injection
	// time, so they can break lookup-order knots without early references.
	if elem, ok := providerElement(d.Type); ok {
		return c.makeProvider(consumer, d, elem), nil
	}

	// An explicitly suggested literal bypasses candidate discovery.
	if d.Suggested != nil {
		return c.opts.Converter.Convert(d.Suggested, d.Type)
	}

	// Container shapes unwrap one level only; a container-typed element is
	// looked up as an ordinary candidate.
	if d.containerShaped() && d.nesting == 0 {
		return c.resolveMultiple(res, consumer, d)
	}

	cands := c.findCandidates(res, consumer, d, false)
	if len(cands) == 0 {
		// Relaxed pass: definitions opted out of autowiring become eligible
		// again.
		cands = c.findCandidates(res, consumer, d, true)
	}
	if len(cands) == 0 {
		// Self-reference is a deliberate last resort, scalar-only.
		if self, ok := c.selfCandidate(consumer, d); ok {
			cands = []autowireCandidate{self}
		}
	}

	switch len(cands) {
	case 0:
		if d.Required {
			return nil, NotFoundError{Type: d.Type, Available: c.DefinitionNames()}
		}
		return nil, nil
	case 1:
		return c.realize(res, cands[0])
	}

	chosen, err := c.determineUnique(cands, d)
	if err != nil {
		return nil, err
	}
	if chosen == nil {
		// Tie-break exhausted on an optional dependency.
		return nil, nil
	}
	return c.realize(res, *chosen)
}

// providerElement reports whether t is the deferred-provider shape
// func() (T, error), returning T.
func providerElement(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() != reflect.Func || t.NumIn() != 0 || t.NumOut() != 2 {
		return nil, false
	}
	if t.Out(1) != errorType {
		return nil, false
	}
	return t.Out(0), true
}

// makeProvider builds the func() (T, error) closure for a deferred
// dependency. Each call runs a fresh resolution.
func (c *Container) makeProvider(consumer string, d Descriptor, elem reflect.Type) any {
	inner := Descriptor{
		Type:     elem,
		Member:   d.Member,
		Required: d.Required,
		Eager:    true,
	}

	fn := reflect.MakeFunc(d.Type, func([]reflect.Value) []reflect.Value {
		out := reflect.Zero(elem)
		errOut := reflect.Zero(errorType)

		v, err := c.resolveDependency(newResolution(), consumer, inner)
		if err != nil {
			ev := reflect.New(errorType).Elem()
			ev.Set(reflect.ValueOf(err))
			errOut = ev
		} else if v != nil {
			out = valueFor(v, elem)
		}

		return []reflect.Value{out, errOut}
	})

	return fn.Interface()
}

// resolveMultiple handles slice, array and map shaped descriptors by
// resolving the element type and returning every match in container shape.
func (c *Container) resolveMultiple(res *resolution, consumer string, d Descriptor) (any, error) {
	t := d.Type

	if t.Kind() == reflect.Map && t.Key().Kind() != reflect.String {
		return nil, UnsatisfiedDependencyError{
			Component: consumer,
			Member:    d.Member,
			Type:      t,
			Cause:     fmt.Errorf("map injection requires string keys, got %s", t.Key()),
		}
	}

	elem := t.Elem()
	cands := c.findCandidates(res, consumer, d.elementOf(elem), false)

	if len(cands) == 0 {
		if d.Required {
			return nil, NotFoundError{Type: t, Available: c.DefinitionNames()}
		}
		return emptyContainer(t).Interface(), nil
	}

	ordered := make([]OrderedCandidate, len(cands))
	for i, cand := range cands {
		instance, err := c.realize(res, cand)
		if err != nil {
			return nil, err
		}
		var priority *int
		if cand.def != nil {
			priority = cand.def.Priority
		}
		ordered[i] = OrderedCandidate{Name: cand.name, Priority: priority, Instance: instance}
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		less := c.opts.Ordering
		if less == nil {
			less = defaultOrdering
		}
		sort.SliceStable(ordered, func(i, j int) bool { return less(ordered[i], ordered[j]) })

		if t.Kind() == reflect.Array {
			if t.Len() != len(ordered) {
				return nil, UnsatisfiedDependencyError{
					Component: consumer,
					Member:    d.Member,
					Type:      t,
					Cause:     fmt.Errorf("array length %d does not match %d candidates", t.Len(), len(ordered)),
				}
			}
			out := reflect.New(t).Elem()
			for i, oc := range ordered {
				out.Index(i).Set(valueFor(oc.Instance, elem))
			}
			return out.Interface(), nil
		}

		out := reflect.MakeSlice(t, 0, len(ordered))
		for _, oc := range ordered {
			out = reflect.Append(out, valueFor(oc.Instance, elem))
		}
		return out.Interface(), nil

	default: // map
		out := reflect.MakeMapWithSize(t, len(ordered))
		for _, oc := range ordered {
			out.SetMapIndex(reflect.ValueOf(oc.Name).Convert(t.Key()), valueFor(oc.Instance, elem))
		}
		return out.Interface(), nil
	}
}

// defaultOrdering sorts by declared priority (lower first, undeclared last);
// sort stability preserves registration order within equal priorities.
func defaultOrdering(a, b OrderedCandidate) bool {
	switch {
	case a.Priority != nil && b.Priority != nil:
		return *a.Priority < *b.Priority
	case a.Priority != nil:
		return true
	default:
		return false
	}
}

// findCandidates discovers every eligible component for the requested type:
// the resolvable-dependency table first, then every definition and manual
// singleton in registration order. The consumer never satisfies its own
// dependency here; see selfCandidate.
func (c *Container) findCandidates(res *resolution, consumer string, d Descriptor, relaxed bool) []autowireCandidate {
	t := d.Type

	c.mu.RLock()
	resolvables := make([]resolvableEntry, len(c.resolvables))
	copy(resolvables, c.resolvables)
	names := c.namesLocked()
	defs := make(map[string]*Definition, len(c.definitions))
	for n, def := range c.definitions {
		defs[n] = def
	}
	manual := make(map[string]any, len(c.manual))
	for n, v := range c.manual {
		manual[n] = v
	}
	c.mu.RUnlock()

	var out []autowireCandidate

	for _, entry := range resolvables {
		if !reflection.Assignable(entry.typ, t) {
			continue
		}
		cand := autowireCandidate{
			name:           fmt.Sprintf("resolvable:%s", entry.typ),
			fromResolvable: true,
			hasInstance:    entry.factory == nil,
			instance:       entry.value,
		}
		if entry.factory != nil {
			cand.instance = entry.factory()
			cand.hasInstance = true
		}
		out = append(out, cand)
	}

	for _, name := range names {
		if name == consumer {
			continue
		}

		def := defs[name]
		if def == nil {
			instance, ok := manual[name]
			if !ok || !reflection.Assignable(reflect.TypeOf(instance), t) {
				continue
			}
			out = append(out, autowireCandidate{
				name:        name,
				instance:    instance,
				hasInstance: true,
			})
			continue
		}

		if !def.AutowireCandidate && !relaxed {
			continue
		}

		produced := c.predictType(def, 0)
		if produced == nil {
			// Type prediction needs the instance; only realize when the
			// descriptor demands eager inspection.
			if !d.Eager {
				continue
			}
			instance, err := c.getInstance(res, name, nil)
			if err != nil || !reflection.Assignable(reflect.TypeOf(instance), t) {
				continue
			}
			out = append(out, autowireCandidate{
				name:        name,
				def:         def,
				instance:    instance,
				hasInstance: true,
			})
			continue
		}

		if !reflection.Assignable(produced, t) {
			continue
		}

		cand := autowireCandidate{name: name, def: def}
		if instance, ok := c.singletons.get(name); ok {
			cand.instance = instance
			cand.hasInstance = true
		}
		out = append(out, cand)
	}

	return out
}

// selfCandidate permits a component to satisfy its own scalar dependency as
// an absolute last resort.
func (c *Container) selfCandidate(consumer string, d Descriptor) (autowireCandidate, bool) {
	if consumer == "" || d.containerShaped() {
		return autowireCandidate{}, false
	}

	c.mu.RLock()
	def := c.definitions[consumer]
	c.mu.RUnlock()

	if def == nil {
		return autowireCandidate{}, false
	}

	produced := c.predictType(def, 0)
	if produced == nil || !reflection.Assignable(produced, d.Type) {
		return autowireCandidate{}, false
	}

	return autowireCandidate{name: consumer, def: def}, true
}

// predictType determines the type a definition produces without building it.
// Returns nil when the type cannot be known statically.
func (c *Container) predictType(def *Definition, depth int) reflect.Type {
	if depth > 4 {
		return nil
	}

	if len(def.Constructors) > 0 {
		t := reflect.TypeOf(def.Constructors[0].Fn)
		if t != nil && t.Kind() == reflect.Func && t.NumOut() > 0 {
			return t.Out(0)
		}
		return nil
	}

	if def.FactoryName != "" {
		c.mu.RLock()
		factoryDef := c.definitions[c.canonicalLocked(def.FactoryName)]
		manual, isManual := c.manual[c.canonicalLocked(def.FactoryName)]
		c.mu.RUnlock()

		var factoryType reflect.Type
		switch {
		case isManual:
			factoryType = reflect.TypeOf(manual)
		case factoryDef != nil:
			factoryType = c.predictType(factoryDef, depth+1)
		}
		if factoryType == nil {
			return nil
		}

		m, ok := factoryType.MethodByName(def.FactoryMethod)
		if !ok || m.Type.NumOut() == 0 {
			return nil
		}
		return m.Type.Out(0)
	}

	if def.Type != nil {
		return reflect.PointerTo(def.Type)
	}
	return nil
}

// refType predicts the instance type a named component reference produces,
// or nil when it cannot be known without building.
func (c *Container) refType(ref string) reflect.Type {
	c.mu.RLock()
	name := c.canonicalLocked(ref)
	def := c.definitions[name]
	manual, isManual := c.manual[name]
	c.mu.RUnlock()

	if isManual {
		return reflect.TypeOf(manual)
	}
	if def == nil {
		return nil
	}
	return c.predictType(def, 0)
}

// realize turns a candidate into its instance, constructing it when only a
// type placeholder was discovered.
func (c *Container) realize(res *resolution, cand autowireCandidate) (any, error) {
	if cand.hasInstance {
		c.recordDependency(res, cand.name)
		return cand.instance, nil
	}
	return c.getInstance(res, cand.name, nil)
}

// determineUnique applies the tie-break rules in strict precedence order:
// primary, then priority, then resolvable identity, then name match. A nil
// result with nil error means no rule disambiguated an optional dependency.
func (c *Container) determineUnique(cands []autowireCandidate, d Descriptor) (*autowireCandidate, error) {
	names := make([]string, len(cands))
	for i, cand := range cands {
		names[i] = cand.name
	}

	// (a) primary
	var primary *autowireCandidate
	for i := range cands {
		if cands[i].def != nil && cands[i].def.Primary {
			if primary != nil {
				return nil, NotUniqueError{
					Type:       d.Type,
					Member:     d.Member,
					Candidates: []string{primary.name, cands[i].name},
					Reason:     "more than one definition is marked primary",
				}
			}
			primary = &cands[i]
		}
	}
	if primary != nil {
		return primary, nil
	}

	// (b) priority, lower value wins
	var highest *autowireCandidate
	tied := false
	for i := range cands {
		if cands[i].def == nil || cands[i].def.Priority == nil {
			continue
		}
		switch {
		case highest == nil || *cands[i].def.Priority < *highest.def.Priority:
			highest = &cands[i]
			tied = false
		case *cands[i].def.Priority == *highest.def.Priority:
			tied = true
		}
	}
	if highest != nil {
		if tied {
			return nil, NotUniqueError{
				Type:       d.Type,
				Member:     d.Member,
				Candidates: names,
				Reason:     fmt.Sprintf("multiple candidates share priority %d", *highest.def.Priority),
			}
		}
		return highest, nil
	}

	// (c) identity with a registered resolvable value
	c.mu.RLock()
	resolvables := make([]resolvableEntry, len(c.resolvables))
	copy(resolvables, c.resolvables)
	c.mu.RUnlock()

	for i := range cands {
		if !cands[i].hasInstance {
			continue
		}
		for _, entry := range resolvables {
			if entry.value != nil && identical(entry.value, cands[i].instance) {
				return &cands[i], nil
			}
		}
	}

	// (d) name or alias match against the declaring member
	if d.Member != "" {
		c.mu.RLock()
		for i := range cands {
			if cands[i].name == d.Member {
				c.mu.RUnlock()
				return &cands[i], nil
			}
			for _, alias := range c.aliasesOfLocked(cands[i].name) {
				if alias == d.Member {
					c.mu.RUnlock()
					return &cands[i], nil
				}
			}
		}
		c.mu.RUnlock()
	}

	if d.Required {
		return nil, NotUniqueError{Type: d.Type, Member: d.Member, Candidates: names}
	}
	return nil, nil
}

// identical reports whether two values are the same instance. Reference
// kinds compare by pointer; everything else falls back to equality when the
// values are comparable.
func identical(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !ra.IsValid() || !rb.IsValid() || ra.Kind() != rb.Kind() {
		return false
	}

	switch ra.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Map, reflect.Func, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	}
	if ra.Comparable() && rb.Comparable() {
		return a == b
	}
	return false
}

// populate applies configured property values and tag-driven field
// injection to a freshly constructed instance.
func (c *Container) populate(res *resolution, name string, def *Definition, raw any) error {
	rv := reflect.ValueOf(raw)
	settable := rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct

	desc := c.analyzer.Describe(reflect.TypeOf(raw))

	needsInjection := len(def.Properties) > 0
	if !needsInjection && desc != nil {
		for _, fd := range desc.Fields {
			if fd.Injectable() {
				needsInjection = true
				break
			}
		}
	}
	if !needsInjection {
		return nil
	}
	if !settable || desc == nil {
		return ConstructionError{Name: name,
			Cause: fmt.Errorf("%T is not a struct pointer; property injection needs one", raw)}
	}

	elem := rv.Elem()
	applied := make(map[string]bool, len(def.Properties))

	for _, prop := range def.Properties {
		fd, ok := desc.FieldByName(prop.Name)
		if !ok {
			return ConstructionError{Name: name,
				Cause: fmt.Errorf("no settable field %q on %T", prop.Name, raw)}
		}

		var value any
		if prop.Ref != "" {
			instance, err := c.getInstance(res, prop.Ref, nil)
			if err != nil {
				return UnsatisfiedDependencyError{Component: name, Member: prop.Name, Type: fd.Type, Cause: err}
			}
			converted, err := c.opts.Converter.Convert(instance, fd.Type)
			if err != nil {
				return UnsatisfiedDependencyError{Component: name, Member: prop.Name, Type: fd.Type, Cause: err}
			}
			value = converted
		} else {
			converted, err := c.opts.Converter.Convert(prop.Value, fd.Type)
			if err != nil {
				return UnsatisfiedDependencyError{Component: name, Member: prop.Name, Type: fd.Type, Cause: err}
			}
			value = converted
		}

		elem.FieldByIndex(fd.Index).Set(valueFor(value, fd.Type))
		applied[prop.Name] = true
	}

	for _, fd := range desc.Fields {
		if !fd.Injectable() || applied[fd.Name] {
			continue
		}

		if fd.Tag.Name != "" {
			instance, err := c.getInstance(res, fd.Tag.Name, nil)
			if err != nil {
				if fd.Tag.Optional {
					continue
				}
				return UnsatisfiedDependencyError{Component: name, Member: fd.Name, Type: fd.Type, Cause: err}
			}
			elem.FieldByIndex(fd.Index).Set(valueFor(instance, fd.Type))
			continue
		}

		v, err := c.resolveDependency(res, name, Descriptor{
			Type:     fd.Type,
			Member:   fd.Name,
			Required: !fd.Tag.Optional,
			Eager:    true,
		})
		if err != nil {
			return UnsatisfiedDependencyError{Component: name, Member: fd.Name, Type: fd.Type, Cause: err}
		}
		if v == nil {
			continue
		}
		elem.FieldByIndex(fd.Index).Set(valueFor(v, fd.Type))
	}

	return nil
}
