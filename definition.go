package trellis

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Definition is the declarative metadata describing how to build one managed
// component. Definitions are produced by an external configuration layer (or
// assembled in code via NewDefinition) and handed to Container.Register. A
// definition may be mutated freely until the first instance is created from
// it; after that it is logically frozen and mutation requires an explicit
// Container.ResetDefinition.
type Definition struct {
	// Type is the target struct type, constructed via its zero value and
	// property injection when no constructor candidates are present. May be
	// nil when Constructors or a factory reference supply the instance.
	Type reflect.Type

	// Constructors are the candidate constructor functions. Each must return
	// T or (T, error). When more than one is present, the resolver picks the
	// best match per the selection algorithm.
	Constructors []Candidate

	// FactoryName and FactoryMethod name another component and an exported
	// method on it that produces this component.
	FactoryName   string
	FactoryMethod string

	// Scope controls instance sharing. Defaults to Singleton.
	Scope Scope

	// Args are the configured constructor argument values, matched against
	// parameter positions by index, then name, then unclaimed generic fit.
	Args []Arg

	// Properties are named field values applied after construction.
	Properties []Property

	// DependsOn names components that must be fully initialized before this
	// one is constructed.
	DependsOn []string

	// Primary marks this definition as the preferred candidate when multiple
	// definitions satisfy the same dependency.
	Primary bool

	// AutowireCandidate controls whether this definition is eligible to
	// satisfy by-type dependencies of other components. Defaults to true.
	AutowireCandidate bool

	// LazyInit excludes the definition from eager warm-up in Build.
	LazyInit bool

	// Priority breaks ties among multiple candidates; lower values win.
	Priority *int

	// DestroyFunc is invoked with the instance during container teardown,
	// in addition to io.Closer when implemented.
	DestroyFunc func(instance any) error

	frozen     atomic.Bool
	resolved   atomic.Pointer[resolvedConstructor]
	selections atomic.Uint64
}

// Candidate is one constructor function in a definition's overload set.
type Candidate struct {
	// Fn is the constructor function, returning T or (T, error).
	Fn any

	// ArgNames optionally declares the parameter names, enabling named
	// argument matching. Go reflection does not expose parameter names, so
	// without this the named-matching pass is skipped for the candidate.
	ArgNames []string
}

// Arg is one configured constructor argument value.
type Arg struct {
	Index int    // parameter position, -1 when unindexed
	Name  string // declared parameter name, empty when unnamed
	Value any    // literal, converted via the TypeConverter
	Ref   string // component reference, resolved through the container
}

// Value configures an unindexed literal argument, matched against the first
// unclaimed parameter it can satisfy.
func Value(v any) Arg { return Arg{Index: -1, Value: v} }

// ValueAt configures a literal argument at a fixed parameter position.
func ValueAt(index int, v any) Arg { return Arg{Index: index, Value: v} }

// NamedArg configures a literal argument matched by declared parameter name.
func NamedArg(name string, v any) Arg { return Arg{Index: -1, Name: name, Value: v} }

// Ref configures an unindexed argument resolved from the named component.
func Ref(name string) Arg { return Arg{Index: -1, Ref: name} }

// RefAt configures a component reference at a fixed parameter position.
func RefAt(index int, name string) Arg { return Arg{Index: index, Ref: name} }

// Property is one named field value applied after construction.
type Property struct {
	Name  string
	Value any
	Ref   string
}

// Prop configures a literal property value.
func Prop(name string, v any) Property { return Property{Name: name, Value: v} }

// PropRef configures a property resolved from the named component.
func PropRef(name, ref string) Property { return Property{Name: name, Ref: ref} }

// DefinitionOption configures a Definition during NewDefinition.
type DefinitionOption func(*Definition)

// NewDefinition assembles a definition with Singleton scope and autowire
// eligibility enabled.
func NewDefinition(opts ...DefinitionOption) *Definition {
	d := &Definition{
		Scope:             Singleton,
		AutowireCandidate: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// WithType sets the target type from a sample value, e.g. WithType(&Server{}).
func WithType(sample any) DefinitionOption {
	return func(d *Definition) {
		t := reflect.TypeOf(sample)
		for t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		d.Type = t
	}
}

// WithConstructor adds a constructor candidate, optionally declaring its
// parameter names for named argument matching.
func WithConstructor(fn any, argNames ...string) DefinitionOption {
	return func(d *Definition) {
		d.Constructors = append(d.Constructors, Candidate{Fn: fn, ArgNames: argNames})
	}
}

// WithFactory makes the definition delegate construction to an exported
// method on another component.
func WithFactory(component, method string) DefinitionOption {
	return func(d *Definition) {
		d.FactoryName = component
		d.FactoryMethod = method
	}
}

// WithScope sets the instance-sharing scope.
func WithScope(s Scope) DefinitionOption {
	return func(d *Definition) { d.Scope = s }
}

// WithArgs appends configured constructor arguments.
func WithArgs(args ...Arg) DefinitionOption {
	return func(d *Definition) { d.Args = append(d.Args, args...) }
}

// WithProperties appends configured property values.
func WithProperties(props ...Property) DefinitionOption {
	return func(d *Definition) { d.Properties = append(d.Properties, props...) }
}

// WithDependsOn declares hard initialization-order dependencies.
func WithDependsOn(names ...string) DefinitionOption {
	return func(d *Definition) { d.DependsOn = append(d.DependsOn, names...) }
}

// AsPrimary marks the definition as the preferred autowiring candidate.
func AsPrimary() DefinitionOption {
	return func(d *Definition) { d.Primary = true }
}

// WithPriority sets the tie-break priority; lower values win.
func WithPriority(p int) DefinitionOption {
	return func(d *Definition) { d.Priority = &p }
}

// NotAutowireCandidate excludes the definition from by-type autowiring.
func NotAutowireCandidate() DefinitionOption {
	return func(d *Definition) { d.AutowireCandidate = false }
}

// Lazy excludes the definition from eager warm-up.
func Lazy() DefinitionOption {
	return func(d *Definition) { d.LazyInit = true }
}

// WithDestroy registers a teardown callback for the instance.
func WithDestroy(fn func(instance any) error) DefinitionOption {
	return func(d *Definition) { d.DestroyFunc = fn }
}

// Validate checks the definition's internal consistency.
func (d *Definition) Validate() error {
	if d.Type == nil && len(d.Constructors) == 0 && d.FactoryName == "" {
		return fmt.Errorf("definition needs a target type, a constructor, or a factory reference")
	}

	if !d.Scope.IsValid() {
		return ScopeError{Value: d.Scope}
	}

	if (d.FactoryName == "") != (d.FactoryMethod == "") {
		return fmt.Errorf("factory registration needs both a component name and a method name")
	}

	if d.FactoryName != "" && len(d.Constructors) > 0 {
		return fmt.Errorf("definition cannot have both a factory reference and constructor candidates")
	}

	errType := reflect.TypeOf((*error)(nil)).Elem()
	for i, cand := range d.Constructors {
		if cand.Fn == nil {
			return fmt.Errorf("constructor candidate %d is nil", i)
		}

		t := reflect.TypeOf(cand.Fn)
		if t.Kind() != reflect.Func {
			return fmt.Errorf("constructor candidate %d must be a function, got %s", i, t.Kind())
		}

		switch t.NumOut() {
		case 1:
			if t.Out(0).Implements(errType) {
				return fmt.Errorf("constructor candidate %d returns only an error", i)
			}
		case 2:
			if !t.Out(1).Implements(errType) {
				return fmt.Errorf("constructor candidate %d second return value must be error", i)
			}
		default:
			return fmt.Errorf("constructor candidate %d must return T or (T, error), got %d values", i, t.NumOut())
		}

		if len(cand.ArgNames) > 0 && len(cand.ArgNames) != t.NumIn() {
			return fmt.Errorf("constructor candidate %d declares %d parameter names for %d parameters",
				i, len(cand.ArgNames), t.NumIn())
		}
	}

	if d.Type != nil && d.Type.Kind() != reflect.Struct && len(d.Constructors) == 0 && d.FactoryName == "" {
		return fmt.Errorf("target type %s needs a constructor; only struct types can be built from their zero value", formatType(d.Type))
	}

	seen := make(map[int]bool)
	for _, arg := range d.Args {
		if arg.Index >= 0 {
			if seen[arg.Index] {
				return fmt.Errorf("duplicate constructor argument at index %d", arg.Index)
			}
			seen[arg.Index] = true
		}
		if arg.Value != nil && arg.Ref != "" {
			return fmt.Errorf("constructor argument cannot have both a value and a ref")
		}
	}

	for _, prop := range d.Properties {
		if prop.Name == "" {
			return fmt.Errorf("property name cannot be empty")
		}
		if prop.Value != nil && prop.Ref != "" {
			return fmt.Errorf("property %q cannot have both a value and a ref", prop.Name)
		}
	}

	return nil
}

// Frozen reports whether an instance has been created from this definition.
// Frozen definitions keep their cached constructor choice until Reset.
func (d *Definition) Frozen() bool {
	return d.frozen.Load()
}

// SelectionCount reports how many times the full constructor-selection
// algorithm has run for this definition. Repeated construction of a frozen
// definition reuses the cached choice and does not increment it.
func (d *Definition) SelectionCount() uint64 {
	return d.selections.Load()
}

// Reset unfreezes the definition and discards its cached constructor choice.
// Call it before mutating a definition that has already produced an instance.
func (d *Definition) Reset() {
	d.resolved.Store(nil)
	d.frozen.Store(false)
}

func (d *Definition) freeze() {
	d.frozen.Store(true)
}

// minConfiguredArgs returns the smallest parameter count a constructor must
// have to accommodate every configured argument.
func (d *Definition) minConfiguredArgs() int {
	min := len(d.Args)
	for _, arg := range d.Args {
		if arg.Index >= 0 && arg.Index+1 > min {
			min = arg.Index + 1
		}
	}
	return min
}
