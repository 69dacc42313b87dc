package trellis

import (
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kettlebrook/trellis/internal/graph"
	"github.com/kettlebrook/trellis/internal/reflection"
)

// Container owns all mutable object-graph state: the definition registry,
// the shared-instance cache, the dependency graph, and the resolution
// caches. Containers are independent of each other; there is no process-wide
// state. Many goroutines may resolve concurrently; construction of shared
// instances is serialized by the instance cache.
type Container struct {
	id   string
	opts *Options

	mu          sync.RWMutex
	definitions map[string]*Definition
	names       []string // registration order, significant for deterministic fallback
	aliases     map[string]string
	manual      map[string]any
	resolvables []resolvableEntry

	started atomic.Bool
	closed  atomic.Bool

	singletons *singletonRegistry
	graph      *graph.Graph
	analyzer   *reflection.Analyzer
}

// resolvableEntry is a type-to-value escape hatch allowing infrastructure
// values not backed by a definition to satisfy autowiring.
type resolvableEntry struct {
	typ     reflect.Type
	value   any
	factory func() any
}

// New creates an empty container.
func New(opts ...Option) *Container {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	return &Container{
		id:          uuid.NewString(),
		opts:        options,
		definitions: make(map[string]*Definition),
		aliases:     make(map[string]string),
		manual:      make(map[string]any),
		singletons:  newSingletonRegistry(),
		graph:       graph.New(),
		analyzer:    reflection.NewAnalyzer(),
	}
}

// ID returns the container's unique identifier, useful for telling multiple
// containers apart in diagnostics.
func (c *Container) ID() string {
	return c.id
}

// Register adds a definition under the given name. Before the first instance
// has been created, re-registering a name replaces the previous definition;
// afterwards, replacing an existing name is rejected to keep concurrent
// resolution stable.
func (c *Container) Register(name string, def *Definition) error {
	if c.closed.Load() {
		return RegistrationError{Name: name, Operation: "register", Cause: ErrContainerClosed}
	}
	if name == "" {
		return RegistrationError{Name: name, Operation: "register", Cause: ErrNameEmpty}
	}
	if def == nil {
		return RegistrationError{Name: name, Operation: "register", Cause: ErrDefinitionNil}
	}
	if err := def.Validate(); err != nil {
		return RegistrationError{Name: name, Operation: "register", Cause: ValidationError{Name: name, Cause: err}}
	}

	c.mu.Lock()
	_, exists := c.definitions[name]
	if exists && c.started.Load() {
		c.mu.Unlock()
		return RegistrationError{Name: name, Operation: "register", Cause: ErrDefinitionFrozen}
	}
	if !exists {
		if _, taken := c.manual[name]; taken {
			c.mu.Unlock()
			return RegistrationError{Name: name, Operation: "register",
				Cause: fmt.Errorf("name already bound to a registered instance")}
		}
		c.names = append(c.names, name)
	}
	c.definitions[name] = def
	c.mu.Unlock()

	// Outside c.mu: the instance cache and graph have their own locks, and
	// construction paths acquire them before c.mu.
	if exists {
		c.singletons.remove(name)
		c.graph.Remove(name)
	}
	return nil
}

// RegisterInstance stores an externally-constructed singleton under name,
// bypassing construction. The instance participates in autowiring like any
// definition-backed singleton. Instances implementing io.Closer are torn
// down during Close.
func (c *Container) RegisterInstance(name string, instance any) error {
	if c.closed.Load() {
		return RegistrationError{Name: name, Operation: "register instance", Cause: ErrContainerClosed}
	}
	if name == "" {
		return RegistrationError{Name: name, Operation: "register instance", Cause: ErrNameEmpty}
	}
	if instance == nil {
		return RegistrationError{Name: name, Operation: "register instance",
			Cause: fmt.Errorf("instance cannot be nil")}
	}

	c.mu.Lock()
	if _, exists := c.definitions[name]; exists {
		c.mu.Unlock()
		return RegistrationError{Name: name, Operation: "register instance",
			Cause: fmt.Errorf("name already bound to a definition")}
	}
	if _, exists := c.manual[name]; exists {
		c.mu.Unlock()
		return RegistrationError{Name: name, Operation: "register instance",
			Cause: fmt.Errorf("instance already registered")}
	}
	c.manual[name] = instance
	c.names = append(c.names, name)
	c.mu.Unlock()

	c.singletons.add(name, instance)
	if closer, ok := instance.(io.Closer); ok {
		c.singletons.addDisposer(name, closer.Close)
	}

	return nil
}

// RegisterAlias makes alias resolve to the canonical name. Alias names
// participate in name-based tie-breaking.
func (c *Container) RegisterAlias(alias, name string) error {
	if alias == "" || name == "" {
		return RegistrationError{Name: alias, Operation: "alias", Cause: ErrNameEmpty}
	}
	if alias == name {
		return RegistrationError{Name: alias, Operation: "alias",
			Cause: fmt.Errorf("alias cannot reference itself")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.definitions[alias]; exists {
		return RegistrationError{Name: alias, Operation: "alias",
			Cause: fmt.Errorf("alias collides with a definition name")}
	}

	c.aliases[alias] = name
	return nil
}

// RegisterResolvable registers a fixed value (or a func() any factory) that
// satisfies autowiring for the type of target. Target is a sample value; to
// register an interface type, pass a nil pointer to it:
//
//	c.RegisterResolvable((*Logger)(nil), logger)
//
// The table is consulted before definition candidates during discovery.
func (c *Container) RegisterResolvable(target any, value any) error {
	typ := typeFromSample(target)
	if typ == nil {
		return RegistrationError{Operation: "resolvable", Cause: fmt.Errorf("cannot determine type from %T", target)}
	}

	entry := resolvableEntry{typ: typ}
	if f, ok := value.(func() any); ok {
		entry.factory = f
	} else {
		entry.value = value
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resolvables = append(c.resolvables, entry)
	return nil
}

// typeFromSample derives the registration type from a sample value. A nil
// pointer to an interface yields the interface type.
func typeFromSample(sample any) reflect.Type {
	t := reflect.TypeOf(sample)
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Interface {
		return t.Elem()
	}
	return t
}

// RemoveDefinition removes a definition and any cached instance built from
// it. The instance's disposers do not run; use Close for orderly teardown.
func (c *Container) RemoveDefinition(name string) error {
	c.mu.Lock()
	canonical := c.canonicalLocked(name)
	if _, exists := c.definitions[canonical]; !exists {
		available := c.namesLocked()
		c.mu.Unlock()
		return NotFoundError{Name: name, Available: available}
	}
	delete(c.definitions, canonical)
	for i, n := range c.names {
		if n == canonical {
			c.names = append(c.names[:i], c.names[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.singletons.remove(canonical)
	c.graph.Remove(canonical)
	return nil
}

// ResetDefinition unfreezes a definition, discarding its cached constructor
// choice and any cached singleton so the next request rebuilds from the
// current metadata.
func (c *Container) ResetDefinition(name string) error {
	c.mu.Lock()
	canonical := c.canonicalLocked(name)
	def, exists := c.definitions[canonical]
	if !exists {
		available := c.namesLocked()
		c.mu.Unlock()
		return NotFoundError{Name: name, Available: available}
	}
	c.mu.Unlock()

	def.Reset()
	c.singletons.remove(canonical)
	c.graph.Remove(canonical)
	return nil
}

// ContainsDefinition reports whether a definition (or alias to one) exists.
func (c *Container) ContainsDefinition(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.definitions[c.canonicalLocked(name)]
	return ok
}

// Definition returns the registered definition for name.
func (c *Container) Definition(name string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.definitions[c.canonicalLocked(name)]
	return def, ok
}

// DefinitionNames returns all registered names in registration order.
func (c *Container) DefinitionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.namesLocked()
}

// SingletonNames returns the names of fully-initialized shared instances in
// completion order.
func (c *Container) SingletonNames() []string {
	return c.singletons.names()
}

// GetInstance returns the shared instance for name, constructing it (and its
// transitive dependencies) on first request. Prototype-scoped definitions
// construct a fresh instance per call.
func (c *Container) GetInstance(name string) (any, error) {
	return c.resolveTopLevel(name, nil)
}

// GetInstanceArgs constructs an instance of name using the supplied explicit
// constructor arguments. Only candidates whose parameter count matches
// exactly are considered and no autowiring occurs for the arguments. The
// result is never cached, regardless of the definition's scope.
func (c *Container) GetInstanceArgs(name string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	return c.resolveTopLevel(name, args)
}

// GetInstanceByType returns the single instance satisfying the given type,
// applying the autowiring candidate and tie-break rules. Pass a nil pointer
// to an interface to request the interface type.
func (c *Container) GetInstanceByType(target any) (any, error) {
	typ := typeFromSample(target)
	if typ == nil {
		return nil, NotFoundError{Type: nil}
	}
	return c.resolveTypeTopLevel(typ)
}

// ResolveDependency resolves a single dependency described by d, applying
// the full candidate discovery and tie-break rules. It is the programmatic
// counterpart of an autowired field or parameter.
func (c *Container) ResolveDependency(d Descriptor) (any, error) {
	if c.closed.Load() {
		return nil, ErrContainerClosed
	}
	c.started.Store(true)

	return c.resolveDependency(newResolution(), "", d)
}

// Get resolves the single instance assignable to T.
func Get[T any](c *Container) (T, error) {
	var zero T

	typ := reflect.TypeOf((*T)(nil)).Elem()
	v, err := c.resolveTypeTopLevel(typ)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, NotFoundError{Type: typ, Available: c.DefinitionNames()}
	}

	out, ok := v.(T)
	if !ok {
		return zero, NotFoundError{Type: typ}
	}
	return out, nil
}

// GetNamed resolves the named component and asserts it to T.
func GetNamed[T any](c *Container, name string) (T, error) {
	var zero T

	v, err := c.GetInstance(name)
	if err != nil {
		return zero, err
	}

	out, ok := v.(T)
	if !ok {
		return zero, NotFoundError{Name: name, Type: reflect.TypeOf((*T)(nil)).Elem()}
	}
	return out, nil
}

func (c *Container) resolveTopLevel(name string, explicitArgs []any) (any, error) {
	if c.closed.Load() {
		return nil, ErrContainerClosed
	}
	c.started.Store(true)

	start := time.Now()
	res := newResolution()

	v, err := c.getInstance(res, name, explicitArgs)
	if err != nil {
		if c.opts.OnError != nil {
			c.opts.OnError(name, err)
		}
		return nil, err
	}

	if c.opts.OnResolved != nil {
		c.opts.OnResolved(name, v, time.Since(start))
	}
	return v, nil
}

func (c *Container) resolveTypeTopLevel(typ reflect.Type) (any, error) {
	if c.closed.Load() {
		return nil, ErrContainerClosed
	}
	c.started.Store(true)

	res := newResolution()
	return c.resolveDependency(res, "", Descriptor{
		Type:     typ,
		Required: true,
		Eager:    true,
	})
}

// getInstance is the shared get-or-create path. Nested resolutions re-enter
// it with the same resolution handle.
func (c *Container) getInstance(res *resolution, name string, explicitArgs []any) (any, error) {
	c.mu.RLock()
	canonical := c.canonicalLocked(name)
	def := c.definitions[canonical]
	c.mu.RUnlock()

	if def == nil {
		// Manually registered singletons have no definition.
		if v, ok := c.singletons.get(canonical); ok {
			c.recordDependency(res, canonical)
			return v, nil
		}
		return nil, NotFoundError{Name: name, Available: c.DefinitionNames()}
	}

	var v any
	var err error

	switch {
	case def.Scope == Singleton && explicitArgs == nil:
		v, err = c.singletons.getOrCreate(res, canonical, func() (any, error) {
			return c.buildInstance(res, canonical, def, nil)
		})
	default:
		// Prototype scope, or explicit arguments forcing an uncached build.
		if !res.enterPrototype(canonical) {
			return nil, CircularCreationError{Name: canonical, Chain: chainCopy(res.chain)}
		}
		res.chain = append(res.chain, canonical)

		v, err = c.buildInstance(res, canonical, def, explicitArgs)

		res.chain = res.chain[:len(res.chain)-1]
		res.exitPrototype(canonical)
	}

	if err != nil {
		return nil, err
	}

	c.recordDependency(res, canonical)
	return v, nil
}

// recordDependency registers a depends-on edge from the component currently
// under construction to the resolved name, for destruction ordering.
func (c *Container) recordDependency(res *resolution, resolved string) {
	if consumer := res.creating(); consumer != "" && consumer != resolved {
		c.graph.AddEdge(consumer, resolved)
	}
}

// buildInstance runs one construction: declared dependencies first, then the
// constructor, then early exposure, then property population.
func (c *Container) buildInstance(res *resolution, name string, def *Definition, explicitArgs []any) (any, error) {
	def.freeze()

	for _, dep := range def.DependsOn {
		c.graph.AddEdge(name, dep)
		if _, err := c.getInstance(res, dep, nil); err != nil {
			return nil, UnsatisfiedDependencyError{
				Component: name,
				Member:    "dependsOn " + dep,
				Cause:     err,
			}
		}
	}

	raw, err := c.instantiate(res, name, def, explicitArgs)
	if err != nil {
		return nil, err
	}

	shared := def.Scope == Singleton && explicitArgs == nil

	// Expose the raw instance before its fields are populated so a circular
	// caller reached during property injection can observe it.
	if shared {
		c.singletons.registerEarly(name, func() any { return raw })
	}

	if err := c.populate(res, name, def, raw); err != nil {
		return nil, err
	}

	if shared {
		c.registerDisposers(name, def, raw)
	}

	return raw, nil
}

// registerDisposers records teardown hooks for a shared instance. Caller is
// on a construction path and therefore holds the creation mutex.
func (c *Container) registerDisposers(name string, def *Definition, instance any) {
	if def.DestroyFunc != nil {
		fn := def.DestroyFunc
		c.singletons.registerDisposer(name, func() error { return fn(instance) })
	}
	if closer, ok := instance.(io.Closer); ok {
		c.singletons.registerDisposer(name, closer.Close)
	}
}

// Build eagerly instantiates every non-lazy singleton definition in
// registration order. Lazy and prototype definitions are skipped.
func (c *Container) Build() error {
	if c.closed.Load() {
		return ErrContainerClosed
	}

	c.mu.RLock()
	names := c.namesLocked()
	c.mu.RUnlock()

	for _, name := range names {
		c.mu.RLock()
		def := c.definitions[name]
		c.mu.RUnlock()

		if def == nil || def.Scope != Singleton || def.LazyInit {
			continue
		}

		if _, err := c.GetInstance(name); err != nil {
			return err
		}
	}

	return nil
}

// Close tears down all shared instances in reverse creation order, with each
// component's dependents destroyed before the component itself. Individual
// disposal failures are collected into the returned error and never abort
// the sweep. Close is idempotent.
func (c *Container) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.singletons.destroyAll(c.graph, c.opts.OnDestroyed)
	c.graph.Clear()
	return err
}

// canonicalLocked follows the alias chain to the canonical name. Caller
// holds c.mu.
func (c *Container) canonicalLocked(name string) string {
	seen := 0
	for {
		next, ok := c.aliases[name]
		if !ok {
			return name
		}
		name = next

		// Alias chains are short; anything this deep is a loop.
		if seen++; seen > 16 {
			return name
		}
	}
}

// aliasesOfLocked returns the aliases pointing (transitively) at name.
// Caller holds c.mu.
func (c *Container) aliasesOfLocked(name string) []string {
	var out []string
	for alias := range c.aliases {
		if c.canonicalLocked(alias) == name {
			out = append(out, alias)
		}
	}
	return out
}

func (c *Container) namesLocked() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}
