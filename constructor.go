package trellis

import (
	"fmt"
	"math"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/kettlebrook/trellis/internal/reflection"
)

// rawArgBias is subtracted from the raw, pre-conversion type-difference
// weight when comparing it against the converted weight, so that exact-type
// raw matches beat equally-distant converted matches. The value is a tuned
// constant: lowering it makes conversion-dependent candidates win more edge
// cases, raising it makes raw assignability dominate. Do not change it
// without adjusting the boundary tests.
const rawArgBias = 1024

// maxTypeDiffWeight marks a disqualified candidate.
const maxTypeDiffWeight = math.MaxInt32

// ctorCandidate is one gathered constructor or factory method.
type ctorCandidate struct {
	fn       reflect.Value
	fnType   reflect.Type
	argNames []string
	exported bool
	label    string // symbol name for diagnostics
}

// preparedArg is the cached resolution state of one constructor parameter.
// Static literals keep their converted value; refs and autowired parameters
// are re-resolved on every construction.
type preparedArg struct {
	paramType reflect.Type
	member    string

	static bool
	value  reflect.Value // valid when static

	ref      string // re-resolve by name when non-empty
	autowire bool   // re-resolve via the dependency resolver
}

// resolvedConstructor is the cached outcome of constructor selection, stored
// on the definition so repeated construction skips re-selection.
type resolvedConstructor struct {
	zeroType reflect.Type // construct via reflect.New when set

	factoryName   string // re-bind the factory method per build when set
	factoryMethod string

	fn       reflect.Value
	fnType   reflect.Type
	prepared []preparedArg

	// onlyCandidate records whether selection saw a single viable candidate;
	// rebuilds apply the empty-container degradation only in that case, the
	// same policy buildArgs used when the choice was made.
	onlyCandidate bool
}

// instantiate produces the raw instance for a definition: either through the
// cached constructor choice or by running full candidate selection.
func (c *Container) instantiate(res *resolution, name string, def *Definition, explicitArgs []any) (any, error) {
	if explicitArgs == nil {
		if rc := def.resolved.Load(); rc != nil {
			return c.invokeResolved(res, name, rc)
		}
	}

	cands, err := c.gatherCandidates(res, name, def)
	if err != nil {
		return nil, err
	}

	if len(cands) == 0 {
		return c.instantiateZero(name, def, explicitArgs)
	}

	if explicitArgs != nil {
		return c.selectExplicit(name, def, cands, explicitArgs)
	}

	return c.selectConfigured(res, name, def, cands)
}

// instantiateZero builds a bare struct instance for definitions without any
// constructor candidates.
func (c *Container) instantiateZero(name string, def *Definition, explicitArgs []any) (any, error) {
	if def.Type == nil || def.Type.Kind() != reflect.Struct {
		return nil, ConstructionError{Name: name,
			Cause: fmt.Errorf("no constructor candidates and no constructible target type")}
	}
	if len(def.Args) > 0 || len(explicitArgs) > 0 {
		return nil, ConstructionError{Name: name,
			Cause: fmt.Errorf("arguments configured but the target type has no constructor")}
	}

	if explicitArgs == nil {
		def.resolved.Store(&resolvedConstructor{zeroType: def.Type})
	}
	return reflect.New(def.Type).Interface(), nil
}

// gatherCandidates collects the constructor overload set: either the bound
// factory method or the definition's own candidates, sorted by the
// deterministic preference order (exported first, then widest first).
func (c *Container) gatherCandidates(res *resolution, name string, def *Definition) ([]ctorCandidate, error) {
	if def.FactoryName != "" {
		factory, err := c.getInstance(res, def.FactoryName, nil)
		if err != nil {
			return nil, UnsatisfiedDependencyError{
				Component: name,
				Member:    "factory " + def.FactoryName,
				Cause:     err,
			}
		}

		method := reflect.ValueOf(factory).MethodByName(def.FactoryMethod)
		if !method.IsValid() {
			return nil, ConstructionError{Name: name,
				Cause: fmt.Errorf("factory %q (%T) has no method %s", def.FactoryName, factory, def.FactoryMethod)}
		}
		if err := validateProducer(method.Type()); err != nil {
			return nil, ConstructionError{Name: name, Cause: err}
		}

		return []ctorCandidate{{
			fn:       method,
			fnType:   method.Type(),
			exported: reflection.Exported(def.FactoryMethod),
			label:    def.FactoryMethod,
		}}, nil
	}

	cands := make([]ctorCandidate, 0, len(def.Constructors))
	for _, cand := range def.Constructors {
		fn := reflect.ValueOf(cand.Fn)
		label := reflection.FuncName(fn)
		cands = append(cands, ctorCandidate{
			fn:       fn,
			fnType:   fn.Type(),
			argNames: cand.ArgNames,
			exported: reflection.Exported(label),
			label:    label,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].exported != cands[j].exported {
			return cands[i].exported
		}
		return cands[i].fnType.NumIn() > cands[j].fnType.NumIn()
	})

	return cands, nil
}

func validateProducer(t reflect.Type) error {
	errType := reflect.TypeOf((*error)(nil)).Elem()
	switch t.NumOut() {
	case 1:
		if t.Out(0).Implements(errType) {
			return fmt.Errorf("factory method returns only an error")
		}
	case 2:
		if !t.Out(1).Implements(errType) {
			return fmt.Errorf("factory method second return value must be error")
		}
	default:
		return fmt.Errorf("factory method must return T or (T, error)")
	}
	return nil
}

// builtCandidate is a candidate whose full argument vector resolved.
type builtCandidate struct {
	cand      ctorCandidate
	converted []reflect.Value
	raw       []reflect.Type // pre-conversion argument types, nil entry = same as converted
	prepared  []preparedArg
	weight    int
}

// selectConfigured runs the full selection algorithm over the candidate set
// using the definition's configured arguments plus autowiring.
func (c *Container) selectConfigured(res *resolution, name string, def *Definition, cands []ctorCandidate) (any, error) {
	def.selections.Add(1)

	minArgs := def.minConfiguredArgs()
	only := len(cands) == 1

	var best *builtCandidate
	minWeight := maxTypeDiffWeight
	var ambiguous []reflect.Type
	var suppressed []error
	var lastErr error

	for i := range cands {
		cand := cands[i]

		// No remaining candidate can beat a greedy match that already
		// consumed more arguments than this one declares.
		if best != nil && len(best.converted) > cand.fnType.NumIn() {
			break
		}

		if cand.fnType.NumIn() < minArgs {
			continue
		}

		built, err := c.buildArgs(res, name, def, cand, only)
		if err != nil {
			if lastErr != nil {
				suppressed = append(suppressed, lastErr)
			}
			lastErr = err
			continue
		}

		built.weight = c.scoreCandidate(built)
		if built.weight >= maxTypeDiffWeight {
			err := fmt.Errorf("arguments %s not assignable to %s",
				describeArgs(built.converted), formatType(cand.fnType))
			if lastErr != nil {
				suppressed = append(suppressed, lastErr)
			}
			lastErr = err
			continue
		}

		switch {
		case built.weight < minWeight:
			minWeight = built.weight
			best = built
			ambiguous = nil
		case built.weight == minWeight && best != nil:
			// Identical parameter signatures are overrides, not ambiguity.
			if signature(cand.fnType) != signature(best.cand.fnType) {
				ambiguous = append(ambiguous, cand.fnType)
			}
		}
	}

	if best == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("no constructor with at least %d parameters", minArgs)
		}
		return nil, ConstructionError{Name: name, Cause: lastErr, Suppressed: suppressed}
	}

	if len(ambiguous) > 0 {
		return nil, AmbiguousConstructorError{
			Name:       name,
			Weight:     minWeight,
			Candidates: append([]reflect.Type{best.cand.fnType}, ambiguous...),
		}
	}

	instance, err := c.invoke(name, best.cand.fn, best.cand.fnType, best.converted)
	if err != nil {
		if ce, ok := err.(ConstructionError); ok && len(suppressed) > 0 {
			ce.Suppressed = append(ce.Suppressed, suppressed...)
			err = ce
		}
		return nil, err
	}

	def.resolved.Store(&resolvedConstructor{
		factoryName:   def.FactoryName,
		factoryMethod: def.FactoryMethod,
		fn:            best.cand.fn,
		fnType:        best.cand.fnType,
		prepared:      best.prepared,
		onlyCandidate: only,
	})

	return instance, nil
}

// selectExplicit handles caller-supplied arguments: only exact-arity
// candidates are considered and no autowiring occurs.
func (c *Container) selectExplicit(name string, def *Definition, cands []ctorCandidate, explicitArgs []any) (any, error) {
	def.selections.Add(1)

	var best *builtCandidate
	minWeight := maxTypeDiffWeight
	var ambiguous []reflect.Type
	var lastErr error

	for i := range cands {
		cand := cands[i]
		if cand.fnType.NumIn() != len(explicitArgs) {
			continue
		}

		converted := make([]reflect.Value, len(explicitArgs))
		raw := make([]reflect.Type, len(explicitArgs))
		failed := false
		for j, arg := range explicitArgs {
			pt := cand.fnType.In(j)
			raw[j] = reflect.TypeOf(arg)

			cv, err := c.convertTo(arg, pt)
			if err != nil {
				lastErr = err
				failed = true
				break
			}
			converted[j] = cv
		}
		if failed {
			continue
		}

		built := &builtCandidate{cand: cand, converted: converted, raw: raw}
		built.weight = c.scoreCandidate(built)
		if built.weight >= maxTypeDiffWeight {
			lastErr = fmt.Errorf("arguments %s not assignable to %s",
				describeArgs(converted), formatType(cand.fnType))
			continue
		}

		switch {
		case built.weight < minWeight:
			minWeight = built.weight
			best = built
			ambiguous = nil
		case built.weight == minWeight && best != nil:
			if signature(cand.fnType) != signature(best.cand.fnType) {
				ambiguous = append(ambiguous, cand.fnType)
			}
		}
	}

	if best == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("no constructor accepts %d explicit arguments", len(explicitArgs))
		}
		return nil, ConstructionError{Name: name, Cause: lastErr}
	}

	if len(ambiguous) > 0 {
		return nil, AmbiguousConstructorError{
			Name:       name,
			Weight:     minWeight,
			Candidates: append([]reflect.Type{best.cand.fnType}, ambiguous...),
		}
	}

	return c.invoke(name, best.cand.fn, best.cand.fnType, best.converted)
}

// buildArgs assembles the full argument vector for one candidate: configured
// values claimed by index, then by declared name, then by unclaimed generic
// fit; every remaining parameter is autowired.
func (c *Container) buildArgs(res *resolution, name string, def *Definition, cand ctorCandidate, onlyCandidate bool) (*builtCandidate, error) {
	numIn := cand.fnType.NumIn()
	claimed := make([]bool, len(def.Args))
	converted := make([]reflect.Value, numIn)
	raw := make([]reflect.Type, numIn)
	prepared := make([]preparedArg, numIn)

	for i := 0; i < numIn; i++ {
		pt := cand.fnType.In(i)
		member := fmt.Sprintf("parameter %d of %s", i, cand.label)

		idx := c.claimArg(def.Args, claimed, i, cand.argNames, pt)
		if idx >= 0 {
			arg := def.Args[idx]
			claimed[idx] = true

			if arg.Ref != "" {
				instance, err := c.getInstance(res, arg.Ref, nil)
				if err != nil {
					return nil, UnsatisfiedDependencyError{Component: name, Member: member, Type: pt, Cause: err}
				}
				cv, err := c.convertTo(instance, pt)
				if err != nil {
					return nil, UnsatisfiedDependencyError{Component: name, Member: member, Type: pt, Cause: err}
				}
				converted[i] = cv
				raw[i] = reflect.TypeOf(instance)
				prepared[i] = preparedArg{paramType: pt, member: member, ref: arg.Ref}
				continue
			}

			cv, err := c.convertTo(arg.Value, pt)
			if err != nil {
				return nil, UnsatisfiedDependencyError{Component: name, Member: member, Type: pt, Cause: err}
			}
			converted[i] = cv
			raw[i] = reflect.TypeOf(arg.Value)
			prepared[i] = preparedArg{paramType: pt, member: member, static: true, value: cv}
			continue
		}

		// Autowire the unconfigured parameter.
		v, err := c.resolveDependency(res, name, Descriptor{
			Type:     pt,
			Member:   member,
			Required: true,
			Eager:    true,
		})
		if err != nil {
			// With a single viable candidate a missing container-shaped
			// dependency degrades to its empty value instead of failing.
			if onlyCandidate && isContainerKind(pt) {
				converted[i] = emptyContainer(pt)
				prepared[i] = preparedArg{paramType: pt, member: member, autowire: true}
				continue
			}
			return nil, UnsatisfiedDependencyError{Component: name, Member: member, Type: pt, Cause: err}
		}

		converted[i] = valueFor(v, pt)
		raw[i] = reflect.TypeOf(v)
		prepared[i] = preparedArg{paramType: pt, member: member, autowire: true}
	}

	for j := range def.Args {
		if !claimed[j] {
			return nil, ConstructionError{Name: name,
				Cause: fmt.Errorf("configured argument %d does not match any parameter of %s", j, cand.label)}
		}
	}

	return &builtCandidate{cand: cand, converted: converted, raw: raw, prepared: prepared}, nil
}

// claimArg finds the configured argument for parameter position i, trying
// index, then declared name, then an unclaimed generic value. Returns the
// argument's position in args, or -1.
func (c *Container) claimArg(args []Arg, claimed []bool, i int, argNames []string, pt reflect.Type) int {
	for j := range args {
		if !claimed[j] && args[j].Index == i {
			return j
		}
	}

	if i < len(argNames) && argNames[i] != "" {
		for j := range args {
			if !claimed[j] && args[j].Index < 0 && args[j].Name == argNames[i] {
				return j
			}
		}
	}

	for j := range args {
		if claimed[j] || args[j].Index >= 0 || args[j].Name != "" {
			continue
		}
		if args[j].Ref != "" {
			// A ref claims the slot only when the referenced component's
			// predicted type fits; an unpredictable type stays greedy.
			if t := c.refType(args[j].Ref); t != nil && !reflection.Assignable(t, pt) {
				continue
			}
			return j
		}
		if _, err := c.opts.Converter.Convert(args[j].Value, pt); err == nil {
			return j
		}
	}

	return -1
}

// scoreCandidate computes the type-difference weight: the converted-argument
// distance, and the raw pre-conversion distance less rawArgBias, whichever
// is smaller. In strict mode any non-exact converted argument disqualifies.
func (c *Container) scoreCandidate(b *builtCandidate) int {
	convertedWeight := 0
	rawWeight := 0
	rawFeasible := true

	for i, cv := range b.converted {
		pt := b.cand.fnType.In(i)

		var ct reflect.Type
		if cv.IsValid() {
			ct = cv.Type()
		}

		d := argDistance(pt, ct)
		if d >= maxTypeDiffWeight {
			return maxTypeDiffWeight
		}
		convertedWeight += d

		rt := b.raw[i]
		if rt == nil {
			rt = ct
		}
		rd := argDistance(pt, rt)
		if rd >= maxTypeDiffWeight {
			// Strict mode refuses conversion-dependent matches outright.
			if c.opts.StrictConstructorMatching {
				return maxTypeDiffWeight
			}
			rawFeasible = false
		} else {
			rawWeight += rd
		}
	}

	if rawFeasible {
		if rw := rawWeight - rawArgBias; rw < convertedWeight {
			return rw
		}
	}
	return convertedWeight
}

// argDistance approximates how far an argument type is from a parameter
// type: exact match scores 0, interface satisfaction 1, other assignability
// 2, anything else disqualifies.
func argDistance(param, arg reflect.Type) int {
	if arg == nil {
		// Untyped nil fits any nilable parameter exactly.
		switch param.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
			return 0
		}
		return maxTypeDiffWeight
	}

	if arg == param {
		return 0
	}
	if param.Kind() == reflect.Interface && arg.Implements(param) {
		return 1
	}
	if arg.AssignableTo(param) {
		return 2
	}
	return maxTypeDiffWeight
}

// invoke calls the chosen constructor, translating panics and error returns
// into the failure taxonomy.
func (c *Container) invoke(name string, fn reflect.Value, fnType reflect.Type, args []reflect.Value) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = ConstructionPanicError{
				Name:        name,
				Constructor: fnType,
				Panic:       r,
				Stack:       debug.Stack(),
			}
		}
	}()

	results := fn.Call(args)

	if len(results) == 2 && !results[1].IsNil() {
		return nil, ConstructionError{
			Name:        name,
			Constructor: fnType,
			Cause:       results[1].Interface().(error),
		}
	}

	return results[0].Interface(), nil
}

// invokeResolved re-runs a previously selected constructor: static arguments
// are reused as-is, dependency-typed arguments are re-resolved.
func (c *Container) invokeResolved(res *resolution, name string, rc *resolvedConstructor) (any, error) {
	if rc.zeroType != nil {
		return reflect.New(rc.zeroType).Interface(), nil
	}

	fn := rc.fn
	fnType := rc.fnType
	if rc.factoryName != "" {
		factory, err := c.getInstance(res, rc.factoryName, nil)
		if err != nil {
			return nil, UnsatisfiedDependencyError{Component: name, Member: "factory " + rc.factoryName, Cause: err}
		}
		fn = reflect.ValueOf(factory).MethodByName(rc.factoryMethod)
		fnType = fn.Type()
	}

	args := make([]reflect.Value, len(rc.prepared))
	for i, p := range rc.prepared {
		switch {
		case p.static:
			args[i] = p.value
		case p.ref != "":
			instance, err := c.getInstance(res, p.ref, nil)
			if err != nil {
				return nil, UnsatisfiedDependencyError{Component: name, Member: p.member, Type: p.paramType, Cause: err}
			}
			cv, err := c.convertTo(instance, p.paramType)
			if err != nil {
				return nil, UnsatisfiedDependencyError{Component: name, Member: p.member, Type: p.paramType, Cause: err}
			}
			args[i] = cv
		default:
			v, err := c.resolveDependency(res, name, Descriptor{
				Type:     p.paramType,
				Member:   p.member,
				Required: true,
				Eager:    true,
			})
			if err != nil {
				if rc.onlyCandidate && isContainerKind(p.paramType) {
					args[i] = emptyContainer(p.paramType)
					continue
				}
				return nil, UnsatisfiedDependencyError{Component: name, Member: p.member, Type: p.paramType, Cause: err}
			}
			args[i] = valueFor(v, p.paramType)
		}
	}

	return c.invoke(name, fn, fnType, args)
}

// convertTo coerces a value through the container's TypeConverter and wraps
// it as a reflect.Value of the parameter type's shape.
func (c *Container) convertTo(v any, target reflect.Type) (reflect.Value, error) {
	out, err := c.opts.Converter.Convert(v, target)
	if err != nil {
		return reflect.Value{}, err
	}
	return valueFor(out, target), nil
}

// valueFor wraps an instance as a reflect.Value suitable for the parameter
// type, mapping nil to the zero value.
func valueFor(v any, target reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(v)
	if rv.Type() != target && rv.Type().AssignableTo(target) {
		// Interface parameters need the value boxed as the interface type.
		out := reflect.New(target).Elem()
		out.Set(rv)
		return out
	}
	return rv
}

func isContainerKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	default:
		return false
	}
}

func emptyContainer(t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.Slice:
		return reflect.MakeSlice(t, 0, 0)
	case reflect.Map:
		return reflect.MakeMap(t)
	default:
		return reflect.Zero(t)
	}
}

func signature(fnType reflect.Type) string {
	parts := make([]string, fnType.NumIn())
	for i := range parts {
		parts[i] = fnType.In(i).String()
	}
	return strings.Join(parts, ",")
}

func describeArgs(args []reflect.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if !a.IsValid() {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = a.Type().String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
