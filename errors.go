package trellis

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// Base errors for errors.Is matching. The container never returns these bare;
// they are wrapped in (or matched by) the typed errors below.

var (
	// Lookup errors.
	ErrNotFound  = errors.New("no matching component")
	ErrNotUnique = errors.New("more than one matching component")

	// Lifecycle errors.
	ErrContainerClosed = errors.New("container has been closed")

	// Registration errors.
	ErrDefinitionNil    = errors.New("definition cannot be nil")
	ErrNameEmpty        = errors.New("component name cannot be empty")
	ErrDefinitionFrozen = errors.New("definition is frozen; reset it before mutating")
)

var (
	_ error = ScopeError{}
	_ error = NotFoundError{}
	_ error = NotUniqueError{}
	_ error = CircularCreationError{}
	_ error = UnsatisfiedDependencyError{}
	_ error = ConstructionError{}
	_ error = ConstructionPanicError{}
	_ error = AmbiguousConstructorError{}
	_ error = ValidationError{}
	_ error = RegistrationError{}
	_ error = ConversionError{}
)

// ========================================
// Typed Errors for Rich Context
// ========================================
// Always prefer these over fmt.Errorf for domain failures; they carry the
// injection point and candidate sets that make wiring problems diagnosable.

// ScopeError indicates an invalid scope value.
type ScopeError struct {
	Value any
}

func (e ScopeError) Error() string {
	return fmt.Sprintf("invalid scope: %v", e.Value)
}

// NotFoundError indicates that no definition or instance exists for the
// requested name or type.
type NotFoundError struct {
	Name      string       // requested name, empty for by-type lookups
	Type      reflect.Type // requested type, nil for by-name lookups
	Available []string     // registered names, for suggestions
}

func (e NotFoundError) Error() string {
	var b strings.Builder

	switch {
	case e.Name != "" && e.Type != nil:
		b.WriteString(fmt.Sprintf("no component named %q of type %s", e.Name, formatType(e.Type)))
	case e.Name != "":
		b.WriteString(fmt.Sprintf("no component named %q", e.Name))
	default:
		b.WriteString(fmt.Sprintf("no component of type %s", formatType(e.Type)))
	}

	if similar := findSimilarNames(e.Name, e.Available); len(similar) > 0 {
		b.WriteString("\n\nDid you mean one of these?\n")
		for _, name := range similar {
			b.WriteString(fmt.Sprintf("  • %s\n", name))
		}
	}

	return b.String()
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// findSimilarNames finds registered names similar to the requested one using
// a simple case-insensitive substring match.
func findSimilarNames(target string, available []string) []string {
	if target == "" || len(available) == 0 {
		return nil
	}

	lower := strings.ToLower(target)

	var similar []string
	for _, name := range available {
		if name == target {
			continue
		}

		if strings.Contains(strings.ToLower(name), lower) || strings.Contains(lower, strings.ToLower(name)) {
			similar = append(similar, name)
		}

		// Limit suggestions
		if len(similar) >= 5 {
			break
		}
	}

	return similar
}

// NotUniqueError indicates multiple equally-eligible candidates after every
// tie-break rule has been exhausted.
type NotUniqueError struct {
	Type       reflect.Type
	Member     string   // the injection point that triggered discovery
	Candidates []string // names of the surviving candidates
	Reason     string   // e.g. "multiple definitions marked primary"
}

func (e NotUniqueError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("expected a single component of type %s", formatType(e.Type)))
	if e.Member != "" {
		b.WriteString(fmt.Sprintf(" for %s", e.Member))
	}
	b.WriteString(fmt.Sprintf(", found %d: %s", len(e.Candidates), strings.Join(e.Candidates, ", ")))
	if e.Reason != "" {
		b.WriteString("\n" + e.Reason)
	}
	b.WriteString("\n\nMark one definition as primary, assign priorities, or request the component by name.")
	return b.String()
}

func (e NotUniqueError) Is(target error) bool {
	return target == ErrNotUnique
}

// CircularCreationError indicates a constructor-time cycle. Cycles expressed
// through constructor parameters are unresolvable: no partial instance can
// exist before the constructor returns, so the request fails before either
// constructor body runs. Cycles through property injection are resolved via
// early references instead and never produce this error.
type CircularCreationError struct {
	Name  string
	Chain []string // creation chain leading back to Name
}

func (e CircularCreationError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("circular reference while creating %q", e.Name))

	if len(e.Chain) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Chain, " -> "))
		b.WriteString(" -> " + e.Name)
	}

	b.WriteString("\n\nConstructor cycles cannot be resolved. Break the cycle by moving one\n")
	b.WriteString("side to property injection, or defer it behind a provider function.")

	return b.String()
}

// UnsatisfiedDependencyError indicates a required parameter or field could
// not be resolved. It wraps the underlying cause with the injection point.
type UnsatisfiedDependencyError struct {
	Component string       // the component being constructed
	Member    string       // field name or parameter position
	Type      reflect.Type // the requested dependency type
	Cause     error
}

func (e UnsatisfiedDependencyError) Error() string {
	return fmt.Sprintf("unsatisfied dependency of %q at %s (%s): %v",
		e.Component, e.Member, formatType(e.Type), e.Cause)
}

func (e UnsatisfiedDependencyError) Unwrap() error {
	return e.Cause
}

// ConstructionError indicates the chosen constructor or factory failed.
// Errors swallowed while trying other candidates are attached as Suppressed.
type ConstructionError struct {
	Name        string
	Constructor reflect.Type // nil when no candidate was ever invoked
	Cause       error
	Suppressed  []error
}

func (e ConstructionError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("failed to construct %q", e.Name))
	if e.Constructor != nil {
		b.WriteString(" via " + formatType(e.Constructor))
	}
	b.WriteString(fmt.Sprintf(": %v", e.Cause))

	for i, sup := range e.Suppressed {
		b.WriteString(fmt.Sprintf("\n  suppressed %d: %v", i+1, sup))
	}

	return b.String()
}

func (e ConstructionError) Unwrap() error {
	return e.Cause
}

// ConstructionPanicError indicates a constructor panicked during invocation.
type ConstructionPanicError struct {
	Name        string
	Constructor reflect.Type
	Panic       any
	Stack       []byte
}

func (e ConstructionPanicError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("constructor %s for %q panicked: %v\n", formatType(e.Constructor), e.Name, e.Panic))

	b.WriteString("\nConstructors should be pure wiring - move failure-prone work into\n")
	b.WriteString("an error return or a separate initialization step.\n")

	if len(e.Stack) > 0 {
		b.WriteString("\nStack trace:\n")
		b.Write(e.Stack)
	}

	return b.String()
}

// AmbiguousConstructorError indicates a tie among constructor candidates at
// the same minimal type-difference weight.
type AmbiguousConstructorError struct {
	Name       string
	Weight     int
	Candidates []reflect.Type
}

func (e AmbiguousConstructorError) Error() string {
	sigs := make([]string, len(e.Candidates))
	for i, t := range e.Candidates {
		sigs[i] = formatType(t)
	}
	return fmt.Sprintf("ambiguous constructor match for %q (weight %d): %s",
		e.Name, e.Weight, strings.Join(sigs, " vs "))
}

// ValidationError indicates a definition failed validation.
type ValidationError struct {
	Name  string
	Cause error
}

func (e ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("invalid definition %q: %v", e.Name, e.Cause)
	}
	return e.Cause.Error()
}

func (e ValidationError) Unwrap() error {
	return e.Cause
}

// RegistrationError wraps errors during definition or alias registration.
type RegistrationError struct {
	Name      string
	Operation string // "register", "alias", "resolvable", etc.
	Cause     error
}

func (e RegistrationError) Error() string {
	return fmt.Sprintf("failed to %s %q: %v", e.Operation, e.Name, e.Cause)
}

func (e RegistrationError) Unwrap() error {
	return e.Cause
}

// formatType formats a reflect.Type for error messages.
func formatType(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "*" + elem.Name()
		}
		return t.String()
	case reflect.Slice:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "[]" + elem.Name()
		}
		return t.String()
	case reflect.Map:
		key, elem := t.Key(), t.Elem()
		keyStr := key.Name()
		if keyStr == "" {
			keyStr = key.String()
		}
		elemStr := elem.Name()
		if elemStr == "" {
			elemStr = elem.String()
		}
		return "map[" + keyStr + "]" + elemStr
	case reflect.Interface, reflect.Struct:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	default:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	}
}
