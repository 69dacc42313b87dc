// Package reflection builds and caches per-type descriptors so that the
// container inspects each type at most once. The resolver asks the analyzer
// for a TypeDescriptor instead of walking struct fields on every request.
package reflection

import (
	"reflect"
	"runtime"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// TagKey is the struct tag consulted for field injection.
const TagKey = "wire"

// TagOptions represents parsed options from a wire struct tag.
type TagOptions struct {
	Present  bool   // the field carries a wire tag
	Skip     bool   // `wire:"-"`: never inject this field
	Optional bool   // missing candidates leave the field zero instead of failing
	Name     string // named component to inject, empty for by-type autowiring
}

// ParseTag parses a wire struct tag.
// Supported formats:
//   - `wire:""` - by-type injection
//   - `wire:"name"` - named injection
//   - `wire:",optional"` - by-type, zero value when unresolvable
//   - `wire:"name,optional"` - combined
//   - `wire:"-"` - skip
func ParseTag(tag string, present bool) TagOptions {
	opts := TagOptions{Present: present}
	if !present {
		return opts
	}

	if tag == "-" {
		opts.Skip = true
		return opts
	}

	parts := strings.Split(tag, ",")
	opts.Name = strings.TrimSpace(parts[0])

	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "optional" {
			opts.Optional = true
		}
	}

	return opts
}

// FieldDescriptor describes one exported field of a struct type.
type FieldDescriptor struct {
	Name  string
	Index []int
	Type  reflect.Type
	Tag   TagOptions
}

// Injectable reports whether the field participates in tag-driven autowiring.
func (f FieldDescriptor) Injectable() bool {
	return f.Tag.Present && !f.Tag.Skip
}

// TypeDescriptor is the cached analysis of one type: its settable fields and
// their injection tags. Built once at first use, immutable afterwards.
type TypeDescriptor struct {
	Type   reflect.Type
	Fields []FieldDescriptor

	byName map[string]int // field name -> index into Fields
}

// FieldByName returns the descriptor for the named exported field.
func (d *TypeDescriptor) FieldByName(name string) (FieldDescriptor, bool) {
	if d == nil {
		return FieldDescriptor{}, false
	}
	i, ok := d.byName[name]
	if !ok {
		return FieldDescriptor{}, false
	}
	return d.Fields[i], true
}

// Analyzer caches type descriptors. Safe for concurrent use.
type Analyzer struct {
	mu    sync.RWMutex
	cache map[reflect.Type]*TypeDescriptor
}

// NewAnalyzer creates an empty analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{cache: make(map[reflect.Type]*TypeDescriptor)}
}

// Describe returns the cached descriptor for t, computing it on first use.
// Pointer types are described through their element type.
func (a *Analyzer) Describe(t reflect.Type) *TypeDescriptor {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	a.mu.RLock()
	d, ok := a.cache[t]
	a.mu.RUnlock()
	if ok {
		return d
	}

	d = describe(t)

	a.mu.Lock()
	// Another goroutine may have raced us here; last write wins and both
	// descriptors are equivalent.
	a.cache[t] = d
	a.mu.Unlock()

	return d
}

func describe(t reflect.Type) *TypeDescriptor {
	d := &TypeDescriptor{
		Type:   t,
		byName: make(map[string]int),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag, present := field.Tag.Lookup(TagKey)
		d.byName[field.Name] = len(d.Fields)
		d.Fields = append(d.Fields, FieldDescriptor{
			Name:  field.Name,
			Index: field.Index,
			Type:  field.Type,
			Tag:   ParseTag(tag, present),
		})
	}

	return d
}

// Assignable reports whether a value of type from can be assigned to a
// location of type to, treating interface satisfaction as assignment.
func Assignable(from, to reflect.Type) bool {
	if from == nil || to == nil {
		return false
	}
	if from == to || from.AssignableTo(to) {
		return true
	}
	if to.Kind() == reflect.Interface && from.Implements(to) {
		return true
	}
	return false
}

// FuncName returns the symbol name of a function value, without the package
// path, or "" when it cannot be determined.
func FuncName(fn reflect.Value) string {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return ""
	}

	rf := runtime.FuncForPC(fn.Pointer())
	if rf == nil {
		return ""
	}

	name := rf.Name()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	// Strip closure and generic instantiation suffixes.
	if i := strings.IndexAny(name, "[-"); i > 0 {
		name = name[:i]
	}

	return name
}

// Exported reports whether a function symbol name is exported. Anonymous
// functions and methods with unknown names count as unexported.
func Exported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return r != utf8.RuneError && unicode.IsUpper(r)
}
