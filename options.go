package trellis

import "time"

// OrderedCandidate is one element of a container-shaped injection, as seen
// by the ordering comparator.
type OrderedCandidate struct {
	Name     string
	Priority *int // nil when the backing definition declares none
	Instance any
}

// Options configures container behavior.
type Options struct {
	// StrictConstructorMatching disqualifies constructor candidates whose
	// arguments are not directly assignable, instead of scoring them by
	// type distance. Ambiguity at the minimal weight becomes an error in
	// either mode; strict mode simply reaches it sooner.
	StrictConstructorMatching bool

	// Ordering compares two candidates for slice-shaped injections. The
	// default orders by priority (lower first, undeclared last), then by
	// registration order.
	Ordering func(a, b OrderedCandidate) bool

	// Converter handles literal value coercion. Defaults to the built-in
	// reflect-based converter.
	Converter TypeConverter

	// OnResolved is called after each successful top-level resolution.
	OnResolved func(name string, instance any, duration time.Duration)

	// OnError is called when a top-level resolution fails.
	OnError func(name string, err error)

	// OnDestroyed is called per component during teardown; err is nil when
	// disposal succeeded.
	OnDestroyed func(name string, err error)
}

// Option configures a Container during New.
type Option func(*Options)

// WithStrictConstructorMatching enables strict constructor matching.
func WithStrictConstructorMatching() Option {
	return func(o *Options) { o.StrictConstructorMatching = true }
}

// WithOrdering sets the comparator applied to slice-shaped injections.
func WithOrdering(less func(a, b OrderedCandidate) bool) Option {
	return func(o *Options) { o.Ordering = less }
}

// WithTypeConverter replaces the built-in literal value converter.
func WithTypeConverter(tc TypeConverter) Option {
	return func(o *Options) {
		if tc != nil {
			o.Converter = tc
		}
	}
}

// WithResolvedCallback observes successful top-level resolutions.
func WithResolvedCallback(fn func(name string, instance any, duration time.Duration)) Option {
	return func(o *Options) { o.OnResolved = fn }
}

// WithErrorCallback observes failed top-level resolutions.
func WithErrorCallback(fn func(name string, err error)) Option {
	return func(o *Options) { o.OnError = fn }
}

// WithDestroyedCallback observes component teardown.
func WithDestroyedCallback(fn func(name string, err error)) Option {
	return func(o *Options) { o.OnDestroyed = fn }
}

func defaultOptions() *Options {
	return &Options{
		Converter: defaultConverter{},
	}
}
