package trellis

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/kettlebrook/trellis/internal/graph"
)

// resolution tracks a single top-level resolution path: whether it owns the
// creation mutex, the chain of names currently being created (for cycle
// diagnostics), and prototype names in flight (for prototype cycle checks).
// Nested lookups triggered while constructing a component share the same
// resolution, which is what makes the creation mutex effectively reentrant
// per path.
type resolution struct {
	holdsLock  bool
	chain      []string
	prototypes map[string]struct{}
}

func newResolution() *resolution {
	return &resolution{}
}

// creating returns the name currently under construction on this path, or ""
// at the top level. Used to attribute dependency edges.
func (r *resolution) creating() string {
	if len(r.chain) == 0 {
		return ""
	}
	return r.chain[len(r.chain)-1]
}

func (r *resolution) enterPrototype(name string) bool {
	if r.prototypes == nil {
		r.prototypes = make(map[string]struct{})
	}
	if _, ok := r.prototypes[name]; ok {
		return false
	}
	r.prototypes[name] = struct{}{}
	return true
}

func (r *resolution) exitPrototype(name string) {
	delete(r.prototypes, name)
}

// singletonRegistry is the shared-instance cache. For each singleton name at
// most one of {completed instance, early instance, early-exposure factory} is
// active at a time. All mutation happens under a single creation mutex that
// a resolution path acquires once and holds across the whole construction;
// reads of completed instances bypass the mutex entirely.
type singletonRegistry struct {
	// completed holds fully-initialized instances. sync.Map gives the
	// lock-free fast path for the warm case.
	completed sync.Map // name -> any

	mu sync.Mutex
	// ownerID is the goroutine holding mu, 0 when free. Closures handed out
	// during construction, deferred providers in particular, carry a fresh
	// resolution; the owner check lets them re-enter on the construction
	// goroutine instead of self-deadlocking on the mutex.
	ownerID atomic.Int64

	early      map[string]any
	factories  map[string]func() any
	inCreation map[string]struct{}
	order      []string // completion order, consumed in reverse at teardown
	disposers  map[string][]func() error
}

func newSingletonRegistry() *singletonRegistry {
	return &singletonRegistry{
		early:      make(map[string]any),
		factories:  make(map[string]func() any),
		inCreation: make(map[string]struct{}),
		disposers:  make(map[string][]func() error),
	}
}

// get returns the fully-initialized instance for name, if one exists.
func (r *singletonRegistry) get(name string) (any, bool) {
	return r.completed.Load(name)
}

// getOrCreate returns the shared instance for name, invoking factory at most
// once per name. A re-entrant request for a name already in creation on the
// same path returns the early reference when one was exposed; otherwise the
// cycle is a constructor cycle and fails.
func (r *singletonRegistry) getOrCreate(res *resolution, name string, factory func() (any, error)) (any, error) {
	if v, ok := r.completed.Load(name); ok {
		return v, nil
	}

	if !res.holdsLock {
		// A closure minted on a construction path, a deferred provider
		// typically, arrives here with a fresh resolution. When its goroutine
		// already owns the mutex, skip the lock and proceed re-entrantly; the
		// in-creation check below still turns a genuine cycle into an
		// immediate failure instead of a block on the mutex.
		gid := goroutineID()
		if gid == 0 || r.ownerID.Load() != gid {
			r.mu.Lock()
			r.ownerID.Store(gid)
			res.holdsLock = true
			defer func() {
				res.holdsLock = false
				r.ownerID.Store(0)
				r.mu.Unlock()
			}()

			// Another path may have completed the instance while we waited.
			if v, ok := r.completed.Load(name); ok {
				return v, nil
			}
		}
	}

	if _, creating := r.inCreation[name]; creating {
		// Re-entered while constructing: a circular reference. Property
		// injection recovers through the early reference; a constructor
		// cycle has nothing to expose yet and must fail.
		if v, ok := r.early[name]; ok {
			return v, nil
		}
		if f, ok := r.factories[name]; ok {
			v := f()
			r.early[name] = v
			delete(r.factories, name)
			return v, nil
		}
		return nil, CircularCreationError{Name: name, Chain: chainCopy(res.chain)}
	}

	r.inCreation[name] = struct{}{}
	res.chain = append(res.chain, name)

	v, err := factory()

	res.chain = res.chain[:len(res.chain)-1]
	delete(r.inCreation, name)

	delete(r.early, name)
	delete(r.factories, name)

	if err != nil {
		return nil, err
	}

	r.completed.Store(name, v)
	r.order = append(r.order, name)
	return v, nil
}

// registerEarly exposes a factory producing the raw, not-yet-populated
// instance so a circular caller can obtain it instead of recursing. Caller
// holds the creation mutex via its resolution path.
func (r *singletonRegistry) registerEarly(name string, f func() any) {
	if _, done := r.completed.Load(name); done {
		return
	}
	r.factories[name] = f
}

// registerDisposer records a teardown callback for name. Caller holds the
// creation mutex when registering from a construction path.
func (r *singletonRegistry) registerDisposer(name string, f func() error) {
	r.disposers[name] = append(r.disposers[name], f)
}

// addDisposer records a teardown callback from outside a construction path.
func (r *singletonRegistry) addDisposer(name string, f func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposers[name] = append(r.disposers[name], f)
}

// add stores an externally-constructed singleton, bypassing creation.
func (r *singletonRegistry) add(name string, instance any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed.Store(name, instance)
	r.order = append(r.order, name)
}

// remove discards all state for name without running its disposers.
func (r *singletonRegistry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed.Delete(name)
	delete(r.early, name)
	delete(r.factories, name)
	delete(r.disposers, name)

	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// names returns the completed singleton names in completion order.
func (r *singletonRegistry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return chainCopy(r.order)
}

// destroyAll tears down every completed singleton in reverse completion
// order, destroying each name's dependents before the name itself. Disposal
// failures are collected and reported; they never abort the sweep.
func (r *singletonRegistry) destroyAll(g *graph.Graph, onDestroyed func(name string, err error)) error {
	r.mu.Lock()
	names := chainCopy(r.order)
	r.order = nil
	r.mu.Unlock()

	destroyed := make(map[string]bool)

	var err error
	for i := len(names) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.destroy(names[i], g, destroyed, onDestroyed))
	}

	return err
}

func (r *singletonRegistry) destroy(name string, g *graph.Graph, destroyed map[string]bool, onDestroyed func(string, error)) error {
	if destroyed[name] {
		return nil
	}
	destroyed[name] = true

	// Graph edges can point at consumers that never completed as singletons,
	// prototype instances in particular. Nothing to dispose for those.
	if _, ok := r.completed.Load(name); !ok {
		return nil
	}

	var err error

	// Dependents go first.
	for _, dep := range g.DependentsOf(name) {
		err = multierr.Append(err, r.destroy(dep, g, destroyed, onDestroyed))
	}

	r.mu.Lock()
	disposers := r.disposers[name]
	delete(r.disposers, name)
	r.completed.Delete(name)
	r.mu.Unlock()

	for _, dispose := range disposers {
		derr := dispose()
		if onDestroyed != nil {
			onDestroyed(name, derr)
		}
		err = multierr.Append(err, derr)
	}

	if onDestroyed != nil && len(disposers) == 0 {
		onDestroyed(name, nil)
	}

	return err
}

// goroutineID parses the current goroutine's id from its stack header,
// "goroutine N [running]".
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func chainCopy(chain []string) []string {
	if len(chain) == 0 {
		return nil
	}
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}
