package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sloppylopez/stablemock/pkg/samples"
)

// ClassContext is the shared state of one test class: a lock that serializes
// sample appends, sidecar writes and mapping rewrites for the class, plus the
// accumulators loaded for its scope directories.
type ClassContext struct {
	class string
	sem   chan struct{}

	// Guarded by sem.
	accumulators map[string]*samples.Accumulator
}

func newClassContext(class string) *ClassContext {
	return &ClassContext{
		class:        class,
		sem:          make(chan struct{}, 1),
		accumulators: make(map[string]*samples.Accumulator),
	}
}

// Registry hands out class contexts. There is one context per class name and
// no lock is shared between classes.
type Registry struct {
	mu      sync.Mutex
	classes map[string]*ClassContext
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*ClassContext)}
}

// Context returns the context for class, creating it on first use.
func (r *Registry) Context(class string) *ClassContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc, ok := r.classes[class]
	if !ok {
		cc = newClassContext(class)
		r.classes[class] = cc
	}
	return cc
}

// Classes returns how many class contexts are live.
func (r *Registry) Classes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.classes)
}

// With runs fn while holding the class lock. The lease passed to fn is
// released when fn returns or panics; using it afterwards panics. Waiting for
// the lock honors ctx.
func (r *Registry) With(ctx context.Context, class string, fn func(*Lease) error) error {
	cc := r.Context(class)
	select {
	case cc.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for class lock %s: %w", class, ctx.Err())
	}

	lease := &Lease{cc: cc}
	defer func() {
		lease.released.Store(true)
		<-cc.sem
	}()
	return fn(lease)
}

// Lease is proof that the holder owns a class lock.
type Lease struct {
	cc       *ClassContext
	released atomic.Bool
}

func (l *Lease) check() {
	if l.released.Load() {
		panic(fmt.Sprintf("orchestrator: use of released lease for class %s", l.cc.class))
	}
}

// Class returns the leased class name.
func (l *Lease) Class() string {
	l.check()
	return l.cc.class
}

// Accumulator returns the class accumulator for dir, calling load the first
// time dir is seen.
func (l *Lease) Accumulator(dir string, load func() (*samples.Accumulator, error)) (*samples.Accumulator, error) {
	l.check()
	if acc, ok := l.cc.accumulators[dir]; ok {
		return acc, nil
	}
	acc, err := load()
	if err != nil {
		return nil, err
	}
	l.cc.accumulators[dir] = acc
	return acc, nil
}

// Evict drops the cached accumulator for dir.
func (l *Lease) Evict(dir string) {
	l.check()
	delete(l.cc.accumulators, dir)
}
