// Package reactive provides observable values, lazily derived values and transactions.
//
// Values set inside a transaction become visible together when the transaction commits, and each subscriber
// affected by the transaction is notified exactly once after the commit, on the committing goroutine.
// Derived values never recompute in the background: they recompute on read when a dependency's version moved.
package reactive

import (
	"slices"
	"sync"
	"sync/atomic"
)

// graph serializes commits. seq is odd while a commit is applying writes, which lets readers of derived values
// detect and retry a computation that raced a commit.
var graph struct {
	mu  sync.Mutex
	seq atomic.Uint64
}

// Source is anything a derived value can depend on.
type Source interface {
	// Version increases whenever the observable value changes.
	Version() uint64

	// Observers returns the number of live subscriptions, including those held by derived values.
	Observers() int

	observe(o *observer) (dispose func())
}

// Observable is a Source whose value can be read and subscribed to.
type Observable[T any] interface {
	Source

	// Get returns the current value.
	Get() T

	// Subscribe registers fn to be called once after every transaction that changed the value.
	// The returned function removes the subscription and is safe to call more than once.
	Subscribe(fn func(T)) (dispose func())
}

type observer struct {
	invalidate func(tx *Tx)
}

type listener struct {
	fire func()
}

// Tx batches writes. Use Transaction to obtain one.
type Tx struct {
	writes  []func(tx *Tx)
	pending []*listener
	seen    map[*listener]struct{}
}

// Transaction runs fn with a new transaction and commits it.
func Transaction(fn func(tx *Tx)) {
	tx := &Tx{seen: map[*listener]struct{}{}}
	fn(tx)
	tx.commit()
}

func (tx *Tx) schedule(l *listener) {
	if _, ok := tx.seen[l]; ok {
		return
	}
	tx.seen[l] = struct{}{}
	tx.pending = append(tx.pending, l)
}

func (tx *Tx) commit() {
	if len(tx.writes) == 0 {
		return
	}

	graph.mu.Lock()
	graph.seq.Add(1)
	for _, w := range tx.writes {
		w(tx)
	}
	graph.seq.Add(1)
	graph.mu.Unlock()

	for _, l := range tx.pending {
		l.fire()
	}
}

func waitForCommit() {
	graph.mu.Lock()
	graph.mu.Unlock() //nolint:staticcheck // empty critical section waits for the in-flight commit.
}

// observerSet is the subscription bookkeeping shared by values and derived values.
type observerSet struct {
	mu     sync.Mutex
	nextID uint64
	items  map[uint64]*observer
}

func (s *observerSet) add(o *observer) (id uint64, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items == nil {
		s.items = map[uint64]*observer{}
	}
	s.nextID++
	s.items[s.nextID] = o
	return s.nextID, len(s.items) == 1
}

func (s *observerSet) remove(id uint64) (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return len(s.items) == 0
}

func (s *observerSet) snapshot() []*observer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*observer, 0, len(s.items))
	for _, o := range s.items {
		out = append(out, o)
	}
	return out
}

func (s *observerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *observerSet) invalidate(tx *Tx) {
	for _, o := range s.snapshot() {
		o.invalidate(tx)
	}
}

func subscribe[T any](src Observable[T], fn func(T)) func() {
	l := &listener{fire: func() { fn(src.Get()) }}
	return src.observe(&observer{invalidate: func(tx *Tx) { tx.schedule(l) }})
}

// Value is a mutable observable cell.
type Value[T any] struct {
	mu        sync.Mutex
	val       T
	ver       uint64
	observers observerSet
}

// NewValue returns a cell holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{val: initial}
}

// Get returns the last committed value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val
}

// Version implements Source.
func (v *Value[T]) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ver
}

// Set stores val as part of tx. A nil tx commits immediately in a transaction of its own.
func (v *Value[T]) Set(val T, tx *Tx) {
	if tx == nil {
		Transaction(func(tx *Tx) { v.Set(val, tx) })
		return
	}
	tx.writes = append(tx.writes, func(tx *Tx) {
		v.mu.Lock()
		v.val = val
		v.ver++
		v.mu.Unlock()
		v.observers.invalidate(tx)
	})
}

// Subscribe implements Observable.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	return subscribe[T](v, fn)
}

// Observers implements Source.
func (v *Value[T]) Observers() int {
	return v.observers.len()
}

func (v *Value[T]) observe(o *observer) func() {
	id, _ := v.observers.add(o)
	var once sync.Once
	return func() { once.Do(func() { v.observers.remove(id) }) }
}

// Derived is a read-only value computed from explicit dependencies.
// The compute function must only read from the listed dependencies and must not write to any Value.
type Derived[T any] struct {
	compute func() T
	deps    []Source

	mu       sync.Mutex
	val      T
	ver      uint64
	depVers  []uint64
	computed bool

	observers    observerSet
	depMu        sync.Mutex
	depDisposers []func()
}

// NewDerived returns a derived value recomputed from compute whenever any of deps changed.
func NewDerived[T any](compute func() T, deps ...Source) *Derived[T] {
	return &Derived[T]{compute: compute, deps: deps}
}

// Get returns the current value, recomputing it first when a dependency changed since the last computation.
func (d *Derived[T]) Get() T {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refreshLocked()
	return d.val
}

// Version implements Source.
func (d *Derived[T]) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refreshLocked()
	return d.ver
}

func (d *Derived[T]) refreshLocked() {
	for {
		seq := graph.seq.Load()
		if seq%2 == 1 {
			waitForCommit()
			continue
		}

		vers := make([]uint64, len(d.deps))
		for i, dep := range d.deps {
			vers[i] = dep.Version()
		}
		if d.computed && slices.Equal(vers, d.depVers) {
			return
		}

		val := d.compute()
		if graph.seq.Load() != seq {
			// A commit landed mid-computation so the inputs may be mixed.
			continue
		}

		d.val = val
		d.depVers = vers
		d.computed = true
		d.ver++
		return
	}
}

// Subscribe implements Observable.
func (d *Derived[T]) Subscribe(fn func(T)) func() {
	return subscribe[T](d, fn)
}

// Observers implements Source.
func (d *Derived[T]) Observers() int {
	return d.observers.len()
}

func (d *Derived[T]) observe(o *observer) func() {
	id, first := d.observers.add(o)
	if first {
		fwd := &observer{invalidate: d.observers.invalidate}
		d.depMu.Lock()
		for _, dep := range d.deps {
			d.depDisposers = append(d.depDisposers, dep.observe(fwd))
		}
		d.depMu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if !d.observers.remove(id) {
				return
			}
			d.depMu.Lock()
			disposers := d.depDisposers
			d.depDisposers = nil
			d.depMu.Unlock()
			for _, dispose := range disposers {
				dispose()
			}
		})
	}
}
