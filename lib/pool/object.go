package pool

import (
	"runtime"
	"sync/atomic"
	"weak"
)

const (
	loanActive int32 = iota
	loanReturned
	loanDetached
)

// Loan is a resource checked out of a Pool. Call Release (usually deferred)
// when done with it; the resource then goes back to the pool, or is
// destroyed if the pool no longer exists.
//
// Keep the Loan reachable for as long as the resource is in use. A Loan
// that is garbage collected without Release or Detach has its resource
// destroyed and its permit given back.
type Loan[T any] struct {
	obj     *object[T]
	pool    weak.Pointer[Pool[T]]
	manager Manager[T]
	state   atomic.Int32
	leak    runtime.Cleanup
}

// leakedLoan is what the runtime cleanup of an unreleased Loan needs.
type leakedLoan[T any] struct {
	obj     *object[T]
	pool    weak.Pointer[Pool[T]]
	manager Manager[T]
}

func (p *Pool[T]) newLoan(obj *object[T]) *Loan[T] {
	l := &Loan[T]{
		obj:     obj,
		pool:    p.self,
		manager: p.manager,
	}
	l.leak = runtime.AddCleanup(l, reclaimLeaked[T], leakedLoan[T]{
		obj:     obj,
		pool:    p.self,
		manager: p.manager,
	})
	return l
}

// Value returns the loaned resource.
func (l *Loan[T]) Value() T {
	return l.obj.obj
}

// Ptr returns a pointer to the loaned resource, for resources held by value.
func (l *Loan[T]) Ptr() *T {
	return &l.obj.obj
}

// ID returns the resource's id. IDs are strictly increasing in creation
// order but not necessarily consecutive.
func (l *Loan[T]) ID() uint64 {
	return l.obj.id
}

// Metrics returns a snapshot of the resource's metrics.
func (l *Loan[T]) Metrics() Metrics {
	return l.obj.metrics
}

// Pool returns the pool the resource came from, or nil if that pool has
// been garbage collected.
func (l *Loan[T]) Pool() *Pool[T] {
	return l.pool.Value()
}

// Release returns the resource to its pool without recycling it. If the
// pool is gone the resource is destroyed. Calls after the first, or after
// Detach, do nothing.
func (l *Loan[T]) Release() {
	if !l.state.CompareAndSwap(loanActive, loanReturned) {
		return
	}
	l.leak.Stop()

	if p := l.pool.Value(); p != nil {
		p.returnObject(l.obj)
		return
	}
	destroy(l.manager, l.obj.obj)
	log.WithField("id", l.obj.id).Debug("pool gone, destroyed released resource")
}

// Detach takes the resource out of the pool permanently and returns it.
// Its permit is released at once so the pool may create a replacement.
// The caller becomes responsible for closing the resource.
//
// Detach panics if the loan was already released or detached.
func (l *Loan[T]) Detach() T {
	if !l.state.CompareAndSwap(loanActive, loanDetached) {
		panic("pool: loan already released")
	}
	l.leak.Stop()

	if p := l.pool.Value(); p != nil {
		p.detachObject(l.obj)
	}
	return l.obj.obj
}

// reclaimLeaked runs when a Loan became unreachable while still active.
// The caller may still hold the bare resource, so it is destroyed rather
// than reused.
func reclaimLeaked[T any](l leakedLoan[T]) {
	log.WithField("id", l.obj.id).Warn("loan garbage collected without Release, destroying resource")

	p := l.pool.Value()
	if p == nil {
		destroy(l.manager, l.obj.obj)
		return
	}
	PoolLeakedTotal.With(p.name).Inc()
	p.destroy(l.obj)
	p.forfeit()
	p.updateMetrics()
}
