package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"golang.org/x/sync/semaphore"
)

// object is a pooled resource with its bookkeeping.
type object[T any] struct {
	obj     T
	id      uint64
	metrics Metrics
}

// slots is the mutable shared state of a pool. It is allocated separately
// from the Pool so the pool's cleanup can drain it after the Pool is gone.
type slots[T any] struct {
	mu      sync.Mutex
	idle    []*object[T]
	size    int
	maxSize int
	closed  bool
	// debt is the number of permits to withhold after a shrink.
	debt int
}

// Status is a snapshot of the pool's occupancy.
type Status struct {
	// MaxSize is the maximum pool size.
	MaxSize int
	// Size is the number of live resources, idle or loaned out.
	Size int
	// Available is the number of idle resources.
	Available int
	// Waiting is the number of callers waiting for a permit.
	Waiting int
}

// RetainResult reports the outcome of Retain.
type RetainResult struct {
	Retained int
	Removed  int
}

// Option customizes a Pool.
type Option[T any] func(*Pool[T])

// WithPostCreate adds a hook run after a resource is created. A hook error
// destroys the resource and fails the acquisition with a *HookError.
func WithPostCreate[T any](fn func(ctx context.Context, obj T, m *Metrics) error) Option[T] {
	return func(p *Pool[T]) {
		p.postCreate = append(p.postCreate, fn)
	}
}

// WithPreRecycle adds a hook run before Manager.Recycle. A hook error
// discards the resource.
func WithPreRecycle[T any](fn func(ctx context.Context, obj T, m *Metrics) error) Option[T] {
	return func(p *Pool[T]) {
		p.preRecycle = append(p.preRecycle, fn)
	}
}

// WithPostRecycle adds a hook run after Manager.Recycle succeeded. A hook
// error discards the resource.
func WithPostRecycle[T any](fn func(ctx context.Context, obj T, m *Metrics) error) Option[T] {
	return func(p *Pool[T]) {
		p.postRecycle = append(p.postRecycle, fn)
	}
}

type hook[T any] func(ctx context.Context, obj T, m *Metrics) error

// Pool is a bounded pool of resources created by a Manager.
type Pool[T any] struct {
	name     string
	manager  Manager[T]
	timeouts Timeouts
	self     weak.Pointer[Pool[T]]

	// sem holds one permit per in-flight acquisition and outstanding Loan.
	sem     *semaphore.Weighted
	slots   *slots[T]
	nextID  atomic.Uint64
	waiting atomic.Int64

	closedCtx context.Context
	closeFn   context.CancelFunc

	postCreate  []hook[T]
	preRecycle  []hook[T]
	postRecycle []hook[T]
}

// orphan is what the runtime cleanup needs once the Pool is unreachable.
type orphan[T any] struct {
	name    string
	slots   *slots[T]
	manager Manager[T]
}

// New creates a new pool backed by manager.
func New[T any](manager Manager[T], cfg Config, opts ...Option[T]) (*Pool[T], error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: manager is required", ErrInvalidConfig)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	closedCtx, closeFn := context.WithCancel(context.Background())
	p := &Pool[T]{
		name:     cfg.Name,
		manager:  manager,
		timeouts: cfg.Timeouts,
		sem:      semaphore.NewWeighted(maxPermits),
		slots: &slots[T]{
			idle:    make([]*object[T], 0, cfg.MaxSize),
			maxSize: cfg.MaxSize,
		},
		closedCtx: closedCtx,
		closeFn:   closeFn,
	}
	// Permits above MaxSize stay reserved so Resize can hand them out later.
	p.sem.TryAcquire(int64(maxPermits - cfg.MaxSize))
	p.self = weak.Make(p)

	for _, opt := range opts {
		opt(p)
	}

	runtime.AddCleanup(p, drainOrphan[T], orphan[T]{
		name:    p.name,
		slots:   p.slots,
		manager: manager,
	})

	p.updateMetrics()
	log.WithField("pool", p.name).WithField("maxSize", cfg.MaxSize).Debug("pool created")
	return p, nil
}

// Get acquires a resource using the pool's configured timeouts.
func (p *Pool[T]) Get(ctx context.Context) (*Loan[T], error) {
	return p.TimeoutGet(ctx, p.timeouts)
}

// TimeoutGet acquires a resource using the given timeouts.
//
// An idle resource is recycled before it is returned; if recycling fails
// the resource is destroyed and a new one is created with the same permit.
func (p *Pool[T]) TimeoutGet(ctx context.Context, timeouts Timeouts) (*Loan[T], error) {
	start := time.Now()
	PoolAcquireTotal.With(p.name).Inc()

	loan, err := p.acquire(ctx, timeouts)
	p.updateMetrics()
	if err != nil {
		PoolAcquireFailedTotal.With(p.name).Inc()
		log.WithField("pool", p.name).WithError(err).Debug("acquire failed")
		return nil, err
	}

	PoolAcquireLatency.With(p.name).ObserveSince(start)
	return loan, nil
}

// Do acquires a resource, runs fn with it and releases it on every exit
// path, including a panic in fn.
func (p *Pool[T]) Do(ctx context.Context, fn func(ctx context.Context, loan *Loan[T]) error) error {
	loan, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer loan.Release()
	return fn(ctx, loan)
}

func (p *Pool[T]) acquire(ctx context.Context, timeouts Timeouts) (*Loan[T], error) {
	if p.IsClosed() {
		return nil, ErrClosed
	}
	if err := p.acquirePermit(ctx, timeouts.Wait); err != nil {
		return nil, err
	}

	obj, err := p.popIdle()
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	if obj != nil {
		loan, err := p.recycle(ctx, obj, timeouts.Recycle)
		if loan != nil || err != nil {
			return loan, err
		}
	}
	return p.create(ctx, timeouts.Create)
}

// acquirePermit takes one permit, waiting at most wait. It never touches
// the idle set.
func (p *Pool[T]) acquirePermit(ctx context.Context, wait *time.Duration) error {
	if wait != nil && *wait <= 0 {
		if p.sem.TryAcquire(1) {
			return nil
		}
		return &TimeoutError{Stage: StageWait}
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(p.closedCtx, func() { cancel(ErrClosed) })
	defer stop()

	if wait != nil {
		var cancelTimeout context.CancelFunc
		waitCtx, cancelTimeout = context.WithTimeout(waitCtx, *wait)
		defer cancelTimeout()
	}

	p.waiting.Add(1)
	err := p.sem.Acquire(waitCtx, 1)
	p.waiting.Add(-1)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(context.Cause(waitCtx), ErrClosed):
		return ErrClosed
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{Stage: StageWait}
	default:
		return err
	}
}

// popIdle takes the most recently returned idle resource. When none is
// idle it reserves a slot for a new resource and returns nil.
func (p *Pool[T]) popIdle() (*object[T], error) {
	s := p.slots
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	n := len(s.idle)
	if n == 0 {
		s.size++
		return nil, nil
	}
	obj := s.idle[n-1]
	s.idle[n-1] = nil
	s.idle = s.idle[:n-1]
	return obj, nil
}

// recycle validates an idle resource. It returns (nil, nil) when the
// resource was discarded and its slot should be filled by create.
func (p *Pool[T]) recycle(ctx context.Context, obj *object[T], timeout *time.Duration) (*Loan[T], error) {
	rctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	err := runHooks(rctx, p.preRecycle, obj)
	if err == nil {
		err = p.manager.Recycle(rctx, obj.obj, obj.metrics)
	}
	if err == nil {
		err = runHooks(rctx, p.postRecycle, obj)
	}
	if err == nil {
		obj.metrics.RecycleCount++
		obj.metrics.Recycled = time.Now()
		PoolRecycledTotal.With(p.name).Inc()
		return p.newLoan(obj), nil
	}

	p.destroy(obj)
	if ctx.Err() != nil {
		p.forfeit()
		return nil, contextError(ctx, StageRecycle)
	}

	PoolDiscardedTotal.With(p.name).Inc()
	log.WithField("pool", p.name).WithField("id", obj.id).WithError(err).Debug("discarded resource that failed recycling")
	return nil, nil
}

// create builds a new resource in a slot already reserved by popIdle.
func (p *Pool[T]) create(ctx context.Context, timeout *time.Duration) (*Loan[T], error) {
	cctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	obj, err := p.manager.Create(cctx)
	PoolCreateLatency.With(p.name).ObserveSince(start)
	if err != nil {
		p.forfeit()
		PoolCreateFailedTotal.With(p.name).Inc()
		switch {
		case ctx.Err() != nil:
			return nil, contextError(ctx, StageCreate)
		case errors.Is(cctx.Err(), context.DeadlineExceeded):
			return nil, &TimeoutError{Stage: StageCreate}
		default:
			return nil, &BackendError{Err: err}
		}
	}

	o := &object[T]{
		obj: obj,
		id:  p.nextID.Add(1) - 1,
	}
	o.metrics = Metrics{ID: o.id, Created: time.Now()}

	if err := runHooks(cctx, p.postCreate, o); err != nil {
		p.destroy(o)
		p.forfeit()
		return nil, &HookError{Hook: "post_create", Err: err}
	}

	PoolCreatedTotal.With(p.name).Inc()
	log.WithField("pool", p.name).WithField("id", o.id).Debug("created resource")
	return p.newLoan(o), nil
}

func runHooks[T any](ctx context.Context, hooks []hook[T], obj *object[T]) error {
	for _, h := range hooks {
		if err := h(ctx, obj.obj, &obj.metrics); err != nil {
			return err
		}
	}
	return nil
}

// contextError maps a finished caller context to the error returned by
// an acquisition.
func contextError(ctx context.Context, stage TimeoutStage) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Stage: stage}
	}
	return ctx.Err()
}

// returnObject puts a released resource back into the idle set, or destroys
// it when the pool is closed or above its target size.
func (p *Pool[T]) returnObject(obj *object[T]) {
	s := p.slots
	s.mu.Lock()
	if s.closed || s.size > s.maxSize {
		s.size--
		release := s.takeDebtLocked()
		s.mu.Unlock()

		p.destroy(obj)
		if release {
			p.sem.Release(1)
		}
		p.updateMetrics()
		return
	}
	s.idle = append(s.idle, obj)
	release := s.takeDebtLocked()
	s.mu.Unlock()

	if release {
		p.sem.Release(1)
	}
	p.updateMetrics()
}

// forfeit gives up a slot and its permit without a resource to show for it.
func (p *Pool[T]) forfeit() {
	s := p.slots
	s.mu.Lock()
	s.size--
	release := s.takeDebtLocked()
	s.mu.Unlock()

	if release {
		p.sem.Release(1)
	}
}

// detachObject removes a loaned resource from the pool's accounting.
func (p *Pool[T]) detachObject(obj *object[T]) {
	p.forfeit()
	if d, ok := p.manager.(Detacher[T]); ok {
		d.Detach(obj.obj)
	}
	PoolDetachedTotal.With(p.name).Inc()
	p.updateMetrics()
	log.WithField("pool", p.name).WithField("id", obj.id).Debug("detached resource")
}

// takeDebtLocked reports whether a permit being given back should be
// released to the semaphore, or withheld to pay for a shrink.
func (s *slots[T]) takeDebtLocked() bool {
	if s.debt > 0 {
		s.debt--
		return false
	}
	return true
}

func (p *Pool[T]) destroy(obj *object[T]) {
	destroy(p.manager, obj.obj)
	PoolDestroyedTotal.With(p.name).Inc()
}

// Resize changes the maximum pool size. Growing admits new acquisitions
// immediately. Shrinking does not evict anything: permits are withheld as
// they become free and resources above the target are destroyed when they
// are returned.
func (p *Pool[T]) Resize(maxSize int) error {
	if maxSize <= 0 || maxSize > maxPermits {
		return fmt.Errorf("%w: invalid max size %d", ErrInvalidConfig, maxSize)
	}

	s := p.slots
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	old := s.maxSize
	s.maxSize = maxSize
	release := 0
	if maxSize > old {
		grow := maxSize - old
		paid := min(grow, s.debt)
		s.debt -= paid
		release = grow - paid
	} else {
		s.debt += old - maxSize
	}
	for s.debt > 0 && p.sem.TryAcquire(1) {
		s.debt--
	}
	s.mu.Unlock()

	if release > 0 {
		p.sem.Release(int64(release))
	}
	p.updateMetrics()
	log.WithField("pool", p.name).WithField("from", old).WithField("to", maxSize).Debug("pool resized")
	return nil
}

// Retain keeps only the idle resources for which keep returns true and
// destroys the rest.
func (p *Pool[T]) Retain(keep func(obj T, m Metrics) bool) RetainResult {
	s := p.slots
	s.mu.Lock()
	var removed []*object[T]
	kept := s.idle[:0]
	for _, obj := range s.idle {
		if keep(obj.obj, obj.metrics) {
			kept = append(kept, obj)
		} else {
			removed = append(removed, obj)
		}
	}
	clear(s.idle[len(kept):])
	s.idle = kept
	s.size -= len(removed)
	result := RetainResult{Retained: len(kept), Removed: len(removed)}
	s.mu.Unlock()

	for _, obj := range removed {
		p.destroy(obj)
	}
	p.updateMetrics()
	return result
}

// Close closes the pool. Idle resources are destroyed, waiting callers fail
// with ErrClosed, and resources released later are destroyed instead of
// being returned. A manager implementing io.Closer is closed last.
func (p *Pool[T]) Close() error {
	s := p.slots
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	idle := s.idle
	s.idle = nil
	s.size -= len(idle)
	s.mu.Unlock()

	p.closeFn()
	for _, obj := range idle {
		p.destroy(obj)
	}

	p.updateMetrics()
	log.WithField("pool", p.name).WithField("destroyed", len(idle)).Debug("pool closed")

	if c, ok := p.manager.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("pool: closing manager: %w", err)
		}
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (p *Pool[T]) IsClosed() bool {
	p.slots.mu.Lock()
	defer p.slots.mu.Unlock()
	return p.slots.closed
}

// Status returns the current pool occupancy.
func (p *Pool[T]) Status() Status {
	s := p.slots
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		MaxSize:   s.maxSize,
		Size:      s.size,
		Available: len(s.idle),
		Waiting:   int(p.waiting.Load()),
	}
}

// Name returns the pool's name.
func (p *Pool[T]) Name() string {
	return p.name
}

// Manager returns the pool's manager.
func (p *Pool[T]) Manager() Manager[T] {
	return p.manager
}

// Timeouts returns the timeouts applied by Get.
func (p *Pool[T]) Timeouts() Timeouts {
	return p.timeouts
}

func (p *Pool[T]) updateMetrics() {
	UpdateMetrics(p.name, p.Status())
}

// drainOrphan destroys the idle resources of a pool that was garbage
// collected without being closed, then closes a manager implementing
// io.Closer. Loans still outstanding destroy their resources through the
// manager when released.
func drainOrphan[T any](o orphan[T]) {
	o.slots.mu.Lock()
	idle := o.slots.idle
	o.slots.idle = nil
	o.slots.closed = true
	o.slots.size -= len(idle)
	o.slots.mu.Unlock()

	for _, obj := range idle {
		destroy(o.manager, obj.obj)
	}
	if len(idle) > 0 {
		log.WithField("pool", o.name).WithField("destroyed", len(idle)).Debug("dropped pool drained")
	}

	if c, ok := o.manager.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.WithField("pool", o.name).WithError(err).Warn("closing manager of dropped pool failed")
		}
	}
}
