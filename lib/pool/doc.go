// Package pool provides a generic pool of managed, expensive-to-construct
// resources such as database connections.
//
// A Pool hands out resources as Loans. The number of live resources (idle
// plus loaned out) never exceeds the configured maximum size. Resources are
// validated lazily: an idle resource is checked by its Manager only when it
// is about to be reused, never in the background.
//
// # Basic Usage
//
//	p, err := pool.New[*sql.Conn](manager, pool.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	loan, err := p.Get(ctx)
//	if err != nil {
//	    return err
//	}
//	defer loan.Release()
//
//	conn := loan.Value()
//	// Use connection...
//
// Or, with the release tied to the callback's scope:
//
//	err := p.Do(ctx, func(ctx context.Context, loan *pool.Loan[*sql.Conn]) error {
//	    _, err := loan.Value().ExecContext(ctx, "INSERT ...")
//	    return err
//	})
//
// # Managers
//
// A Manager creates new resources and recycles idle ones before reuse:
//
//	type Manager[T any] interface {
//	    Create(ctx context.Context) (T, error)
//	    Recycle(ctx context.Context, obj T, m Metrics) error
//	}
//
// A non-nil error from Recycle discards the resource and the pool creates a
// replacement using the same permit. Resources are destroyed through the
// optional Destroyer interface, or io.Closer when T implements it.
//
// # Lifetime
//
// A Loan only holds a weak reference to its Pool. When the Pool has been
// garbage collected, releasing a Loan destroys the resource instead of
// returning it. A Loan that is dropped without Release or Detach is reclaimed
// by the runtime: its resource is destroyed and its permit given back.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package, labeled
// by pool name:
//   - respool_pool_max_size: Maximum pool size
//   - respool_pool_size: Current live resources
//   - respool_pool_idle: Current idle resources
//   - respool_pool_in_use: Resources currently loaned out
//   - respool_pool_waiting: Callers waiting for a permit
//   - respool_pool_acquire_total: Total acquire attempts
//   - respool_pool_acquire_failed_total: Failed acquires
//   - respool_pool_created_total: Resources created
//   - respool_pool_create_failed_total: Failed creations
//   - respool_pool_recycled_total: Resources reused after recycling
//   - respool_pool_discarded_total: Resources discarded by recycling
//   - respool_pool_destroyed_total: Resources destroyed
//   - respool_pool_detached_total: Resources detached from the pool
//   - respool_pool_leaked_total: Loans reclaimed without Release
package pool
