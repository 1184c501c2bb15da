package pool

import "github.com/go-i2p/respool/lib/metrics"

// Pool utilization metrics, labeled by pool name.
var (
	// PoolMaxSize is the maximum pool size.
	PoolMaxSize = metrics.NewGaugeVec(
		"respool_pool_max_size",
		"Maximum number of live resources in the pool",
		"pool",
	)
	// PoolSize is the current number of live resources.
	PoolSize = metrics.NewGaugeVec(
		"respool_pool_size",
		"Current number of live resources",
		"pool",
	)
	// PoolIdle is the current number of idle resources.
	PoolIdle = metrics.NewGaugeVec(
		"respool_pool_idle",
		"Current number of idle resources in the pool",
		"pool",
	)
	// PoolInUse is the number of resources currently loaned out.
	PoolInUse = metrics.NewGaugeVec(
		"respool_pool_in_use",
		"Number of resources currently loaned out",
		"pool",
	)
	// PoolWaiting is the number of callers waiting for a permit.
	PoolWaiting = metrics.NewGaugeVec(
		"respool_pool_waiting",
		"Number of callers waiting for a permit",
		"pool",
	)
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = metrics.NewCounterVec(
		"respool_pool_acquire_total",
		"Total number of acquire attempts",
		"pool",
	)
	// PoolAcquireFailedTotal is the number of failed acquires.
	PoolAcquireFailedTotal = metrics.NewCounterVec(
		"respool_pool_acquire_failed_total",
		"Total number of failed acquires",
		"pool",
	)
	// PoolCreatedTotal is the number of resources created.
	PoolCreatedTotal = metrics.NewCounterVec(
		"respool_pool_created_total",
		"Total number of resources created",
		"pool",
	)
	// PoolCreateFailedTotal is the number of failed creations.
	PoolCreateFailedTotal = metrics.NewCounterVec(
		"respool_pool_create_failed_total",
		"Total number of failed resource creations",
		"pool",
	)
	// PoolRecycledTotal is the number of resources reused after recycling.
	PoolRecycledTotal = metrics.NewCounterVec(
		"respool_pool_recycled_total",
		"Total number of resources reused after recycling",
		"pool",
	)
	// PoolDiscardedTotal is the number of resources that failed recycling.
	PoolDiscardedTotal = metrics.NewCounterVec(
		"respool_pool_discarded_total",
		"Total number of resources discarded by recycling",
		"pool",
	)
	// PoolDestroyedTotal is the number of resources destroyed.
	PoolDestroyedTotal = metrics.NewCounterVec(
		"respool_pool_destroyed_total",
		"Total number of resources destroyed",
		"pool",
	)
	// PoolDetachedTotal is the number of resources detached from the pool.
	PoolDetachedTotal = metrics.NewCounterVec(
		"respool_pool_detached_total",
		"Total number of resources detached from the pool",
		"pool",
	)
	// PoolLeakedTotal is the number of loans reclaimed without Release.
	PoolLeakedTotal = metrics.NewCounterVec(
		"respool_pool_leaked_total",
		"Total number of loans garbage collected without Release",
		"pool",
	)
	// PoolAcquireLatency tracks time spent acquiring resources.
	PoolAcquireLatency = metrics.NewHistogramVec(
		"respool_pool_acquire_duration_seconds",
		"Time spent acquiring a resource from the pool",
		"pool",
		metrics.DefaultLatencyBuckets,
	)
	// PoolCreateLatency tracks time spent in Manager.Create.
	PoolCreateLatency = metrics.NewHistogramVec(
		"respool_pool_create_duration_seconds",
		"Time spent creating a resource",
		"pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics updates the pool gauges from Status.
func UpdateMetrics(name string, status Status) {
	PoolMaxSize.With(name).Set(int64(status.MaxSize))
	PoolSize.With(name).Set(int64(status.Size))
	PoolIdle.With(name).Set(int64(status.Available))
	PoolInUse.With(name).Set(int64(status.Size - status.Available))
	PoolWaiting.With(name).Set(int64(status.Waiting))
}
