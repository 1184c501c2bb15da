package pool

import (
	"context"
	"io"
	"time"
)

// Manager creates and recycles the resources of a Pool.
//
// Implementations must honor context cancellation; the pool applies its
// create and recycle timeouts through the context.
type Manager[T any] interface {
	// Create builds a new resource.
	Create(ctx context.Context) (T, error)
	// Recycle checks an idle resource before it is handed out again.
	// A non-nil error discards the resource.
	Recycle(ctx context.Context, obj T, m Metrics) error
}

// Destroyer is implemented by managers that need to tear resources down
// explicitly. Without it the pool calls Close on resources implementing
// io.Closer.
type Destroyer[T any] interface {
	Destroy(obj T)
}

// Detacher is implemented by managers that want to know when a resource is
// detached from the pool.
type Detacher[T any] interface {
	Detach(obj T)
}

// Metrics holds per-resource bookkeeping.
type Metrics struct {
	// ID is the resource's identity, strictly increasing in creation order.
	ID uint64
	// Created is when the resource was created.
	Created time.Time
	// Recycled is when the resource last passed recycling. Zero if never.
	Recycled time.Time
	// RecycleCount is how many times the resource has been recycled.
	RecycleCount uint64
}

// Age returns how long ago the resource was created.
func (m Metrics) Age() time.Duration {
	return time.Since(m.Created)
}

// LastUsed returns the time since the resource was last recycled,
// or since creation if it never was.
func (m Metrics) LastUsed() time.Duration {
	if m.Recycled.IsZero() {
		return time.Since(m.Created)
	}
	return time.Since(m.Recycled)
}

// destroy tears down obj using the manager or io.Closer.
func destroy[T any](m Manager[T], obj T) {
	if d, ok := m.(Destroyer[T]); ok {
		d.Destroy(obj)
		return
	}
	if c, ok := any(obj).(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.WithError(err).Debug("error closing destroyed resource")
		}
	}
}
