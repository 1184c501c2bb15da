package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/time/rate"

	"github.com/go-i2p/respool/lib/pool"
)

// GuardConfig configures Guard.
type GuardConfig struct {
	Breaker BreakerConfig
	// CreateRate limits creations per second. Zero disables the limit.
	CreateRate float64
	// CreateBurst is the number of creations allowed at once.
	// Default: 1
	CreateBurst int
}

// DefaultGuardConfig returns a GuardConfig with a default breaker and no
// rate limit.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Breaker: DefaultBreakerConfig(),
	}
}

// Validate checks the configuration for errors.
func (c GuardConfig) Validate() error {
	if c.CreateRate < 0 {
		return errors.New("create_rate must not be negative")
	}
	if c.CreateBurst < 0 {
		return errors.New("create_burst must not be negative")
	}
	return nil
}

// GuardedManager is a pool.Manager whose Create goes through a Breaker and
// an optional rate limiter. Recycle is passed through unchanged: a stale
// idle resource says little about the backend.
type GuardedManager[T any] struct {
	inner   pool.Manager[T]
	breaker *Breaker
	limiter *rate.Limiter
}

// Guard wraps inner. The name labels the breaker in logs and metrics.
func Guard[T any](name string, inner pool.Manager[T], cfg GuardConfig) *GuardedManager[T] {
	g := &GuardedManager[T]{
		inner:   inner,
		breaker: NewBreaker(name, cfg.Breaker),
	}
	if cfg.CreateRate > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.CreateRate), max(cfg.CreateBurst, 1))
	}
	return g
}

// Breaker returns the breaker guarding Create.
func (g *GuardedManager[T]) Breaker() *Breaker {
	return g.breaker
}

// Inner returns the wrapped manager.
func (g *GuardedManager[T]) Inner() pool.Manager[T] {
	return g.inner
}

// Create waits for the rate limiter, then creates through the breaker.
func (g *GuardedManager[T]) Create(ctx context.Context) (T, error) {
	var zero T
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			// The wait would outlast ctx's deadline.
			CreateThrottledTotal.With(g.breaker.name).Inc()
			return zero, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	if err := g.breaker.Allow(); err != nil {
		return zero, err
	}
	obj, err := g.inner.Create(ctx)
	g.breaker.Done(ctx, err)
	return obj, err
}

// Recycle calls the wrapped manager.
func (g *GuardedManager[T]) Recycle(ctx context.Context, obj T, m pool.Metrics) error {
	return g.inner.Recycle(ctx, obj, m)
}

// Destroy tears obj down the way the wrapped manager would.
func (g *GuardedManager[T]) Destroy(obj T) {
	if d, ok := g.inner.(pool.Destroyer[T]); ok {
		d.Destroy(obj)
		return
	}
	if c, ok := any(obj).(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.WithField("circuit", g.breaker.name).WithError(err).Debug("error closing destroyed resource")
		}
	}
}

// Detach forwards to the wrapped manager.
func (g *GuardedManager[T]) Detach(obj T) {
	if d, ok := g.inner.(pool.Detacher[T]); ok {
		d.Detach(obj)
	}
}

// Close closes the wrapped manager if it is an io.Closer.
func (g *GuardedManager[T]) Close() error {
	if c, ok := g.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
