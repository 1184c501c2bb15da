package pool

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// maxPermits bounds MaxSize and backs the resizable permit supply.
const maxPermits = 1 << 30

// Timeouts bounds the stages of an acquisition. A nil field means no limit
// beyond the caller's context.
type Timeouts struct {
	// Wait bounds waiting for a free permit. Zero means do not wait at all.
	Wait *time.Duration
	// Create bounds Manager.Create.
	Create *time.Duration
	// Recycle bounds Manager.Recycle and the recycle hooks.
	Recycle *time.Duration
}

// Duration returns a pointer to d, for filling in Timeouts.
func Duration(d time.Duration) *time.Duration {
	return &d
}

// Config configures a Pool.
type Config struct {
	// Name labels the pool in logs and metrics.
	// Default: "default"
	Name string
	// MaxSize is the maximum number of live resources.
	// Default: 4 * GOMAXPROCS
	MaxSize int
	// Timeouts are applied by Get.
	Timeouts Timeouts
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:    "default",
		MaxSize: 4 * runtime.GOMAXPROCS(0),
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidConfig, c.MaxSize)
	}
	if c.MaxSize > maxPermits {
		return fmt.Errorf("%w: max size %d exceeds %d", ErrInvalidConfig, c.MaxSize, maxPermits)
	}
	for stage, d := range map[string]*time.Duration{
		"wait":    c.Timeouts.Wait,
		"create":  c.Timeouts.Create,
		"recycle": c.Timeouts.Recycle,
	} {
		if d != nil && *d < 0 {
			return fmt.Errorf("%w: negative %s timeout", ErrInvalidConfig, stage)
		}
	}
	return nil
}

// withTimeout derives a context bounded by d, if set.
func withTimeout(ctx context.Context, d *time.Duration) (context.Context, context.CancelFunc) {
	if d == nil {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, *d)
}
