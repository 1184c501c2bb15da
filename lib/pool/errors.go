package pool

import (
	"fmt"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

var (
	// ErrClosed is returned when operating on a closed pool.
	ErrClosed = fmt.Errorf("pool: %w", apperrors.ErrClosed)
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = fmt.Errorf("pool: %w", apperrors.ErrTimeout)
	// ErrInvalidConfig is returned for an unusable Config.
	ErrInvalidConfig = fmt.Errorf("pool: %w", apperrors.ErrConfiguration)
)

// TimeoutStage identifies which part of an acquisition timed out.
type TimeoutStage int

const (
	// StageWait is waiting for a free permit.
	StageWait TimeoutStage = iota
	// StageCreate is Manager.Create.
	StageCreate
	// StageRecycle is Manager.Recycle.
	StageRecycle
)

func (s TimeoutStage) String() string {
	switch s {
	case StageWait:
		return "wait"
	case StageCreate:
		return "create"
	case StageRecycle:
		return "recycle"
	default:
		return "unknown"
	}
}

// TimeoutError is returned when an acquisition stage exceeds its deadline.
type TimeoutError struct {
	Stage TimeoutStage
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pool: timeout during %s", e.Stage)
}

// Unwrap makes errors.Is(err, ErrTimeout) hold.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// BackendError wraps a failure reported by Manager.Create.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("pool: backend error: %v", e.Err)
}

// Unwrap exposes both the backend error and the ErrBackend sentinel.
func (e *BackendError) Unwrap() []error {
	return []error{apperrors.ErrBackend, e.Err}
}

// HookError wraps a failure reported by a PostCreate hook.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("pool: %s hook failed: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
