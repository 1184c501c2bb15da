package libsql

import (
	"errors"
	"fmt"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

var (
	// ErrTestQueryFailed is matched by every *TestQueryError.
	ErrTestQueryFailed = errors.New("libsql: test query failed")
	// ErrUnsupportedTopology is returned for databases this build cannot open.
	ErrUnsupportedTopology = fmt.Errorf("libsql: %w", apperrors.ErrUnsupported)
	// ErrInvalidConfig is returned for an unusable database configuration.
	ErrInvalidConfig = fmt.Errorf("libsql: %w", apperrors.ErrConfiguration)
)

// TestQueryError is returned when the test query ran but the database
// answered unexpectedly.
type TestQueryError struct {
	Reason string
}

func (e *TestQueryError) Error() string {
	return "libsql: test query failed: " + e.Reason
}

func (e *TestQueryError) Unwrap() error {
	return ErrTestQueryFailed
}

// ConnectionError wraps an error reported by the database driver.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("libsql returned an error: %v", e.Err)
}

// Unwrap exposes both the driver error and the ErrConnection sentinel.
func (e *ConnectionError) Unwrap() []error {
	return []error{apperrors.ErrConnection, e.Err}
}
