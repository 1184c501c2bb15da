package resilience

import apperrors "github.com/go-i2p/respool/lib/errors"

var (
	// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
	ErrCircuitOpen = apperrors.ErrCircuitOpen
	// ErrRateLimited is returned when a creation is refused by the limiter.
	ErrRateLimited = apperrors.ErrRateLimited
)
