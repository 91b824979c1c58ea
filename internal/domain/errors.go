package domain

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrMarketClosed       = errors.New("market closed")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrBufferViolation    = errors.New("liquidity buffer violation")
	ErrAlreadyResolved    = errors.New("market already resolved")
	ErrNotFound           = errors.New("not found")
	ErrStaleRequest       = errors.New("stale request")
	ErrUndoConflict       = errors.New("undo conflict")
	ErrQueueFull          = errors.New("trade queue full")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
)

// ErrorKind maps a sentinel error to a stable machine-readable tag for
// API responses and cached trade results.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrBufferViolation):
		return "buffer_violation"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStaleRequest):
		return "stale_request"
	case errors.Is(err, ErrUndoConflict):
		return "undo_conflict"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal_error"
	}
}
