package apperrors

import "errors"

// Standardized engine errors
var (
	// Rejected before any external call
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnauthorized        = errors.New("unauthorized")

	// Venue errors
	ErrVenueUnavailable  = errors.New("venue unavailable")
	ErrExecutionFailed   = errors.New("execution failed")
	ErrDeadlineExpired   = errors.New("deadline expired")
	ErrSlippageExceeded  = errors.New("slippage exceeded")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNetwork           = errors.New("network error")

	// Ledger / pool errors
	ErrLedgerRejected  = errors.New("ledger rejected transfer")
	ErrLiquidityFailed = errors.New("liquidity operation failed")

	// Engine state
	ErrDegenerateState = errors.New("degenerate state: reference price not initialized")
	ErrTickInProgress  = errors.New("tick already in progress")
	ErrEngineStopped   = errors.New("engine stopped")
)
