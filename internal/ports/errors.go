package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// Ledger Errors
	ErrInvalidQuantity = errors.New("quantity and price must be positive")
	ErrUnknownAsset    = errors.New("no open position for asset")

	// Pipeline Errors
	ErrExecutionFailure     = errors.New("order execution failed")
	ErrSubscription         = errors.New("address activity subscription failed")
	ErrWalletInitialization = errors.New("failed to initialize wallet")
	ErrPriceUnavailable     = errors.New("mark price unavailable")

	// General Errors
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Venue Specific Errors
	ErrConnectionFailed     = errors.New("failed to connect to the venue")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("venue authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrUnknown              = errors.New("unknown error occurred")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrQueryFailed    = errors.New("database query failed")
)

// ExecutionError carries the venue's reason for rejecting or failing an order.
// It matches ErrExecutionFailure with errors.Is.
type ExecutionError struct {
	Reason string
	Err    error // Underlying cause, may be nil
}

// NewExecutionError builds an ExecutionError with an optional cause.
func NewExecutionError(reason string, cause error) *ExecutionError {
	return &ExecutionError{Reason: reason, Err: cause}
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrExecutionFailure.Error(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrExecutionFailure.Error(), e.Reason)
}

// Is makes errors.Is(err, ErrExecutionFailure) hold for every ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailure
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
