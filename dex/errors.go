// Copyright (c) 2025 BVK Chaitanya

package dex

import (
	"context"
	"errors"
	"fmt"
)

// ExecErrorKind classifies swap execution failures. The engine retries
// recoverable kinds on the next evaluation cycle and finalizes orders on
// terminal kinds.
type ExecErrorKind string

const (
	// InsufficientFunds means the wallet cannot cover the trade. Terminal.
	InsufficientFunds ExecErrorKind = "INSUFFICIENT_FUNDS"

	// SlippageExceeded means the realizable price moved past the order's
	// tolerance between quote and execution. Recoverable; the price may come
	// back.
	SlippageExceeded ExecErrorKind = "SLIPPAGE_EXCEEDED"

	// RouteUnavailable means no swap path exists for the token, typically
	// because the pair was removed or never had liquidity. Terminal.
	RouteUnavailable ExecErrorKind = "ROUTE_UNAVAILABLE"

	// Transient covers RPC timeouts, temporary node unavailability and other
	// failures that say nothing about the order itself. Recoverable.
	Transient ExecErrorKind = "TRANSIENT"
)

type ExecError struct {
	Kind  ExecErrorKind
	Cause error
}

func NewExecError(kind ExecErrorKind, cause error) *ExecError {
	return &ExecError{Kind: kind, Cause: cause}
}

func (e *ExecError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("swap execution failed (%s)", e.Kind)
	}
	return fmt.Sprintf("swap execution failed (%s): %v", e.Kind, e.Cause)
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}

// Classify returns the execution failure kind for an arbitrary error.
// Context deadline and cancellation failures are transient; unrecognized
// errors are too, so an unclassified failure is retried rather than burning
// the order.
func Classify(err error) ExecErrorKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	return Transient
}

// IsTransient reports whether an execution failure should leave the order
// pending for re-evaluation on the next cycle.
func IsTransient(err error) bool {
	switch Classify(err) {
	case Transient, SlippageExceeded:
		return true
	}
	return false
}
