package engine

import (
	"fmt"
	"time"
)

// ValidationError rejects an order intent before anything reaches the
// broker.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("order validation: %s: %s", e.Field, e.Message)
	}
	return "order validation: " + e.Message
}

// InsufficientPositionError fails a sell whose quantity exceeds the local
// holding.
type InsufficientPositionError struct {
	Instrument string
	Required   float64
	Available  float64
}

func (e *InsufficientPositionError) Error() string {
	return fmt.Sprintf("insufficient position in %s: required %v, available %v",
		e.Instrument, e.Required, e.Available)
}

// ExecutionError wraps any failure inside a transaction with its id and how
// long the attempt ran.
type ExecutionError struct {
	TxnID   string
	Kind    string
	Elapsed time.Duration
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transaction %s (%s) failed after %s: %v",
		e.TxnID, e.Kind, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
