package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by resolvers and the scheduler.
var (
	// ErrRateNotFound is returned by historical exchange rate lookups for a missing date.
	ErrRateNotFound = errors.New("exchange rate not found")
	// ErrPriceNotFound is returned by historical market price lookups for a missing date.
	ErrPriceNotFound = errors.New("market price not found")
	// ErrComputationTimeout is returned when a snapshot computation exceeds its hard timeout.
	ErrComputationTimeout = errors.New("computation timed out")
)

// ValidationError reports a malformed input activity. It is fatal: the whole
// transaction point build aborts and no partial result is returned.
type ValidationError struct {
	Index  int    // Position of the offending activity in the input
	Reason string // What was wrong with it
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid activity at index %d: %s", e.Index, e.Reason)
}

// ComputationErrorKind classifies per-instrument data gaps.
type ComputationErrorKind string

const (
	MissingMarketData   ComputationErrorKind = "missing_market_data"
	MissingExchangeRate ComputationErrorKind = "missing_exchange_rate"
)

// ComputationError records a non-fatal data gap for one instrument and date.
// The snapshot computation continues for all other instruments; the affected
// instrument's figures degrade to best-effort zero/partial values.
type ComputationError struct {
	Kind     ComputationErrorKind `json:"kind"`
	Symbol   string               `json:"symbol"`
	Currency string               `json:"currency,omitempty"`
	Date     time.Time            `json:"date"`
}

func (e ComputationError) Error() string {
	return fmt.Sprintf("%s: %s on %s", e.Kind, e.Symbol, e.Date.Format("2006-01-02"))
}
