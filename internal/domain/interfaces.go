package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateResolver supplies foreign exchange rates.
//
// A lookup whose date is "today" (as defined by the implementation's clock)
// is a live lookup and falls back to the most recent available quote when
// today's rate is not stored. Historical lookups for a missing date fail
// with ErrRateNotFound.
type RateResolver interface {
	Rate(ctx context.Context, fromCurrency, toCurrency string, date time.Time) (decimal.Decimal, error)
}

// MarketDataResolver supplies market prices for instruments.
//
// The same live/historical distinction as RateResolver applies: same-day
// lookups fall back to the latest stored quote, historical misses fail with
// ErrPriceNotFound. Historical misses are non-fatal to a snapshot
// computation; they surface as ComputationError entries.
type MarketDataResolver interface {
	Price(ctx context.Context, instrument Instrument, date time.Time) (decimal.Decimal, error)
}

// ActivitySource reads a user's activity history and cash account balances,
// scoped by optional account/tag/asset-class filters. Order of the returned
// activities is not guaranteed; the transaction point builder sorts.
type ActivitySource interface {
	Activities(ctx context.Context, userID string, filters Filters) ([]Activity, error)
	AccountBalances(ctx context.Context, userID string, filters Filters) ([]AccountBalance, error)
}
