// Package domain contains the core types of the performance engine.
// It is pure: no infrastructure dependencies, only the decimal type for money.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActivityType classifies an activity fed to the engine.
type ActivityType string

const (
	ActivityBuy            ActivityType = "BUY"
	ActivitySell           ActivityType = "SELL"
	ActivityDividend       ActivityType = "DIVIDEND"
	ActivityInterest       ActivityType = "INTEREST"
	ActivityFee            ActivityType = "FEE"
	ActivityItem           ActivityType = "ITEM"
	ActivityLiability      ActivityType = "LIABILITY"
	ActivityCashAdjustment ActivityType = "CASH_ADJUSTMENT"
)

// IsPositional reports whether the type contributes to quantity and cost basis.
func (t ActivityType) IsPositional() bool {
	return t == ActivityBuy || t == ActivitySell
}

// Valid reports whether the type is one the engine knows how to process.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityBuy, ActivitySell, ActivityDividend, ActivityInterest,
		ActivityFee, ActivityItem, ActivityLiability, ActivityCashAdjustment:
		return true
	}
	return false
}

// Instrument identifies a tradable instrument.
type Instrument struct {
	Symbol     string
	DataSource string
	Currency   string // Native trading currency
}

// Activity is an immutable event created by upstream order entry.
type Activity struct {
	ID         string
	Type       ActivityType
	Date       time.Time
	Instrument Instrument
	Quantity   decimal.Decimal // Signed-magnitude: always non-negative, sign comes from Type
	UnitPrice  decimal.Decimal
	Fee        decimal.Decimal
	AccountID  string
	Tags       []string
	AssetClass string
}

// Value returns quantity x unit price in the activity's native currency.
func (a Activity) Value() decimal.Decimal {
	return a.Quantity.Mul(a.UnitPrice)
}

// AccountBalance is a dated cash balance snapshot for one account.
type AccountBalance struct {
	AccountID string
	Date      time.Time
	Amount    decimal.Decimal
	Currency  string
}

// Filters scopes an activity read. Empty slices mean "no restriction".
type Filters struct {
	AccountIDs   []string
	Tags         []string
	AssetClasses []string
}

// IsEmpty reports whether the filter set imposes no restriction.
func (f Filters) IsEmpty() bool {
	return len(f.AccountIDs) == 0 && len(f.Tags) == 0 && len(f.AssetClasses) == 0
}
