// Package engine implements the portfolio performance computation engine:
// transaction point building, snapshot computation under one of three
// accounting conventions, and investment series aggregation.
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// InstrumentState is the accumulated state of one instrument at a
// transaction point. Monetary running sums are kept in the instrument's
// native currency; conversion happens later, in the snapshot computer.
type InstrumentState struct {
	Instrument domain.Instrument

	// Quantity is the running signed sum of bought minus sold units.
	Quantity decimal.Decimal
	// Investment is the running signed cost basis (unit price x quantity,
	// excluding fees).
	Investment decimal.Decimal
	// RealizedGross accumulates gains locked in by sells against the
	// average price at the time of each sell.
	RealizedGross decimal.Decimal

	Fee      decimal.Decimal
	Dividend decimal.Decimal
	Interest decimal.Decimal

	FirstActivityDate time.Time
	ActivityCount     int
}

// AveragePrice returns cost basis per unit, or zero for a closed position.
func (s InstrumentState) AveragePrice() decimal.Decimal {
	if s.Quantity.IsZero() {
		return decimal.Zero
	}
	return s.Investment.Div(s.Quantity)
}

// CashTotals holds cumulative per-currency totals for activity kinds that do
// not belong to an instrument position.
type CashTotals struct {
	Currency        string
	Fees            decimal.Decimal
	Interest        decimal.Decimal
	Liabilities     decimal.Decimal
	Valuables       decimal.Decimal
	CashAdjustments decimal.Decimal
}

// TransactionPoint is a point in time at which at least one instrument's
// accumulated state changed. Points are emitted in strictly increasing date
// order; instruments within one point are sorted by symbol.
type TransactionPoint struct {
	Date        time.Time
	Instruments []InstrumentState
	Cash        []CashTotals
}

// TimelinePosition is a point-in-time valuation of one instrument. It is a
// pure function of the transaction points up to the evaluation instant, the
// market prices, the FX rates and the calculation mode; it is recomputed in
// full on every snapshot request and never mutated incrementally.
//
// "WithCurrencyEffect" figures convert each cash flow and valuation at the
// FX rate of its own date. The plain figures hold the rate fixed at the
// weighted-average acquisition rate, isolating instrument price movement
// from exchange-rate movement.
type TimelinePosition struct {
	Symbol     string
	DataSource string
	Currency   string

	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal // native currency

	Investment                   decimal.Decimal
	InvestmentWithCurrencyEffect decimal.Decimal

	MarketPrice               decimal.Decimal // native currency
	MarketPriceInBaseCurrency decimal.Decimal
	ValueInBaseCurrency       decimal.Decimal

	GrossPerformance                             decimal.Decimal
	GrossPerformanceWithCurrencyEffect           decimal.Decimal
	GrossPerformancePercentage                   decimal.Decimal
	GrossPerformancePercentageWithCurrencyEffect decimal.Decimal

	NetPerformance                             decimal.Decimal
	NetPerformanceWithCurrencyEffect           decimal.Decimal
	NetPerformancePercentage                   decimal.Decimal
	NetPerformancePercentageWithCurrencyEffect decimal.Decimal

	TimeWeightedInvestment                   decimal.Decimal
	TimeWeightedInvestmentWithCurrencyEffect decimal.Decimal

	Fee      decimal.Decimal
	Dividend decimal.Decimal
	Interest decimal.Decimal

	TransactionCount    int
	DateOfFirstActivity time.Time
}

// HistoricalDataItem is one chart date's portfolio-level rollup. The
// sequence of items forms the chart series; dates are not uniformly spaced.
type HistoricalDataItem struct {
	Date time.Time

	Value                   decimal.Decimal
	ValueWithCurrencyEffect decimal.Decimal
	NetWorth                decimal.Decimal
	TotalInvestment         decimal.Decimal
	TotalAccountBalance     decimal.Decimal

	NetPerformance                             decimal.Decimal
	NetPerformanceWithCurrencyEffect           decimal.Decimal
	NetPerformancePercentage                   decimal.Decimal
	NetPerformancePercentageWithCurrencyEffect decimal.Decimal
}

// PortfolioSnapshot is the top-level result of a computation. It is never
// mutated after construction; a stale cache entry is replaced wholesale.
type PortfolioSnapshot struct {
	Positions []TimelinePosition

	TotalInvestment                    decimal.Decimal
	TotalFeesWithCurrencyEffect        decimal.Decimal
	TotalInterestWithCurrencyEffect    decimal.Decimal
	TotalLiabilitiesWithCurrencyEffect decimal.Decimal
	TotalValuablesWithCurrencyEffect   decimal.Decimal
	CurrentValueInBaseCurrency         decimal.Decimal

	HistoricalData    []HistoricalDataItem
	TransactionPoints []TransactionPoint
	// InvestmentItems is the cumulative invested capital in base currency at
	// each transaction point date. Grouped series derive from it on demand.
	InvestmentItems []InvestmentItem

	Errors    []domain.ComputationError
	HasErrors bool

	ComputedAt time.Time
}

// InvestmentItem is one entry of the cumulative investment projection.
type InvestmentItem struct {
	Date       time.Time
	Investment decimal.Decimal
}

// GroupedInvestmentItem is the net investment change within one calendar bucket.
type GroupedInvestmentItem struct {
	Group      string // "2024-03" for monthly, "2024" for yearly buckets
	Investment decimal.Decimal
}

// GroupPeriod selects the calendar bucketing for grouped investment series.
type GroupPeriod string

const (
	GroupByMonth GroupPeriod = "month"
	GroupByYear  GroupPeriod = "year"
)
