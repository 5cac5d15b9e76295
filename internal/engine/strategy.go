package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects the accounting convention for a computation. The strategy is
// chosen once per computation and threaded through the snapshot computer.
type Mode string

const (
	// ModeROI is the simple return: (end value - investment) / investment
	// over the whole horizon, no sub-period chaining.
	ModeROI Mode = "ROI"
	// ModeROAI is the return on average invested capital: the investment
	// level is averaged chronologically, weighted by how long each level
	// was held (a discretized Dietz method).
	ModeROAI Mode = "ROAI"
	// ModeTWR is the true time-weighted return: the horizon is split at
	// every cash flow and sub-period returns are chained geometrically.
	ModeTWR Mode = "TWR"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeROI, ModeROAI, ModeTWR:
		return Mode(s), nil
	case "":
		return ModeTWR, nil
	}
	return "", fmt.Errorf("unknown calculation mode %q", s)
}

// Flow is one investment change of a single instrument, in date order.
// Valuation fields are populated only when the strategy asks for sub-period
// valuations (TWR); the other modes never pay for those lookups.
type Flow struct {
	Date time.Time

	DeltaNative           decimal.Decimal
	DeltaBase             decimal.Decimal // delta converted at rate(Date)
	InvestmentNativeAfter decimal.Decimal
	InvestmentBaseAfter   decimal.Decimal

	ValueNativeBefore decimal.Decimal // quantity before the flow x price(Date)
	ValueNativeAfter  decimal.Decimal // quantity after the flow x price(Date)
	RateAtDate        decimal.Decimal
}

// StrategyInput carries everything a strategy needs for one instrument over
// the horizon [Start, End].
type StrategyInput struct {
	Start time.Time
	End   time.Time

	Flows []Flow

	EndValueNative decimal.Decimal
	EndRate        decimal.Decimal // rate at End
	FrozenRate     decimal.Decimal // weighted-average acquisition rate

	// Absolute performance figures, precomputed by the snapshot computer.
	GrossPerformance                   decimal.Decimal
	GrossPerformanceWithCurrencyEffect decimal.Decimal
	Fees                               decimal.Decimal
	FeesWithCurrencyEffect             decimal.Decimal
}

// StrategyResult is the strategy's period contribution: the time-weighted
// investment base and the performance percentages, each in a with- and
// without-currency-effect variant.
type StrategyResult struct {
	TimeWeightedInvestment                   decimal.Decimal
	TimeWeightedInvestmentWithCurrencyEffect decimal.Decimal

	GrossPerformancePercentage                   decimal.Decimal
	GrossPerformancePercentageWithCurrencyEffect decimal.Decimal
	NetPerformancePercentage                     decimal.Decimal
	NetPerformancePercentageWithCurrencyEffect   decimal.Decimal
}

// Strategy supplies the time-weighting and period-chaining rules used by the
// snapshot computer.
type Strategy interface {
	Mode() Mode
	// NeedsSubPeriodValuations reports whether the computer must fetch a
	// market price and FX rate at every transaction point date.
	NeedsSubPeriodValuations() bool
	Compute(in StrategyInput) StrategyResult
}

// StrategyFor returns the strategy for a mode.
func StrategyFor(mode Mode) (Strategy, error) {
	switch mode {
	case ModeROI:
		return roiStrategy{}, nil
	case ModeROAI:
		return roaiStrategy{}, nil
	case ModeTWR:
		return twrStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown calculation mode %q", mode)
}

// safeDiv divides a by b, returning zero for a zero divisor. Division by
// zero quantity or investment is a defined zero throughout the engine, never
// a panic.
func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// averageInvestment returns the chronological average of the investment
// level over [start, end], weighted by the number of days each level was
// held. levelAfter extracts the investment level established by a flow.
func averageInvestment(flows []Flow, start, end time.Time, levelAfter func(Flow) decimal.Decimal) decimal.Decimal {
	if len(flows) == 0 {
		return decimal.Zero
	}
	totalDays := decimal.NewFromInt(int64(daysBetween(start, end)))
	if totalDays.IsZero() {
		return levelAfter(flows[len(flows)-1])
	}

	var weighted decimal.Decimal
	for i, f := range flows {
		from := f.Date
		if from.Before(start) {
			from = start
		}
		to := end
		if i+1 < len(flows) && flows[i+1].Date.Before(end) {
			to = flows[i+1].Date
		}
		if to.Before(from) {
			continue
		}
		held := decimal.NewFromInt(int64(daysBetween(from, to)))
		weighted = weighted.Add(levelAfter(f).Mul(held))
	}
	return weighted.Div(totalDays)
}

func daysBetween(a, b time.Time) int {
	return int(dayOf(b).Sub(dayOf(a)).Hours() / 24)
}
