package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// BuildResult is the output of a transaction point build. Points carry the
// active instruments per changed date; FinalStates additionally carries
// instruments whose quantity has returned to zero, so that closed positions
// keep their activity counts and realized performance.
type BuildResult struct {
	Points      []TransactionPoint
	FinalStates []InstrumentState
	FinalCash   []CashTotals
}

// instrumentAccum is the mutable running state for one instrument during a
// build. The arena of accumulators is rebuilt fresh per computation; nothing
// is shared across calls.
type instrumentAccum struct {
	state InstrumentState
}

// BuildTransactionPoints folds an unordered activity list into a sparse
// sequence of per-date state snapshots. Activities are sorted ascending by
// date (stable on ties); multiple same-day activities merge into one point.
// A malformed activity aborts the whole build with a ValidationError and no
// partial result.
func BuildTransactionPoints(activities []domain.Activity) (*BuildResult, error) {
	for i, a := range activities {
		if err := validateActivity(i, a); err != nil {
			return nil, err
		}
	}

	sorted := make([]domain.Activity, len(activities))
	copy(sorted, activities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	arena := make(map[string]*instrumentAccum)
	cash := make(map[string]*CashTotals)

	var points []TransactionPoint
	var pending bool
	var pendingDate time.Time

	flush := func() {
		if !pending {
			return
		}
		points = append(points, TransactionPoint{
			Date:        pendingDate,
			Instruments: activeStates(arena),
			Cash:        cashSnapshot(cash),
		})
		pending = false
	}

	for _, a := range sorted {
		day := dayOf(a.Date)
		if pending && !day.Equal(pendingDate) {
			flush()
		}

		changed := apply(arena, cash, a, day)
		if changed {
			if !pending {
				pending = true
				pendingDate = day
			}
		}
	}
	flush()

	return &BuildResult{
		Points:      points,
		FinalStates: allStates(arena),
		FinalCash:   cashSnapshot(cash),
	}, nil
}

// apply folds one activity into the running state. It returns true when an
// instrument's accumulated state changed, which is what makes the day a
// transaction point.
func apply(arena map[string]*instrumentAccum, cash map[string]*CashTotals, a domain.Activity, day time.Time) bool {
	switch a.Type {
	case domain.ActivityBuy, domain.ActivitySell, domain.ActivityDividend:
		acc := arena[a.Instrument.Symbol]
		if acc == nil {
			acc = &instrumentAccum{state: InstrumentState{
				Instrument:        a.Instrument,
				FirstActivityDate: day,
			}}
			arena[a.Instrument.Symbol] = acc
		}
		st := &acc.state
		st.ActivityCount++
		st.Fee = st.Fee.Add(a.Fee)

		switch a.Type {
		case domain.ActivityBuy:
			st.Quantity = st.Quantity.Add(a.Quantity)
			st.Investment = st.Investment.Add(a.Value())
		case domain.ActivitySell:
			// Reduce cost basis at the average price so a full close-out
			// lands on exactly zero; the difference against the sell price
			// is locked in as realized performance.
			avg := st.AveragePrice()
			st.RealizedGross = st.RealizedGross.Add(a.Quantity.Mul(a.UnitPrice.Sub(avg)))
			st.Quantity = st.Quantity.Sub(a.Quantity)
			if st.Quantity.IsZero() {
				st.Investment = decimal.Zero
			} else {
				st.Investment = st.Investment.Sub(a.Quantity.Mul(avg))
			}
		case domain.ActivityDividend:
			st.Dividend = st.Dividend.Add(a.Value())
		}
		return true

	case domain.ActivityInterest:
		// Interest on an instrument (e.g. a bond position) accrues to the
		// instrument; account-level interest accrues to the cash totals.
		if a.Instrument.Symbol != "" {
			acc := arena[a.Instrument.Symbol]
			if acc == nil {
				acc = &instrumentAccum{state: InstrumentState{
					Instrument:        a.Instrument,
					FirstActivityDate: day,
				}}
				arena[a.Instrument.Symbol] = acc
			}
			acc.state.ActivityCount++
			acc.state.Interest = acc.state.Interest.Add(a.Value())
			acc.state.Fee = acc.state.Fee.Add(a.Fee)
			return true
		}
		ct := cashFor(cash, a.Instrument.Currency)
		ct.Interest = ct.Interest.Add(a.Value())
		ct.Fees = ct.Fees.Add(a.Fee)
		return false

	case domain.ActivityFee:
		ct := cashFor(cash, a.Instrument.Currency)
		ct.Fees = ct.Fees.Add(a.Fee.Add(a.Value()))
		return false

	case domain.ActivityItem:
		ct := cashFor(cash, a.Instrument.Currency)
		ct.Valuables = ct.Valuables.Add(a.Value())
		return false

	case domain.ActivityLiability:
		ct := cashFor(cash, a.Instrument.Currency)
		ct.Liabilities = ct.Liabilities.Add(a.Value())
		return false

	case domain.ActivityCashAdjustment:
		ct := cashFor(cash, a.Instrument.Currency)
		ct.CashAdjustments = ct.CashAdjustments.Add(a.Value())
		return false
	}

	return false
}

func cashFor(cash map[string]*CashTotals, currency string) *CashTotals {
	ct := cash[currency]
	if ct == nil {
		ct = &CashTotals{Currency: currency}
		cash[currency] = ct
	}
	return ct
}

// activeStates snapshots all instruments with a non-zero quantity, sorted by
// symbol for deterministic output. Closed instruments stay in the arena so
// their counts and first activity date carry forward on re-open.
func activeStates(arena map[string]*instrumentAccum) []InstrumentState {
	out := make([]InstrumentState, 0, len(arena))
	for _, acc := range arena {
		if acc.state.Quantity.IsZero() {
			continue
		}
		out = append(out, acc.state)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instrument.Symbol < out[j].Instrument.Symbol
	})
	return out
}

func allStates(arena map[string]*instrumentAccum) []InstrumentState {
	out := make([]InstrumentState, 0, len(arena))
	for _, acc := range arena {
		out = append(out, acc.state)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instrument.Symbol < out[j].Instrument.Symbol
	})
	return out
}

func cashSnapshot(cash map[string]*CashTotals) []CashTotals {
	out := make([]CashTotals, 0, len(cash))
	for _, ct := range cash {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// dayOf normalizes a timestamp to its UTC calendar day.
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validateActivity(index int, a domain.Activity) error {
	if a.Date.IsZero() {
		return &domain.ValidationError{Index: index, Reason: "date is zero"}
	}
	if !a.Type.Valid() {
		return &domain.ValidationError{Index: index, Reason: fmt.Sprintf("unknown activity type %q", a.Type)}
	}
	if a.Instrument.Currency == "" {
		return &domain.ValidationError{Index: index, Reason: "currency is empty"}
	}
	if a.Type.IsPositional() || a.Type == domain.ActivityDividend {
		if a.Instrument.Symbol == "" {
			return &domain.ValidationError{Index: index, Reason: "symbol is empty"}
		}
	}
	if a.Quantity.IsNegative() {
		return &domain.ValidationError{Index: index, Reason: "quantity is negative (sign comes from the activity type)"}
	}
	if a.UnitPrice.IsNegative() && a.Type != domain.ActivityCashAdjustment {
		return &domain.ValidationError{Index: index, Reason: "unit price is negative"}
	}
	if a.Fee.IsNegative() {
		return &domain.ValidationError{Index: index, Reason: "fee is negative"}
	}
	return nil
}
