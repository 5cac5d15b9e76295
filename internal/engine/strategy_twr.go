package engine

import "github.com/shopspring/decimal"

// twrStrategy is the true time-weighted return. The horizon is split at
// every cash-flow date; each sub-period's return is computed on its own base
// and the returns are chained geometrically: (1+r1)(1+r2)...-1. This is the
// only mode immune to the distorting effect of cash-flow timing, and the
// most expensive one: every transaction point needs its own price and rate
// lookup.
type twrStrategy struct{}

func (twrStrategy) Mode() Mode                     { return ModeTWR }
func (twrStrategy) NeedsSubPeriodValuations() bool { return true }

func (twrStrategy) Compute(in StrategyInput) StrategyResult {
	var res StrategyResult
	if len(in.Flows) == 0 {
		return res
	}

	// The time-weighted investment base is the same duration-weighted
	// average as ROAI; only the percentage mathematics differ.
	res.TimeWeightedInvestment = averageInvestment(in.Flows, in.Start, in.End, func(f Flow) decimal.Decimal {
		return f.InvestmentNativeAfter.Mul(in.FrozenRate)
	})
	res.TimeWeightedInvestmentWithCurrencyEffect = averageInvestment(in.Flows, in.Start, in.End, func(f Flow) decimal.Decimal {
		return f.InvestmentBaseAfter
	})

	res.GrossPerformancePercentageWithCurrencyEffect = chain(in, true)
	// Without currency effect the rate is frozen, so it cancels out of every
	// sub-period ratio; chaining the native values is equivalent.
	res.GrossPerformancePercentage = chain(in, false)

	res.NetPerformancePercentage = res.GrossPerformancePercentage.Sub(safeDiv(in.Fees, res.TimeWeightedInvestment))
	res.NetPerformancePercentageWithCurrencyEffect = res.GrossPerformancePercentageWithCurrencyEffect.Sub(safeDiv(in.FeesWithCurrencyEffect, res.TimeWeightedInvestmentWithCurrencyEffect))
	return res
}

// chain walks the sub-periods delimited by the flows and multiplies their
// growth factors. A sub-period runs from the post-flow valuation of one
// boundary to the pre-flow valuation of the next, so external flows never
// contaminate a sub-period's return. A same-day offsetting buy/sell pair
// still forms a boundary; its net-zero flow is absorbed by the following
// sub-period's base.
func chain(in StrategyInput, withCurrencyEffect bool) decimal.Decimal {
	one := decimal.NewFromInt(1)
	product := one
	invested := false

	valueAt := func(native, rate decimal.Decimal) decimal.Decimal {
		if withCurrencyEffect {
			return native.Mul(rate)
		}
		return native
	}

	var base decimal.Decimal // post-flow valuation of the previous boundary
	for _, f := range in.Flows {
		pre := valueAt(f.ValueNativeBefore, f.RateAtDate)
		if !base.IsZero() {
			product = product.Mul(pre.Div(base))
			invested = true
		}
		base = valueAt(f.ValueNativeAfter, f.RateAtDate)
	}

	if !base.IsZero() {
		end := valueAt(in.EndValueNative, in.EndRate)
		product = product.Mul(end.Div(base))
		invested = true
	}

	if !invested {
		return decimal.Zero
	}
	return product.Sub(one)
}
