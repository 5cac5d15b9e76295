package engine

import "github.com/shopspring/decimal"

// roaiStrategy is the return on average invested capital. Each investment
// level is weighted by the number of days it was held, so a large late
// capital addition is down-weighted relative to capital held the whole
// period.
type roaiStrategy struct{}

func (roaiStrategy) Mode() Mode                     { return ModeROAI }
func (roaiStrategy) NeedsSubPeriodValuations() bool { return false }

func (roaiStrategy) Compute(in StrategyInput) StrategyResult {
	var res StrategyResult
	if len(in.Flows) == 0 {
		return res
	}

	res.TimeWeightedInvestment = averageInvestment(in.Flows, in.Start, in.End, func(f Flow) decimal.Decimal {
		return f.InvestmentNativeAfter.Mul(in.FrozenRate)
	})
	res.TimeWeightedInvestmentWithCurrencyEffect = averageInvestment(in.Flows, in.Start, in.End, func(f Flow) decimal.Decimal {
		return f.InvestmentBaseAfter
	})

	res.GrossPerformancePercentage = safeDiv(in.GrossPerformance, res.TimeWeightedInvestment)
	res.GrossPerformancePercentageWithCurrencyEffect = safeDiv(in.GrossPerformanceWithCurrencyEffect, res.TimeWeightedInvestmentWithCurrencyEffect)
	res.NetPerformancePercentage = safeDiv(in.GrossPerformance.Sub(in.Fees), res.TimeWeightedInvestment)
	res.NetPerformancePercentageWithCurrencyEffect = safeDiv(in.GrossPerformanceWithCurrencyEffect.Sub(in.FeesWithCurrencyEffect), res.TimeWeightedInvestmentWithCurrencyEffect)
	return res
}
