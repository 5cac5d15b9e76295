package engine

// roiStrategy is the simple return over the whole horizon. The currency
// effect is captured only at the two endpoints: acquisition-rate investment
// against evaluation-date value.
type roiStrategy struct{}

func (roiStrategy) Mode() Mode                     { return ModeROI }
func (roiStrategy) NeedsSubPeriodValuations() bool { return false }

func (roiStrategy) Compute(in StrategyInput) StrategyResult {
	var res StrategyResult
	if len(in.Flows) == 0 {
		return res
	}

	last := in.Flows[len(in.Flows)-1]
	res.TimeWeightedInvestment = last.InvestmentNativeAfter.Mul(in.FrozenRate)
	res.TimeWeightedInvestmentWithCurrencyEffect = last.InvestmentBaseAfter

	res.GrossPerformancePercentage = safeDiv(in.GrossPerformance, res.TimeWeightedInvestment)
	res.GrossPerformancePercentageWithCurrencyEffect = safeDiv(in.GrossPerformanceWithCurrencyEffect, res.TimeWeightedInvestmentWithCurrencyEffect)
	res.NetPerformancePercentage = safeDiv(in.GrossPerformance.Sub(in.Fees), res.TimeWeightedInvestment)
	res.NetPerformancePercentageWithCurrencyEffect = safeDiv(in.GrossPerformanceWithCurrencyEffect.Sub(in.FeesWithCurrencyEffect), res.TimeWeightedInvestmentWithCurrencyEffect)
	return res
}
