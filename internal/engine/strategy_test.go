package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("ROAI")
	require.NoError(t, err)
	assert.Equal(t, ModeROAI, mode)

	// Empty defaults to the time-weighted return.
	mode, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeTWR, mode)

	_, err = ParseMode("IRR")
	assert.Error(t, err)
}

func TestSafeDiv_ZeroDivisorIsZero(t *testing.T) {
	assert.True(t, safeDiv(dec("10"), decimal.Zero).IsZero())
	assert.True(t, safeDiv(dec("10"), dec("4")).Equal(dec("2.5")))
}

func TestAverageInvestment_SingleLevel(t *testing.T) {
	start := date(2023, 1, 1)
	end := date(2023, 1, 11)
	flows := []Flow{{Date: start, InvestmentBaseAfter: dec("1000")}}

	avg := averageInvestment(flows, start, end, func(f Flow) decimal.Decimal {
		return f.InvestmentBaseAfter
	})
	assert.True(t, avg.Equal(dec("1000")), "got %s", avg)
}

func TestAverageInvestment_WeightsByDuration(t *testing.T) {
	start := date(2023, 1, 1)
	end := start.AddDate(0, 0, 100)
	flows := []Flow{
		{Date: start, InvestmentBaseAfter: dec("1000")},
		{Date: start.AddDate(0, 0, 50), InvestmentBaseAfter: dec("2000")},
	}

	avg := averageInvestment(flows, start, end, func(f Flow) decimal.Decimal {
		return f.InvestmentBaseAfter
	})
	// 1000 held 50 days, 2000 held 50 days.
	assert.True(t, avg.Equal(dec("1500")), "got %s", avg)
}

func TestROIStrategy(t *testing.T) {
	s, err := StrategyFor(ModeROI)
	require.NoError(t, err)
	assert.False(t, s.NeedsSubPeriodValuations())

	one := decimal.NewFromInt(1)
	in := StrategyInput{
		Start: date(2023, 1, 1),
		End:   date(2023, 12, 31),
		Flows: []Flow{{
			Date:                  date(2023, 1, 1),
			InvestmentNativeAfter: dec("1000"),
			InvestmentBaseAfter:   dec("1000"),
			RateAtDate:            one,
		}},
		FrozenRate:                         one,
		EndRate:                            one,
		GrossPerformance:                   dec("100"),
		GrossPerformanceWithCurrencyEffect: dec("100"),
		Fees:                               dec("10"),
		FeesWithCurrencyEffect:             dec("10"),
	}

	res := s.Compute(in)
	assert.True(t, res.TimeWeightedInvestment.Equal(dec("1000")))
	assert.True(t, res.GrossPerformancePercentage.Equal(dec("0.1")))
	assert.True(t, res.NetPerformancePercentage.Equal(dec("0.09")))
}

func TestROAIStrategy_LateCapitalDownWeighted(t *testing.T) {
	s, err := StrategyFor(ModeROAI)
	require.NoError(t, err)

	one := decimal.NewFromInt(1)
	start := date(2023, 1, 1)
	in := StrategyInput{
		Start: start,
		End:   start.AddDate(0, 0, 100),
		Flows: []Flow{
			{Date: start, InvestmentNativeAfter: dec("1000"), InvestmentBaseAfter: dec("1000"), RateAtDate: one},
			{Date: start.AddDate(0, 0, 50), InvestmentNativeAfter: dec("2000"), InvestmentBaseAfter: dec("2000"), RateAtDate: one},
		},
		FrozenRate:                         one,
		EndRate:                            one,
		GrossPerformance:                   dec("150"),
		GrossPerformanceWithCurrencyEffect: dec("150"),
	}

	res := s.Compute(in)
	assert.True(t, res.TimeWeightedInvestment.Equal(dec("1500")), "TWI: %s", res.TimeWeightedInvestment)
	assert.True(t, res.GrossPerformancePercentage.Equal(dec("0.1")))
}

func TestTWRStrategy_ChainsSubPeriods(t *testing.T) {
	s, err := StrategyFor(ModeTWR)
	require.NoError(t, err)
	assert.True(t, s.NeedsSubPeriodValuations())

	one := decimal.NewFromInt(1)
	start := date(2023, 1, 1)
	in := StrategyInput{
		Start: start,
		End:   start.AddDate(0, 0, 100),
		Flows: []Flow{
			{
				Date:                  start,
				DeltaNative:           dec("1000"),
				InvestmentNativeAfter: dec("1000"),
				InvestmentBaseAfter:   dec("1000"),
				ValueNativeBefore:     decimal.Zero,
				ValueNativeAfter:      dec("1000"),
				RateAtDate:            one,
			},
			{
				// Up 10% since the buy, then a deposit doubles the position.
				Date:                  start.AddDate(0, 0, 50),
				DeltaNative:           dec("1000"),
				InvestmentNativeAfter: dec("2000"),
				InvestmentBaseAfter:   dec("2000"),
				ValueNativeBefore:     dec("1100"),
				ValueNativeAfter:      dec("2100"),
				RateAtDate:            one,
			},
		},
		// Up another 10% on the enlarged base.
		EndValueNative: dec("2310"),
		EndRate:        one,
		FrozenRate:     one,
	}

	res := s.Compute(in)
	// (1.1 x 1.1) - 1, unaffected by the mid-period deposit.
	assert.True(t, res.GrossPerformancePercentage.Equal(dec("0.21")), "got %s", res.GrossPerformancePercentage)
	assert.True(t, res.GrossPerformancePercentageWithCurrencyEffect.Equal(dec("0.21")))
}

func TestTWRStrategy_SameDayOffsetIsNeutral(t *testing.T) {
	s, err := StrategyFor(ModeTWR)
	require.NoError(t, err)

	one := decimal.NewFromInt(1)
	start := date(2023, 1, 1)
	in := StrategyInput{
		Start: start,
		End:   start.AddDate(0, 0, 60),
		Flows: []Flow{
			{
				Date:                  start,
				InvestmentNativeAfter: dec("1000"),
				InvestmentBaseAfter:   dec("1000"),
				ValueNativeAfter:      dec("1000"),
				RateAtDate:            one,
			},
			{
				// Offsetting buy and sell: a boundary whose valuation is
				// unchanged across the flow.
				Date:                  start.AddDate(0, 0, 30),
				DeltaNative:           decimal.Zero,
				InvestmentNativeAfter: dec("1000"),
				InvestmentBaseAfter:   dec("1000"),
				ValueNativeBefore:     dec("1050"),
				ValueNativeAfter:      dec("1050"),
				RateAtDate:            one,
			},
		},
		EndValueNative: dec("1100"),
		EndRate:        one,
		FrozenRate:     one,
	}

	res := s.Compute(in)
	// The net-zero boundary must not change the chained return:
	// (1050/1000) x (1100/1050) = 1.1. Division precision makes this
	// approximate rather than exact.
	diff := res.GrossPerformancePercentage.Sub(dec("0.1")).Abs()
	assert.True(t, diff.LessThan(dec("0.0000000001")), "got %s", res.GrossPerformancePercentage)
}

func TestTWRStrategy_CurrencyEffectSeparation(t *testing.T) {
	s, err := StrategyFor(ModeTWR)
	require.NoError(t, err)

	start := date(2023, 1, 1)
	in := StrategyInput{
		Start: start,
		End:   start.AddDate(0, 0, 30),
		Flows: []Flow{{
			Date:                  start,
			InvestmentNativeAfter: dec("1000"),
			InvestmentBaseAfter:   dec("1100"), // bought at rate 1.10
			ValueNativeAfter:      dec("1000"),
			RateAtDate:            dec("1.10"),
		}},
		// Price flat in native terms, but the rate moved 1.10 -> 1.21.
		EndValueNative: dec("1000"),
		EndRate:        dec("1.21"),
		FrozenRate:     dec("1.10"),
	}

	res := s.Compute(in)
	// Without currency effect the native price is flat: zero return.
	assert.True(t, res.GrossPerformancePercentage.IsZero(), "got %s", res.GrossPerformancePercentage)
	// With currency effect: 1210/1100 - 1 = 10%.
	assert.True(t, res.GrossPerformancePercentageWithCurrencyEffect.Equal(dec("0.1")),
		"got %s", res.GrossPerformancePercentageWithCurrencyEffect)
}

func TestStrategies_NoFlowsYieldZero(t *testing.T) {
	for _, mode := range []Mode{ModeROI, ModeROAI, ModeTWR} {
		s, err := StrategyFor(mode)
		require.NoError(t, err)
		res := s.Compute(StrategyInput{Start: date(2023, 1, 1), End: date(2023, 2, 1)})
		assert.True(t, res.GrossPerformancePercentage.IsZero(), "mode %s", mode)
		assert.True(t, res.TimeWeightedInvestment.IsZero(), "mode %s", mode)
	}
}
