package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func buy(day time.Time, symbol, currency, qty, price string) domain.Activity {
	return domain.Activity{
		Type:       domain.ActivityBuy,
		Date:       day,
		Instrument: domain.Instrument{Symbol: symbol, Currency: currency},
		Quantity:   dec(qty),
		UnitPrice:  dec(price),
	}
}

func sell(day time.Time, symbol, currency, qty, price string) domain.Activity {
	a := buy(day, symbol, currency, qty, price)
	a.Type = domain.ActivitySell
	return a
}

func TestBuildTransactionPoints_Empty(t *testing.T) {
	result, err := BuildTransactionPoints(nil)
	require.NoError(t, err)
	assert.Empty(t, result.Points)
	assert.Empty(t, result.FinalStates)
}

func TestBuildTransactionPoints_SameDayMerges(t *testing.T) {
	day := date(2023, 1, 3)
	result, err := BuildTransactionPoints([]domain.Activity{
		buy(day, "AAPL", "USD", "10", "150"),
		buy(day, "MSFT", "USD", "5", "300"),
	})
	require.NoError(t, err)

	require.Len(t, result.Points, 1)
	pt := result.Points[0]
	assert.Equal(t, day, pt.Date)
	require.Len(t, pt.Instruments, 2)
	// Sorted by symbol.
	assert.Equal(t, "AAPL", pt.Instruments[0].Instrument.Symbol)
	assert.Equal(t, "MSFT", pt.Instruments[1].Instrument.Symbol)
}

func TestBuildTransactionPoints_UnorderedInput(t *testing.T) {
	result, err := BuildTransactionPoints([]domain.Activity{
		buy(date(2023, 3, 1), "AAPL", "USD", "5", "160"),
		buy(date(2023, 1, 3), "AAPL", "USD", "10", "150"),
	})
	require.NoError(t, err)

	require.Len(t, result.Points, 2)
	assert.Equal(t, date(2023, 1, 3), result.Points[0].Date)
	assert.Equal(t, date(2023, 3, 1), result.Points[1].Date)
	assert.True(t, result.Points[0].Instruments[0].Quantity.Equal(dec("10")))
	assert.True(t, result.Points[1].Instruments[0].Quantity.Equal(dec("15")))
}

func TestBuildTransactionPoints_PartialSell(t *testing.T) {
	result, err := BuildTransactionPoints([]domain.Activity{
		buy(date(2023, 1, 3), "AAPL", "USD", "10", "100"),
		sell(date(2023, 2, 1), "AAPL", "USD", "4", "150"),
	})
	require.NoError(t, err)

	require.Len(t, result.Points, 2)
	st := result.Points[1].Instruments[0]
	assert.True(t, st.Quantity.Equal(dec("6")), "quantity: %s", st.Quantity)
	assert.True(t, st.Investment.Equal(dec("600")), "investment: %s", st.Investment)
	// Realized: 4 x (150 - 100) against the average price.
	assert.True(t, st.RealizedGross.Equal(dec("200")), "realized: %s", st.RealizedGross)
}

func TestBuildTransactionPoints_FullSellOutZeroesInvestment(t *testing.T) {
	result, err := BuildTransactionPoints([]domain.Activity{
		buy(date(2023, 1, 3), "AAPL", "USD", "10", "100"),
		sell(date(2023, 2, 1), "AAPL", "USD", "10", "120"),
	})
	require.NoError(t, err)

	require.Len(t, result.Points, 2)
	// The closing point has no active instruments left.
	assert.Empty(t, result.Points[1].Instruments)

	require.Len(t, result.FinalStates, 1)
	st := result.FinalStates[0]
	assert.True(t, st.Quantity.IsZero())
	assert.True(t, st.Investment.IsZero())
	assert.True(t, st.RealizedGross.Equal(dec("200")))
	assert.Equal(t, 2, st.ActivityCount)
	assert.Equal(t, date(2023, 1, 3), st.FirstActivityDate)
}

func TestBuildTransactionPoints_AveragePriceAfterMultipleBuys(t *testing.T) {
	result, err := BuildTransactionPoints([]domain.Activity{
		buy(date(2023, 1, 3), "AAPL", "USD", "10", "100"),
		buy(date(2023, 2, 1), "AAPL", "USD", "10", "200"),
	})
	require.NoError(t, err)

	st := result.FinalStates[0]
	assert.True(t, st.AveragePrice().Equal(dec("150")))
	assert.True(t, st.Investment.Equal(dec("3000")))
}

func TestBuildTransactionPoints_DividendAccruesWithoutQuantityChange(t *testing.T) {
	result, err := BuildTransactionPoints([]domain.Activity{
		buy(date(2023, 1, 3), "AAPL", "USD", "10", "100"),
		{
			Type:       domain.ActivityDividend,
			Date:       date(2023, 2, 1),
			Instrument: domain.Instrument{Symbol: "AAPL", Currency: "USD"},
			Quantity:   dec("10"),
			UnitPrice:  dec("0.24"),
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Points, 2)
	st := result.Points[1].Instruments[0]
	assert.True(t, st.Quantity.Equal(dec("10")))
	assert.True(t, st.Dividend.Equal(dec("2.4")))
}

func TestBuildTransactionPoints_CashOnlyDayEmitsNoPoint(t *testing.T) {
	result, err := BuildTransactionPoints([]domain.Activity{
		{
			Type:       domain.ActivityFee,
			Date:       date(2023, 1, 3),
			Instrument: domain.Instrument{Currency: "USD"},
			Fee:        dec("9.90"),
		},
	})
	require.NoError(t, err)

	assert.Empty(t, result.Points)
	require.Len(t, result.FinalCash, 1)
	assert.True(t, result.FinalCash[0].Fees.Equal(dec("9.90")))
}

func TestBuildTransactionPoints_AccountInterestGoesToCash(t *testing.T) {
	result, err := BuildTransactionPoints([]domain.Activity{
		{
			Type:       domain.ActivityInterest,
			Date:       date(2023, 1, 3),
			Instrument: domain.Instrument{Currency: "EUR"},
			Quantity:   dec("1"),
			UnitPrice:  dec("12.50"),
		},
	})
	require.NoError(t, err)

	assert.Empty(t, result.Points)
	require.Len(t, result.FinalCash, 1)
	assert.Equal(t, "EUR", result.FinalCash[0].Currency)
	assert.True(t, result.FinalCash[0].Interest.Equal(dec("12.50")))
}

func TestBuildTransactionPoints_ValidationAbortsWholeBuild(t *testing.T) {
	bad := buy(date(2023, 1, 3), "AAPL", "USD", "10", "100")
	bad.Quantity = dec("-1")

	result, err := BuildTransactionPoints([]domain.Activity{
		buy(date(2023, 1, 2), "MSFT", "USD", "1", "300"),
		bad,
	})
	assert.Nil(t, result)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Index)
}

func TestBuildTransactionPoints_ValidationCases(t *testing.T) {
	valid := buy(date(2023, 1, 3), "AAPL", "USD", "1", "100")

	cases := []struct {
		name   string
		mutate func(*domain.Activity)
	}{
		{"zero date", func(a *domain.Activity) { a.Date = time.Time{} }},
		{"unknown type", func(a *domain.Activity) { a.Type = "SHORT" }},
		{"empty currency", func(a *domain.Activity) { a.Instrument.Currency = "" }},
		{"empty symbol on buy", func(a *domain.Activity) { a.Instrument.Symbol = "" }},
		{"negative fee", func(a *domain.Activity) { a.Fee = dec("-1") }},
		{"negative price", func(a *domain.Activity) { a.UnitPrice = dec("-1") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := valid
			tc.mutate(&a)
			_, err := BuildTransactionPoints([]domain.Activity{a})
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestBuildTransactionPoints_NegativeCashAdjustmentAllowed(t *testing.T) {
	result, err := BuildTransactionPoints([]domain.Activity{
		{
			Type:       domain.ActivityCashAdjustment,
			Date:       date(2023, 1, 3),
			Instrument: domain.Instrument{Currency: "USD"},
			Quantity:   dec("1"),
			UnitPrice:  dec("-500"),
		},
	})
	require.NoError(t, err)
	require.Len(t, result.FinalCash, 1)
	assert.True(t, result.FinalCash[0].CashAdjustments.Equal(dec("-500")))
}
