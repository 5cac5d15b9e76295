package marketdata

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/quantfolio/quantfolio/internal/domain"
)

const testSchema = `
CREATE TABLE prices (
    symbol      TEXT NOT NULL,
    data_source TEXT NOT NULL DEFAULT '',
    date        INTEGER NOT NULL,
    price       TEXT NOT NULL,
    PRIMARY KEY (symbol, date)
);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolver_ExactHistoricalPrice(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	day := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SavePrice(ctx, "AAPL", "YAHOO", day, decimal.RequireFromString("125.07")))

	resolver := NewResolverAt(repo, fixedClock(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)))
	price, err := resolver.Price(ctx, domain.Instrument{Symbol: "AAPL"}, day)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("125.07")))
}

func TestResolver_HistoricalMissIsNotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.SavePrice(ctx, "AAPL", "YAHOO",
		time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), decimal.RequireFromString("125")))

	resolver := NewResolverAt(repo, fixedClock(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)))
	// A past date with no stored close never falls back to older data.
	_, err := resolver.Price(ctx, domain.Instrument{Symbol: "AAPL"},
		time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, domain.ErrPriceNotFound)
}

func TestResolver_CurrentDayFallsBackToLatest(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	// Latest close is two days old (weekend).
	require.NoError(t, repo.SavePrice(ctx, "AAPL", "YAHOO",
		time.Date(2023, 5, 30, 0, 0, 0, 0, time.UTC), decimal.RequireFromString("177.30")))

	resolver := NewResolverAt(repo, fixedClock(now))
	price, err := resolver.Price(ctx, domain.Instrument{Symbol: "AAPL"}, now)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("177.30")))
}

func TestResolver_UnknownSymbol(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	resolver := NewResolver(repo)

	_, err := resolver.Price(context.Background(), domain.Instrument{Symbol: "NOPE"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrPriceNotFound)
}
