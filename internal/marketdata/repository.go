// Package marketdata persists end-of-day instrument prices and resolves
// valuation lookups for the engine.
package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Repository provides price persistence over SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new market data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SavePrice upserts one end-of-day price.
func (r *Repository) SavePrice(ctx context.Context, symbol, dataSource string, date time.Time, price decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO prices (symbol, data_source, date, price)
		VALUES (?, ?, ?, ?)`,
		symbol, dataSource, date.UTC().Unix(), price.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save price for %s: %w", symbol, err)
	}
	return nil
}

// PriceAt returns the price stored for the exact date. sql.ErrNoRows maps to
// found=false rather than an error.
func (r *Repository) PriceAt(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		"SELECT price FROM prices WHERE symbol = ? AND date = ?",
		symbol, date.UTC().Unix(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query price for %s: %w", symbol, err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid stored price for %s: %w", symbol, err)
	}
	return price, true, nil
}

// LatestPriceBefore returns the most recent price at or before the date.
func (r *Repository) LatestPriceBefore(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		"SELECT price FROM prices WHERE symbol = ? AND date <= ? ORDER BY date DESC LIMIT 1",
		symbol, date.UTC().Unix(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query latest price for %s: %w", symbol, err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid stored price for %s: %w", symbol, err)
	}
	return price, true, nil
}
