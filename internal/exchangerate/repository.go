// Package exchangerate persists FX rates and resolves currency conversion
// lookups for the engine.
package exchangerate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Repository provides exchange rate persistence over SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new exchange rate repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveRate upserts one dated rate for a currency pair.
func (r *Repository) SaveRate(ctx context.Context, from, to string, date time.Time, rate decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO exchange_rates (from_currency, to_currency, date, rate)
		VALUES (?, ?, ?, ?)`,
		from, to, date.UTC().Unix(), rate.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rate %s/%s: %w", from, to, err)
	}
	return nil
}

// RateAt returns the rate stored for the exact date and pair direction.
func (r *Repository) RateAt(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		"SELECT rate FROM exchange_rates WHERE from_currency = ? AND to_currency = ? AND date = ?",
		from, to, date.UTC().Unix(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query rate %s/%s: %w", from, to, err)
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid stored rate %s/%s: %w", from, to, err)
	}
	return rate, true, nil
}

// LatestRateBefore returns the most recent rate at or before the date.
func (r *Repository) LatestRateBefore(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ? AND date <= ?
		ORDER BY date DESC LIMIT 1`,
		from, to, date.UTC().Unix(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query latest rate %s/%s: %w", from, to, err)
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid stored rate %s/%s: %w", from, to, err)
	}
	return rate, true, nil
}
