// Package activity persists user activities and account balances, and serves
// them to the engine as an ActivitySource.
package activity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// Repository provides activity and balance persistence over SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new activity repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts an activity, assigning an ID when none is set.
func (r *Repository) Save(ctx context.Context, userID string, a domain.Activity) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activities
			(id, user_id, type, date, symbol, data_source, currency, quantity, unit_price, fee, account_id, tags, asset_class)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, userID, string(a.Type), a.Date.UTC().Unix(),
		a.Instrument.Symbol, a.Instrument.DataSource, a.Instrument.Currency,
		a.Quantity.String(), a.UnitPrice.String(), a.Fee.String(),
		a.AccountID, strings.Join(a.Tags, ","), a.AssetClass,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save activity: %w", err)
	}
	return a.ID, nil
}

// Delete removes one activity owned by the user.
func (r *Repository) Delete(ctx context.Context, userID, activityID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM activities WHERE id = ? AND user_id = ?", activityID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("activity %s not found", activityID)
	}
	return nil
}

// Activities returns the user's activities matching the filters, ordered by
// date. Tag and asset class filtering happens in Go because tags are stored
// comma separated; account filtering is pushed into SQL.
func (r *Repository) Activities(ctx context.Context, userID string, filters domain.Filters) ([]domain.Activity, error) {
	query := `
		SELECT id, type, date, symbol, data_source, currency, quantity, unit_price, fee, account_id, tags, asset_class
		FROM activities
		WHERE user_id = ?`
	args := []interface{}{userID}

	if len(filters.AccountIDs) > 0 {
		query += " AND account_id IN (" + placeholders(len(filters.AccountIDs)) + ")"
		for _, id := range filters.AccountIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY date, created_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		if !matchesTags(a.Tags, filters.Tags) {
			continue
		}
		if !matchesAssetClass(a.AssetClass, filters.AssetClasses) {
			continue
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return out, nil
}

// AccountBalances returns the user's dated balance snapshots ordered by date.
// When account filters are set, balances of other accounts are excluded; tag
// and asset class filters do not apply to balances.
func (r *Repository) AccountBalances(ctx context.Context, userID string, filters domain.Filters) ([]domain.AccountBalance, error) {
	query := "SELECT account_id, date, amount, currency FROM account_balances WHERE user_id = ?"
	args := []interface{}{userID}

	if len(filters.AccountIDs) > 0 {
		query += " AND account_id IN (" + placeholders(len(filters.AccountIDs)) + ")"
		for _, id := range filters.AccountIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY date"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query account balances: %w", err)
	}
	defer rows.Close()

	var out []domain.AccountBalance
	for rows.Next() {
		var (
			b      domain.AccountBalance
			date   int64
			amount string
		)
		if err := rows.Scan(&b.AccountID, &date, &amount, &b.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan account balance: %w", err)
		}
		b.Date = time.Unix(date, 0).UTC()
		b.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount for account %s: %w", b.AccountID, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate account balances: %w", err)
	}
	return out, nil
}

// SaveBalance upserts a dated balance snapshot for one account.
func (r *Repository) SaveBalance(ctx context.Context, userID string, b domain.AccountBalance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO account_balances (user_id, account_id, date, amount, currency)
		VALUES (?, ?, ?, ?, ?)`,
		userID, b.AccountID, b.Date.UTC().Unix(), b.Amount.String(), b.Currency,
	)
	if err != nil {
		return fmt.Errorf("failed to save account balance: %w", err)
	}
	return nil
}

func scanActivity(rows *sql.Rows) (domain.Activity, error) {
	var (
		a                              domain.Activity
		date                           int64
		actType, quantity, price, fee  string
		tags                           string
	)
	err := rows.Scan(&a.ID, &actType, &date,
		&a.Instrument.Symbol, &a.Instrument.DataSource, &a.Instrument.Currency,
		&quantity, &price, &fee, &a.AccountID, &tags, &a.AssetClass)
	if err != nil {
		return a, fmt.Errorf("failed to scan activity: %w", err)
	}

	a.Type = domain.ActivityType(actType)
	a.Date = time.Unix(date, 0).UTC()
	if a.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return a, fmt.Errorf("invalid quantity for activity %s: %w", a.ID, err)
	}
	if a.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return a, fmt.Errorf("invalid unit price for activity %s: %w", a.ID, err)
	}
	if a.Fee, err = decimal.NewFromString(fee); err != nil {
		return a, fmt.Errorf("invalid fee for activity %s: %w", a.ID, err)
	}
	if tags != "" {
		a.Tags = strings.Split(tags, ",")
	}
	return a, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func matchesTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func matchesAssetClass(have string, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if have == w {
			return true
		}
	}
	return false
}
