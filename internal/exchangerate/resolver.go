package exchangerate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// Resolver answers FX lookups for the engine. Identity pairs resolve without
// touching storage. A pair stored only in the opposite direction resolves to
// the reciprocal. Historical dates require an exact rate; the current day
// falls back to the latest available one.
type Resolver struct {
	repo *Repository
	now  func() time.Time
}

// NewResolver creates a rate resolver over the repository.
func NewResolver(repo *Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// NewResolverAt creates a resolver with a fixed clock.
func NewResolverAt(repo *Repository, now func() time.Time) *Resolver {
	return &Resolver{repo: repo, now: now}
}

// Rate implements domain.RateResolver.
func (r *Resolver) Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	day := date.UTC().Truncate(24 * time.Hour)
	today := r.now().UTC().Truncate(24 * time.Hour)
	live := !day.Before(today)

	rate, found, err := r.lookup(ctx, from, to, day, live)
	if err != nil {
		return decimal.Zero, err
	}
	if found {
		return rate, nil
	}

	// Inverse pair fallback: EUR/USD stored implies USD/EUR = 1/rate.
	rate, found, err = r.lookup(ctx, to, from, day, live)
	if err != nil {
		return decimal.Zero, err
	}
	if found && !rate.IsZero() {
		return decimal.NewFromInt(1).Div(rate), nil
	}

	return decimal.Zero, fmt.Errorf("rate %s/%s at %s: %w",
		from, to, day.Format("2006-01-02"), domain.ErrRateNotFound)
}

func (r *Resolver) lookup(ctx context.Context, from, to string, day time.Time, live bool) (decimal.Decimal, bool, error) {
	rate, found, err := r.repo.RateAt(ctx, from, to, day)
	if err != nil || found {
		return rate, found, err
	}
	if live {
		return r.repo.LatestRateBefore(ctx, from, to, day)
	}
	return decimal.Zero, false, nil
}
