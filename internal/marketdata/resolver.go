package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// Resolver answers price lookups for the engine. Historical dates require an
// exact end-of-day price; the current day falls back to the latest available
// price, because today's close does not exist yet while markets are open.
type Resolver struct {
	repo *Repository
	// now is injectable so tests can pin the live/historical boundary.
	now func() time.Time
}

// NewResolver creates a price resolver over the repository.
func NewResolver(repo *Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// NewResolverAt creates a resolver with a fixed clock.
func NewResolverAt(repo *Repository, now func() time.Time) *Resolver {
	return &Resolver{repo: repo, now: now}
}

// Price implements domain.MarketDataResolver.
func (r *Resolver) Price(ctx context.Context, instrument domain.Instrument, date time.Time) (decimal.Decimal, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	today := r.now().UTC().Truncate(24 * time.Hour)

	price, found, err := r.repo.PriceAt(ctx, instrument.Symbol, day)
	if err != nil {
		return decimal.Zero, err
	}
	if found {
		return price, nil
	}

	if !day.Before(today) {
		price, found, err = r.repo.LatestPriceBefore(ctx, instrument.Symbol, day)
		if err != nil {
			return decimal.Zero, err
		}
		if found {
			return price, nil
		}
	}

	return decimal.Zero, fmt.Errorf("price for %s at %s: %w",
		instrument.Symbol, day.Format("2006-01-02"), domain.ErrPriceNotFound)
}
