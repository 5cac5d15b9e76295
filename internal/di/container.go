// Package di provides dependency injection wiring for the performance engine.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/activity"
	"github.com/quantfolio/quantfolio/internal/config"
	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/engine"
	"github.com/quantfolio/quantfolio/internal/exchangerate"
	"github.com/quantfolio/quantfolio/internal/marketdata"
	"github.com/quantfolio/quantfolio/internal/scheduler"
)

// Container holds all wired dependencies.
type Container struct {
	PortfolioDB  *database.DB
	MarketDataDB *database.DB
	CacheDB      *database.DB

	ActivityRepo   *activity.Repository
	MarketDataRepo *marketdata.Repository
	RateRepo       *exchangerate.Repository

	Computer  *engine.Computer
	Cache     *scheduler.Cache
	Scheduler *scheduler.Scheduler
	Cron      *scheduler.Cron
}

// Wire initializes databases, applies schemas and builds the service graph.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}

	portfolioDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/portfolio.db",
		Profile: database.ProfileStandard,
		Name:    "portfolio",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize portfolio database: %w", err)
	}
	c.PortfolioDB = portfolioDB

	marketDataDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/marketdata.db",
		Profile: database.ProfileStandard,
		Name:    "marketdata",
	})
	if err != nil {
		portfolioDB.Close()
		return nil, fmt.Errorf("failed to initialize marketdata database: %w", err)
	}
	c.MarketDataDB = marketDataDB

	cacheDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/cache.db",
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		portfolioDB.Close()
		marketDataDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	c.CacheDB = cacheDB

	for _, db := range []*database.DB{portfolioDB, marketDataDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	c.ActivityRepo = activity.NewRepository(portfolioDB.Conn())
	c.MarketDataRepo = marketdata.NewRepository(marketDataDB.Conn())
	c.RateRepo = exchangerate.NewRepository(marketDataDB.Conn())

	c.Computer = engine.NewComputer(
		c.ActivityRepo,
		marketdata.NewResolver(c.MarketDataRepo),
		exchangerate.NewResolver(c.RateRepo),
		cfg.BaseCurrency,
		cfg.LookupConcurrency,
		log,
	)

	c.Cache = scheduler.NewCache(cacheDB.Conn(), log)
	c.Scheduler = scheduler.New(c.Computer, c.Cache, scheduler.Config{
		TTL:         cfg.SnapshotTTL,
		Timeout:     cfg.ComputationTimeout,
		Concurrency: cfg.WorkerConcurrency,
	}, log)

	c.Cron = scheduler.NewCron(log)
	if err := c.Cron.AddJob("0 0 3 * * *", scheduler.NewCleanupJob(c.Cache, log)); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to register cleanup job: %w", err)
	}

	return c, nil
}

// Close closes all databases, flushing WAL checkpoints.
func (c *Container) Close() {
	for _, db := range []*database.DB{c.PortfolioDB, c.MarketDataDB, c.CacheDB} {
		if db != nil {
			_ = db.Close()
		}
	}
}
