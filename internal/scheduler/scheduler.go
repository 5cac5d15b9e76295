package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/domain"
	"github.com/quantfolio/quantfolio/internal/engine"
)

// flight is one in-progress computation shared by every caller that asked
// for the same key while it ran.
type flight struct {
	done     chan struct{}
	snapshot *engine.PortfolioSnapshot
	err      error
}

// Scheduler serializes snapshot computations per cache key: at most one
// computation runs for a key at any time, concurrent requests for the same
// key share its result, and total concurrency is bounded by the worker pool.
type Scheduler struct {
	computer *engine.Computer
	cache    *Cache
	ttl      time.Duration
	timeout  time.Duration
	workers  chan struct{}

	mu       sync.Mutex
	inFlight map[string]*flight

	log zerolog.Logger
}

// Config holds scheduler tuning.
type Config struct {
	TTL         time.Duration // cache lifetime of a clean snapshot
	Timeout     time.Duration // hard wall-clock limit per computation
	Concurrency int           // max computations running at once
}

// New creates a scheduler.
func New(computer *engine.Computer, cache *Cache, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		computer: computer,
		cache:    cache,
		ttl:      cfg.TTL,
		timeout:  cfg.Timeout,
		workers:  make(chan struct{}, cfg.Concurrency),
		inFlight: make(map[string]*flight),
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Snapshot returns the snapshot for the given computation, serving from
// cache when fresh. A stale cache hit is returned immediately while a
// background recomputation refreshes the entry. A cache miss blocks the
// caller on the shared computation.
func (s *Scheduler) Snapshot(ctx context.Context, p engine.ComputeParams) (*engine.PortfolioSnapshot, error) {
	key := CacheKey(p.UserID, p.Filters, p.Mode)

	if cached, fresh := s.cache.Get(ctx, key); cached != nil {
		if fresh {
			return cached, nil
		}
		s.log.Debug().Str("key", key).Msg("Serving stale snapshot, recomputing in background")
		s.recomputeAsync(key, p)
		return cached, nil
	}

	f := s.startFlight(key, p)
	select {
	case <-f.done:
		return f.snapshot, f.err
	case <-ctx.Done():
		// The computation keeps running; a later request finds its result
		// in the cache.
		return nil, ctx.Err()
	}
}

// Invalidate evicts the cache entry for one computation so the next request
// recomputes. Called after activity writes.
func (s *Scheduler) Invalidate(ctx context.Context, userID string, filters domain.Filters, mode engine.Mode) {
	s.cache.Delete(ctx, CacheKey(userID, filters, mode))
}

// InvalidateUser evicts every cache entry of one user. Called after
// activity writes, which change the input of all of the user's computations.
func (s *Scheduler) InvalidateUser(ctx context.Context, userID string) {
	s.cache.DeleteUser(ctx, userID)
}

// Flush drops the entire snapshot cache.
func (s *Scheduler) Flush(ctx context.Context) error {
	return s.cache.Flush(ctx)
}

// recomputeAsync starts a background refresh unless one is already running
// for the key.
func (s *Scheduler) recomputeAsync(key string, p engine.ComputeParams) {
	s.mu.Lock()
	if _, running := s.inFlight[key]; running {
		s.mu.Unlock()
		return
	}
	f := &flight{done: make(chan struct{})}
	s.inFlight[key] = f
	s.mu.Unlock()

	go s.run(key, f, p)
}

// startFlight joins the in-progress computation for the key, or starts one.
func (s *Scheduler) startFlight(key string, p engine.ComputeParams) *flight {
	s.mu.Lock()
	if f, running := s.inFlight[key]; running {
		s.mu.Unlock()
		return f
	}
	f := &flight{done: make(chan struct{})}
	s.inFlight[key] = f
	s.mu.Unlock()

	go s.run(key, f, p)
	return f
}

// run executes one computation under the worker pool and the hard timeout.
// The context is detached from any caller: a caller giving up must not
// cancel a computation other callers are waiting on.
func (s *Scheduler) run(key string, f *flight, p engine.ComputeParams) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
		close(f.done)
	}()

	s.workers <- struct{}{}
	defer func() { <-s.workers }()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	snapshot, err := s.computer.Compute(ctx, p)
	elapsed := time.Since(started)

	if err != nil {
		if ctx.Err() != nil {
			err = domain.ErrComputationTimeout
			// Evict whatever is cached: a snapshot that now times out is
			// likely outdated beyond usefulness.
			s.cache.Delete(context.Background(), key)
			s.log.Error().Str("key", key).Dur("elapsed", elapsed).Msg("Computation timed out")
		} else {
			s.log.Error().Err(err).Str("key", key).Msg("Computation failed")
		}
		f.err = err
		return
	}

	if cacheErr := s.cache.Put(context.Background(), key, snapshot, s.ttl); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("key", key).Msg("Failed to cache snapshot")
	}

	s.log.Debug().
		Str("key", key).
		Dur("elapsed", elapsed).
		Int("positions", len(snapshot.Positions)).
		Bool("has_errors", snapshot.HasErrors).
		Msg("Computation finished")

	f.snapshot = snapshot
}
