package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// expiredGrace keeps recently expired snapshots around as stale fallbacks.
const expiredGrace = 24 * time.Hour

// CleanupJob removes long-expired snapshots from the cache database.
// It should be scheduled to run daily.
type CleanupJob struct {
	cache *Cache
	log   zerolog.Logger
}

// NewCleanupJob creates a new snapshot cache cleanup job.
func NewCleanupJob(cache *Cache, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		cache: cache,
		log:   log.With().Str("job", "snapshot_cache_cleanup").Logger(),
	}
}

// Run executes the cleanup job.
func (j *CleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := j.cache.DeleteExpired(ctx, expiredGrace)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired snapshots")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Msg("Cleaned up expired snapshot cache entries")
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "snapshot_cache_cleanup"
}
