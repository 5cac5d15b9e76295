package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled background job.
type Job interface {
	Run() error
	Name() string
}

// Cron manages background jobs on cron schedules.
type Cron struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewCron creates a new cron runner.
func NewCron(log zerolog.Logger) *Cron {
	return &Cron{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "cron").Logger(),
	}
}

// Start starts the cron runner.
func (c *Cron) Start() {
	c.cron.Start()
	c.log.Info().Msg("Cron runner started")
}

// Stop stops the cron runner and waits for running jobs to finish.
func (c *Cron) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.log.Info().Msg("Cron runner stopped")
}

// AddJob registers a job with a cron schedule, e.g. "@hourly" or
// "0 0 3 * * *" (3 AM daily, seconds field included).
func (c *Cron) AddJob(schedule string, job Job) error {
	_, err := c.cron.AddFunc(schedule, func() {
		c.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			c.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			c.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})
	if err != nil {
		return err
	}

	c.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}
