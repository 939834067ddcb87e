// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sachiniyer/meal-finder/internal/types"
)

// Scheduler runs periodic maintenance. Today that is one job: sweeping
// expired cache entries on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	cache  types.CacheStore
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a scheduler that purges cache entries older than ttl on
// the given cron schedule. A zero ttl disables the sweep entirely.
func New(cache types.CacheStore, schedule string, ttl time.Duration, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "scheduler"),
	}

	if ttl > 0 {
		if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	if s.ttl <= 0 {
		s.logger.Info("cache sweep disabled, entries kept forever")
		return
	}
	s.cron.Start()
	s.logger.Info("cache sweep scheduled", "ttl", s.ttl)
}

// Stop halts the scheduler, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := s.cache.PurgeExpired(ctx, s.ttl)
	if err != nil {
		s.logger.Error("cache sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("cache sweep finished", "removed", removed)
	}
}
