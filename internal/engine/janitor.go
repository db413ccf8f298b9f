package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/steward-dev/steward/internal/judge"
	"github.com/steward-dev/steward/internal/store"
)

// Janitor runs periodic maintenance: sweeping expired judge-cache entries
// and purging soft-deleted sessions past the retention window.
type Janitor struct {
	cron      *cron.Cron
	store     store.Store
	cache     *judge.VerdictCache
	retention time.Duration
	logger    *slog.Logger
}

// NewJanitor schedules maintenance jobs. A zero retention disables session
// purging.
func NewJanitor(st store.Store, cache *judge.VerdictCache, retention time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		cron:      cron.New(),
		store:     st,
		cache:     cache,
		retention: retention,
		logger:    logger,
	}

	_, _ = j.cron.AddFunc("@every 5m", j.sweepCache)
	if retention > 0 {
		_, _ = j.cron.AddFunc("@hourly", j.purgeSessions)
	}
	return j
}

// Start begins the schedule.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for running jobs.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweepCache() {
	if j.cache == nil {
		return
	}
	if dropped := j.cache.Sweep(); dropped > 0 {
		j.logger.Debug("judge cache swept", "dropped", dropped)
	}
}

func (j *Janitor) purgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)
	n, err := j.store.PurgeSessions(ctx, cutoff)
	if err != nil {
		j.logger.Warn("session purge failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("purged deleted sessions", "count", n, "cutoff", cutoff)
	}
}
