package metrics

import (
	"context"
	"time"

	"slack_scheduler/internal/models"

	"github.com/rs/zerolog"
)

// StatsSource is satisfied by every job store.
type StatsSource interface {
	Stats(ctx context.Context, now time.Time) (models.JobStats, error)
}

// StartJobStatsCollector refreshes the dispatch_jobs gauges until ctx is done.
func StartJobStatsCollector(ctx context.Context, src StatsSource, interval time.Duration, logger zerolog.Logger) {
	if src == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		updateJobGauges(ctx, src, logger)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				updateJobGauges(ctx, src, logger)
			}
		}
	}()
}

func updateJobGauges(ctx context.Context, src StatsSource, logger zerolog.Logger) {
	st, err := src.Stats(ctx, time.Now())
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn().Err(err).Msg("collect job stats")
		}
		return
	}
	SetDispatchJobs(st.Pending, st.Locked, st.Overdue)
}
