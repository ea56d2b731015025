package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultPruneSchedule = "@daily"

type Pruner struct {
	cron *cron.Cron
}

// StartPruner deletes entries older than retention on schedule.
func StartPruner(j *Journal, schedule string, retention time.Duration, logger *slog.Logger) (*Pruner, error) {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	logger = logger.With("component", "journal")

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := j.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Error("prune failed", "error", err)
			return
		}
		logger.Info("pruned journal", "deleted", n, "retention", retention)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return &Pruner{cron: c}, nil
}

// Stop waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}
