package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

type publishedEventPruner interface {
	DeletePublishedBefore(cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configure the outbox pruning job.
type OutboxRetentionJobParams struct {
	Logger *logger.Logger
	Outbox publishedEventPruner
	Config config.OutboxConfig
}

// NewOutboxRetentionJob builds the job that prunes published outbox rows
// older than the retention window.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.Config.RetainFor <= 0 {
		return nil, fmt.Errorf("retention window must be positive")
	}
	return &outboxRetentionJob{
		logg:   params.Logger,
		outbox: params.Outbox,
		retain: params.Config.RetainFor,
		now:    time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg   *logger.Logger
	outbox publishedEventPruner
	retain time.Duration
	now    func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retain)
	pruned, err := j.outbox.DeletePublishedBefore(cutoff)
	if err != nil {
		return fmt.Errorf("prune outbox: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": pruned})
	j.logg.Info(logCtx, "outbox retention sweep finished")
	return nil
}
