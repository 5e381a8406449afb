package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

const promotionExpiryBatchSize = 200

type promotionExpirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// PromotionExpiryJobParams configure the promotion expiry sweep.
type PromotionExpiryJobParams struct {
	Logger     *logger.Logger
	Promotions promotionExpirer
}

// NewPromotionExpiryJob builds the job that ends active boosts whose window
// has closed.
func NewPromotionExpiryJob(params PromotionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Promotions == nil {
		return nil, fmt.Errorf("promotions service required")
	}
	return &promotionExpiryJob{
		logg:       params.Logger,
		promotions: params.Promotions,
		now:        time.Now,
	}, nil
}

type promotionExpiryJob struct {
	logg       *logger.Logger
	promotions promotionExpirer
	now        func() time.Time
}

func (j *promotionExpiryJob) Name() string { return "promotion-expiry" }

func (j *promotionExpiryJob) Run(ctx context.Context) error {
	expired, err := j.promotions.ExpireDue(ctx, j.now().UTC(), promotionExpiryBatchSize)
	if err != nil {
		return fmt.Errorf("expire promotions: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": expired})
	j.logg.Info(logCtx, "promotion expiry sweep finished")
	return nil
}
