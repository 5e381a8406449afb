package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

const autoCompleteBatchSize = 200

type deliveredOrderCompleter interface {
	ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	AutoComplete(ctx context.Context, orderID uuid.UUID) error
}

// OrderAutoCompleteJobParams configure the default-confirmation sweep.
type OrderAutoCompleteJobParams struct {
	Logger *logger.Logger
	Orders deliveredOrderCompleter
	Config config.OrdersConfig
}

// NewOrderAutoCompleteJob builds the job that confirms delivered orders the
// buyer never acted on. Each order goes through the same conditional status
// update as a buyer confirmation, so a dispute opened mid-sweep wins the race
// and the sweep moves on.
func NewOrderAutoCompleteJob(params OrderAutoCompleteJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Config.AutoCompleteAfter <= 0 {
		return nil, fmt.Errorf("auto-complete window must be positive")
	}
	return &orderAutoCompleteJob{
		logg:   params.Logger,
		orders: params.Orders,
		window: params.Config.AutoCompleteAfter,
		now:    time.Now,
	}, nil
}

type orderAutoCompleteJob struct {
	logg   *logger.Logger
	orders deliveredOrderCompleter
	window time.Duration
	now    func() time.Time
}

func (j *orderAutoCompleteJob) Name() string { return "order-autocomplete" }

func (j *orderAutoCompleteJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	due, err := j.orders.ListDeliveredBefore(ctx, cutoff, autoCompleteBatchSize)
	if err != nil {
		return fmt.Errorf("query delivered orders: %w", err)
	}

	var errs []error
	completed := 0
	for _, order := range due {
		if err := j.orders.AutoComplete(ctx, order.ID); err != nil {
			errs = append(errs, fmt.Errorf("auto-complete order %s: %w", order.ID, err))
			continue
		}
		completed++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": completed})
	j.logg.Info(logCtx, "order auto-complete sweep finished")
	return multierr.Combine(errs...)
}
