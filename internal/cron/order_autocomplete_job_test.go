package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

type stubCompleter struct {
	due       []models.Order
	cutoffs   []time.Time
	completed []uuid.UUID
	failOn    map[uuid.UUID]error
}

func (s *stubCompleter) ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.due, nil
}

func (s *stubCompleter) AutoComplete(ctx context.Context, orderID uuid.UUID) error {
	if err, ok := s.failOn[orderID]; ok {
		return err
	}
	s.completed = append(s.completed, orderID)
	return nil
}

func TestOrderAutoCompleteJobSweepsDueOrders(t *testing.T) {
	first := models.Order{ID: uuid.New()}
	second := models.Order{ID: uuid.New()}
	completer := &stubCompleter{due: []models.Order{first, second}}
	job, err := NewOrderAutoCompleteJob(OrderAutoCompleteJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		Orders: completer,
		Config: config.OrdersConfig{AutoCompleteAfter: 72 * time.Hour},
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(completer.completed) != 2 {
		t.Fatalf("completed = %d orders, want 2", len(completer.completed))
	}
	if len(completer.cutoffs) != 1 {
		t.Fatalf("list calls = %d, want 1", len(completer.cutoffs))
	}
	if age := time.Since(completer.cutoffs[0]); age < 71*time.Hour || age > 73*time.Hour {
		t.Errorf("cutoff looked back %s, want ~72h", age)
	}
}

func TestOrderAutoCompleteJobContinuesPastFailures(t *testing.T) {
	broken := models.Order{ID: uuid.New()}
	healthy := models.Order{ID: uuid.New()}
	completer := &stubCompleter{
		due:    []models.Order{broken, healthy},
		failOn: map[uuid.UUID]error{broken.ID: apperrors.New(apperrors.CodeInternal, "ledger write failed")},
	}
	job, err := NewOrderAutoCompleteJob(OrderAutoCompleteJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		Orders: completer,
		Config: config.OrdersConfig{AutoCompleteAfter: 72 * time.Hour},
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(completer.completed) != 1 || completer.completed[0] != healthy.ID {
		t.Errorf("completed = %v, want the healthy order", completer.completed)
	}
}
