package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	fetchErr  error
}

func (r *fakeRepo) FetchUnpublished(limit int) ([]models.OutboxEvent, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	if limit < len(r.events) {
		return r.events[:limit], nil
	}
	return r.events, nil
}

func (r *fakeRepo) MarkPublished(id uuid.UUID) error {
	r.published = append(r.published, id)
	return nil
}

func (r *fakeRepo) MarkFailed(id uuid.UUID, err error) error {
	r.failed = append(r.failed, id)
	return nil
}

type fakePublishResult struct {
	err error
}

func (r fakePublishResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "msg-id", nil
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	results  []publishResult
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	if len(p.results) == 0 {
		return fakePublishResult{}
	}
	result := p.results[0]
	p.results = p.results[1:]
	return result
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repository: repo,
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func outboxEvent(t *testing.T, eventType enums.OutboxEventType) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
	}
}

func TestDrainOncePublishesBatch(t *testing.T) {
	first := outboxEvent(t, enums.EventOrderPaid)
	second := outboxEvent(t, enums.EventOrderCompleted)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{}
	svc := newTestService(t, repo, pub)

	if err := svc.drainOnce(context.Background()); err != nil {
		t.Fatalf("drainOnce: %v", err)
	}

	if len(pub.messages) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(pub.messages))
	}
	if len(repo.published) != 2 || repo.published[0] != first.ID || repo.published[1] != second.ID {
		t.Fatalf("unexpected published ids: %v", repo.published)
	}
	if got := pub.messages[0].Attributes["event_type"]; got != string(enums.EventOrderPaid) {
		t.Fatalf("unexpected event_type attribute %q", got)
	}
	if got := pub.messages[0].Attributes["event_id"]; got != first.ID.String() {
		t.Fatalf("unexpected event_id attribute %q", got)
	}
}

func TestDrainOnceContinuesAfterFailure(t *testing.T) {
	first := outboxEvent(t, enums.EventOrderPaid)
	second := outboxEvent(t, enums.EventOrderCompleted)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	svc := newTestService(t, repo, pub)

	if err := svc.drainOnce(context.Background()); err != nil {
		t.Fatalf("drainOnce: %v", err)
	}

	if len(repo.failed) != 1 || repo.failed[0] != first.ID {
		t.Fatalf("expected first event marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != second.ID {
		t.Fatalf("expected second event published, got %v", repo.published)
	}
}

func TestDrainOncePropagatesFetchError(t *testing.T) {
	repo := &fakeRepo{fetchErr: errors.New("db down")}
	svc := newTestService(t, repo, &fakePublisher{})

	if err := svc.drainOnce(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestNewServiceRequiresPublisherSource(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repository: &fakeRepo{},
	})
	if err == nil {
		t.Fatal("expected error without pubsub client or publisher override")
	}
}
