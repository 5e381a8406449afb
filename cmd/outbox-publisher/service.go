package main

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

const (
	defaultBatchSize      = 100
	defaultPollInterval   = 5 * time.Second
	defaultPublishTimeout = 15 * time.Second
)

type outboxRepository interface {
	FetchUnpublished(limit int) ([]models.OutboxEvent, error)
	MarkPublished(id uuid.UUID) error
	MarkFailed(id uuid.UUID, err error) error
}

// publisher and publishResult wrap the Pub/Sub v2 surface so tests can
// substitute in-memory fakes.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type domainPublisherProvider interface {
	DomainPublisher() *gcppubsub.Publisher
}

type gcpPublisher struct {
	inner *gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.inner.Publish(ctx, msg)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	Repository outboxRepository
	PubSub     domainPublisherProvider
	// Publisher overrides the Pub/Sub-backed publisher. Tests use it.
	Publisher publisher
}

// Service drains the outbox table into the domain event topic. Events are
// fetched oldest first; a publish failure records the error and leaves the
// row for the next poll.
type Service struct {
	cfg          *config.Config
	logg         *logger.Logger
	repo         outboxRepository
	pub          publisher
	batchSize    int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}

	pub := params.Publisher
	if pub == nil {
		if params.PubSub == nil {
			return nil, errors.New("pubsub client is required")
		}
		inner := params.PubSub.DomainPublisher()
		if inner == nil {
			return nil, errors.New("domain topic is not configured")
		}
		pub = gcpPublisher{inner: inner}
	}

	batchSize := params.Config.Outbox.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	pollInterval := params.Config.Outbox.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Service{
		cfg:          params.Config,
		logg:         params.Logger,
		repo:         params.Repository,
		pub:          pub,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}, nil
}

// Run polls until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.drainOnce(ctx); err != nil {
			s.logg.Error(ctx, "outbox drain cycle failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drainOnce publishes one batch of unpublished events.
func (s *Service) drainOnce(ctx context.Context) error {
	events, err := s.repo.FetchUnpublished(s.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.publishOne(ctx, event); err != nil {
			evCtx := s.logg.WithFields(ctx, map[string]any{
				"event_id":   event.ID.String(),
				"event_type": string(event.EventType),
			})
			s.logg.Error(evCtx, "failed to publish outbox event", err)
			if markErr := s.repo.MarkFailed(event.ID, err); markErr != nil {
				s.logg.Error(evCtx, "failed to record publish failure", markErr)
			}
			continue
		}
		if err := s.repo.MarkPublished(event.ID); err != nil {
			// The message went out; leaving the row unpublished means a
			// duplicate delivery, which consumers dedupe by event id.
			s.logg.Error(ctx, "failed to mark event published", err)
		}
	}
	return nil
}

func (s *Service) publishOne(ctx context.Context, event models.OutboxEvent) error {
	pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := s.pub.Publish(pubCtx, &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       event.ID.String(),
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
		},
	})
	_, err := result.Get(pubCtx)
	return err
}
