package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
	"github.com/coinsacademy/topup-backend/pkg/outbox/registry"
)

const (
	publishTimeout  = 15 * time.Second
	maxErrorBackoff = 10 * time.Second
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// broker is satisfied by both the Pub/Sub and the RabbitMQ clients.
type broker interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.Resolved, error)
}

// dedupe remembers event ids that already reached the broker so a row whose
// commit was lost after a successful publish is not sent twice.
type dedupe interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type PublisherParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	Broker     broker
	BrokerName string
	Repository outboxRepository
	DLQ        dlqRepository
	Registry   resolver
	Dedupe     dedupe
	Metrics    *metrics.OutboxMetrics
}

// Publisher relays committed outbox rows to the broker in batches. Rows are
// locked with SKIP LOCKED so several publishers can run side by side.
type Publisher struct {
	logg        *logger.Logger
	db          dbClient
	broker      broker
	brokerName  string
	repo        outboxRepository
	dlq         dlqRepository
	registry    resolver
	dedupe      dedupe
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func NewPublisher(p PublisherParams) (*Publisher, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Broker == nil:
		return nil, errors.New("broker client is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	}
	name := p.BrokerName
	if name == "" {
		name = "broker"
	}
	return &Publisher{
		logg:        p.Logger,
		db:          p.DB,
		broker:      p.Broker,
		brokerName:  name,
		repo:        p.Repository,
		dlq:         p.DLQ,
		registry:    p.Registry,
		dedupe:      p.Dedupe,
		metrics:     p.Metrics,
		batchSize:   positive(p.Outbox.BatchSize, 50),
		maxAttempts: positive(p.Outbox.MaxAttempts, 10),
		poll:        time.Duration(positive(p.Outbox.PollIntervalMS, 500)) * time.Millisecond,
		now:         time.Now,
	}, nil
}

// Run drains the outbox until ctx is cancelled. Full batches are followed
// immediately by the next one, an empty batch waits one poll interval, and
// batch errors back off exponentially.
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := p.broker.Ping(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", p.brokerName, err)
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = p.poll
	retry.MaxInterval = maxErrorBackoff
	retry.MaxElapsedTime = 0
	retry.Reset()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		handled, err := p.drain(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			wait = retry.NextBackOff()
			p.logg.Error(p.logg.WithField(ctx, "retry_in", wait.String()), "outbox batch failed", err)
		case handled > 0:
			retry.Reset()
			continue
		default:
			retry.Reset()
			wait = p.poll
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// drain handles one batch inside a single transaction and returns how many
// rows it touched.
func (p *Publisher) drain(ctx context.Context) (int, error) {
	var handled int
	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := p.repo.FetchUnpublishedForPublish(tx, p.batchSize, p.maxAttempts)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := p.relay(ctx, tx, row); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	return handled, err
}

// relay publishes one row and records the outcome. It only returns an error
// when the outcome itself could not be recorded.
func (p *Publisher) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"event_id":      row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
	})

	resolved, err := p.registry.Resolve(row)
	if err != nil {
		return p.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	topic := resolved.Route.Topic
	if topic == "" {
		return p.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, registry.Permanent(fmt.Errorf("no destination for %s", row.EventType)))
	}
	ctx = p.logg.WithField(ctx, "topic", topic)

	if p.dedupe != nil {
		claimed, err := p.dedupe.Claim(ctx, row.ID.String())
		switch {
		case err != nil:
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "outbox dedupe unavailable, publishing anyway")
		case !claimed:
			if err := p.repo.MarkPublishedTx(tx, row.ID); err != nil {
				return fmt.Errorf("mark published %s: %w", row.ID, err)
			}
			p.metrics.Observe(string(row.EventType), metrics.OutboxDuplicate, row.CreatedAt)
			p.logg.Info(ctx, "outbox event already published")
			return nil
		}
	}

	if err := p.publish(ctx, topic, row, resolved.Envelope); err != nil {
		if p.dedupe != nil {
			if relErr := p.dedupe.Release(ctx, row.ID.String()); relErr != nil {
				p.logg.Warn(p.logg.WithField(ctx, "error", relErr.Error()), "outbox dedupe release failed")
			}
		}
		return p.failed(ctx, tx, row, err)
	}

	if err := p.repo.MarkPublishedTx(tx, row.ID); err != nil {
		return fmt.Errorf("mark published %s: %w", row.ID, err)
	}
	p.metrics.Observe(string(row.EventType), metrics.OutboxPublished, row.CreatedAt)
	p.logg.Info(ctx, "outbox event published")
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, row models.OutboxEvent, env outbox.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.broker.Publish(ctx, topic, row.Payload, outbox.Attributes(row, env))
}

// failed schedules a retry, or dead-letters the row once it is out of
// attempts or the broker rejected it permanently.
func (p *Publisher) failed(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, cause error) error {
	if registry.IsPermanent(cause) {
		return p.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, cause)
	}
	if row.AttemptCount+1 >= p.maxAttempts {
		return p.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", cause))
	}
	p.logg.Warn(p.logg.WithField(ctx, "error", cause.Error()), "outbox publish failed, will retry")
	if err := p.repo.MarkFailedTx(tx, row.ID, cause); err != nil {
		return fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	p.metrics.Observe(string(row.EventType), metrics.OutboxRetry, row.CreatedAt)
	return nil
}

func (p *Publisher) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      p.now().UTC(),
	}
	if err := p.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := p.repo.MarkTerminalTx(tx, row.ID, cause, p.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	p.metrics.Observe(string(row.EventType), metrics.OutboxDeadLettered, row.CreatedAt)
	p.logg.Alert(p.logg.WithField(ctx, "error_reason", reason), "outbox event dead-lettered", cause)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
