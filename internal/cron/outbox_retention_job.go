package cron

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/logger"
)

const (
	defaultOutboxRetainDays = 30
	// Unpublished rows are only pruned once the publisher has given up on them.
	outboxExhaustedAttempts = 5
)

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  publishedEventPruner
	DeadLetters deadLetterPruner
	Retention   int
	MinAttempts int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedEventPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPruner interface {
	PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// outboxRetentionJob trims old outbox rows and, when configured, dead letters
// past the same horizon. Both deletes share one transaction.
type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	events      publishedEventPruner
	deadLetters deadLetterPruner
	retain      time.Duration
	minAttempts int
	now         func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	days := params.Retention
	if days <= 0 {
		days = defaultOutboxRetainDays
	}
	minAttempts := params.MinAttempts
	if minAttempts <= 0 {
		minAttempts = outboxExhaustedAttempts
	}
	return &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		events:      params.Repository,
		deadLetters: params.DeadLetters,
		retain:      time.Duration(days) * 24 * time.Hour,
		minAttempts: minAttempts,
		now:         time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retain)
	var events, dead int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if events, err = j.events.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts); err != nil {
			return err
		}
		if j.deadLetters != nil {
			dead, err = j.deadLetters.PurgeBefore(ctx, tx, cutoff)
		}
		return err
	})
	if err != nil {
		return err
	}
	if events+dead > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":         cutoff,
			"events_deleted": events,
			"dlq_deleted":    dead,
		}), "outbox retention pruned rows")
	}
	return nil
}
