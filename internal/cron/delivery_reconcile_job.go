package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/coinsacademy/topup-backend/internal/delivery"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

const (
	defaultPendingTimeout = 90 * time.Second
	defaultBatchSize      = 50
)

// DeliveryReconcileJobParams configure the stale attempt poller.
type DeliveryReconcileJobParams struct {
	Logger             *logger.Logger
	Attempts           staleAttemptLister
	Reconciler         attemptReconciler
	PendingTimeout     time.Duration
	StatusQueryEnabled bool
	BatchSize          int
}

type staleAttemptLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.DeliveryAttempt, error)
}

type attemptReconciler interface {
	ReconcileAttempt(ctx context.Context, attempt *models.DeliveryAttempt, queryStatus bool) (*delivery.Resolution, error)
}

func NewDeliveryReconcileJob(params DeliveryReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Attempts == nil {
		return nil, fmt.Errorf("attempt lister required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("attempt reconciler required")
	}
	timeout := params.PendingTimeout
	if timeout <= 0 {
		timeout = defaultPendingTimeout
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &deliveryReconcileJob{
		logg:        params.Logger,
		attempts:    params.Attempts,
		reconciler:  params.Reconciler,
		timeout:     timeout,
		queryStatus: params.StatusQueryEnabled,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type deliveryReconcileJob struct {
	logg        *logger.Logger
	attempts    staleAttemptLister
	reconciler  attemptReconciler
	timeout     time.Duration
	queryStatus bool
	batch       int
	now         func() time.Time
}

func (j *deliveryReconcileJob) Name() string { return "delivery-reconcile" }

// Run settles attempts that stayed pending past the provider timeout. One
// failing attempt does not stop the rest of the batch.
func (j *deliveryReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.timeout)
	stale, err := j.attempts.ListStalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query stale attempts: %w", err)
	}

	var errs error
	settled := 0
	for i := range stale {
		attempt := &stale[i]
		attemptCtx := j.logg.WithFields(j.logg.WithOrderID(ctx, attempt.OrderID.String()), map[string]any{
			"attempt_id":   attempt.ID.String(),
			"provider_ref": attempt.ProviderRef,
		})
		res, err := j.reconciler.ReconcileAttempt(attemptCtx, attempt, j.queryStatus)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeConflict) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("reconcile attempt %s: %w", attempt.ID, err))
			continue
		}
		if res.Result == delivery.ResultApplied {
			settled++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stale":   len(stale),
		"settled": settled,
		"cutoff":  cutoff,
	})
	j.logg.Info(logCtx, "delivery reconciliation complete")
	return errs
}
