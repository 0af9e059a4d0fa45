package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// DeliveryRetryJobParams configure the retry job.
type DeliveryRetryJobParams struct {
	Logger    *logger.Logger
	Orders    dueOrderProcessor
	BatchSize int
}

type dueOrderProcessor interface {
	DueOrders(ctx context.Context, limit int) ([]models.Order, error)
	ProcessDue(ctx context.Context, order models.Order) error
}

func NewDeliveryRetryJob(params DeliveryRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order processor required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &deliveryRetryJob{
		logg:   params.Logger,
		orders: params.Orders,
		batch:  batch,
	}, nil
}

type deliveryRetryJob struct {
	logg   *logger.Logger
	orders dueOrderProcessor
	batch  int
}

func (j *deliveryRetryJob) Name() string { return "delivery-retry" }

// Run dispatches orders whose backoff elapsed and settles pending cancel
// requests.
func (j *deliveryRetryJob) Run(ctx context.Context) error {
	start := time.Now()
	due, err := j.orders.DueOrders(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("query due orders: %w", err)
	}

	var errs error
	processed := 0
	for _, order := range due {
		if err := j.orders.ProcessDue(ctx, order); err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeConflict) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("process order %s: %w", order.ID, err))
			continue
		}
		processed++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":         len(due),
		"processed":   processed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	j.logg.Info(logCtx, "delivery retry loop complete")
	return errs
}
