package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
)

// FailureReasonTimeout marks attempts the provider never resolved in time.
const FailureReasonTimeout = "timeout"

// Resolution sources recorded in metrics and logs.
const (
	SourceCallback = "callback"
	SourcePoller   = "poller"
)

// Resolution results.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultUnknown   = "unknown"
	ResultPending   = "pending"
)

// OutcomeApplier moves the order forward once an attempt is resolved. It runs
// inside the resolving transaction.
type OutcomeApplier interface {
	ApplyAttemptOutcome(ctx context.Context, tx *gorm.DB, attempt *models.DeliveryAttempt) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type callbackGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Outcome is the final state reported for an attempt.
type Outcome struct {
	ProviderRef string
	Status      string
	Reason      string
	Source      string
}

// Resolution describes what resolving an outcome did.
type Resolution struct {
	Result    string
	OrderID   uuid.UUID
	AttemptID uuid.UUID
	Outcome   enums.AttemptOutcome
}

// DispatcherParams wires the dispatcher.
type DispatcherParams struct {
	DB            txRunner
	Provider      ProviderClient
	Attempts      *AttemptRepository
	Guard         callbackGuard
	Metrics       *metrics.DeliveryMetrics
	Logger        *logger.Logger
	CallbackURL   string
	WebhookSecret string
}

// Dispatcher submits orders to the provider and resolves the outcomes it
// reports back.
type Dispatcher struct {
	db            txRunner
	provider      ProviderClient
	attempts      *AttemptRepository
	applier       OutcomeApplier
	guard         callbackGuard
	metrics       *metrics.DeliveryMetrics
	logg          *logger.Logger
	callbackURL   string
	webhookSecret string
	now           func() time.Time
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	if params.Attempts == nil {
		return nil, fmt.Errorf("attempt repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(params.WebhookSecret) == "" {
		return nil, fmt.Errorf("webhook secret required")
	}
	return &Dispatcher{
		db:            params.DB,
		provider:      params.Provider,
		attempts:      params.Attempts,
		guard:         params.Guard,
		metrics:       params.Metrics,
		logg:          params.Logger,
		callbackURL:   params.CallbackURL,
		webhookSecret: params.WebhookSecret,
		now:           time.Now,
	}, nil
}

// SetApplier attaches the order state machine. The machine and the
// dispatcher reference each other so the link is made after construction.
func (d *Dispatcher) SetApplier(applier OutcomeApplier) {
	d.applier = applier
}

// SetClock overrides the time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Attempts exposes the attempt repository to collaborators.
func (d *Dispatcher) Attempts() *AttemptRepository {
	return d.attempts
}

// Dispatch submits the order to the provider with reference as the attempt id.
// It must not be called inside a transaction.
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order, reference uuid.UUID) (*Submission, error) {
	req := DispatchRequest{
		Reference:   reference.String(),
		GameID:      order.GameID,
		ProductID:   order.ProductID.String(),
		Quantity:    order.Quantity,
		Fulfillment: map[string]string(order.FulfillmentData),
		CallbackURL: d.callbackURL,
	}
	sub, err := d.provider.Submit(ctx, req)
	switch {
	case err == nil:
		d.metrics.IncDispatch("accepted")
	case pkgerrors.Is(err, pkgerrors.CodeInvalidFulfillmentData):
		d.metrics.IncDispatch("rejected")
	default:
		d.metrics.IncDispatch("unavailable")
	}
	return sub, err
}

// QueryStatus asks the provider for the current state of a delivery.
func (d *Dispatcher) QueryStatus(ctx context.Context, providerRef string) (*StatusReport, error) {
	return d.provider.QueryStatus(ctx, providerRef)
}

// HandleCallback authenticates a provider callback, suppresses redeliveries
// and resolves the attempt it refers to.
func (d *Dispatcher) HandleCallback(ctx context.Context, raw []byte, signature string) (*Resolution, error) {
	cb, err := VerifyCallback(raw, signature, d.webhookSecret)
	if err != nil {
		d.metrics.IncCallback("rejected")
		return nil, err
	}
	ctx = d.logg.WithFields(ctx, map[string]any{
		"provider_ref": cb.ProviderRef,
		"event_id":     cb.EventID,
	})

	key := cb.GuardKey()
	if d.guard != nil {
		seen, err := d.guard.CheckAndMark(ctx, key)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check callback idempotency")
		}
		if seen {
			d.metrics.IncCallback(ResultDuplicate)
			return &Resolution{Result: ResultDuplicate}, nil
		}
	}

	res, err := d.Resolve(ctx, Outcome{
		ProviderRef: cb.ProviderRef,
		Status:      cb.Status,
		Reason:      cb.Reason,
		Source:      SourceCallback,
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeConflict) {
			d.metrics.IncCallback(ResultDuplicate)
			return &Resolution{Result: ResultDuplicate}, nil
		}
		// Nothing was written, so the provider may redeliver. An unknown ref is
		// usually a callback that beat RecordSubmission's commit.
		if d.guard != nil {
			if delErr := d.guard.Delete(ctx, key); delErr != nil {
				d.logg.Warn(ctx, "failed to release callback guard")
			}
		}
		if pkgerrors.Is(err, pkgerrors.CodeUnknownAttempt) {
			d.metrics.IncCallback(ResultUnknown)
		} else {
			d.metrics.IncCallback("error")
		}
		return nil, err
	}
	d.metrics.IncCallback(res.Result)
	return res, nil
}

// Resolve records a terminal outcome on the pending attempt identified by the
// provider reference and hands it to the order state machine in the same
// transaction. An attempt already resolved yields Conflict.
func (d *Dispatcher) Resolve(ctx context.Context, outcome Outcome) (*Resolution, error) {
	if d.applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outcome applier not configured")
	}
	final, err := attemptOutcome(outcome.Status)
	if err != nil {
		return nil, err
	}

	var res *Resolution
	err = d.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := d.attempts.WithTx(tx)
		attempt, err := repo.FindByProviderRef(ctx, outcome.ProviderRef)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeUnknownAttempt, "no attempt for provider reference")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load attempt")
		}
		res = &Resolution{OrderID: attempt.OrderID, AttemptID: attempt.ID, Outcome: attempt.Outcome}
		if attempt.Outcome.IsResolved() {
			res.Result = ResultDuplicate
			return nil
		}
		if final == enums.AttemptOutcomePending {
			res.Result = ResultPending
			return nil
		}

		var reason *string
		if final == enums.AttemptOutcomeFailed {
			r := strings.TrimSpace(outcome.Reason)
			if r == "" {
				r = "provider_failed"
			}
			reason = &r
		}
		at := d.now().UTC()
		if err := repo.Resolve(ctx, attempt.ID, final, reason, at); err != nil {
			if errors.Is(err, ErrAttemptResolved) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "attempt resolved concurrently")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve attempt")
		}
		attempt.Outcome = final
		attempt.FailureReason = reason
		attempt.ResolvedAt = &at

		if err := d.applier.ApplyAttemptOutcome(ctx, tx, attempt); err != nil {
			return err
		}
		res.Outcome = final
		res.Result = ResultApplied
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Result == ResultApplied {
		d.metrics.IncResolution(string(res.Outcome), outcome.Source)
		logCtx := d.logg.WithOrderID(ctx, res.OrderID.String())
		d.logg.Info(d.logg.WithFields(logCtx, map[string]any{
			"attempt_id": res.AttemptID.String(),
			"outcome":    res.Outcome,
			"source":     outcome.Source,
		}), "delivery attempt resolved")
	}
	return res, nil
}

// ReconcileAttempt settles an attempt that has been pending past the timeout.
// When status queries are enabled a terminal provider answer is applied;
// otherwise, or when the provider still reports pending or cannot be reached,
// the attempt fails with a timeout.
func (d *Dispatcher) ReconcileAttempt(ctx context.Context, attempt *models.DeliveryAttempt, queryStatus bool) (*Resolution, error) {
	outcome := Outcome{
		ProviderRef: attempt.ProviderRef,
		Status:      ProviderStatusFailed,
		Reason:      FailureReasonTimeout,
		Source:      SourcePoller,
	}
	if queryStatus {
		report, err := d.provider.QueryStatus(ctx, attempt.ProviderRef)
		switch {
		case err != nil:
			d.logg.Warn(d.logg.WithField(ctx, "provider_ref", attempt.ProviderRef), "status query failed; timing out attempt")
		case report.Status == ProviderStatusSucceeded || report.Status == ProviderStatusFailed:
			outcome.Status = report.Status
			outcome.Reason = report.Reason
		}
	}
	return d.Resolve(ctx, outcome)
}

func attemptOutcome(status string) (enums.AttemptOutcome, error) {
	switch status {
	case ProviderStatusSucceeded:
		return enums.AttemptOutcomeSucceeded, nil
	case ProviderStatusFailed:
		return enums.AttemptOutcomeFailed, nil
	case ProviderStatusPending:
		return enums.AttemptOutcomePending, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown provider status").
			WithDetails(map[string]any{"status": status})
	}
}
