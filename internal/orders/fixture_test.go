package orders

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/internal/catalog"
	"github.com/coinsacademy/topup-backend/internal/delivery"
	"github.com/coinsacademy/topup-backend/internal/users"
	"github.com/coinsacademy/topup-backend/internal/wallet"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/db/dbtest"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
	"github.com/coinsacademy/topup-backend/pkg/types"
)

const testWebhookSecret = "whsec_test"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProvider accepts every submission unless an error is queued.
type fakeProvider struct {
	mu       sync.Mutex
	errs     []error
	requests []delivery.DispatchRequest
	statuses map[string]string
}

func (p *fakeProvider) Submit(_ context.Context, req delivery.DispatchRequest) (*delivery.Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &delivery.Submission{ProviderRef: "prv-" + req.Reference, Status: delivery.ProviderStatusPending}, nil
}

func (p *fakeProvider) QueryStatus(_ context.Context, ref string) (*delivery.StatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.statuses[ref]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnknownAttempt, "unknown delivery")
	}
	return &delivery.StatusReport{ProviderRef: ref, Status: status}, nil
}

func (p *fakeProvider) queue(errs ...error) {
	p.mu.Lock()
	p.errs = append(p.errs, errs...)
	p.mu.Unlock()
}

func (p *fakeProvider) submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// flakyWallet fails refunds while refundErr is set.
type flakyWallet struct {
	*wallet.Service
	mu        sync.Mutex
	refundErr error
}

func (w *flakyWallet) Refund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	w.mu.Lock()
	err := w.refundErr
	w.mu.Unlock()
	if err != nil {
		return false, err
	}
	return w.Service.Refund(ctx, tx, orderID)
}

func (w *flakyWallet) failRefunds(err error) {
	w.mu.Lock()
	w.refundErr = err
	w.mu.Unlock()
}

type orderFixture struct {
	client     *db.Client
	clock      *testClock
	provider   *fakeProvider
	wallet     *flakyWallet
	dispatcher *delivery.Dispatcher
	svc        *Service
	product    *models.Product
}

func newOrderFixture(t *testing.T, statusQuery bool) *orderFixture {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	walletSvc, err := wallet.NewService(wallet.ServiceParams{
		DB:         client,
		Repository: wallet.NewRepository(conn),
		Outbox:     emitter,
		Logger:     logg,
		Currency:   "EGP",
	})
	require.NoError(t, err)
	ledger := &flakyWallet{Service: walletSvc}

	usersSvc, err := users.NewService(users.NewRepository(conn))
	require.NoError(t, err)
	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn))
	require.NoError(t, err)

	provider := &fakeProvider{statuses: map[string]string{}}
	attempts := delivery.NewAttemptRepository(conn)
	dispatcher, err := delivery.NewDispatcher(delivery.DispatcherParams{
		DB:            client,
		Provider:      provider,
		Attempts:      attempts,
		Logger:        logg,
		CallbackURL:   "http://localhost/api/v1/webhooks/provider",
		WebhookSecret: testWebhookSecret,
	})
	require.NoError(t, err)
	dispatcher.SetClock(clock.Now)

	orderRepo := NewRepository(conn)
	machine, err := NewMachine(MachineParams{
		Orders:   orderRepo,
		Attempts: attempts,
		Wallet:   ledger,
		Loyalty:  usersSvc,
		Outbox:   emitter,
		Logger:   logg,
		Policy: config.DeliveryConfig{
			MaxAttempts:       3,
			MaxProviderErrors: 4,
			Backoff:           []time.Duration{5 * time.Second, 20 * time.Second, 60 * time.Second},
			LeaseTTL:          30 * time.Second,
		},
		Clock: clock.Now,
	})
	require.NoError(t, err)
	dispatcher.SetApplier(machine)

	svc, err := NewService(ServiceParams{
		DB:         client,
		Orders:     orderRepo,
		Attempts:   attempts,
		Catalog:    catalogSvc,
		Machine:    machine,
		Dispatcher: dispatcher,
		Logger:     logg,
		Provider: config.ProviderConfig{
			PendingTimeout:     90 * time.Second,
			StatusQueryEnabled: statusQuery,
		},
		Clock: clock.Now,
	})
	require.NoError(t, err)

	return &orderFixture{
		client:     client,
		clock:      clock,
		provider:   provider,
		wallet:     ledger,
		dispatcher: dispatcher,
		svc:        svc,
		product:    dbtest.CreateProduct(t, conn, nil),
	}
}

// buyer creates a user whose wallet holds balance.
func (f *orderFixture) buyer(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	user := dbtest.CreateUser(t, f.client.DB())
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.wallet.OpenAccount(context.Background(), tx, user.ID, balance)
		return err
	})
	require.NoError(t, err)
	return user.ID
}

func (f *orderFixture) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, f.client.DB().First(&order, "id = ?", id).Error)
	return &order
}

func (f *orderFixture) attempts(t *testing.T, orderID uuid.UUID) []models.DeliveryAttempt {
	t.Helper()
	rows, err := f.dispatcher.Attempts().ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	return rows
}

func (f *orderFixture) pendingRef(t *testing.T, orderID uuid.UUID) string {
	t.Helper()
	attempt, err := f.dispatcher.Attempts().FindPendingByOrder(context.Background(), orderID)
	require.NoError(t, err)
	return attempt.ProviderRef
}

func (f *orderFixture) balance(t *testing.T, accountID uuid.UUID) int64 {
	t.Helper()
	dto, err := f.wallet.Balance(context.Background(), accountID)
	require.NoError(t, err)
	return dto.Balance.Minor
}

func (f *orderFixture) entries(t *testing.T, orderID uuid.UUID, reason enums.LedgerReason) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(&models.LedgerEntry{}).
		Where("order_id = ? AND reason = ?", orderID, reason).
		Count(&n).Error)
	return n
}

func (f *orderFixture) events(t *testing.T, orderID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.client.DB().Where("aggregate_id = ?", orderID).Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func (f *orderFixture) create(t *testing.T, accountID uuid.UUID, quantity int) *CreateOrderResult {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), accountID, CreateOrderInput{
		ProductID:       f.product.ID,
		FulfillmentData: types.FulfillmentData{"playerId": "5123456789"},
		Quantity:        &quantity,
		PaymentMethod:   "wallet",
	})
	require.NoError(t, err)
	return res
}

func (f *orderFixture) resolve(t *testing.T, ref, status, reason string) *delivery.Resolution {
	t.Helper()
	res, err := f.dispatcher.Resolve(context.Background(), delivery.Outcome{
		ProviderRef: ref,
		Status:      status,
		Reason:      reason,
		Source:      delivery.SourceCallback,
	})
	require.NoError(t, err)
	return res
}

// runDue drives the retry job once.
func (f *orderFixture) runDue(t *testing.T) int {
	t.Helper()
	due, err := f.svc.DueOrders(context.Background(), 50)
	require.NoError(t, err)
	for _, order := range due {
		require.NoError(t, f.svc.ProcessDue(context.Background(), order))
	}
	return len(due)
}

var errProviderDown = pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, errors.New("connection refused"), "submit delivery")
