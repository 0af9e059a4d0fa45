package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/db/dbtest"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/security"
)

const testSecret = "whsec_test"

type recordingApplier struct {
	mu      sync.Mutex
	applied []models.DeliveryAttempt
	err     error
}

func (a *recordingApplier) ApplyAttemptOutcome(_ context.Context, _ *gorm.DB, attempt *models.DeliveryAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.applied = append(a.applied, *attempt)
	return nil
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *memoryGuard) CheckAndMark(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[id] {
		return true, nil
	}
	g.seen[id] = true
	return false, nil
}

func (g *memoryGuard) Delete(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, id)
	return nil
}

type stubProvider struct {
	report *StatusReport
	err    error
}

func (p stubProvider) Submit(context.Context, DispatchRequest) (*Submission, error) {
	return nil, errors.New("not used")
}

func (p stubProvider) QueryStatus(context.Context, string) (*StatusReport, error) {
	return p.report, p.err
}

type dispatcherFixture struct {
	client  *db.Client
	disp    *Dispatcher
	applier *recordingApplier
	guard   *memoryGuard
}

func newDispatcherFixture(t *testing.T, provider ProviderClient) dispatcherFixture {
	t.Helper()
	client := dbtest.Client(t)
	guard := &memoryGuard{seen: map[string]bool{}}
	disp, err := NewDispatcher(DispatcherParams{
		DB:            client,
		Provider:      provider,
		Attempts:      NewAttemptRepository(client.DB()),
		Guard:         guard,
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		WebhookSecret: testSecret,
	})
	require.NoError(t, err)
	applier := &recordingApplier{}
	disp.SetApplier(applier)
	return dispatcherFixture{client: client, disp: disp, applier: applier, guard: guard}
}

func (f dispatcherFixture) pendingAttempt(t *testing.T, ref string) *models.DeliveryAttempt {
	t.Helper()
	attempt := &models.DeliveryAttempt{
		OrderID:     uuid.New(),
		Number:      1,
		ProviderRef: ref,
		Outcome:     enums.AttemptOutcomePending,
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, f.client.DB().Create(attempt).Error)
	return attempt
}

func signedCallback(t *testing.T, cb Callback) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(cb)
	require.NoError(t, err)
	return raw, security.SignPayload(raw, testSecret)
}

func TestHandleCallbackAppliesOnce(t *testing.T) {
	f := newDispatcherFixture(t, stubProvider{})
	attempt := f.pendingAttempt(t, "prv-1")
	raw, sig := signedCallback(t, Callback{EventID: "evt-1", ProviderRef: "prv-1", Status: ProviderStatusSucceeded})

	res, err := f.disp.HandleCallback(context.Background(), raw, sig)
	require.NoError(t, err)
	require.Equal(t, ResultApplied, res.Result)
	require.Equal(t, attempt.OrderID, res.OrderID)

	res, err = f.disp.HandleCallback(context.Background(), raw, sig)
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, res.Result)

	// A redelivery with a fresh event id reaches the database and still
	// finds the attempt already resolved.
	raw, sig = signedCallback(t, Callback{EventID: "evt-2", ProviderRef: "prv-1", Status: ProviderStatusFailed})
	res, err = f.disp.HandleCallback(context.Background(), raw, sig)
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, res.Result)

	require.Len(t, f.applier.applied, 1)
	stored, err := f.disp.Attempts().FindByProviderRef(context.Background(), "prv-1")
	require.NoError(t, err)
	require.Equal(t, enums.AttemptOutcomeSucceeded, stored.Outcome)
	require.NotNil(t, stored.ResolvedAt)
}

func TestHandleCallbackRejectsBadSignature(t *testing.T) {
	f := newDispatcherFixture(t, stubProvider{})
	f.pendingAttempt(t, "prv-1")
	raw, _ := signedCallback(t, Callback{EventID: "evt-1", ProviderRef: "prv-1", Status: ProviderStatusSucceeded})

	_, err := f.disp.HandleCallback(context.Background(), raw, "deadbeef")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))
	require.Empty(t, f.applier.applied)
	require.Empty(t, f.guard.seen)
}

func TestHandleCallbackBeforeAttemptRecordedCanBeRedelivered(t *testing.T) {
	f := newDispatcherFixture(t, stubProvider{})
	raw, sig := signedCallback(t, Callback{EventID: "evt-x", ProviderRef: "prv-late", Status: ProviderStatusSucceeded})

	_, err := f.disp.HandleCallback(context.Background(), raw, sig)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnknownAttempt))
	require.False(t, f.guard.seen["evt-x"])
	require.Empty(t, f.applier.applied)

	// The submission commits after the first delivery; the same event now applies.
	attempt := f.pendingAttempt(t, "prv-late")
	res, err := f.disp.HandleCallback(context.Background(), raw, sig)
	require.NoError(t, err)
	require.Equal(t, ResultApplied, res.Result)
	require.Equal(t, attempt.OrderID, res.OrderID)
	require.True(t, f.guard.seen["evt-x"])
}

func TestHandleCallbackReleasesGuardWhenApplyFails(t *testing.T) {
	f := newDispatcherFixture(t, stubProvider{})
	f.pendingAttempt(t, "prv-1")
	f.applier.err = pkgerrors.New(pkgerrors.CodeDependency, "refund failed")
	raw, sig := signedCallback(t, Callback{EventID: "evt-1", ProviderRef: "prv-1", Status: ProviderStatusFailed})

	_, err := f.disp.HandleCallback(context.Background(), raw, sig)
	require.Error(t, err)
	require.False(t, f.guard.seen["evt-1"])

	stored, err := f.disp.Attempts().FindByProviderRef(context.Background(), "prv-1")
	require.NoError(t, err)
	require.Equal(t, enums.AttemptOutcomePending, stored.Outcome)

	f.applier.err = nil
	res, err := f.disp.HandleCallback(context.Background(), raw, sig)
	require.NoError(t, err)
	require.Equal(t, ResultApplied, res.Result)
}

func TestPendingCallbackLeavesAttemptOpen(t *testing.T) {
	f := newDispatcherFixture(t, stubProvider{})
	f.pendingAttempt(t, "prv-1")
	raw, sig := signedCallback(t, Callback{EventID: "evt-1", ProviderRef: "prv-1", Status: ProviderStatusPending})

	res, err := f.disp.HandleCallback(context.Background(), raw, sig)
	require.NoError(t, err)
	require.Equal(t, ResultPending, res.Result)
	require.Empty(t, f.applier.applied)
}

func TestReconcileAttempt(t *testing.T) {
	cases := []struct {
		name     string
		provider stubProvider
		query    bool
		outcome  enums.AttemptOutcome
		reason   string
	}{
		{name: "query disabled times out", query: false, outcome: enums.AttemptOutcomeFailed, reason: FailureReasonTimeout},
		{name: "provider still pending times out", query: true, provider: stubProvider{report: &StatusReport{Status: ProviderStatusPending}}, outcome: enums.AttemptOutcomeFailed, reason: FailureReasonTimeout},
		{name: "provider unreachable times out", query: true, provider: stubProvider{err: pkgerrors.New(pkgerrors.CodeProviderUnavailable, "down")}, outcome: enums.AttemptOutcomeFailed, reason: FailureReasonTimeout},
		{name: "provider succeeded", query: true, provider: stubProvider{report: &StatusReport{Status: ProviderStatusSucceeded}}, outcome: enums.AttemptOutcomeSucceeded},
		{name: "provider failed", query: true, provider: stubProvider{report: &StatusReport{Status: ProviderStatusFailed, Reason: "banned"}}, outcome: enums.AttemptOutcomeFailed, reason: "banned"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDispatcherFixture(t, tc.provider)
			attempt := f.pendingAttempt(t, "prv-1")

			res, err := f.disp.ReconcileAttempt(context.Background(), attempt, tc.query)
			require.NoError(t, err)
			require.Equal(t, ResultApplied, res.Result)
			require.Equal(t, tc.outcome, res.Outcome)

			require.Len(t, f.applier.applied, 1)
			got := f.applier.applied[0]
			if tc.reason == "" {
				require.Nil(t, got.FailureReason)
			} else {
				require.Equal(t, tc.reason, *got.FailureReason)
			}
		})
	}
}
