package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coinsacademy/topup-backend/internal/delivery"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []delivery.Callback
	done chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{done: make(chan struct{}, 8)}
}

func (s *recordingSender) Send(_ context.Context, _ string, cb delivery.Callback) {
	s.mu.Lock()
	s.sent = append(s.sent, cb)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func (s *recordingSender) wait(t *testing.T) delivery.Callback {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("callback was not sent")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "mock-provider-test", Output: io.Discard})
}

func submitBody(t *testing.T, reference, playerID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"reference":   reference,
		"gameId":      "pubg",
		"productId":   uuid.NewString(),
		"quantity":    1,
		"fulfillment": map[string]string{"playerId": playerID},
		"callbackUrl": "http://api.local/api/v1/webhooks/provider",
	})
	require.NoError(t, err)
	return body
}

func doSubmit(t *testing.T, h http.Handler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/deliveries", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAcceptsAndSettles(t *testing.T) {
	sender := newRecordingSender()
	p := newMockProvider("", 0, sender, testLogger())
	h := p.routes()
	reference := uuid.NewString()

	rec := doSubmit(t, h, submitBody(t, reference, "5123456789"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sub delivery.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.NotEmpty(t, sub.ProviderRef)

	cb := sender.wait(t)
	require.Equal(t, sub.ProviderRef, cb.ProviderRef)
	require.Equal(t, reference, cb.Reference)
	require.Equal(t, delivery.ProviderStatusSucceeded, cb.Status)

	status := httptest.NewRecorder()
	h.ServeHTTP(status, httptest.NewRequest(http.MethodGet, "/v1/deliveries/"+sub.ProviderRef, nil))
	require.Equal(t, http.StatusOK, status.Code)
	var report delivery.StatusReport
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &report))
	require.Equal(t, delivery.ProviderStatusSucceeded, report.Status)
}

func TestSubmitIsIdempotentPerReference(t *testing.T) {
	p := newMockProvider("", 0, newRecordingSender(), testLogger())
	h := p.routes()
	body := submitBody(t, uuid.NewString(), "silent-player")

	var refs []string
	for i := 0; i < 2; i++ {
		rec := doSubmit(t, h, body)
		require.Equal(t, http.StatusAccepted, rec.Code)
		var sub delivery.Submission
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
		refs = append(refs, sub.ProviderRef)
	}
	require.Equal(t, refs[0], refs[1])
}

func TestSubmitOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		playerID string
		status   int
	}{
		{name: "invalid player", playerID: "invalid-123", status: http.StatusUnprocessableEntity},
		{name: "outage", playerID: "outage", status: http.StatusServiceUnavailable},
		{name: "silent stays pending", playerID: "silent-1", status: http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newMockProvider("", 0, newRecordingSender(), testLogger())
			rec := doSubmit(t, p.routes(), submitBody(t, uuid.NewString(), tc.playerID))
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestSubmitRejectedSettlesAsFailed(t *testing.T) {
	sender := newRecordingSender()
	p := newMockProvider("", 0, sender, testLogger())
	rec := doSubmit(t, p.routes(), submitBody(t, uuid.NewString(), "reject-me"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	cb := sender.wait(t)
	require.Equal(t, delivery.ProviderStatusFailed, cb.Status)
	require.NotEmpty(t, cb.Reason)
}

func TestSubmitValidation(t *testing.T) {
	p := newMockProvider("", 0, newRecordingSender(), testLogger())
	h := p.routes()

	rec := doSubmit(t, h, []byte(`{`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doSubmit(t, h, []byte(`{"reference":"not-a-uuid","gameId":"pubg","productId":"x","quantity":1,"fulfillment":{"playerId":"1"},"callbackUrl":"http://x"}`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	p := newMockProvider("secret-key", 0, newRecordingSender(), testLogger())
	rec := doSubmit(t, p.routes(), submitBody(t, uuid.NewString(), "123"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusUnknownDelivery(t *testing.T) {
	p := newMockProvider("", 0, newRecordingSender(), testLogger())
	rec := httptest.NewRecorder()
	p.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/deliveries/mp_missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviderClientAgainstMock(t *testing.T) {
	p := newMockProvider("", 0, newRecordingSender(), testLogger())
	srv := httptest.NewServer(p.routes())
	defer srv.Close()

	client, err := delivery.NewProviderClient(config.ProviderConfig{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	sub, err := client.Submit(context.Background(), delivery.DispatchRequest{
		Reference:   uuid.NewString(),
		GameID:      "freefire",
		ProductID:   uuid.NewString(),
		Quantity:    1,
		Fulfillment: map[string]string{"playerId": "silent-42"},
		CallbackURL: "http://api.local/api/v1/webhooks/provider",
	})
	require.NoError(t, err)

	report, err := client.QueryStatus(context.Background(), sub.ProviderRef)
	require.NoError(t, err)
	require.Equal(t, delivery.ProviderStatusPending, report.Status)
}

func TestSignedNotifierSignsBody(t *testing.T) {
	const secret = "whsec_test"
	received := make(chan *delivery.Callback, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		cb, err := delivery.VerifyCallback(raw, r.Header.Get(delivery.SignatureHeader), secret)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		received <- cb
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newSignedNotifier(secret, testLogger())
	n.Send(context.Background(), srv.URL, delivery.Callback{
		EventID:     uuid.NewString(),
		ProviderRef: "mp_1",
		Reference:   uuid.NewString(),
		Status:      delivery.ProviderStatusSucceeded,
		OccurredAt:  time.Now().UTC(),
	})

	select {
	case cb := <-received:
		require.Equal(t, "mp_1", cb.ProviderRef)
	default:
		t.Fatalf("callback did not verify")
	}
}
