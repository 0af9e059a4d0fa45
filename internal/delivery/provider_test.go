package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coinsacademy/topup-backend/pkg/config"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, timeout time.Duration) ProviderClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewProviderClient(config.ProviderConfig{
		BaseURL: srv.URL,
		APIKey:  "key-123",
		Timeout: timeout,
	})
	require.NoError(t, err)
	return client
}

func TestSubmitAccepted(t *testing.T) {
	var got DispatchRequest
	client := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/deliveries", r.URL.Path)
		require.Equal(t, "key-123", r.Header.Get("X-Api-Key"))
		require.Equal(t, "ref-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"providerRef":"prv-1","status":"pending"}`))
	}, time.Second)

	sub, err := client.Submit(context.Background(), DispatchRequest{
		Reference:   "ref-1",
		GameID:      "pubg",
		Quantity:    60,
		Fulfillment: map[string]string{"playerId": "51234"},
	})
	require.NoError(t, err)
	require.Equal(t, "prv-1", sub.ProviderRef)
	require.Equal(t, "pubg", got.GameID)
	require.Equal(t, "51234", got.Fulfillment["playerId"])
}

func TestSubmitErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   pkgerrors.Code
	}{
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: `{"error":"invalid_player"}`, code: pkgerrors.CodeInvalidFulfillmentData},
		{name: "bad request", status: http.StatusBadRequest, body: `{"message":"missing playerId"}`, code: pkgerrors.CodeInvalidFulfillmentData},
		{name: "server error", status: http.StatusInternalServerError, code: pkgerrors.CodeProviderUnavailable},
		{name: "unavailable", status: http.StatusServiceUnavailable, code: pkgerrors.CodeProviderUnavailable},
		{name: "throttled", status: http.StatusTooManyRequests, code: pkgerrors.CodeProviderUnavailable},
		{name: "accepted without ref", status: http.StatusAccepted, body: `{"status":"pending"}`, code: pkgerrors.CodeProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				if tc.body != "" {
					_, _ = w.Write([]byte(tc.body))
				}
			}, time.Second)

			_, err := client.Submit(context.Background(), DispatchRequest{Reference: "ref"})
			require.True(t, pkgerrors.Is(err, tc.code), "got %v", err)
		})
	}
}

func TestSubmitTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	client := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	_, err := client.Submit(context.Background(), DispatchRequest{Reference: "ref"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeProviderUnavailable), "got %v", err)
}

func TestSubmitConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewProviderClient(config.ProviderConfig{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = client.Submit(context.Background(), DispatchRequest{Reference: "ref"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeProviderUnavailable), "got %v", err)
}

func TestQueryStatus(t *testing.T) {
	client := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/deliveries/prv-1":
			_, _ = w.Write([]byte(`{"providerRef":"prv-1","reference":"ref-1","status":"failed","reason":"player_banned"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, time.Second)

	report, err := client.QueryStatus(context.Background(), "prv-1")
	require.NoError(t, err)
	require.Equal(t, ProviderStatusFailed, report.Status)
	require.Equal(t, "player_banned", report.Reason)

	_, err = client.QueryStatus(context.Background(), "prv-404")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnknownAttempt))
}
