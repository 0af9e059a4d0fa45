package responses

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/types"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "responses-test", Output: io.Discard})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorEnvelope {
	t.Helper()
	var body types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return body
}

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"orderId": "o-1"})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201 but got %d", w.Code)
	}
	var body types.SuccessEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode success envelope: %v", err)
	}
	if body.Data.(map[string]any)["orderId"] != "o-1" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteErrorInsufficientFundsKeepsDetails(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-42")
	err := pkgerrors.New(pkgerrors.CodeInsufficientFunds, "balance too low").
		WithDetails(map[string]any{"balance": 100, "required": 250})
	WriteError(context.Background(), testLogger(), w, err)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402 but got %d", w.Code)
	}
	body := decodeError(t, w)
	if body.Error.Code != string(pkgerrors.CodeInsufficientFunds) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
	if body.Error.Message != "balance too low" {
		t.Fatalf("unexpected message %q", body.Error.Message)
	}
	if body.Error.Details == nil {
		t.Fatalf("expected details in public payload")
	}
	if body.RequestID != "req-42" {
		t.Fatalf("expected request id to be echoed, got %q", body.RequestID)
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), testLogger(), w, errors.New("pq: connection reset"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 but got %d", w.Code)
	}
	body := decodeError(t, w)
	if body.Error.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
	if body.Error.Message == "pq: connection reset" {
		t.Fatalf("internal message leaked to client")
	}
	if body.Error.Details != nil {
		t.Fatalf("details should be omitted for internal errors")
	}
}

func TestWriteErrorMarksRetryableCodes(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently"))

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409 but got %d", w.Code)
	}
	body := decodeError(t, w)
	if !body.Error.Retryable {
		t.Fatalf("conflicts should be flagged retryable")
	}
}
