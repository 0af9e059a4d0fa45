package delivery

import (
	"testing"

	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/security"
)

func TestVerifyCallback(t *testing.T) {
	const secret = "whsec"
	valid := []byte(`{"eventId":"evt-1","providerRef":"prv-1","reference":"ref-1","status":"succeeded","occurredAt":"2026-03-01T12:00:00Z"}`)

	cb, err := VerifyCallback(valid, security.SignPayload(valid, secret), secret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.ProviderRef != "prv-1" || cb.Status != ProviderStatusSucceeded {
		t.Fatalf("unexpected callback %+v", cb)
	}
	if cb.GuardKey() != "evt-1" {
		t.Fatalf("expected event id guard key, got %q", cb.GuardKey())
	}

	cases := []struct {
		name      string
		body      []byte
		signature string
		code      pkgerrors.Code
	}{
		{name: "wrong secret", body: valid, signature: security.SignPayload(valid, "other"), code: pkgerrors.CodeUnauthorized},
		{name: "missing signature", body: valid, signature: "", code: pkgerrors.CodeUnauthorized},
		{name: "tampered body", body: []byte(`{"providerRef":"prv-2","status":"succeeded"}`), signature: security.SignPayload(valid, secret), code: pkgerrors.CodeUnauthorized},
		{name: "unknown status", body: []byte(`{"providerRef":"prv-1","status":"lost"}`), code: pkgerrors.CodeValidation},
		{name: "missing ref", body: []byte(`{"status":"failed"}`), code: pkgerrors.CodeValidation},
		{name: "not json", body: []byte(`nope`), code: pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := tc.signature
			if sig == "" && tc.code != pkgerrors.CodeUnauthorized {
				sig = security.SignPayload(tc.body, secret)
			}
			if _, err := VerifyCallback(tc.body, sig, secret); !pkgerrors.Is(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestGuardKeyFallsBackToRefAndStatus(t *testing.T) {
	cb := Callback{ProviderRef: "prv-9", Status: ProviderStatusFailed}
	if got := cb.GuardKey(); got != "prv-9:failed" {
		t.Fatalf("unexpected guard key %q", got)
	}
}
