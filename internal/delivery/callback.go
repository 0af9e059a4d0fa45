package delivery

import (
	"encoding/json"
	"strings"
	"time"

	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/security"
)

// SignatureHeader carries the hex HMAC-SHA256 of the callback body.
const SignatureHeader = "X-Provider-Signature"

// Callback is the asynchronous delivery result pushed by the provider.
type Callback struct {
	EventID     string    `json:"eventId"`
	ProviderRef string    `json:"providerRef"`
	Reference   string    `json:"reference"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// VerifyCallback authenticates the raw body against the shared secret and
// decodes it. A bad signature is Unauthorized.
func VerifyCallback(raw []byte, signature, secret string) (*Callback, error) {
	if !security.VerifySignature(raw, strings.TrimSpace(signature), secret) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid provider signature")
	}
	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode provider callback")
	}
	cb.ProviderRef = strings.TrimSpace(cb.ProviderRef)
	if cb.ProviderRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "providerRef required")
	}
	switch cb.Status {
	case ProviderStatusSucceeded, ProviderStatusFailed, ProviderStatusPending:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown callback status").
			WithDetails(map[string]any{"status": cb.Status})
	}
	return &cb, nil
}

// GuardKey is the identifier used for redelivery suppression. Providers that
// omit an event id are keyed by reference and status.
func (c *Callback) GuardKey() string {
	if id := strings.TrimSpace(c.EventID); id != "" {
		return id
	}
	return c.ProviderRef + ":" + c.Status
}
