package types

// SuccessEnvelope wraps every 2xx body as {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public shape of a failed request. Retryable tells clients
// whether resending the same Idempotency-Key may succeed.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"requestId,omitempty"`
}
