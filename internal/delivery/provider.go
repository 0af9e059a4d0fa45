package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/coinsacademy/topup-backend/pkg/config"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
)

// Provider status values shared by submissions, status queries and callbacks.
const (
	ProviderStatusPending   = "pending"
	ProviderStatusSucceeded = "succeeded"
	ProviderStatusFailed    = "failed"
)

const (
	deliveriesPath = "/v1/deliveries"
	apiKeyHeader   = "X-Api-Key"
)

// DispatchRequest is the body submitted to the provider.
type DispatchRequest struct {
	Reference   string            `json:"reference"`
	GameID      string            `json:"gameId"`
	ProductID   string            `json:"productId"`
	Quantity    int               `json:"quantity"`
	Fulfillment map[string]string `json:"fulfillment"`
	CallbackURL string            `json:"callbackUrl"`
}

// Submission is the provider's acknowledgement of an accepted delivery.
type Submission struct {
	ProviderRef string `json:"providerRef"`
	Status      string `json:"status"`
}

// StatusReport is the provider's view of a delivery.
type StatusReport struct {
	ProviderRef string `json:"providerRef"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

type providerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ProviderClient talks to the fulfillment provider over HTTP.
type ProviderClient interface {
	Submit(ctx context.Context, req DispatchRequest) (*Submission, error)
	QueryStatus(ctx context.Context, providerRef string) (*StatusReport, error)
}

type providerClient struct {
	http *resty.Client
}

// NewProviderClient builds a resty-backed provider client with the configured
// per-request deadline.
func NewProviderClient(cfg config.ProviderConfig) (ProviderClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("provider base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("provider base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader(apiKeyHeader, cfg.APIKey)
	}
	return &providerClient{http: client}, nil
}

// Submit posts a delivery. A 202 yields the provider reference; 400 and 422
// map to InvalidFulfillmentData; transport failures, timeouts and 5xx map to
// ProviderUnavailable.
func (c *providerClient) Submit(ctx context.Context, req DispatchRequest) (*Submission, error) {
	var accepted Submission
	var failure providerError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.Reference).
		SetBody(req).
		SetResult(&accepted).
		SetError(&failure).
		Post(deliveriesPath)
	if err != nil {
		return nil, unavailable(err, "submit delivery")
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusAccepted || status == http.StatusOK || status == http.StatusCreated:
		if strings.TrimSpace(accepted.ProviderRef) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeProviderUnavailable, "provider accepted without a reference")
		}
		return &accepted, nil
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return nil, pkgerrors.New(pkgerrors.CodeInvalidFulfillmentData, "provider rejected fulfillment data").
			WithDetails(map[string]any{"provider_error": failure.describe()})
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return nil, pkgerrors.New(pkgerrors.CodeProviderUnavailable, fmt.Sprintf("provider returned %d", status))
	default:
		return nil, pkgerrors.New(pkgerrors.CodeProviderUnavailable, fmt.Sprintf("unexpected provider status %d", status)).
			WithDetails(map[string]any{"provider_error": failure.describe()})
	}
}

// QueryStatus fetches the current state of a delivery by provider reference.
func (c *providerClient) QueryStatus(ctx context.Context, providerRef string) (*StatusReport, error) {
	if strings.TrimSpace(providerRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider ref required")
	}
	var report StatusReport
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ref", providerRef).
		SetResult(&report).
		Get(deliveriesPath + "/{ref}")
	if err != nil {
		return nil, unavailable(err, "query delivery status")
	}
	switch status := resp.StatusCode(); {
	case status == http.StatusOK:
		return &report, nil
	case status == http.StatusNotFound:
		return nil, pkgerrors.New(pkgerrors.CodeUnknownAttempt, "provider does not know the delivery")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeProviderUnavailable, fmt.Sprintf("provider returned %d", status))
	}
}

func (e providerError) describe() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

func unavailable(err error, msg string) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, msg+": timeout")
	}
	return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, msg)
}
