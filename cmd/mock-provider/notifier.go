package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/coinsacademy/topup-backend/internal/delivery"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/security"
)

// signedNotifier posts HMAC-signed callbacks and retries non-2xx answers a
// few times, the way a real provider would.
type signedNotifier struct {
	http   *resty.Client
	secret string
	logg   *logger.Logger
}

func newSignedNotifier(secret string, logg *logger.Logger) *signedNotifier {
	client := resty.New().
		SetTimeout(5*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	return &signedNotifier{http: client, secret: secret, logg: logg}
}

func (n *signedNotifier) Send(ctx context.Context, url string, cb delivery.Callback) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"provider_ref": cb.ProviderRef,
		"status":       cb.Status,
		"callback_url": url,
	})
	body, err := json.Marshal(cb)
	if err != nil {
		n.logg.Error(ctx, "encode callback", err)
		return
	}
	resp, err := n.http.R().
		SetContext(ctx).
		SetHeader(delivery.SignatureHeader, security.SignPayload(body, n.secret)).
		SetBody(body).
		Post(url)
	if err != nil {
		n.logg.Error(ctx, "callback delivery failed", err)
		return
	}
	if resp.IsError() {
		n.logg.Warn(n.logg.WithField(ctx, "http_status", resp.StatusCode()), "callback rejected")
		return
	}
	n.logg.Info(ctx, "callback delivered")
}
