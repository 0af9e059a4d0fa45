package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinsacademy/topup-backend/api/responses"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"

	standardReplayTTL = 24 * time.Hour
	moneyReplayTTL    = 7 * 24 * time.Hour
	// A claim outlives any sane handler run; if the process dies mid-request
	// the key frees itself after this.
	claimTTL          = 2 * time.Minute
	maxIdempotencyKey = 255
	maxReplayBody     = 1 << 20
)

// ReplayStore is the Redis surface the middleware needs.
type ReplayStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type idempotentRoute struct {
	method   string
	prefix   string
	suffix   string
	ttl      time.Duration
	optional bool
}

func (r idempotentRoute) matches(method, path string) bool {
	if r.method != method {
		return false
	}
	if r.suffix == "" {
		return path == r.prefix
	}
	return strings.HasPrefix(path, r.prefix) && strings.HasSuffix(path, r.suffix) && len(path) > len(r.prefix)+len(r.suffix)
}

// Routes that move money demand a key and keep the replay for a week. Register
// and buyer cancel honour a key when sent but work without one.
var idempotentRoutes = []idempotentRoute{
	{method: http.MethodPost, prefix: "/api/v1/orders", ttl: moneyReplayTTL},
	{method: http.MethodPost, prefix: "/api/v1/admin/accounts/", suffix: "/deposit", ttl: moneyReplayTTL},
	{method: http.MethodPost, prefix: "/api/v1/admin/accounts/", suffix: "/withdraw", ttl: moneyReplayTTL},
	{method: http.MethodPut, prefix: "/api/v1/orders/", suffix: "/cancel", ttl: moneyReplayTTL, optional: true},
	{method: http.MethodPost, prefix: "/api/v1/admin/orders/", suffix: "/cancel", ttl: standardReplayTTL},
	{method: http.MethodPost, prefix: "/api/v1/auth/register", ttl: standardReplayTTL, optional: true},
}

func routeFor(method, path string) (idempotentRoute, bool) {
	path = strings.TrimSuffix(path, "/")
	for _, route := range idempotentRoutes {
		if route.matches(method, path) {
			return route, true
		}
	}
	return idempotentRoute{}, false
}

// replayEntry is what sits under an idempotency key: a claim while the first
// request runs, then the captured response.
type replayEntry struct {
	RequestHash string `json:"request_hash"`
	Done        bool   `json:"done"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes retried writes safe. The first request with a key claims
// it before the handler runs, so a concurrent duplicate gets a retryable 409
// instead of executing twice. Successful and 4xx responses are stored and
// replayed; 5xx responses release the key so the client can retry.
func Idempotency(store ReplayStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			route, ok := routeFor(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			switch {
			case clientKey == "" && route.optional:
				next.ServeHTTP(w, r)
				return
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKey:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxReplayBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := requestFingerprint(r, body)
			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+strings.TrimSuffix(r.URL.Path, "/"), clientKey)

			claim, _ := json.Marshal(replayEntry{RequestHash: fingerprint})
			claimed, err := store.SetNX(ctx, key, string(claim), claimTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayExisting(ctx, w, logg, store, key, fingerprint)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			// The client is owed a record even if it hung up mid-request.
			persistCtx := context.WithoutCancel(ctx)

			if capture.statusCode() >= http.StatusInternalServerError {
				if err := store.Del(persistCtx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			entry, _ := json.Marshal(replayEntry{
				RequestHash: fingerprint,
				Done:        true,
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err := store.Set(persistCtx, key, string(entry), route.ttl); err != nil && logg != nil {
				logg.Error(ctx, "store idempotent response", err)
			}
		})
	}
}

func replayExisting(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, store ReplayStore, key, fingerprint string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The claim expired between SetNX and Get; let the client try again.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request still settling"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency key"))
		return
	}
	var entry replayEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "corrupt idempotency record"))
		return
	}
	if entry.RequestHash != fingerprint {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "Idempotency-Key reused with a different request"))
		return
	}
	if !entry.Done {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

func requestFingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + strings.TrimSuffix(r.URL.Path, "/") + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// responseCapture tees the handler's response so it can be stored for replay.
type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
