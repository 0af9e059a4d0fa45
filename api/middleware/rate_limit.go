package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coinsacademy/topup-backend/api/responses"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// Credentials bodies are tiny; anything larger is not worth buffering to find an email.
const maxPeekBody = 16 << 10

// RateLimiterStore counts hits in a fixed window. pkg/redis.Client satisfies it.
type RateLimiterStore interface {
	CountInWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	RateLimitKey(parts ...string) string
}

// AuthRateLimitPolicy caps attempts per client IP and per submitted email
// inside a window. A zero limit disables that dimension.
type AuthRateLimitPolicy struct {
	Name     string
	Window   time.Duration
	PerIP    int
	PerEmail int
}

func NewAuthRateLimitPolicy(name string, window time.Duration, perIP, perEmail int) AuthRateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "auth"
	}
	return AuthRateLimitPolicy{Name: name, Window: window, PerIP: perIP, PerEmail: perEmail}
}

func (p AuthRateLimitPolicy) active() bool {
	return p.Window > 0 && (p.PerIP > 0 || p.PerEmail > 0)
}

// AuthRateLimit throttles credential endpoints. Store failures reject the
// request rather than letting unmetered login attempts through.
func AuthRateLimit(policy AuthRateLimitPolicy, store RateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || !policy.active() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if policy.PerIP > 0 {
				if ip := clientIP(r); ip != "" {
					if !admit(ctx, w, logg, store, policy, "ip", ip, policy.PerIP) {
						return
					}
				}
			}

			if policy.PerEmail > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
					return
				}
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
				if email := emailFromBody(body); email != "" {
					if !admit(ctx, w, logg, store, policy, "email", digest(email), policy.PerEmail) {
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// admit counts one hit against subject and writes the rejection when the
// limit is exceeded. It reports whether the request may proceed.
func admit(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, store RateLimiterStore, policy AuthRateLimitPolicy, dimension, subject string, limit int) bool {
	count, err := store.CountInWindow(ctx, store.RateLimitKey(policy.Name, dimension, subject), policy.Window)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiter unavailable"))
		return false
	}
	if count <= int64(limit) {
		return true
	}
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":    policy.Name,
			"dimension": dimension,
			"subject":   subject,
			"attempts":  count,
			"limit":     limit,
		}), "auth.rate_limited")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(policy.Window.Round(time.Second).Seconds())))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts"))
	return false
}

// clientIP prefers the first X-Forwarded-For hop set by the load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func emailFromBody(body []byte) string {
	var creds struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(body, &creds) != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(creds.Email))
}

// digest keeps raw emails out of Redis keys and logs.
func digest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:12])
}
