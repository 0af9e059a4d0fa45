package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/internal/delivery"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// Fulfillment values starting with these markers steer the simulated outcome.
const (
	markerInvalid = "invalid"
	markerReject  = "reject"
	markerOutage  = "outage"
	markerSilent  = "silent"
)

type outcome int

const (
	outcomeSucceed outcome = iota
	outcomeInvalid
	outcomeReject
	outcomeOutage
	outcomeSilent
)

type submitRequest struct {
	Reference   string            `json:"reference" validate:"required,uuid"`
	GameID      string            `json:"gameId" validate:"required"`
	ProductID   string            `json:"productId" validate:"required"`
	Quantity    int               `json:"quantity" validate:"gte=1"`
	Fulfillment map[string]string `json:"fulfillment" validate:"required,min=1"`
	CallbackURL string            `json:"callbackUrl" validate:"required,url"`
}

type deliveryRecord struct {
	report      delivery.StatusReport
	callbackURL string
}

type callbackSender interface {
	Send(ctx context.Context, url string, cb delivery.Callback)
}

// mockProvider keeps deliveries in memory. A repeated reference returns the
// original providerRef, matching the Idempotency-Key contract.
type mockProvider struct {
	mu          sync.Mutex
	byRef       map[string]*deliveryRecord
	byReference map[string]string

	apiKey   string
	delay    time.Duration
	sender   callbackSender
	validate *validator.Validate
	logg     *logger.Logger
	now      func() time.Time
}

func newMockProvider(apiKey string, delay time.Duration, sender callbackSender, logg *logger.Logger) *mockProvider {
	return &mockProvider{
		byRef:       make(map[string]*deliveryRecord),
		byReference: make(map[string]string),
		apiKey:      apiKey,
		delay:       delay,
		sender:      sender,
		validate:    validator.New(),
		logg:        logg,
		now:         time.Now,
	}
}

func (p *mockProvider) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(p.requireAPIKey)
	r.Post("/v1/deliveries", p.submit)
	r.Get("/v1/deliveries/{ref}", p.status)
	return r
}

func (p *mockProvider) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.apiKey != "" && r.Header.Get("X-Api-Key") != p.apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "message": "bad api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *mockProvider) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "malformed body"})
		return
	}
	if err := p.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_fulfillment", "message": err.Error()})
		return
	}

	result := classify(req.Fulfillment)
	switch result {
	case outcomeInvalid:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_fulfillment", "message": "player not found"})
		return
	case outcomeOutage:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable", "message": "upstream maintenance"})
		return
	}

	p.mu.Lock()
	if ref, ok := p.byReference[req.Reference]; ok {
		rec := p.byRef[ref]
		p.mu.Unlock()
		writeJSON(w, http.StatusAccepted, delivery.Submission{ProviderRef: ref, Status: rec.report.Status})
		return
	}
	ref := "mp_" + uuid.NewString()
	rec := &deliveryRecord{
		report: delivery.StatusReport{
			ProviderRef: ref,
			Reference:   req.Reference,
			Status:      delivery.ProviderStatusPending,
		},
		callbackURL: req.CallbackURL,
	}
	p.byRef[ref] = rec
	p.byReference[req.Reference] = ref
	p.mu.Unlock()

	ctx := p.logg.WithFields(r.Context(), map[string]any{"provider_ref": ref, "reference": req.Reference})
	p.logg.Info(ctx, "delivery accepted")

	if result != outcomeSilent {
		go p.settleLater(ref, result)
	}
	writeJSON(w, http.StatusAccepted, delivery.Submission{ProviderRef: ref, Status: delivery.ProviderStatusPending})
}

func (p *mockProvider) status(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	p.mu.Lock()
	rec, ok := p.byRef[ref]
	var report delivery.StatusReport
	if ok {
		report = rec.report
	}
	p.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "unknown delivery"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (p *mockProvider) settleLater(ref string, result outcome) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	cb, url, ok := p.settle(ref, result)
	if !ok {
		return
	}
	p.sender.Send(context.Background(), url, cb)
}

// settle moves a pending delivery to its final status and builds the callback.
func (p *mockProvider) settle(ref string, result outcome) (delivery.Callback, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.byRef[ref]
	if !ok || rec.report.Status != delivery.ProviderStatusPending {
		return delivery.Callback{}, "", false
	}
	if result == outcomeReject {
		rec.report.Status = delivery.ProviderStatusFailed
		rec.report.Reason = "account region not supported"
	} else {
		rec.report.Status = delivery.ProviderStatusSucceeded
	}
	return delivery.Callback{
		EventID:     uuid.NewString(),
		ProviderRef: ref,
		Reference:   rec.report.Reference,
		Status:      rec.report.Status,
		Reason:      rec.report.Reason,
		OccurredAt:  p.now().UTC(),
	}, rec.callbackURL, true
}

func classify(fulfillment map[string]string) outcome {
	for _, v := range fulfillment {
		value := strings.ToLower(strings.TrimSpace(v))
		switch {
		case strings.HasPrefix(value, markerInvalid):
			return outcomeInvalid
		case strings.HasPrefix(value, markerOutage):
			return outcomeOutage
		case strings.HasPrefix(value, markerReject):
			return outcomeReject
		case strings.HasPrefix(value, markerSilent):
			return outcomeSilent
		}
	}
	return outcomeSucceed
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
