package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// ErrEmptyData is returned by DecodeEnvelope when the envelope has no body.
var ErrEmptyData = errors.New("envelope data is empty")

// ActorRef identifies who produced the event. System transitions driven by
// the provider or the cron worker carry no actor.
type ActorRef struct {
	UserID uuid.UUID      `json:"userId"`
	Role   enums.UserRole `json:"role,omitempty"`
}

// Envelope is the JSON document stored in outbox_events.payload and sent to
// the broker unchanged. EventID equals the outbox row id so consumers can
// dedupe on either.
type Envelope struct {
	Version    int                   `json:"version"`
	EventID    uuid.UUID             `json:"eventId"`
	Type       enums.OutboxEventType `json:"type"`
	OccurredAt time.Time             `json:"occurredAt"`
	Actor      *ActorRef             `json:"actor,omitempty"`
	Data       json.RawMessage       `json:"data"`
}

// DecodeEnvelope parses a stored payload and rejects envelopes without data.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	body := bytes.TrimSpace(env.Data)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return env, ErrEmptyData
	}
	return env, nil
}

// Attributes are the broker headers attached to a published row. Pub/Sub
// exposes them as message attributes and RabbitMQ as AMQP headers.
func Attributes(row models.OutboxEvent, env Envelope) map[string]string {
	attrs := map[string]string{
		"event_id":       row.ID.String(),
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !env.OccurredAt.IsZero() {
		attrs["occurred_at"] = env.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	if env.Version > 0 {
		attrs["schema_version"] = fmt.Sprint(env.Version)
	}
	return attrs
}
