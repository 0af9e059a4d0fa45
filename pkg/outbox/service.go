package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

const envelopeVersion = 1

// DomainEvent is what state-changing services hand to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

// Emitter is the write side used by services that change state inside a
// transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit appends event to the outbox using tx, so the row commits or rolls
// back together with the state change that produced it.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return fmt.Errorf("emit %s: transaction required", event.EventType)
	}
	if !event.EventType.IsValid() {
		return fmt.Errorf("emit: unknown event type %q", event.EventType)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("emit %s: %w", event.EventType, err)
	}

	env := Envelope{
		Version:    event.Version,
		EventID:    uuid.New(),
		Type:       event.EventType,
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if env.Version <= 0 {
		env.Version = envelopeVersion
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = s.now().UTC()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("emit %s: %w", event.EventType, err)
	}

	row := models.OutboxEvent{
		ID:            env.EventID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}

	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":     env.EventID.String(),
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}
