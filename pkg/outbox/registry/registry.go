// Package registry maps outbox event types to broker destinations and their
// typed payloads.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
	"github.com/coinsacademy/topup-backend/pkg/outbox/payloads"
)

// ErrPermanent marks failures that no amount of retrying will fix.
var ErrPermanent = errors.New("permanent")

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Route is where one event type is published and how its data decodes.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

// Resolved is a validated outbox row ready to publish.
type Resolved struct {
	Route    Route
	Envelope outbox.Envelope
	Payload  any
}

type Registry struct {
	routes map[enums.OutboxEventType]Route
}

func route[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Route {
	return Route{
		EventType:     event,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			v := new(T)
			if err := json.Unmarshal(raw, v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// New builds the registry. With RabbitMQ the topic doubles as the routing key.
func New(cfg config.PubSubConfig) (*Registry, error) {
	if cfg.OrdersTopic == "" || cfg.WalletTopic == "" {
		return nil, errors.New("registry: orders and wallet topics are required")
	}
	orders, wallet := cfg.OrdersTopic, cfg.WalletTopic
	const order, account = enums.AggregateOrder, enums.AggregateWalletAccount

	r := &Registry{routes: make(map[enums.OutboxEventType]Route)}
	for _, rt := range []Route{
		route[payloads.OrderCreatedEvent](enums.EventOrderCreated, order, orders),
		route[payloads.OrderFundsReservedEvent](enums.EventOrderFundsReserved, order, orders),
		route[payloads.OrderDispatchedEvent](enums.EventOrderDispatched, order, orders),
		route[payloads.OrderRetryScheduledEvent](enums.EventOrderRetryScheduled, order, orders),
		route[payloads.OrderDeliveredEvent](enums.EventOrderDelivered, order, orders),
		route[payloads.OrderFailedEvent](enums.EventOrderFailed, order, orders),
		route[payloads.OrderCancelledEvent](enums.EventOrderCancelled, order, orders),
		route[payloads.WalletAdjustedEvent](enums.EventWalletAdjusted, account, wallet),
	} {
		r.routes[rt.EventType] = rt
	}
	return r, nil
}

// Topics lists the distinct destinations, sorted.
func (r *Registry) Topics() []string {
	var topics []string
	for _, rt := range r.routes {
		if !slices.Contains(topics, rt.Topic) {
			topics = append(topics, rt.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve validates row against its route and decodes the payload. Every
// error it returns is permanent.
func (r *Registry) Resolve(row models.OutboxEvent) (*Resolved, error) {
	rt, ok := r.routes[row.EventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("unsupported event type %q", row.EventType))
	}
	if rt.AggregateType != row.AggregateType {
		return nil, Permanent(fmt.Errorf("%s: aggregate %s, want %s", row.EventType, row.AggregateType, rt.AggregateType))
	}
	if row.AggregateID == uuid.Nil {
		return nil, Permanent(fmt.Errorf("%s: missing aggregate id", row.EventType))
	}

	env, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s: %w", row.EventType, err))
	}
	if env.Type != "" && env.Type != row.EventType {
		return nil, Permanent(fmt.Errorf("%s: envelope carries type %s", row.EventType, env.Type))
	}
	payload, err := rt.decode(env.Data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s: decode data: %w", row.EventType, err))
	}
	return &Resolved{Route: rt, Envelope: env, Payload: payload}, nil
}
