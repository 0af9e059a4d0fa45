package enums

// OutboxAggregateType names the aggregate an outbox row belongs to.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregateWalletAccount OutboxAggregateType = "wallet_account"
)

var aggregateTypes = []OutboxAggregateType{AggregateOrder, AggregateWalletAccount}

func (a OutboxAggregateType) IsValid() bool { return oneOf(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", aggregateTypes, value)
}

// OutboxEventType identifies the domain event stored in an outbox row. Every
// order event is keyed by the order id, wallet events by the account id.
type OutboxEventType string

const (
	EventOrderCreated        OutboxEventType = "order_created"
	EventOrderFundsReserved  OutboxEventType = "order_funds_reserved"
	EventOrderDispatched     OutboxEventType = "order_dispatched"
	EventOrderRetryScheduled OutboxEventType = "order_retry_scheduled"
	EventOrderDelivered      OutboxEventType = "order_delivered"
	EventOrderFailed         OutboxEventType = "order_failed"
	EventOrderCancelled      OutboxEventType = "order_cancelled"
	EventWalletAdjusted      OutboxEventType = "wallet_adjusted"
)

var eventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderFundsReserved,
	EventOrderDispatched,
	EventOrderRetryScheduled,
	EventOrderDelivered,
	EventOrderFailed,
	EventOrderCancelled,
	EventWalletAdjusted,
}

func (e OutboxEventType) IsValid() bool { return oneOf(eventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", eventTypes, value)
}
