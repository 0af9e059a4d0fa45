package models

// All lists the tables owned by this service in dependency order.
func All() []any {
	return []any{
		&User{},
		&Account{},
		&LedgerEntry{},
		&Product{},
		&Order{},
		&DeliveryAttempt{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
