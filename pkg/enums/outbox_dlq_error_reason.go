package enums

// OutboxDLQErrorReason records why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: transient failures exhausted the retry budget.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the event can never be published as stored.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return true
	}
	return false
}

// Replayable is true when an operator replay could plausibly succeed.
func (r OutboxDLQErrorReason) Replayable() bool {
	return r == OutboxDLQReasonMaxAttempts
}
