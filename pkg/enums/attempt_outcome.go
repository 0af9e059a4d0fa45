package enums

// AttemptOutcome is the resolution of a single delivery attempt.
type AttemptOutcome string

const (
	AttemptOutcomePending   AttemptOutcome = "pending"
	AttemptOutcomeSucceeded AttemptOutcome = "succeeded"
	AttemptOutcomeFailed    AttemptOutcome = "failed"
)

func (o AttemptOutcome) IsValid() bool {
	switch o {
	case AttemptOutcomePending, AttemptOutcomeSucceeded, AttemptOutcomeFailed:
		return true
	default:
		return false
	}
}

// IsResolved reports whether the attempt left the pending state.
func (o AttemptOutcome) IsResolved() bool {
	return o == AttemptOutcomeSucceeded || o == AttemptOutcomeFailed
}
