package enums

// TerminalReason explains why an order stopped short of delivery.
type TerminalReason string

const (
	TerminalReasonInsufficientFunds TerminalReason = "insufficient_funds"
	TerminalReasonDispatchRejected  TerminalReason = "dispatch_rejected"
	TerminalReasonDeliveryFailed    TerminalReason = "delivery_failed"
	TerminalReasonDeliveryTimeout   TerminalReason = "delivery_timeout"
	TerminalReasonProviderDown      TerminalReason = "provider_unavailable"
	TerminalReasonUserCancelled     TerminalReason = "user_cancelled"
	TerminalReasonOperatorCancelled TerminalReason = "operator_cancelled"
)

var validTerminalReasons = []TerminalReason{
	TerminalReasonInsufficientFunds,
	TerminalReasonDispatchRejected,
	TerminalReasonDeliveryFailed,
	TerminalReasonDeliveryTimeout,
	TerminalReasonProviderDown,
	TerminalReasonUserCancelled,
	TerminalReasonOperatorCancelled,
}

func (r TerminalReason) IsValid() bool {
	for _, candidate := range validTerminalReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
