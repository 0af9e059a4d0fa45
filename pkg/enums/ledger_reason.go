package enums

import "fmt"

// LedgerReason classifies a wallet ledger entry.
type LedgerReason string

const (
	LedgerReasonReserve  LedgerReason = "reserve"
	LedgerReasonCommit   LedgerReason = "commit"
	LedgerReasonRefund   LedgerReason = "refund"
	LedgerReasonDeposit  LedgerReason = "deposit"
	LedgerReasonWithdraw LedgerReason = "withdraw"
)

var validLedgerReasons = []LedgerReason{
	LedgerReasonReserve,
	LedgerReasonCommit,
	LedgerReasonRefund,
	LedgerReasonDeposit,
	LedgerReasonWithdraw,
}

// IsValid reports whether the value matches a known ledger reason.
func (r LedgerReason) IsValid() bool {
	for _, candidate := range validLedgerReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseLedgerReason converts raw input into LedgerReason.
func ParseLedgerReason(value string) (LedgerReason, error) {
	for _, candidate := range validLedgerReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger reason %q", value)
}
