package enums

import "testing"

func TestOrderStateTerminal(t *testing.T) {
	cases := map[OrderState]bool{
		OrderStateCreated:       false,
		OrderStateFundsReserved: false,
		OrderStateDispatched:    false,
		OrderStateDelivered:     true,
		OrderStateFailed:        true,
		OrderStateCancelled:     true,
	}
	for state, terminal := range cases {
		if state.IsTerminal() != terminal {
			t.Fatalf("state %s terminal=%v, want %v", state, state.IsTerminal(), terminal)
		}
	}
	if _, err := ParseOrderState("shipped"); err == nil {
		t.Fatal("expected unknown state to be rejected")
	}
}

func TestLevelForPoints(t *testing.T) {
	tests := []struct {
		points int64
		want   UserLevel
	}{
		{0, UserLevelNew},
		{499, UserLevelNew},
		{500, UserLevelBeginner},
		{2000, UserLevelIntermediate},
		{4999, UserLevelIntermediate},
		{5000, UserLevelPro},
		{10000, UserLevelVIP},
	}
	for _, tt := range tests {
		if got := LevelForPoints(tt.points); got != tt.want {
			t.Fatalf("LevelForPoints(%d) = %s, want %s", tt.points, got, tt.want)
		}
	}
}

func TestParseLedgerReason(t *testing.T) {
	if r, err := ParseLedgerReason("refund"); err != nil || r != LedgerReasonRefund {
		t.Fatalf("unexpected parse result %q %v", r, err)
	}
	if _, err := ParseLedgerReason("payout"); err == nil {
		t.Fatal("expected invalid reason error")
	}
}

func TestPaymentMethod(t *testing.T) {
	p, err := ParsePaymentMethod("  Wallet ")
	if err != nil || p != PaymentMethodWallet || !p.Settleable() {
		t.Fatalf("unexpected wallet parse %q %v", p, err)
	}
	card, err := ParsePaymentMethod("CARD")
	if err != nil || card.Settleable() {
		t.Fatalf("card should parse but not settle: %q %v", card, err)
	}
	if _, err := ParsePaymentMethod("cash"); err == nil {
		t.Fatal("expected unknown method to be rejected")
	}
}

func TestDLQReasonReplayable(t *testing.T) {
	if !OutboxDLQReasonMaxAttempts.Replayable() || OutboxDLQReasonNonRetryable.Replayable() {
		t.Fatal("only exhausted retries are replayable")
	}
	if OutboxDLQErrorReason("timeout").IsValid() {
		t.Fatal("unknown reason reported valid")
	}
}
