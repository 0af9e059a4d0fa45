package types

import (
	"testing"

	"github.com/coinsacademy/topup-backend/pkg/enums"
)

func TestNewMoneyDisplay(t *testing.T) {
	tests := []struct {
		minor int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{10000, "100.00"},
		{12345, "123.45"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		if got := NewMoney(tt.minor, "EGP").Display; got != tt.want {
			t.Fatalf("NewMoney(%d).Display = %q, want %q", tt.minor, got, tt.want)
		}
	}
}

func TestParseMajor(t *testing.T) {
	minor, err := ParseMajor("12.50")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if minor != 1250 {
		t.Fatalf("expected 1250, got %d", minor)
	}
	if _, err := ParseMajor("abc"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFulfillmentSchemaScanValue(t *testing.T) {
	schema := FulfillmentSchema{
		{Name: "playerId", Label: "Player ID", Type: enums.FulfillmentFieldText, Required: true},
		{Name: "server", Label: "Server", Type: enums.FulfillmentFieldSelect, Options: []string{"asia", "europe"}},
	}
	raw, err := schema.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var decoded FulfillmentSchema
	if err := decoded.Scan([]byte(raw.(string))); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(decoded) != 2 || decoded[1].Options[1] != "europe" {
		t.Fatalf("unexpected decoded schema %+v", decoded)
	}

	var empty FulfillmentData
	if err := empty.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty map, got %#v", empty)
	}
	if err := empty.Scan(42); err == nil {
		t.Fatal("expected unsupported type error")
	}
}
