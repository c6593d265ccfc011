package txsign

import (
	"bytes"
	"testing"
)

const testKey = "0x0123456789012345678901234567890123456789012345678901234567890123"

func testAction(t *testing.T) SwapAction {
	t.Helper()
	action, err := SwapWire("mint-abc", true, 1.5, 0.000042, 0.05, 5000, 200000)
	if err != nil {
		t.Fatalf("swap wire: %v", err)
	}
	return action
}

func TestEncodeSwapActionDeterministic(t *testing.T) {
	action := testAction(t)
	first, err := EncodeSwapAction(action)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := EncodeSwapAction(action)
	if err != nil {
		t.Fatalf("encode again: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("same action encoded to different bytes")
	}

	other := action
	other.Amount = "2"
	otherBytes, err := EncodeSwapAction(other)
	if err != nil {
		t.Fatalf("encode other: %v", err)
	}
	if bytes.Equal(first, otherBytes) {
		t.Fatal("different actions encoded to identical bytes")
	}
}

func TestEncodeSwapActionRejectsIncomplete(t *testing.T) {
	if _, err := EncodeSwapAction(SwapAction{Asset: "mint", Amount: "1"}); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, err := EncodeSwapAction(SwapAction{Type: "swap", Amount: "1"}); err == nil {
		t.Fatal("expected error for missing asset")
	}
	if _, err := EncodeSwapAction(SwapAction{Type: "swap", Asset: "mint"}); err == nil {
		t.Fatal("expected error for missing amount")
	}
}

func TestSignSwapActionStable(t *testing.T) {
	signer, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	action := testAction(t)

	sig1, err := signer.SignSwapAction(action, 7)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig2, err := signer.SignSwapAction(action, 7)
	if err != nil {
		t.Fatalf("sign again: %v", err)
	}
	if sig1 != sig2 {
		t.Fatal("same action and nonce produced different signatures")
	}

	sig3, err := signer.SignSwapAction(action, 8)
	if err != nil {
		t.Fatalf("sign new nonce: %v", err)
	}
	if sig1 == sig3 {
		t.Fatal("different nonces produced identical signatures")
	}
	if sig1.V != 27 && sig1.V != 28 {
		t.Fatalf("unexpected recovery id %d", sig1.V)
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	if _, err := NewSigner(""); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := NewSigner("not-hex"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestIdempotencyKey(t *testing.T) {
	key1, err := IdempotencyKey("mint-abc", "buy", "evt-1")
	if err != nil {
		t.Fatalf("idempotency key: %v", err)
	}
	key2, err := IdempotencyKey("mint-abc", "buy", "evt-1")
	if err != nil {
		t.Fatalf("idempotency key again: %v", err)
	}
	if key1 != key2 {
		t.Fatal("same inputs produced different keys")
	}
	key3, _ := IdempotencyKey("mint-abc", "sell", "evt-1")
	if key1 == key3 {
		t.Fatal("side change did not change key")
	}
	key4, _ := IdempotencyKey("mint-abc", "buy", "evt-2")
	if key1 == key4 {
		t.Fatal("event change did not change key")
	}
}

func TestFloatToWire(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{1.5, "1.5"},
		{0.000042, "0.000042"},
		{10, "10"},
		{0, "0"},
	}
	for _, tc := range cases {
		got, err := floatToWire(tc.in)
		if err != nil {
			t.Fatalf("floatToWire(%v): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("floatToWire(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := floatToWire(0.1234567891234); err == nil {
		t.Fatal("expected rounding error")
	}
}
