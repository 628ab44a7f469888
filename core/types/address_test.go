package types

import "testing"

func TestComponentAddressDeterministic(t *testing.T) {
	a := ComponentAddress("deposit-vault")
	b := ComponentAddress("  Deposit-Vault ")
	if a != b {
		t.Fatalf("expected normalised names to map to the same address")
	}
	if IsZeroAddress(a) {
		t.Fatalf("component address must not be zero")
	}
	if ComponentAddress("redemption-vault") == a {
		t.Fatalf("distinct names collided")
	}
}

func TestParseAddress(t *testing.T) {
	if _, ok := ParseAddress("nope"); ok {
		t.Fatalf("expected malformed address to fail")
	}
	addr, ok := ParseAddress("0x00000000000000000000000000000000000000aa")
	if !ok {
		t.Fatalf("expected valid address")
	}
	if addr[19] != 0xaa {
		t.Fatalf("unexpected decoding %s", addr.Hex())
	}
}

func TestEventVaultAttribute(t *testing.T) {
	evt := &Event{Type: "vault.fulfillRequest", Attributes: map[string]string{"vault": "0xabc"}}
	if evt.Vault() != "0xabc" {
		t.Fatalf("unexpected vault %q", evt.Vault())
	}
	var empty *Event
	if empty.Attr("vault") != "" {
		t.Fatalf("expected empty attribute on nil event")
	}
}
