package vault

import (
	"errors"
	"math/big"
	"testing"

	"mvault/core/events"
	"mvault/core/types"
)

var buidl = types.ComponentAddress("token/buidl")

func setupBuidl(t *testing.T, vaultUsdc, vaultBuidl int64, minRedeem, minBalance int64) (*harness, *RedemptionVault, *BuidlLiquidity) {
	t.Helper()
	h, v := setupRedemption(t, Config{}, 0)
	h.registerToken(buidl, "BUIDL", 6)
	facility := NewLedgerBuidlRedemption(h.mgr, types.ComponentAddress("facility/buidl"), buidl, usdc)
	h.fund(usdc, facility.Address(), units(10_000))
	h.fund(usdc, v.Address(), units(vaultUsdc))
	h.fund(buidl, v.Address(), units(vaultBuidl))
	source, err := NewBuidlLiquidity(v, BuidlConfig{
		Facility:         facility,
		MinBuidlToRedeem: h.native(buidl, units(minRedeem)),
		MinBuidlBalance:  h.native(buidl, units(minBalance)),
	})
	if err != nil {
		t.Fatalf("buidl liquidity: %v", err)
	}
	return h, v, source
}

func TestBuidlCoversShortfallWithMinimumRedemption(t *testing.T) {
	h, v, _ := setupBuidl(t, 10, 1_000, 50, 0)
	id, err := v.Redeem(alice, usdc, units(30))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := v.FulfillRedemptionRequest(admin, id, units(30)); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	h.expectBalance(usdc, alice, units(30))
	// shortfall of 20 bumped to the 50 BUIDL minimum
	h.expectBalance(buidl, v.Address(), units(950))
	h.expectBalance(usdc, v.Address(), units(30))
	if h.countEvents(events.TypeBuidlRedeemed) != 1 {
		t.Fatalf("expected a BUIDL redemption event")
	}
}

func TestBuidlRedeemsWholeBalanceAboveDust(t *testing.T) {
	h, v, source := setupBuidl(t, 0, 100, 0, 30)
	id, err := v.Redeem(alice, usdc, units(80))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := v.FulfillRedemptionRequest(admin, id, units(80)); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	h.expectBalance(buidl, v.Address(), new(big.Int))
	h.expectBalance(usdc, v.Address(), units(20))
	minBalance, err := source.MinBuidlBalance()
	if err != nil || minBalance.Cmp(h.native(buidl, units(30))) != 0 {
		t.Fatalf("unexpected dust threshold %v %v", minBalance, err)
	}
}

func TestBuidlFailsWhenBalanceShort(t *testing.T) {
	h, v, source := setupBuidl(t, 0, 10, 0, 0)
	id, err := v.Redeem(alice, usdc, units(20))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := v.FulfillRedemptionRequest(admin, id, units(20)); !errors.Is(err, ErrBuidlBalance) {
		t.Fatalf("expected insufficient BUIDL, got %v", err)
	}
	h.expectBalance(buidl, v.Address(), units(10))
	if _, err := v.Request(id); err != nil {
		t.Fatalf("failed fulfilment must keep the request: %v", err)
	}
	if err := source.SetMinBuidlToRedeem(alice, big.NewInt(1)); err == nil {
		t.Fatalf("expected non-admin update to fail")
	}
	if err := source.SetMinBuidlToRedeem(admin, big.NewInt(1)); err != nil {
		t.Fatalf("set min redeem: %v", err)
	}
}

func TestBuidlSizingRoundsUp(t *testing.T) {
	h, _, source := setupBuidl(t, 0, 10, 0, 0)
	rate := h.priceFeed("buidl", 99_999_999)
	source.feed = rate
	amount, err := source.buidlFor(usdc, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	// 1 USDC at 0.99999999 per BUIDL needs slightly more than one BUIDL
	if amount.Int64() != 1_000_001 {
		t.Fatalf("expected rounding up to 1000001, got %s", amount)
	}
}
