package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/errs"
)

func setupRedemption(t *testing.T, cfg Config, feeBps uint64) (*harness, *RedemptionVault) {
	t.Helper()
	h := newHarness(t)
	if cfg.MTokenFeed == (common.Address{}) {
		cfg.MTokenFeed = h.priceFeed("mtbill", 102_000_000)
	}
	v := h.redemptionVault(cfg)
	if err := v.AddPaymentToken(admin, usdc, common.Address{}, feeBps); err != nil {
		t.Fatalf("add token: %v", err)
	}
	h.fund(mToken, alice, units(1_000))
	h.approve(mToken, alice, v.Address(), units(1_000))
	return h, v
}

func TestRedemptionRequestLifecycle(t *testing.T) {
	h, v := setupRedemption(t, Config{}, 100)

	id, err := v.InitiateRedemptionRequest(alice, usdc, units(100))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	req, err := v.Request(id)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.AmountIn.Cmp(units(99)) != 0 || req.Fee.Cmp(units(1)) != 0 {
		t.Fatalf("unexpected split %s + %s", req.AmountIn, req.Fee)
	}
	h.expectBalance(mToken, v.Address(), units(100))
	h.expectBalance(mToken, alice, units(900))

	if err := v.FulfillRedemptionRequest(admin, id, units(100)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if !errors.Is(ErrInsufficientLiquidity, errs.ErrInsufficientFunds) {
		t.Fatalf("liquidity errors must be insufficient funds")
	}
	h.fund(usdc, v.Address(), units(150))
	supplyBefore, _ := h.mgr.TotalSupply(mToken)
	if err := v.FulfillRedemptionRequest(admin, id, units(100)); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	h.expectBalance(usdc, alice, units(100))
	h.expectBalance(mToken, v.Address(), units(1))
	supplyAfter, _ := h.mgr.TotalSupply(mToken)
	if new(big.Int).Sub(supplyBefore, supplyAfter).Cmp(units(99)) != 0 {
		t.Fatalf("expected 99 mToken burned, supply %s -> %s", supplyBefore, supplyAfter)
	}
	if err := v.FulfillRedemptionRequest(admin, id, units(1)); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("second fulfil must fail, got %v", err)
	}
	total, err := v.TotalRedeemed(alice)
	if err != nil || total.Cmp(units(99)) != 0 {
		t.Fatalf("unexpected total redeemed %v %v", total, err)
	}
}

func TestCancelRedemptionRefundsEscrow(t *testing.T) {
	h, v := setupRedemption(t, Config{}, 100)
	id, err := v.Redeem(alice, usdc, units(100))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	estimate, err := v.EstimateAmountOut(id)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if estimate.Cmp(mustBig(t, "100980000000000000000")) != 0 {
		t.Fatalf("unexpected estimate %s", estimate)
	}
	if err := v.CancelRedemptionRequest(admin, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h.expectBalance(mToken, alice, units(1_000))
	h.expectBalance(mToken, v.Address(), new(big.Int))
	if err := v.CancelRedemptionRequest(admin, id); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("second cancel must fail, got %v", err)
	}
	if h.countEvents(events.TypeCancelRequest) != 1 || h.countEvents(events.TypeRedeem) != 1 {
		t.Fatalf("unexpected events %v", h.emitted)
	}
}

func TestRedemptionMinimum(t *testing.T) {
	_, v := setupRedemption(t, Config{MinAmount: units(50)}, 0)
	if _, err := v.Redeem(alice, usdc, units(49)); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected below minimum, got %v", err)
	}
	if _, err := v.Redeem(alice, usdc, units(50)); err != nil {
		t.Fatalf("redeem at minimum: %v", err)
	}
	if err := v.SetMinAmount(admin, units(10)); err != nil {
		t.Fatalf("set min: %v", err)
	}
	if _, err := v.Redeem(alice, usdc, units(10)); err != nil {
		t.Fatalf("redeem at new minimum: %v", err)
	}
}

func TestManuallyRedeem(t *testing.T) {
	h, v := setupRedemption(t, Config{}, 0)
	if err := v.ManuallyRedeem(admin, alice, usdc, nil, new(big.Int)); !errors.Is(err, ErrInvalidAmounts) {
		t.Fatalf("expected invalid amounts, got %v", err)
	}
	if err := v.ManuallyRedeem(admin, common.Address{}, usdc, units(1), nil); !errors.Is(err, errs.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if err := v.ManuallyRedeem(admin, alice, usdc, units(1_001), nil); !errors.Is(err, errs.ErrInsufficientBal) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	h.fund(usdc, v.Address(), units(20))
	if err := v.ManuallyRedeem(admin, alice, usdc, units(10), units(10)); err != nil {
		t.Fatalf("manual redeem: %v", err)
	}
	h.expectBalance(mToken, alice, units(990))
	h.expectBalance(usdc, alice, units(10))
	if err := v.ManuallyRedeem(admin, alice, ManualFulfillmentToken, units(5), units(5)); err != nil {
		t.Fatalf("off-ledger manual redeem: %v", err)
	}
	h.expectBalance(mToken, alice, units(985))
	h.expectBalance(usdc, alice, units(10))
}

func TestRedeemInstant(t *testing.T) {
	h, v := setupRedemption(t, Config{InstantFeeBps: 50, InstantDailyLimit: units(150)}, 0)
	h.fund(usdc, v.Address(), units(1_000))

	if _, err := v.RedeemInstant(alice, usdc, units(100), units(102)); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected slippage, got %v", err)
	}
	out, err := v.RedeemInstant(alice, usdc, units(100), units(101))
	if err != nil {
		t.Fatalf("redeem instant: %v", err)
	}
	// 99.5 mToken at 1.02 USD
	if out.Cmp(mustBig(t, "101490000000000000000")) != 0 {
		t.Fatalf("unexpected payout %s", out)
	}
	h.expectBalance(usdc, alice, out)
	h.expectBalance(mToken, v.Address(), mustBig(t, "500000000000000000"))
	usage, err := v.DailyUsage(v.CurrentDay())
	if err != nil || usage.Cmp(units(100)) != 0 {
		t.Fatalf("unexpected daily usage %v %v", usage, err)
	}
	if _, err := v.RedeemInstant(alice, usdc, units(51), nil); !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("expected daily limit, got %v", err)
	}
	if _, err := v.RedeemInstant(alice, usdc, units(50), nil); err != nil {
		t.Fatalf("redeem up to the limit: %v", err)
	}
}

func TestRedeemInstantTruncatesToTokenPrecision(t *testing.T) {
	h, v := setupRedemption(t, Config{}, 0)
	h.fund(usdc, v.Address(), units(10))
	amount := mustBig(t, "1000000000000000001")
	out, err := v.RedeemInstant(alice, usdc, amount, nil)
	if err != nil {
		t.Fatalf("redeem instant: %v", err)
	}
	if out.String() != "1020000000000000000" {
		t.Fatalf("expected payout truncated to six decimals, got %s", out)
	}
}

func TestFulfillAfterPaymentTokenRemoved(t *testing.T) {
	h, v := setupRedemption(t, Config{}, 0)
	if err := v.ChangeTokenAllowance(admin, usdc, units(500)); err != nil {
		t.Fatalf("allowance: %v", err)
	}
	id, err := v.Redeem(alice, usdc, units(100))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := v.RemovePaymentToken(admin, usdc); err != nil {
		t.Fatalf("remove token: %v", err)
	}
	if _, err := v.Redeem(alice, usdc, units(10)); !errors.Is(err, ErrTokenNotExists) {
		t.Fatalf("new requests must need a listed token, got %v", err)
	}
	h.fund(usdc, v.Address(), units(150))
	if err := v.FulfillRedemptionRequest(admin, id, units(100)); err != nil {
		t.Fatalf("fulfill after removal: %v", err)
	}
	h.expectBalance(usdc, alice, units(100))
	if _, err := v.Request(id); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected request removed, got %v", err)
	}
}
