package vault

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/core/types"
	"mvault/native/errs"
)

var mBasis = types.ComponentAddress("token/mbasis")

func setupSwapper(t *testing.T) (*harness, *SwapperVault, *RedemptionVault, common.Address) {
	t.Helper()
	h := newHarness(t)
	h.registerToken(mBasis, "mBASIS", 18)
	paired := h.redemptionVault(Config{MTokenFeed: h.priceFeed("mtbill", 100_000_000)})
	if err := paired.AddPaymentToken(admin, usdc, common.Address{}, 0); err != nil {
		t.Fatalf("paired token: %v", err)
	}
	provider := common.HexToAddress("0x1b")
	swapper, err := NewSwapperVault(h.mgr, h.mgr, h.registry, h.dir, Config{
		Address:    types.ComponentAddress("vault/swapper"),
		MToken:     mBasis,
		MTokenFeed: h.priceFeed("mbasis", 150_000_000),
	}, paired, provider)
	if err != nil {
		t.Fatalf("swapper: %v", err)
	}
	swapper.SetNowFunc(func() int64 { return testNow })
	swapper.SetEmitter(h.emitter())
	if err := swapper.AddPaymentToken(admin, usdc, common.Address{}, 0); err != nil {
		t.Fatalf("swapper token: %v", err)
	}
	h.greenlist(swapper.Address())
	h.fund(usdc, paired.Address(), units(1_000))
	h.fund(mToken, provider, units(1_000))
	h.approve(mToken, provider, swapper.Address(), units(1_000))
	h.fund(mBasis, alice, units(100))
	h.approve(mBasis, alice, swapper.Address(), units(100))
	return h, swapper, paired, provider
}

func TestSwapperRoutesShortfallThroughPairedVault(t *testing.T) {
	h, swapper, paired, provider := setupSwapper(t)

	out, err := swapper.RedeemInstant(alice, usdc, units(10), units(15))
	if err != nil {
		t.Fatalf("redeem instant: %v", err)
	}
	if out.Cmp(units(15)) != 0 {
		t.Fatalf("expected 15 USDC, got %s", out)
	}
	h.expectBalance(usdc, alice, units(15))
	h.expectBalance(usdc, paired.Address(), units(985))
	h.expectBalance(mBasis, provider, units(10))
	h.expectBalance(mToken, provider, units(985))
	h.expectBalance(mToken, paired.Address(), units(0))
	h.expectBalance(mBasis, swapper.Address(), units(0))
	if h.countEvents(events.TypeSwapperSwap) != 1 {
		t.Fatalf("expected a swap event")
	}
}

func TestSwapperUsesOwnLiquidityFirst(t *testing.T) {
	h, swapper, _, provider := setupSwapper(t)
	h.fund(usdc, swapper.Address(), units(100))
	out, err := swapper.RedeemInstant(alice, usdc, units(10), nil)
	if err != nil {
		t.Fatalf("redeem instant: %v", err)
	}
	if out.Cmp(units(15)) != 0 {
		t.Fatalf("expected 15 USDC, got %s", out)
	}
	h.expectBalance(usdc, swapper.Address(), units(85))
	h.expectBalance(mBasis, provider, units(0))
	if h.countEvents(events.TypeSwapperSwap) != 0 {
		t.Fatalf("no swap expected when the vault holds enough")
	}
}

func TestSwapperFailsAtomicallyWhenPairedVaultRejects(t *testing.T) {
	h, swapper, paired, provider := setupSwapper(t)
	if err := paired.ChangePauseState(admin, true); err != nil {
		t.Fatalf("pause paired: %v", err)
	}
	if _, err := swapper.RedeemInstant(alice, usdc, units(10), nil); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected paired vault pause to surface, got %v", err)
	}
	h.expectBalance(mBasis, alice, units(100))
	h.expectBalance(mToken, provider, units(1_000))
	if err := swapper.SetLiquidityProvider(admin, provider); !errors.Is(err, ErrSameState) {
		t.Fatalf("expected same state, got %v", err)
	}
	if err := swapper.SetLiquidityProvider(admin, common.Address{}); !errors.Is(err, errs.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
}
