package vault

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/core/state"
	"mvault/core/types"
	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/native/feed"
	"mvault/storage"
)

var (
	admin = common.HexToAddress("0xad")
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")

	mToken = types.ComponentAddress("token/mtbill")
	usdc   = types.ComponentAddress("token/usdc")
	dai    = types.ComponentAddress("token/dai")
)

const testNow = int64(1_700_000_000)

type harness struct {
	t        *testing.T
	mgr      *state.Manager
	registry *access.Registry
	dir      *feed.Directory
	emitted  []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	h := &harness{t: t, mgr: state.NewManager(db), dir: feed.NewDirectory()}
	h.registry = access.NewRegistry(h.mgr)
	if err := h.registry.Initialize(admin); err != nil {
		t.Fatalf("initialize access: %v", err)
	}
	for _, token := range []struct {
		addr     common.Address
		symbol   string
		decimals uint8
	}{
		{mToken, "mTBILL", 18},
		{usdc, "USDC", 6},
		{dai, "DAI", 18},
	} {
		if err := h.mgr.RegisterToken(token.addr, token.symbol, token.decimals); err != nil {
			t.Fatalf("register %s: %v", token.symbol, err)
		}
	}
	h.greenlist(alice, bob)
	return h
}

func (h *harness) emitter() events.Emitter {
	return h.mgr.Emitter(events.EmitterFunc(func(evt events.Event) {
		h.emitted = append(h.emitted, evt)
	}))
}

func (h *harness) greenlist(accounts ...common.Address) {
	h.t.Helper()
	for _, account := range accounts {
		if err := h.registry.GrantRole(admin, access.GreenlistedRole, account); err != nil {
			h.t.Fatalf("greenlist %s: %v", account.Hex(), err)
		}
	}
}

func (h *harness) registerToken(addr common.Address, symbol string, dec uint8) {
	h.t.Helper()
	if err := h.mgr.RegisterToken(addr, symbol, dec); err != nil {
		h.t.Fatalf("register %s: %v", symbol, err)
	}
}

// priceFeed registers an 8 decimal aggregator answering price and a data feed
// on top of it, returning the feed address.
func (h *harness) priceFeed(name string, answer int64) common.Address {
	h.t.Helper()
	agg, err := feed.NewCustomAggregator(h.mgr, h.registry, feed.AggregatorConfig{
		Address:            types.ComponentAddress("aggregator/" + name),
		Decimals:           8,
		MinAnswer:          big.NewInt(1),
		MaxAnswer:          big.NewInt(1_000_000_000_000),
		MaxAnswerDeviation: big.NewInt(10_000_000_000),
	})
	if err != nil {
		h.t.Fatalf("aggregator %s: %v", name, err)
	}
	agg.SetNowFunc(func() int64 { return testNow })
	if err := h.dir.RegisterAggregator(agg); err != nil {
		h.t.Fatalf("register aggregator: %v", err)
	}
	if err := agg.SetRoundData(admin, big.NewInt(answer)); err != nil {
		h.t.Fatalf("set round: %v", err)
	}
	f, err := feed.NewDataFeed(h.mgr, h.registry, h.dir, feed.DataFeedConfig{
		Address:    types.ComponentAddress("feed/" + name),
		Aggregator: agg.Address(),
	})
	if err != nil {
		h.t.Fatalf("data feed %s: %v", name, err)
	}
	f.SetNowFunc(func() int64 { return testNow })
	if err := h.dir.RegisterFeed(f); err != nil {
		h.t.Fatalf("register feed: %v", err)
	}
	return f.Address()
}

// units returns whole token amounts in base-18.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), decimals.One())
}

func (h *harness) native(token common.Address, amount *big.Int) *big.Int {
	h.t.Helper()
	dec, err := h.mgr.Decimals(token)
	if err != nil {
		h.t.Fatalf("decimals: %v", err)
	}
	native, err := decimals.FromBase18(amount, dec)
	if err != nil {
		h.t.Fatalf("from base18: %v", err)
	}
	return native
}

// fund mints a base-18 amount of token to holder.
func (h *harness) fund(token, holder common.Address, amount *big.Int) {
	h.t.Helper()
	if err := h.mgr.Mint(token, holder, h.native(token, amount)); err != nil {
		h.t.Fatalf("fund: %v", err)
	}
}

// approve grants spender a base-18 allowance of token from owner.
func (h *harness) approve(token, owner, spender common.Address, amount *big.Int) {
	h.t.Helper()
	if err := h.mgr.Approve(token, owner, spender, h.native(token, amount)); err != nil {
		h.t.Fatalf("approve: %v", err)
	}
}

// balance returns holder's balance of token in base-18.
func (h *harness) balance(token, holder common.Address) *big.Int {
	h.t.Helper()
	native, err := h.mgr.BalanceOf(token, holder)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	dec, err := h.mgr.Decimals(token)
	if err != nil {
		h.t.Fatalf("decimals: %v", err)
	}
	base, err := decimals.ToBase18(native, dec)
	if err != nil {
		h.t.Fatalf("to base18: %v", err)
	}
	return base
}

func (h *harness) expectBalance(token, holder common.Address, want *big.Int) {
	h.t.Helper()
	if got := h.balance(token, holder); got.Cmp(want) != 0 {
		h.t.Fatalf("balance of %s: want %s got %s", holder.Hex(), want, got)
	}
}

func (h *harness) depositVault(cfg DepositConfig) *DepositVault {
	h.t.Helper()
	if cfg.Address == (common.Address{}) {
		cfg.Address = types.ComponentAddress("vault/deposit")
	}
	if cfg.MToken == (common.Address{}) {
		cfg.MToken = mToken
	}
	v, err := NewDepositVault(h.mgr, h.mgr, h.registry, h.dir, cfg)
	if err != nil {
		h.t.Fatalf("new deposit vault: %v", err)
	}
	v.SetNowFunc(func() int64 { return testNow })
	v.SetEmitter(h.emitter())
	return v
}

func (h *harness) redemptionVault(cfg Config) *RedemptionVault {
	h.t.Helper()
	if cfg.Address == (common.Address{}) {
		cfg.Address = types.ComponentAddress("vault/redemption")
	}
	if cfg.MToken == (common.Address{}) {
		cfg.MToken = mToken
	}
	v, err := NewRedemptionVault(h.mgr, h.mgr, h.registry, h.dir, cfg)
	if err != nil {
		h.t.Fatalf("new redemption vault: %v", err)
	}
	v.SetNowFunc(func() int64 { return testNow })
	v.SetEmitter(h.emitter())
	return v
}

func (h *harness) countEvents(kind string) int {
	n := 0
	for _, evt := range h.emitted {
		if evt.EventType() == kind {
			n++
		}
	}
	return n
}

func mustBig(t *testing.T, raw string) *big.Int {
	t.Helper()
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		t.Fatalf("invalid integer %q", raw)
	}
	return value
}

func blacklisted() access.Role { return access.BlacklistedRole }
