package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/decimals"
	"mvault/native/errs"
)

var (
	ErrBuidlBalance             = errs.InsufficientFunds("insufficient buidl balance")
	ErrFacilityLiquidity        = errs.InsufficientFunds("insufficient facility liquidity")
	errBuidlFacilityNotProvided = errors.New("buidl liquidity: facility required")
)

// BuidlRedemption is the external facility that converts BUIDL into its
// liquidity token. Amounts are in native precision.
type BuidlRedemption interface {
	Asset() common.Address
	Liquidity() common.Address
	AvailableLiquidity() (*big.Int, error)
	Redeem(holder common.Address, amount *big.Int) error
}

// BuidlConfig configures the BUIDL liquidity source of a redemption vault.
// MinBuidlToRedeem and MinBuidlBalance are in BUIDL native units. A zero Feed
// values BUIDL at 1 USD.
type BuidlConfig struct {
	Facility         BuidlRedemption
	Feed             common.Address
	MinBuidlToRedeem *big.Int
	MinBuidlBalance  *big.Int
}

// BuidlLiquidity refills a redemption vault's liquidity token by redeeming
// BUIDL held by the vault.
type BuidlLiquidity struct {
	vault    *RedemptionVault
	facility BuidlRedemption
	feed     common.Address
}

// NewBuidlLiquidity attaches a BUIDL liquidity source to vault.
func NewBuidlLiquidity(vault *RedemptionVault, cfg BuidlConfig) (*BuidlLiquidity, error) {
	if vault == nil || cfg.Facility == nil {
		return nil, errBuidlFacilityNotProvided
	}
	if cfg.Feed != (common.Address{}) {
		if _, ok := vault.feeds.Feed(cfg.Feed); !ok {
			return nil, ErrUnknownFeed
		}
	}
	for _, token := range []common.Address{cfg.Facility.Asset(), cfg.Facility.Liquidity()} {
		if _, err := vault.ledger.Decimals(token); err != nil {
			return nil, err
		}
	}
	b := &BuidlLiquidity{vault: vault, facility: cfg.Facility, feed: cfg.Feed}
	err := vault.state.Atomic(func() error {
		done, err := vault.state.KVGet(buidlParamKey(vault.cfg.Address, "initialized"), nil)
		if err != nil || done {
			return err
		}
		if err := vault.state.KVPut(buidlParamKey(vault.cfg.Address, "minRedeem"), orZero(cfg.MinBuidlToRedeem)); err != nil {
			return err
		}
		if err := vault.state.KVPut(buidlParamKey(vault.cfg.Address, "minBalance"), orZero(cfg.MinBuidlBalance)); err != nil {
			return err
		}
		return vault.state.KVPut(buidlParamKey(vault.cfg.Address, "initialized"), true)
	})
	if err != nil {
		return nil, err
	}
	vault.SetLiquiditySource(b)
	return b, nil
}

// MinBuidlToRedeem returns the smallest BUIDL amount redeemed at once.
func (b *BuidlLiquidity) MinBuidlToRedeem() (*big.Int, error) {
	value, _, err := b.vault.loadBig(buidlParamKey(b.vault.cfg.Address, "minRedeem"))
	return value, err
}

// MinBuidlBalance returns the BUIDL balance below which the vault redeems
// everything instead of leaving dust.
func (b *BuidlLiquidity) MinBuidlBalance() (*big.Int, error) {
	value, _, err := b.vault.loadBig(buidlParamKey(b.vault.cfg.Address, "minBalance"))
	return value, err
}

// SetMinBuidlToRedeem updates the minimum redemption size.
func (b *BuidlLiquidity) SetMinBuidlToRedeem(caller common.Address, value *big.Int) error {
	return b.setParam(caller, "minRedeem", value)
}

// SetMinBuidlBalance updates the dust threshold.
func (b *BuidlLiquidity) SetMinBuidlBalance(caller common.Address, value *big.Int) error {
	return b.setParam(caller, "minBalance", value)
}

func (b *BuidlLiquidity) setParam(caller common.Address, name string, value *big.Int) error {
	return b.vault.adminOp(caller, func() error {
		if value == nil || value.Sign() < 0 {
			return errs.ErrInvalidAmount
		}
		if err := b.vault.state.KVPut(buidlParamKey(b.vault.cfg.Address, name), value); err != nil {
			return err
		}
		b.vault.emitAdmin(events.TypeSetBuidlParam, caller, common.Address{}, name+"="+value.String())
		return nil
	})
}

// Replenish redeems enough BUIDL to cover shortfall of token. Tokens other
// than the facility's liquidity token are left to the vault's own checks.
func (b *BuidlLiquidity) Replenish(token common.Address, shortfall *big.Int) error {
	if token != b.facility.Liquidity() || shortfall == nil || shortfall.Sign() <= 0 {
		return nil
	}
	amount, err := b.buidlFor(token, shortfall)
	if err != nil {
		return err
	}
	minRedeem, err := b.MinBuidlToRedeem()
	if err != nil {
		return err
	}
	if amount.Cmp(minRedeem) < 0 {
		amount = minRedeem
	}
	asset := b.facility.Asset()
	balance, err := b.vault.ledger.BalanceOf(asset, b.vault.cfg.Address)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrBuidlBalance
	}
	minBalance, err := b.MinBuidlBalance()
	if err != nil {
		return err
	}
	if new(big.Int).Sub(balance, amount).Cmp(minBalance) < 0 {
		amount = balance
	}
	if err := b.facility.Redeem(b.vault.cfg.Address, amount); err != nil {
		return err
	}
	b.vault.emit(events.BuidlRedeemed{
		Vault:     b.vault.cfg.Address,
		Asset:     asset,
		Amount:    new(big.Int).Set(amount),
		Shortfall: new(big.Int).Set(shortfall),
	})
	return nil
}

// buidlFor sizes the BUIDL redemption covering a native shortfall of token,
// rounding up at every step.
func (b *BuidlLiquidity) buidlFor(token common.Address, shortfall *big.Int) (*big.Int, error) {
	tokenDecimals, err := b.vault.ledger.Decimals(token)
	if err != nil {
		return nil, err
	}
	buidlDecimals, err := b.vault.ledger.Decimals(b.facility.Asset())
	if err != nil {
		return nil, err
	}
	shortfall18, err := decimals.ToBase18(shortfall, tokenDecimals)
	if err != nil {
		return nil, err
	}
	rate, err := b.vault.rate(b.feed)
	if err != nil {
		return nil, err
	}
	buidl18 := decimals.MulDivCeil(shortfall18, decimals.One(), rate)
	native, err := decimals.FromBase18(buidl18, buidlDecimals)
	if err != nil {
		return nil, err
	}
	back, err := decimals.ToBase18(native, buidlDecimals)
	if err != nil {
		return nil, err
	}
	if back.Cmp(buidl18) < 0 {
		native.Add(native, big.NewInt(1))
	}
	return native, nil
}

// LedgerBuidlRedemption is an in-process BUIDL facility: it takes BUIDL from
// the holder and pays the liquidity token out of its own ledger balance at a
// one to one USD value.
type LedgerBuidlRedemption struct {
	ledger    Ledger
	address   common.Address
	asset     common.Address
	liquidity common.Address
}

// NewLedgerBuidlRedemption creates a facility holding its liquidity at
// address.
func NewLedgerBuidlRedemption(ledger Ledger, address, asset, liquidity common.Address) *LedgerBuidlRedemption {
	return &LedgerBuidlRedemption{ledger: ledger, address: address, asset: asset, liquidity: liquidity}
}

func (f *LedgerBuidlRedemption) Address() common.Address   { return f.address }
func (f *LedgerBuidlRedemption) Asset() common.Address     { return f.asset }
func (f *LedgerBuidlRedemption) Liquidity() common.Address { return f.liquidity }

// AvailableLiquidity returns the facility's liquidity token balance.
func (f *LedgerBuidlRedemption) AvailableLiquidity() (*big.Int, error) {
	return f.ledger.BalanceOf(f.liquidity, f.address)
}

// Redeem swaps amount BUIDL of holder for the liquidity token.
func (f *LedgerBuidlRedemption) Redeem(holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errs.ErrInvalidAmount
	}
	assetDecimals, err := f.ledger.Decimals(f.asset)
	if err != nil {
		return err
	}
	liquidityDecimals, err := f.ledger.Decimals(f.liquidity)
	if err != nil {
		return err
	}
	payout, err := decimals.Convert(amount, assetDecimals, liquidityDecimals)
	if err != nil {
		return err
	}
	available, err := f.AvailableLiquidity()
	if err != nil {
		return err
	}
	if available.Cmp(payout) < 0 {
		return ErrFacilityLiquidity
	}
	if err := f.ledger.Transfer(f.asset, holder, f.address, amount); err != nil {
		return err
	}
	return f.ledger.Transfer(f.liquidity, f.address, holder, payout)
}
