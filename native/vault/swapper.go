package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/decimals"
	"mvault/native/errs"
)

// SwapperVault is a redemption vault for one mToken that, when short of the
// payout token on an instant redemption, swaps the redeemed mToken for a
// second mToken with a liquidity provider and redeems that through a paired
// vault.
type SwapperVault struct {
	*RedemptionVault
	paired *RedemptionVault
}

// NewSwapperVault creates a swapper vault redeeming through paired. The
// liquidity provider must approve the swapper vault for the paired mToken and
// the swapper vault must be allowed to use the paired vault.
func NewSwapperVault(st State, ledger Ledger, roles Roles, feeds Feeds, cfg Config, paired *RedemptionVault, provider common.Address) (*SwapperVault, error) {
	if paired == nil {
		return nil, errors.New("swapper vault: paired vault required")
	}
	if provider == (common.Address{}) {
		return nil, errs.ErrInvalidAddress
	}
	base, err := NewRedemptionVault(st, ledger, roles, feeds, cfg)
	if err != nil {
		return nil, err
	}
	v := &SwapperVault{RedemptionVault: base, paired: paired}
	err = st.Atomic(func() error {
		exists, err := st.KVGet(vaultKey(cfg.Address, "/swapper/provider"), nil)
		if err != nil || exists {
			return err
		}
		return st.KVPut(vaultKey(cfg.Address, "/swapper/provider"), provider)
	})
	if err != nil {
		return nil, err
	}
	base.shortfall = v
	return v, nil
}

// Paired returns the vault used to settle shortfalls.
func (v *SwapperVault) Paired() *RedemptionVault { return v.paired }

// LiquidityProvider returns the account swapping mToken with the vault.
func (v *SwapperVault) LiquidityProvider() (common.Address, error) {
	var provider common.Address
	if _, err := v.state.KVGet(vaultKey(v.cfg.Address, "/swapper/provider"), &provider); err != nil {
		return common.Address{}, err
	}
	return provider, nil
}

// SetLiquidityProvider replaces the liquidity provider.
func (v *SwapperVault) SetLiquidityProvider(caller, provider common.Address) error {
	return v.adminOp(caller, func() error {
		if provider == (common.Address{}) {
			return errs.ErrInvalidAddress
		}
		current, err := v.LiquidityProvider()
		if err != nil {
			return err
		}
		if current == provider {
			return ErrSameState
		}
		if err := v.state.KVPut(vaultKey(v.cfg.Address, "/swapper/provider"), provider); err != nil {
			return err
		}
		v.emitAdmin(events.TypeSetLiquidityProvider, caller, provider, "")
		return nil
	})
}

func (v *SwapperVault) settleShortfall(caller, tokenOut common.Address, amountInWithoutFee, minReceive *big.Int) (*big.Int, error) {
	provider, err := v.LiquidityProvider()
	if err != nil {
		return nil, err
	}
	sourceRate, err := v.MTokenRate()
	if err != nil {
		return nil, err
	}
	pairedRate, err := v.paired.MTokenRate()
	if err != nil {
		return nil, err
	}
	pairedIn := decimals.MulDiv(amountInWithoutFee, sourceRate, pairedRate)
	if pairedIn.Sign() == 0 {
		return nil, errs.ErrInvalidAmount
	}
	pairedToken := v.paired.MToken()
	if err := v.push(v.cfg.MToken, provider, amountInWithoutFee); err != nil {
		return nil, err
	}
	pairedNative, err := v.toNative(pairedToken, pairedIn)
	if err != nil {
		return nil, err
	}
	if err := v.ledger.TransferFrom(pairedToken, v.cfg.Address, provider, v.cfg.Address, pairedNative); err != nil {
		return nil, err
	}
	if err := v.ledger.Approve(pairedToken, v.cfg.Address, v.paired.Address(), pairedNative); err != nil {
		return nil, err
	}
	out, err := v.paired.redeemInstant(v.cfg.Address, tokenOut, pairedIn, minReceive)
	if err != nil {
		return nil, err
	}
	if err := v.push(tokenOut, caller, out); err != nil {
		return nil, err
	}
	v.emit(events.SwapperSwap{
		Vault:       v.cfg.Address,
		User:        caller,
		SourceIn:    new(big.Int).Set(amountInWithoutFee),
		PairedIn:    pairedIn,
		PairedVault: v.paired.Address(),
	})
	return out, nil
}
