package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/native/errs"
)

// instantShortfallHandler settles an instant redemption the vault cannot pay
// from its own holdings. It returns the base-18 amount delivered to caller.
type instantShortfallHandler interface {
	settleShortfall(caller, tokenOut common.Address, amountInWithoutFee, minReceive *big.Int) (*big.Int, error)
}

// RedemptionVault escrows mToken against redemption requests and pays out
// payment tokens, either on administrator fulfilment or instantly.
type RedemptionVault struct {
	*Manageable
	liquidity LiquiditySource
	shortfall instantShortfallHandler
}

// NewRedemptionVault creates a redemption vault. The admin role defaults to
// the redemption vault admin role. MinAmount is denominated in mToken.
func NewRedemptionVault(st State, ledger Ledger, roles Roles, feeds Feeds, cfg Config) (*RedemptionVault, error) {
	if cfg.AdminRole == access.DefaultAdminRole {
		cfg.AdminRole = access.RedemptionVaultAdminRole
	}
	base, err := newManageable(st, ledger, roles, feeds, cfg)
	if err != nil {
		return nil, err
	}
	return &RedemptionVault{Manageable: base}, nil
}

// SetLiquiditySource installs the source consulted when holdings of a payout
// token run short. Nil removes it.
func (v *RedemptionVault) SetLiquiditySource(source LiquiditySource) {
	v.liquidity = source
}

// SetMinAmount sets the mToken denominated redemption minimum.
func (v *RedemptionVault) SetMinAmount(caller common.Address, value *big.Int) error {
	return v.setMinAmount(caller, events.TypeSetMinAmount, value)
}

// TotalRedeemed returns the mToken volume redeemed by user.
func (v *RedemptionVault) TotalRedeemed(user common.Address) (*big.Int, error) {
	return v.Total(user)
}

func (v *RedemptionVault) checkMinimum(caller common.Address, amountIn *big.Int) error {
	free, err := v.IsFreeFromMin(caller)
	if err != nil || free {
		return err
	}
	minAmount, err := v.MinAmount()
	if err != nil {
		return err
	}
	if amountIn.Cmp(minAmount) < 0 {
		return ErrBelowMinimum
	}
	return nil
}

// holdings returns the vault's native balance of token.
func (v *RedemptionVault) holdings(token common.Address) (*big.Int, error) {
	return v.ledger.BalanceOf(token, v.cfg.Address)
}

// ensureLiquidity makes sure the vault holds at least the native equivalent
// of amount, asking the liquidity source to cover any shortfall.
func (v *RedemptionVault) ensureLiquidity(token common.Address, amount *big.Int) error {
	native, err := v.toNative(token, amount)
	if err != nil {
		return err
	}
	balance, err := v.holdings(token)
	if err != nil {
		return err
	}
	if balance.Cmp(native) >= 0 {
		return nil
	}
	if v.liquidity != nil {
		if err := v.liquidity.Replenish(token, new(big.Int).Sub(native, balance)); err != nil {
			return err
		}
		if balance, err = v.holdings(token); err != nil {
			return err
		}
	}
	if balance.Cmp(native) < 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

// InitiateRedemptionRequest escrows amountIn mToken from caller and queues a
// request for tokenOut.
func (v *RedemptionVault) InitiateRedemptionRequest(caller, tokenOut common.Address, amountIn *big.Int) (uint64, error) {
	var id uint64
	err := v.state.Atomic(func() error {
		var err error
		id, err = v.initiate(caller, tokenOut, amountIn)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Redeem is an alias of InitiateRedemptionRequest.
func (v *RedemptionVault) Redeem(caller, tokenOut common.Address, amountIn *big.Int) (uint64, error) {
	return v.InitiateRedemptionRequest(caller, tokenOut, amountIn)
}

func (v *RedemptionVault) initiate(caller, tokenOut common.Address, amountIn *big.Int) (uint64, error) {
	if err := v.requireUser(caller); err != nil {
		return 0, err
	}
	cfg, err := v.tokenConfig(tokenOut)
	if err != nil {
		return 0, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return 0, errs.ErrInvalidAmount
	}
	fee, err := v.feeAmount(caller, cfg, amountIn, false)
	if err != nil {
		return 0, err
	}
	if err := v.checkMinimum(caller, amountIn); err != nil {
		return 0, err
	}
	tokenRate, err := v.rate(cfg.Feed)
	if err != nil {
		return 0, err
	}
	mTokenRate, err := v.MTokenRate()
	if err != nil {
		return 0, err
	}
	if err := v.pull(v.cfg.MToken, caller, amountIn); err != nil {
		return 0, err
	}
	id, err := v.nextRequestID()
	if err != nil {
		return 0, err
	}
	net := new(big.Int).Sub(amountIn, fee)
	req := &Request{
		ID:         id,
		Sender:     caller,
		Token:      tokenOut,
		AmountIn:   net,
		Fee:        fee,
		AmountUsd:  decimals.MulDiv(net, mTokenRate, decimals.One()),
		TokenRate:  tokenRate,
		MTokenRate: mTokenRate,
		CreatedAt:  v.now(),
	}
	if err := v.storeRequest(req); err != nil {
		return 0, err
	}
	v.emit(events.Redeem{
		Vault:     v.cfg.Address,
		RequestID: id,
		User:      caller,
		Token:     tokenOut,
		AmountIn:  new(big.Int).Set(net),
		Fee:       new(big.Int).Set(fee),
	})
	v.emit(events.FeeCollected{Vault: v.cfg.Address, User: caller, Token: v.cfg.MToken, Fee: new(big.Int).Set(fee)})
	return id, nil
}

// EstimateAmountOut values a pending request in its payout token at current
// rates.
func (v *RedemptionVault) EstimateAmountOut(id uint64) (*big.Int, error) {
	req, err := v.Request(id)
	if err != nil {
		return nil, err
	}
	mTokenRate, err := v.MTokenRate()
	if err != nil {
		return nil, err
	}
	tokenRate, err := v.TokenRate(req.Token)
	if err != nil {
		return nil, err
	}
	return decimals.MulDiv(req.AmountIn, mTokenRate, tokenRate), nil
}

// FulfillRedemptionRequest pays amountOut of the request's token to its sender,
// burns the escrowed net mToken and removes the request. The fee stays in the
// vault.
func (v *RedemptionVault) FulfillRedemptionRequest(caller common.Address, id uint64, amountOut *big.Int) error {
	return v.adminOp(caller, func() error {
		req, err := v.Request(id)
		if err != nil {
			return err
		}
		if amountOut == nil || amountOut.Sign() <= 0 {
			return errs.ErrInvalidAmount
		}
		if err := v.consumeListedAllowance(req.Token, amountOut); err != nil {
			return err
		}
		if err := v.ensureLiquidity(req.Token, amountOut); err != nil {
			return err
		}
		if err := v.push(req.Token, req.Sender, amountOut); err != nil {
			return err
		}
		if err := v.ledger.Burn(v.cfg.MToken, v.cfg.Address, req.AmountIn); err != nil {
			return err
		}
		if err := v.adjustTotal(req.Sender, req.AmountIn); err != nil {
			return err
		}
		if err := v.deleteRequest(id); err != nil {
			return err
		}
		v.emit(events.FulfillRequest{
			Vault:     v.cfg.Address,
			RequestID: id,
			User:      req.Sender,
			AmountOut: new(big.Int).Set(amountOut),
			Sender:    caller,
		})
		return nil
	})
}

// CancelRedemptionRequest returns the escrowed mToken, fee included, and
// removes the request.
func (v *RedemptionVault) CancelRedemptionRequest(caller common.Address, id uint64) error {
	return v.adminOp(caller, func() error {
		req, err := v.Request(id)
		if err != nil {
			return err
		}
		refund := new(big.Int).Add(req.AmountIn, req.Fee)
		if err := v.push(v.cfg.MToken, req.Sender, refund); err != nil {
			return err
		}
		if err := v.deleteRequest(id); err != nil {
			return err
		}
		v.emit(events.CancelRequest{Vault: v.cfg.Address, RequestID: id, User: req.Sender, Refund: refund, Sender: caller})
		return nil
	})
}

// ManuallyRedeem burns amountIn mToken from user and pays amountOut of
// tokenOut for a redemption agreed outside the vault. TokenOut may be
// ManualFulfillmentToken when the payout happens off-ledger.
func (v *RedemptionVault) ManuallyRedeem(caller, user, tokenOut common.Address, amountIn, amountOut *big.Int) error {
	return v.adminOp(caller, func() error {
		burn := orZero(amountIn)
		payout := orZero(amountOut)
		if burn.Sign() < 0 || payout.Sign() < 0 || (burn.Sign() == 0 && payout.Sign() == 0) {
			return ErrInvalidAmounts
		}
		if user == (common.Address{}) {
			return errs.ErrInvalidAddress
		}
		if tokenOut != ManualFulfillmentToken {
			if _, err := v.tokenConfig(tokenOut); err != nil {
				return err
			}
		}
		if burn.Sign() > 0 {
			balance, err := v.ledger.BalanceOf(v.cfg.MToken, user)
			if err != nil {
				return err
			}
			if balance.Cmp(burn) < 0 {
				return errs.ErrInsufficientBal
			}
			if err := v.ledger.Burn(v.cfg.MToken, user, burn); err != nil {
				return err
			}
		}
		if payout.Sign() > 0 && tokenOut != ManualFulfillmentToken {
			if err := v.ensureLiquidity(tokenOut, payout); err != nil {
				return err
			}
			if err := v.push(tokenOut, user, payout); err != nil {
				return err
			}
		}
		if err := v.adjustTotal(user, burn); err != nil {
			return err
		}
		v.emit(events.PerformManualAction{
			Vault:     v.cfg.Address,
			Action:    "redeem",
			User:      user,
			Token:     tokenOut,
			AmountIn:  burn,
			AmountOut: payout,
			Sender:    caller,
		})
		return nil
	})
}

// RedeemInstant redeems amountIn mToken for tokenOut immediately. The payout
// must reach minReceive; nil accepts any amount.
func (v *RedemptionVault) RedeemInstant(caller, tokenOut common.Address, amountIn, minReceive *big.Int) (*big.Int, error) {
	var out *big.Int
	err := v.state.Atomic(func() error {
		var err error
		out, err = v.redeemInstant(caller, tokenOut, amountIn, minReceive)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (v *RedemptionVault) redeemInstant(caller, tokenOut common.Address, amountIn, minReceive *big.Int) (*big.Int, error) {
	if err := v.requireUser(caller); err != nil {
		return nil, err
	}
	cfg, err := v.tokenConfig(tokenOut)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errs.ErrInvalidAmount
	}
	fee, err := v.feeAmount(caller, cfg, amountIn, true)
	if err != nil {
		return nil, err
	}
	if err := v.checkMinimum(caller, amountIn); err != nil {
		return nil, err
	}
	if err := v.consumeDailyLimit(amountIn); err != nil {
		return nil, err
	}
	mTokenRate, err := v.MTokenRate()
	if err != nil {
		return nil, err
	}
	tokenRate, err := v.rate(cfg.Feed)
	if err != nil {
		return nil, err
	}
	net := new(big.Int).Sub(amountIn, fee)
	amountOut, err := v.truncate(tokenOut, decimals.MulDiv(net, mTokenRate, tokenRate))
	if err != nil {
		return nil, err
	}
	if amountOut.Sign() == 0 {
		return nil, errs.ErrInvalidAmount
	}
	if minReceive != nil && amountOut.Cmp(minReceive) < 0 {
		return nil, ErrSlippageExceeded
	}
	if err := v.consumeAllowance(tokenOut, amountOut); err != nil {
		return nil, err
	}
	if err := v.pull(v.cfg.MToken, caller, amountIn); err != nil {
		return nil, err
	}
	if err := v.adjustTotal(caller, net); err != nil {
		return nil, err
	}
	if v.shortfall != nil {
		short, err := v.shortOf(tokenOut, amountOut)
		if err != nil {
			return nil, err
		}
		if short {
			delivered, err := v.shortfall.settleShortfall(caller, tokenOut, net, minReceive)
			if err != nil {
				return nil, err
			}
			v.emitInstant(caller, tokenOut, amountIn, fee, delivered)
			return delivered, nil
		}
	}
	if err := v.ledger.Burn(v.cfg.MToken, v.cfg.Address, net); err != nil {
		return nil, err
	}
	if err := v.ensureLiquidity(tokenOut, amountOut); err != nil {
		return nil, err
	}
	if err := v.push(tokenOut, caller, amountOut); err != nil {
		return nil, err
	}
	v.emitInstant(caller, tokenOut, amountIn, fee, amountOut)
	return amountOut, nil
}

func (v *RedemptionVault) shortOf(token common.Address, amount *big.Int) (bool, error) {
	native, err := v.toNative(token, amount)
	if err != nil {
		return false, err
	}
	balance, err := v.holdings(token)
	if err != nil {
		return false, err
	}
	return balance.Cmp(native) < 0, nil
}

func (v *RedemptionVault) emitInstant(caller, tokenOut common.Address, amountIn, fee, amountOut *big.Int) {
	v.emit(events.RedeemInstant{
		Vault:     v.cfg.Address,
		User:      caller,
		Token:     tokenOut,
		AmountIn:  new(big.Int).Set(amountIn),
		Fee:       new(big.Int).Set(fee),
		AmountOut: new(big.Int).Set(amountOut),
	})
	v.emit(events.FeeCollected{Vault: v.cfg.Address, User: caller, Token: v.cfg.MToken, Fee: new(big.Int).Set(fee)})
}
