package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/native/errs"
)

// DepositConfig configures a deposit vault. MinAmount is expressed in EUR and
// converted with the EUR/USD feed; a zero EurUsdFeed values 1 EUR at 1 USD.
type DepositConfig struct {
	Config
	EurUsdFeed common.Address
}

// DepositVault accepts payment tokens and queues deposit requests that an
// administrator later fulfils by minting mToken.
type DepositVault struct {
	*Manageable
	eurUsdFeed common.Address
}

// NewDepositVault creates a deposit vault. The admin role defaults to the
// deposit vault admin role.
func NewDepositVault(st State, ledger Ledger, roles Roles, feeds Feeds, cfg DepositConfig) (*DepositVault, error) {
	if cfg.AdminRole == access.DefaultAdminRole {
		cfg.AdminRole = access.DepositVaultAdminRole
	}
	if cfg.EurUsdFeed != (common.Address{}) {
		if _, ok := feeds.Feed(cfg.EurUsdFeed); !ok {
			return nil, ErrUnknownFeed
		}
	}
	base, err := newManageable(st, ledger, roles, feeds, cfg.Config)
	if err != nil {
		return nil, err
	}
	return &DepositVault{Manageable: base, eurUsdFeed: cfg.EurUsdFeed}, nil
}

// MinRequiredUsd returns the EUR minimum converted to base-18 USD.
func (v *DepositVault) MinRequiredUsd() (*big.Int, error) {
	minEur, err := v.MinAmount()
	if err != nil {
		return nil, err
	}
	eurRate, err := v.rate(v.eurUsdFeed)
	if err != nil {
		return nil, err
	}
	return decimals.MulDiv(minEur, eurRate, decimals.One()), nil
}

// Deposit pulls amountIn of tokenIn from caller and queues a request. The
// caller must have approved the vault for the native amount.
func (v *DepositVault) Deposit(caller, tokenIn common.Address, amountIn *big.Int) (uint64, error) {
	var id uint64
	err := v.state.Atomic(func() error {
		var err error
		id, err = v.deposit(caller, tokenIn, amountIn)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (v *DepositVault) deposit(caller, tokenIn common.Address, amountIn *big.Int) (uint64, error) {
	if err := v.requireUser(caller); err != nil {
		return 0, err
	}
	cfg, err := v.tokenConfig(tokenIn)
	if err != nil {
		return 0, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return 0, errs.ErrInvalidAmount
	}
	tokenRate, err := v.rate(cfg.Feed)
	if err != nil {
		return 0, err
	}
	amountUsd := decimals.MulDiv(amountIn, tokenRate, decimals.One())
	feeUsd, err := v.feeAmount(caller, cfg, amountUsd, false)
	if err != nil {
		return 0, err
	}
	feeTokens, err := v.feeAmount(caller, cfg, amountIn, false)
	if err != nil {
		return 0, err
	}
	netUsd := new(big.Int).Sub(amountUsd, feeUsd)
	free, err := v.IsFreeFromMin(caller)
	if err != nil {
		return 0, err
	}
	if !free {
		minUsd, err := v.MinRequiredUsd()
		if err != nil {
			return 0, err
		}
		if netUsd.Cmp(minUsd) < 0 {
			return 0, ErrBelowMinimum
		}
	}
	if err := v.consumeAllowance(tokenIn, amountIn); err != nil {
		return 0, err
	}
	if err := v.pull(tokenIn, caller, amountIn); err != nil {
		return 0, err
	}
	id, err := v.nextRequestID()
	if err != nil {
		return 0, err
	}
	netTokens := new(big.Int).Sub(amountIn, feeTokens)
	req := &Request{
		ID:        id,
		Sender:    caller,
		Token:     tokenIn,
		AmountIn:  netTokens,
		Fee:       feeTokens,
		AmountUsd: netUsd,
		TokenRate: tokenRate,
		CreatedAt: v.now(),
	}
	if err := v.storeRequest(req); err != nil {
		return 0, err
	}
	if err := v.adjustTotal(caller, netUsd); err != nil {
		return 0, err
	}
	v.emit(events.InitiateRequest{
		Vault:     v.cfg.Address,
		RequestID: id,
		User:      caller,
		Token:     tokenIn,
		AmountIn:  new(big.Int).Set(netTokens),
		AmountUsd: new(big.Int).Set(netUsd),
	})
	v.emit(events.FeeCollected{Vault: v.cfg.Address, User: caller, Token: tokenIn, Fee: new(big.Int).Set(feeTokens)})
	return id, nil
}

// FulfillDepositRequest mints mintAmountOut mToken to the request's sender and
// removes the request.
func (v *DepositVault) FulfillDepositRequest(caller common.Address, id uint64, mintAmountOut *big.Int) error {
	return v.adminOp(caller, func() error {
		req, err := v.Request(id)
		if err != nil {
			return err
		}
		if mintAmountOut == nil || mintAmountOut.Sign() <= 0 {
			return errs.ErrInvalidAmount
		}
		if err := v.ledger.Mint(v.cfg.MToken, req.Sender, mintAmountOut); err != nil {
			return err
		}
		if err := v.deleteRequest(id); err != nil {
			return err
		}
		v.emit(events.FulfillRequest{
			Vault:     v.cfg.Address,
			RequestID: id,
			User:      req.Sender,
			AmountOut: new(big.Int).Set(mintAmountOut),
			Sender:    caller,
		})
		return nil
	})
}

// CancelDepositRequest refunds the full deposit, fee included, and removes the
// request.
func (v *DepositVault) CancelDepositRequest(caller common.Address, id uint64) error {
	return v.adminOp(caller, func() error {
		req, err := v.Request(id)
		if err != nil {
			return err
		}
		refund := new(big.Int).Add(req.AmountIn, req.Fee)
		if err := v.push(req.Token, req.Sender, refund); err != nil {
			return err
		}
		if err := v.adjustTotal(req.Sender, new(big.Int).Neg(req.AmountUsd)); err != nil {
			return err
		}
		if err := v.deleteRequest(id); err != nil {
			return err
		}
		v.emit(events.CancelRequest{Vault: v.cfg.Address, RequestID: id, User: req.Sender, Refund: refund, Sender: caller})
		return nil
	})
}

// ManuallyDeposit mints mToken for a deposit settled outside the vault. Token
// is either a registered payment token or ManualFulfillmentToken.
func (v *DepositVault) ManuallyDeposit(caller, user, token common.Address, amountUsdIn, mintAmountOut *big.Int) error {
	return v.adminOp(caller, func() error {
		usdIn := orZero(amountUsdIn)
		mintOut := orZero(mintAmountOut)
		if usdIn.Sign() < 0 || mintOut.Sign() < 0 || (usdIn.Sign() == 0 && mintOut.Sign() == 0) {
			return ErrInvalidAmounts
		}
		if user == (common.Address{}) {
			return errs.ErrInvalidAddress
		}
		if token != ManualFulfillmentToken {
			if _, err := v.tokenConfig(token); err != nil {
				return err
			}
		}
		if mintOut.Sign() > 0 {
			if err := v.ledger.Mint(v.cfg.MToken, user, mintOut); err != nil {
				return err
			}
		}
		if err := v.adjustTotal(user, usdIn); err != nil {
			return err
		}
		v.emit(events.PerformManualAction{
			Vault:     v.cfg.Address,
			Action:    "deposit",
			User:      user,
			Token:     token,
			AmountIn:  usdIn,
			AmountOut: mintOut,
			Sender:    caller,
		})
		return nil
	})
}

// FreeFromMinDeposit exempts user from the deposit minimum.
func (v *DepositVault) FreeFromMinDeposit(caller, user common.Address) error {
	return v.FreeFromMin(caller, user)
}

// RemoveFreeFromMinDeposit restores the deposit minimum for user.
func (v *DepositVault) RemoveFreeFromMinDeposit(caller, user common.Address) error {
	return v.RemoveFreeFromMin(caller, user)
}

// SetMinAmountToDeposit sets the EUR denominated deposit minimum.
func (v *DepositVault) SetMinAmountToDeposit(caller common.Address, value *big.Int) error {
	return v.setMinAmount(caller, events.TypeSetMinAmountToDeposit, value)
}

// TotalDeposited returns the net USD volume deposited by user.
func (v *DepositVault) TotalDeposited(user common.Address) (*big.Int, error) {
	return v.Total(user)
}

// EstimateMintAmount values a pending request at the current mToken rate.
func (v *DepositVault) EstimateMintAmount(id uint64) (*big.Int, error) {
	req, err := v.Request(id)
	if err != nil {
		return nil, err
	}
	rate, err := v.MTokenRate()
	if err != nil {
		return nil, err
	}
	return decimals.MulDiv(req.AmountUsd, decimals.One(), rate), nil
}
