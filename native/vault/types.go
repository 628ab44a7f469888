// Package vault implements the deposit and redemption vaults that mint and
// burn the mToken against approved payment tokens. Every amount crossing the
// vault API is expressed in base-18; conversions to a token's native
// precision happen only at the ledger boundary.
package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mvault/native/access"
	"mvault/native/errs"
	"mvault/native/feed"
)

// ManualFulfillmentToken marks a manual deposit or redemption settled
// off-ledger, with no payment token involved.
var ManualFulfillmentToken = common.Address{}

// MaxFeeBps is 100% expressed in basis points.
const MaxFeeBps = 10_000

var (
	ErrTokenAlreadyAdded     = errs.State("token already added")
	ErrTokenNotExists        = errs.NotFound("token not exists")
	ErrFeeExceedsLimit       = errs.Validation("fee exceeds limit")
	ErrSameState             = errs.State("same state")
	ErrAlreadyInList         = errs.State("already in list")
	ErrNotInList             = errs.State("not in list")
	ErrExceedAllowance       = errs.Validation("exceed allowance")
	ErrPaused                = errs.State("paused")
	ErrInvalidRounding       = errs.Validation("invalid rounding")
	ErrUnknownFeed           = errs.Validation("unknown feed")
	ErrRequestNotFound       = errs.NotFound("request not found")
	ErrInvalidAmounts        = errs.Validation("invalid amounts")
	ErrBelowMinimum          = errs.Validation("amount below minimum")
	ErrAlreadyFree           = errs.State("already free")
	ErrNotFree               = errs.State("not free")
	ErrInsufficientLiquidity = errs.InsufficientFunds("insufficient vault liquidity")
	ErrDailyLimitExceeded    = errs.State("daily limit exceeded")
	ErrSlippageExceeded      = errs.Validation("slippage exceeded")

	errCorruptAllowance = errs.State("corrupt token allowance")
)

// Ledger is the token system of record. Amounts are in each token's native
// precision. *state.Manager satisfies it.
type Ledger interface {
	Decimals(token common.Address) (uint8, error)
	BalanceOf(token, holder common.Address) (*big.Int, error)
	Allowance(token, owner, spender common.Address) (*big.Int, error)
	Approve(token, owner, spender common.Address, amount *big.Int) error
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error
	Mint(token, holder common.Address, amount *big.Int) error
	Burn(token, holder common.Address, amount *big.Int) error
}

// State is the persistence surface of a vault. *state.Manager satisfies it.
type State interface {
	Atomic(fn func() error) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Roles is the access registry view used by vaults.
type Roles interface {
	HasRole(role access.Role, account common.Address) (bool, error)
	CheckRole(role access.Role, account common.Address) error
}

// Feeds resolves price feed addresses. *feed.Directory satisfies it.
type Feeds interface {
	Feed(addr common.Address) (feed.PriceFeed, bool)
}

// LiquiditySource tops up a redemption vault's holdings of token when a payout
// would exceed them. Shortfall is in the token's native precision.
type LiquiditySource interface {
	Replenish(token common.Address, shortfall *big.Int) error
}

// Config is shared by deposit and redemption vaults.
type Config struct {
	Address    common.Address
	MToken     common.Address
	MTokenFeed common.Address
	AdminRole  access.Role
	// MinAmount is the EUR denominated deposit minimum for deposit vaults and
	// the mToken denominated minimum for redemption vaults.
	MinAmount         *big.Int
	InstantFeeBps     uint64
	InstantDailyLimit *big.Int
	// GreenlistDisabled turns off the greenlist requirement from the start.
	GreenlistDisabled bool
}

// TokenConfig is the per payment token configuration of a vault.
type TokenConfig struct {
	Token  common.Address
	Feed   common.Address
	FeeBps uint64
	// Allowance caps the cumulative flow of the token. Nil means unlimited.
	Allowance *big.Int
}

// Request is a pending deposit or redemption. It exists only while pending.
type Request struct {
	ID         uint64
	Sender     common.Address
	Token      common.Address
	AmountIn   *big.Int
	Fee        *big.Int
	AmountUsd  *big.Int
	TokenRate  *big.Int
	MTokenRate *big.Int
	CreatedAt  int64
}

type storedRequest struct {
	ID         uint64
	Sender     common.Address
	Token      common.Address
	AmountIn   *big.Int
	Fee        *big.Int
	AmountUsd  *big.Int
	TokenRate  *big.Int
	MTokenRate *big.Int
	CreatedAt  uint64
}

func (r *storedRequest) toRequest() *Request {
	return &Request{
		ID:         r.ID,
		Sender:     r.Sender,
		Token:      r.Token,
		AmountIn:   orZero(r.AmountIn),
		Fee:        orZero(r.Fee),
		AmountUsd:  orZero(r.AmountUsd),
		TokenRate:  orZero(r.TokenRate),
		MTokenRate: orZero(r.MTokenRate),
		CreatedAt:  int64(r.CreatedAt),
	}
}

type storedTokenConfig struct {
	Token     common.Address
	Feed      common.Address
	FeeBps    uint64
	Allowance string
}

func (c *storedTokenConfig) toConfig() (*TokenConfig, error) {
	out := &TokenConfig{Token: c.Token, Feed: c.Feed, FeeBps: c.FeeBps}
	if c.Allowance != "" {
		allowance, ok := new(big.Int).SetString(c.Allowance, 10)
		if !ok {
			return nil, errCorruptAllowance
		}
		out.Allowance = allowance
	}
	return out, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func cloneOrNil(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
