// Package rebasing implements a share-based wrapper around an mToken whose
// balances follow the mToken price. Holders own shares; the balance shown for
// an account is its shares valued at the current price.
package rebasing

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/native/errs"
	"mvault/native/feed"
)

var (
	ErrUnknownFeed = errs.NotFound("unknown feed")
	ErrSameFeed    = errs.State("same feed")
	ErrInvalidRate = errs.Oracle("invalid rate")
)

// State is the persistence surface of the token. *state.Manager satisfies it.
type State interface {
	Atomic(fn func() error) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Ledger moves the underlying mToken.
type Ledger interface {
	TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error
	Transfer(token, from, to common.Address, amount *big.Int) error
}

// Roles is the access registry view used by the token.
type Roles interface {
	HasRole(role access.Role, account common.Address) (bool, error)
	CheckRole(role access.Role, account common.Address) error
}

// Feeds resolves the price feed. *feed.Directory satisfies it.
type Feeds interface {
	Feed(addr common.Address) (feed.PriceFeed, bool)
}

// Config describes one rebasing token.
type Config struct {
	Address    common.Address
	Name       string
	Symbol     string
	Underlying common.Address
	PriceFeed  common.Address
}

// Token is the rebasing wrapper. Every mutator runs in its own state
// transaction.
type Token struct {
	state   State
	ledger  Ledger
	roles   Roles
	feeds   Feeds
	cfg     Config
	emitter events.Emitter
}

// NewToken validates cfg and persists its price feed the first time the token
// is opened. A feed stored by an earlier run takes precedence over cfg.
func NewToken(st State, ledger Ledger, roles Roles, feeds Feeds, cfg Config) (*Token, error) {
	if st == nil || ledger == nil || roles == nil || feeds == nil {
		return nil, errors.New("rebasing: state, ledger, roles and feeds required")
	}
	if cfg.Address == (common.Address{}) || cfg.Underlying == (common.Address{}) {
		return nil, errs.ErrInvalidAddress
	}
	if _, ok := feeds.Feed(cfg.PriceFeed); !ok {
		return nil, ErrUnknownFeed
	}
	t := &Token{state: st, ledger: ledger, roles: roles, feeds: feeds, cfg: cfg, emitter: events.NoopEmitter{}}
	err := st.Atomic(func() error {
		ok, err := st.KVGet(t.key("/feed"), nil)
		if err != nil || ok {
			return err
		}
		return st.KVPut(t.key("/feed"), cfg.PriceFeed.Bytes())
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SetEmitter configures the event sink. Nil resets it to a no-op emitter.
func (t *Token) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

func (t *Token) emit(evt events.Event) {
	if t.emitter != nil {
		t.emitter.Emit(evt)
	}
}

func (t *Token) Address() common.Address    { return t.cfg.Address }
func (t *Token) Name() string               { return t.cfg.Name }
func (t *Token) Symbol() string             { return t.cfg.Symbol }
func (t *Token) Underlying() common.Address { return t.cfg.Underlying }
func (t *Token) Decimals() uint8            { return decimals.Base }

func (t *Token) key(suffix string) []byte {
	return append([]byte("rebasing/"+t.cfg.Address.Hex()), suffix...)
}

func (t *Token) sharesKey(account common.Address) []byte {
	return append(t.key("/shares/"), account.Bytes()...)
}

func (t *Token) allowanceKey(owner, spender common.Address) []byte {
	key := append(t.key("/allowance/"), owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func (t *Token) loadBig(key []byte) (*big.Int, error) {
	value := new(big.Int)
	if _, err := t.state.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (t *Token) storeBig(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return t.state.KVDelete(key)
	}
	return t.state.KVPut(key, value)
}

// PriceFeed returns the feed currently pricing the token.
func (t *Token) PriceFeed() (common.Address, error) {
	var raw []byte
	ok, err := t.state.KVGet(t.key("/feed"), &raw)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return t.cfg.PriceFeed, nil
	}
	return common.BytesToAddress(raw), nil
}

// Price returns the current base-18 price of one share.
func (t *Token) Price() (*big.Int, error) {
	addr, err := t.PriceFeed()
	if err != nil {
		return nil, err
	}
	f, ok := t.feeds.Feed(addr)
	if !ok {
		return nil, ErrUnknownFeed
	}
	price, err := f.GetDataInBase18()
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	return price, nil
}

// SetPriceFeed points the token at another registered feed.
func (t *Token) SetPriceFeed(caller, feedAddr common.Address) error {
	return t.state.Atomic(func() error {
		if err := t.roles.CheckRole(access.RebasingTokenAdminRole, caller); err != nil {
			return err
		}
		if _, ok := t.feeds.Feed(feedAddr); !ok {
			return ErrUnknownFeed
		}
		current, err := t.PriceFeed()
		if err != nil {
			return err
		}
		if current == feedAddr {
			return ErrSameFeed
		}
		if err := t.state.KVPut(t.key("/feed"), feedAddr.Bytes()); err != nil {
			return err
		}
		t.emit(events.FeedParamsChanged{Feed: t.cfg.Address, Param: "priceFeed", Value: feedAddr.Hex(), Sender: caller})
		return nil
	})
}

// TotalShares returns the number of shares in circulation.
func (t *Token) TotalShares() (*big.Int, error) {
	return t.loadBig(t.key("/totalShares"))
}

// SharesOf returns the shares held by account.
func (t *Token) SharesOf(account common.Address) (*big.Int, error) {
	return t.loadBig(t.sharesKey(account))
}

// TotalSupply values every share at the current price.
func (t *Token) TotalSupply() (*big.Int, error) {
	shares, err := t.TotalShares()
	if err != nil {
		return nil, err
	}
	return t.toAmount(shares)
}

// BalanceOf values the shares of account at the current price.
func (t *Token) BalanceOf(account common.Address) (*big.Int, error) {
	shares, err := t.SharesOf(account)
	if err != nil {
		return nil, err
	}
	return t.toAmount(shares)
}

// Allowance returns the token amount spender may move for owner.
func (t *Token) Allowance(owner, spender common.Address) (*big.Int, error) {
	return t.loadBig(t.allowanceKey(owner, spender))
}

func (t *Token) toAmount(shares *big.Int) (*big.Int, error) {
	if shares.Sign() == 0 {
		return new(big.Int), nil
	}
	price, err := t.Price()
	if err != nil {
		return nil, err
	}
	return decimals.MulDiv(shares, price, decimals.One()), nil
}

func (t *Token) toShares(amount *big.Int) (*big.Int, error) {
	price, err := t.Price()
	if err != nil {
		return nil, err
	}
	return decimals.MulDiv(amount, decimals.One(), price), nil
}

func (t *Token) requireNotBlacklisted(accounts ...common.Address) error {
	for _, account := range accounts {
		if account == (common.Address{}) {
			continue
		}
		blacklisted, err := t.roles.HasRole(access.BlacklistedRole, account)
		if err != nil {
			return err
		}
		if blacklisted {
			return errs.ErrBlacklisted
		}
	}
	return nil
}

// Mint pulls shares units of the underlying from caller and credits the same
// number of shares to to.
func (t *Token) Mint(caller, to common.Address, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return errs.ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	return t.state.Atomic(func() error {
		if err := t.requireNotBlacklisted(caller, to); err != nil {
			return err
		}
		if err := t.ledger.TransferFrom(t.cfg.Underlying, t.cfg.Address, caller, t.cfg.Address, shares); err != nil {
			return err
		}
		if err := t.moveShares(common.Address{}, to, shares); err != nil {
			return err
		}
		amount, err := t.toAmount(shares)
		if err != nil {
			return err
		}
		t.emitTransfer(common.Address{}, to, amount, shares)
		return nil
	})
}

// Burn destroys the shares worth amount and returns the underlying to caller.
func (t *Token) Burn(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errs.ErrInvalidAmount
	}
	return t.state.Atomic(func() error {
		if err := t.requireNotBlacklisted(caller); err != nil {
			return err
		}
		shares, err := t.toShares(amount)
		if err != nil {
			return err
		}
		if shares.Sign() == 0 {
			return errs.ErrInvalidAmount
		}
		if err := t.moveShares(caller, common.Address{}, shares); err != nil {
			return err
		}
		if err := t.ledger.Transfer(t.cfg.Underlying, t.cfg.Address, caller, shares); err != nil {
			return err
		}
		t.emitTransfer(caller, common.Address{}, amount, shares)
		return nil
	})
}

// Transfer moves the shares worth amount from caller to to.
func (t *Token) Transfer(caller, to common.Address, amount *big.Int) error {
	return t.state.Atomic(func() error {
		return t.transfer(caller, to, amount)
	})
}

// TransferFrom moves the shares worth amount from owner to to, consuming the
// allowance caller holds from owner.
func (t *Token) TransferFrom(caller, owner, to common.Address, amount *big.Int) error {
	return t.state.Atomic(func() error {
		if err := t.requireNotBlacklisted(caller); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return errs.ErrInvalidAmount
		}
		allowance, err := t.Allowance(owner, caller)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return errs.ErrInsufficientAllw
		}
		if err := t.storeBig(t.allowanceKey(owner, caller), allowance.Sub(allowance, amount)); err != nil {
			return err
		}
		return t.transfer(owner, to, amount)
	})
}

// Approve sets the token amount spender may move for caller.
func (t *Token) Approve(caller, spender common.Address, amount *big.Int) error {
	if caller == (common.Address{}) || spender == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return errs.ErrInvalidAmount
	}
	return t.state.Atomic(func() error {
		if err := t.requireNotBlacklisted(caller, spender); err != nil {
			return err
		}
		if err := t.storeBig(t.allowanceKey(caller, spender), new(big.Int).Set(amount)); err != nil {
			return err
		}
		t.emit(events.TokenApproval{Token: t.cfg.Address, Owner: caller, Spender: spender, Amount: new(big.Int).Set(amount)})
		return nil
	})
}

func (t *Token) transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errs.ErrInvalidAmount
	}
	if from == (common.Address{}) || to == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	if err := t.requireNotBlacklisted(from, to); err != nil {
		return err
	}
	shares, err := t.toShares(amount)
	if err != nil {
		return err
	}
	if shares.Sign() == 0 {
		return errs.ErrInvalidAmount
	}
	if err := t.moveShares(from, to, shares); err != nil {
		return err
	}
	t.emitTransfer(from, to, amount, shares)
	return nil
}

// moveShares debits from and credits to. The zero address stands for the
// mint and burn side and adjusts the total instead. A self-transfer is checked
// against the sender's shares and leaves state untouched.
func (t *Token) moveShares(from, to common.Address, shares *big.Int) error {
	if from != (common.Address{}) {
		balance, err := t.SharesOf(from)
		if err != nil {
			return err
		}
		if balance.Cmp(shares) < 0 {
			return errs.ErrInsufficientBal
		}
		if from == to {
			return nil
		}
		if err := t.storeBig(t.sharesKey(from), balance.Sub(balance, shares)); err != nil {
			return err
		}
	}
	if to != (common.Address{}) {
		balance, err := t.SharesOf(to)
		if err != nil {
			return err
		}
		if err := t.storeBig(t.sharesKey(to), balance.Add(balance, shares)); err != nil {
			return err
		}
	}
	total, err := t.TotalShares()
	if err != nil {
		return err
	}
	switch {
	case from == (common.Address{}):
		total.Add(total, shares)
	case to == (common.Address{}):
		total.Sub(total, shares)
	default:
		return nil
	}
	return t.storeBig(t.key("/totalShares"), total)
}

func (t *Token) emitTransfer(from, to common.Address, amount, shares *big.Int) {
	t.emit(events.TokenTransfer{Token: t.cfg.Address, From: from, To: to, Amount: new(big.Int).Set(amount)})
	t.emit(events.TokenTransferShares{Token: t.cfg.Address, From: from, To: to, Shares: new(big.Int).Set(shares)})
}
