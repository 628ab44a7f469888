package state

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"mvault/native/errs"
)

// TokenMetadata describes a fungible token tracked by the ledger.
type TokenMetadata struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Supply   *big.Int
}

var (
	tokenListKey = []byte("ledger/tokens")

	errUnknownToken = errs.NotFound("unknown token")
)

func tokenMetadataKey(token common.Address) []byte {
	return append([]byte("ledger/token/"), token.Bytes()...)
}

func balanceKey(token, holder common.Address) []byte {
	key := append([]byte("ledger/balance/"), token.Bytes()...)
	return append(key, holder.Bytes()...)
}

func allowanceKey(token, owner, spender common.Address) []byte {
	key := append([]byte("ledger/allowance/"), token.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

// RegisterToken records a token so that balances can be held in it.
func (m *Manager) RegisterToken(token common.Address, symbol string, decimals uint8) error {
	if token == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return errs.Validation("token symbol must not be empty")
	}
	existing, err := m.Token(token)
	if err != nil {
		return err
	}
	if existing != nil {
		return errs.State("token already registered")
	}
	meta := &TokenMetadata{Address: token, Symbol: normalized, Decimals: decimals, Supply: new(big.Int)}
	if err := m.KVPut(tokenMetadataKey(token), meta); err != nil {
		return err
	}
	return m.KVAppend(tokenListKey, token.Bytes())
}

// Token returns the metadata for token or nil when it is not registered.
func (m *Manager) Token(token common.Address) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey(token), meta)
	if err != nil || !ok {
		return nil, err
	}
	if meta.Supply == nil {
		meta.Supply = new(big.Int)
	}
	return meta, nil
}

// Tokens lists every registered token in registration order.
func (m *Manager) Tokens() ([]common.Address, error) {
	var raw [][]byte
	if err := m.KVGetList(tokenListKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i := range raw {
		out[i] = common.BytesToAddress(raw[i])
	}
	return out, nil
}

func (m *Manager) requireToken(token common.Address) (*TokenMetadata, error) {
	meta, err := m.Token(token)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, errUnknownToken
	}
	return meta, nil
}

// Decimals reports the precision of a registered token.
func (m *Manager) Decimals(token common.Address) (uint8, error) {
	meta, err := m.requireToken(token)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// TotalSupply returns the minted supply of token.
func (m *Manager) TotalSupply(token common.Address) (*big.Int, error) {
	meta, err := m.requireToken(token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(meta.Supply), nil
}

// BalanceOf returns the balance held by holder. Unknown holders have zero.
func (m *Manager) BalanceOf(token, holder common.Address) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := m.KVGet(balanceKey(token, holder), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (m *Manager) setBalance(token, holder common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return m.KVDelete(balanceKey(token, holder))
	}
	return m.KVPut(balanceKey(token, holder), amount)
}

// Allowance returns the amount spender may move out of owner's balance.
func (m *Manager) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	allowance := new(big.Int)
	if _, err := m.KVGet(allowanceKey(token, owner, spender), allowance); err != nil {
		return nil, err
	}
	return allowance, nil
}

// Approve overwrites the allowance granted by owner to spender.
func (m *Manager) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if _, err := m.requireToken(token); err != nil {
		return err
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return errs.ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return m.KVDelete(allowanceKey(token, owner, spender))
	}
	return m.KVPut(allowanceKey(token, owner, spender), amount)
}

// Transfer moves amount of token from one holder to another.
func (m *Manager) Transfer(token, from, to common.Address, amount *big.Int) error {
	if _, err := m.requireToken(token); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return errs.ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBalance, err := m.BalanceOf(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return errs.ErrInsufficientBal
	}
	toBalance, err := m.BalanceOf(token, to)
	if err != nil {
		return err
	}
	if err := m.setBalance(token, from, fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	return m.setBalance(token, to, toBalance.Add(toBalance, amount))
}

// TransferFrom moves amount on behalf of owner, consuming spender's allowance.
func (m *Manager) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errs.ErrInvalidAmount
	}
	if spender != owner {
		allowance, err := m.Allowance(token, owner, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return errs.ErrInsufficientAllw
		}
		if err := m.Approve(token, owner, spender, allowance.Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return m.Transfer(token, owner, to, amount)
}

// Mint credits freshly issued tokens to holder.
func (m *Manager) Mint(token, holder common.Address, amount *big.Int) error {
	meta, err := m.requireToken(token)
	if err != nil {
		return err
	}
	if holder == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return errs.ErrInvalidAmount
	}
	balance, err := m.BalanceOf(token, holder)
	if err != nil {
		return err
	}
	if err := m.setBalance(token, holder, balance.Add(balance, amount)); err != nil {
		return err
	}
	meta.Supply = new(big.Int).Add(meta.Supply, amount)
	return m.KVPut(tokenMetadataKey(token), meta)
}

// Burn destroys amount of holder's tokens.
func (m *Manager) Burn(token, holder common.Address, amount *big.Int) error {
	meta, err := m.requireToken(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errs.ErrInvalidAmount
	}
	balance, err := m.BalanceOf(token, holder)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errs.ErrInsufficientBal
	}
	if err := m.setBalance(token, holder, balance.Sub(balance, amount)); err != nil {
		return err
	}
	meta.Supply = new(big.Int).Sub(meta.Supply, amount)
	return m.KVPut(tokenMetadataKey(token), meta)
}
