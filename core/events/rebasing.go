package events

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"mvault/core/types"
)

const (
	TypeTokenTransfer       = "rebasing.transfer"
	TypeTokenTransferShares = "rebasing.transferShares"
	TypeTokenApproval       = "rebasing.approval"
)

// TokenTransfer reports a movement of rebasing token balance. Mints use the
// zero address as From and burns use it as To.
type TokenTransfer struct {
	Token  ethcommon.Address
	From   ethcommon.Address
	To     ethcommon.Address
	Amount *big.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"token":  formatAddress(e.Token),
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}

// TokenTransferShares mirrors TokenTransfer in share units.
type TokenTransferShares struct {
	Token  ethcommon.Address
	From   ethcommon.Address
	To     ethcommon.Address
	Shares *big.Int
}

func (TokenTransferShares) EventType() string { return TypeTokenTransferShares }

func (e TokenTransferShares) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransferShares,
		Attributes: map[string]string{
			"token":  formatAddress(e.Token),
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"shares": formatAmount(e.Shares),
		},
	}
}

// TokenApproval records an allowance update.
type TokenApproval struct {
	Token   ethcommon.Address
	Owner   ethcommon.Address
	Spender ethcommon.Address
	Amount  *big.Int
}

func (TokenApproval) EventType() string { return TypeTokenApproval }

func (e TokenApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenApproval,
		Attributes: map[string]string{
			"token":   formatAddress(e.Token),
			"owner":   formatAddress(e.Owner),
			"spender": formatAddress(e.Spender),
			"amount":  formatAmount(e.Amount),
		},
	}
}
