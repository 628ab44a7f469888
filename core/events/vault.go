package events

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"mvault/core/types"
)

const (
	TypeAddPaymentToken        = "vault.addPaymentToken"
	TypeRemovePaymentToken     = "vault.removePaymentToken"
	TypeSetFee                 = "vault.setFee"
	TypeChangeTokenAllowance   = "vault.changeTokenAllowance"
	TypeWithdrawToken          = "vault.withdrawToken"
	TypeChangePauseState       = "vault.changePauseState"
	TypeAddWaivedFeeAccount    = "vault.addWaivedFeeAccount"
	TypeRemoveWaivedFeeAccount = "vault.removeWaivedFeeAccount"
	TypeSetInstantDailyLimit   = "vault.setInstantDailyLimit"
	TypeSetInstantFee          = "vault.setInstantFee"
	TypeSetGreenlistEnable     = "vault.setGreenlistEnable"
	TypeSetMinAmountToDeposit  = "vault.setMinAmountToDeposit"
	TypeSetMinAmount           = "vault.setMinAmount"
	TypeFreeFromMinDeposit     = "vault.freeFromMinDeposit"
	TypeRemoveFreeFromMin      = "vault.removeFreeFromMinDeposit"
	TypeSetBuidlParam          = "vault.setBuidlParam"
	TypeSetLiquidityProvider   = "vault.setLiquidityProvider"

	TypeInitiateRequest     = "vault.initiateRequest"
	TypeFeeCollected        = "vault.feeCollected"
	TypeFulfillRequest      = "vault.fulfillRequest"
	TypeCancelRequest       = "vault.cancelRequest"
	TypePerformManualAction = "vault.performManualAction"
	TypeRedeem              = "vault.redeem"
	TypeRedeemInstant       = "vault.redeemInstant"
	TypeBuidlRedeemed       = "vault.buidlRedeemed"
	TypeSwapperSwap         = "vault.swapperSwap"
)

// VaultAdminAction captures configuration changes applied by a vault administrator.
// Kind is one of the Type* vault admin constants and doubles as the event type.
type VaultAdminAction struct {
	Kind    string
	Vault   ethcommon.Address
	Sender  ethcommon.Address
	Subject ethcommon.Address
	Value   string
}

func (e VaultAdminAction) EventType() string { return e.Kind }

func (e VaultAdminAction) Event() *types.Event {
	attrs := map[string]string{
		"vault":  formatAddress(e.Vault),
		"sender": formatAddress(e.Sender),
	}
	if !types.IsZeroAddress(e.Subject) {
		attrs["subject"] = formatAddress(e.Subject)
	}
	if e.Value != "" {
		attrs["value"] = e.Value
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}

// InitiateRequest is emitted when a deposit request is queued.
type InitiateRequest struct {
	Vault     ethcommon.Address
	RequestID uint64
	User      ethcommon.Address
	Token     ethcommon.Address
	AmountIn  *big.Int
	AmountUsd *big.Int
}

func (InitiateRequest) EventType() string { return TypeInitiateRequest }

func (e InitiateRequest) Event() *types.Event {
	return &types.Event{
		Type: TypeInitiateRequest,
		Attributes: map[string]string{
			"vault":     formatAddress(e.Vault),
			"requestId": uintToString(e.RequestID),
			"user":      formatAddress(e.User),
			"token":     formatAddress(e.Token),
			"amountIn":  formatAmount(e.AmountIn),
			"amountUsd": formatAmount(e.AmountUsd),
		},
	}
}

// FeeCollected records a fee retained by a vault.
type FeeCollected struct {
	Vault ethcommon.Address
	User  ethcommon.Address
	Token ethcommon.Address
	Fee   *big.Int
}

func (FeeCollected) EventType() string { return TypeFeeCollected }

func (e FeeCollected) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeCollected,
		Attributes: map[string]string{
			"vault": formatAddress(e.Vault),
			"user":  formatAddress(e.User),
			"token": formatAddress(e.Token),
			"fee":   formatAmount(e.Fee),
		},
	}
}

// FulfillRequest is emitted when an administrator settles a pending request.
type FulfillRequest struct {
	Vault     ethcommon.Address
	RequestID uint64
	User      ethcommon.Address
	AmountOut *big.Int
	Sender    ethcommon.Address
}

func (FulfillRequest) EventType() string { return TypeFulfillRequest }

func (e FulfillRequest) Event() *types.Event {
	return &types.Event{
		Type: TypeFulfillRequest,
		Attributes: map[string]string{
			"vault":     formatAddress(e.Vault),
			"requestId": uintToString(e.RequestID),
			"user":      formatAddress(e.User),
			"amountOut": formatAmount(e.AmountOut),
			"sender":    formatAddress(e.Sender),
		},
	}
}

// CancelRequest is emitted when an administrator cancels a pending request.
type CancelRequest struct {
	Vault     ethcommon.Address
	RequestID uint64
	User      ethcommon.Address
	Refund    *big.Int
	Sender    ethcommon.Address
}

func (CancelRequest) EventType() string { return TypeCancelRequest }

func (e CancelRequest) Event() *types.Event {
	return &types.Event{
		Type: TypeCancelRequest,
		Attributes: map[string]string{
			"vault":     formatAddress(e.Vault),
			"requestId": uintToString(e.RequestID),
			"user":      formatAddress(e.User),
			"refund":    formatAmount(e.Refund),
			"sender":    formatAddress(e.Sender),
		},
	}
}

// PerformManualAction records an administrator bypass of the request queue.
type PerformManualAction struct {
	Vault     ethcommon.Address
	Action    string
	User      ethcommon.Address
	Token     ethcommon.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Sender    ethcommon.Address
}

func (PerformManualAction) EventType() string { return TypePerformManualAction }

func (e PerformManualAction) Event() *types.Event {
	return &types.Event{
		Type: TypePerformManualAction,
		Attributes: map[string]string{
			"vault":     formatAddress(e.Vault),
			"action":    e.Action,
			"user":      formatAddress(e.User),
			"token":     formatAddress(e.Token),
			"amountIn":  formatAmount(e.AmountIn),
			"amountOut": formatAmount(e.AmountOut),
			"sender":    formatAddress(e.Sender),
		},
	}
}

// Redeem is emitted when a redemption request is queued and the mToken escrowed.
type Redeem struct {
	Vault     ethcommon.Address
	RequestID uint64
	User      ethcommon.Address
	Token     ethcommon.Address
	AmountIn  *big.Int
	Fee       *big.Int
}

func (Redeem) EventType() string { return TypeRedeem }

func (e Redeem) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeem,
		Attributes: map[string]string{
			"vault":     formatAddress(e.Vault),
			"requestId": uintToString(e.RequestID),
			"user":      formatAddress(e.User),
			"token":     formatAddress(e.Token),
			"amountIn":  formatAmount(e.AmountIn),
			"fee":       formatAmount(e.Fee),
		},
	}
}

// RedeemInstant is emitted for redemptions settled without the request queue.
type RedeemInstant struct {
	Vault     ethcommon.Address
	User      ethcommon.Address
	Token     ethcommon.Address
	AmountIn  *big.Int
	Fee       *big.Int
	AmountOut *big.Int
}

func (RedeemInstant) EventType() string { return TypeRedeemInstant }

func (e RedeemInstant) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeemInstant,
		Attributes: map[string]string{
			"vault":     formatAddress(e.Vault),
			"user":      formatAddress(e.User),
			"token":     formatAddress(e.Token),
			"amountIn":  formatAmount(e.AmountIn),
			"fee":       formatAmount(e.Fee),
			"amountOut": formatAmount(e.AmountOut),
		},
	}
}

// BuidlRedeemed records liquidity pulled from the external BUIDL facility.
type BuidlRedeemed struct {
	Vault     ethcommon.Address
	Asset     ethcommon.Address
	Amount    *big.Int
	Shortfall *big.Int
}

func (BuidlRedeemed) EventType() string { return TypeBuidlRedeemed }

func (e BuidlRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeBuidlRedeemed,
		Attributes: map[string]string{
			"vault":     formatAddress(e.Vault),
			"asset":     formatAddress(e.Asset),
			"amount":    formatAmount(e.Amount),
			"shortfall": formatAmount(e.Shortfall),
		},
	}
}

// SwapperSwap records an mToken swap routed through a paired redemption vault.
type SwapperSwap struct {
	Vault       ethcommon.Address
	User        ethcommon.Address
	SourceIn    *big.Int
	PairedIn    *big.Int
	PairedVault ethcommon.Address
}

func (SwapperSwap) EventType() string { return TypeSwapperSwap }

func (e SwapperSwap) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapperSwap,
		Attributes: map[string]string{
			"vault":       formatAddress(e.Vault),
			"user":        formatAddress(e.User),
			"sourceIn":    formatAmount(e.SourceIn),
			"pairedIn":    formatAmount(e.PairedIn),
			"pairedVault": formatAddress(e.PairedVault),
		},
	}
}
