package events

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	"mvault/core/types"
)

const (
	TypeRoleGranted      = "access.roleGranted"
	TypeRoleRevoked      = "access.roleRevoked"
	TypeRoleAdminChanged = "access.roleAdminChanged"
)

// RoleGranted is emitted when account gains membership of role.
type RoleGranted struct {
	Role    [32]byte
	Account ethcommon.Address
	Sender  ethcommon.Address
}

func (RoleGranted) EventType() string { return TypeRoleGranted }

func (e RoleGranted) Event() *types.Event {
	return &types.Event{
		Type: TypeRoleGranted,
		Attributes: map[string]string{
			"role":    ethcommon.Hash(e.Role).Hex(),
			"account": formatAddress(e.Account),
			"sender":  formatAddress(e.Sender),
		},
	}
}

// RoleRevoked is emitted when account loses membership of role, including renunciation.
type RoleRevoked struct {
	Role    [32]byte
	Account ethcommon.Address
	Sender  ethcommon.Address
}

func (RoleRevoked) EventType() string { return TypeRoleRevoked }

func (e RoleRevoked) Event() *types.Event {
	return &types.Event{
		Type: TypeRoleRevoked,
		Attributes: map[string]string{
			"role":    ethcommon.Hash(e.Role).Hex(),
			"account": formatAddress(e.Account),
			"sender":  formatAddress(e.Sender),
		},
	}
}

// RoleAdminChanged records a change of the role that administers Role.
type RoleAdminChanged struct {
	Role          [32]byte
	PreviousAdmin [32]byte
	NewAdmin      [32]byte
}

func (RoleAdminChanged) EventType() string { return TypeRoleAdminChanged }

func (e RoleAdminChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeRoleAdminChanged,
		Attributes: map[string]string{
			"role":          ethcommon.Hash(e.Role).Hex(),
			"previousAdmin": ethcommon.Hash(e.PreviousAdmin).Hex(),
			"newAdmin":      ethcommon.Hash(e.NewAdmin).Hex(),
		},
	}
}
