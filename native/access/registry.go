// Package access implements the role registry that gates every privileged
// and user-facing operation of the vaults, feeds and tokens.
package access

import (
	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/errs"
)

var (
	ErrAlreadyInitialized = errs.State("already initialized")
	ErrRenounceForSelf    = errs.Authorization("can only renounce roles for self")
	ErrMismatchedLengths  = errs.Validation("mismatched lengths")
)

// State is the persistence surface the registry needs. *state.Manager
// satisfies it.
type State interface {
	Atomic(fn func() error) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var initializedKey = []byte("access/initialized")

func memberKey(role Role, account common.Address) []byte {
	key := append([]byte("access/member/"), role[:]...)
	return append(key, account.Bytes()...)
}

func membersKey(role Role) []byte {
	return append([]byte("access/members/"), role[:]...)
}

func adminKey(role Role) []byte {
	return append([]byte("access/admin/"), role[:]...)
}

// Registry stores role memberships and the admin role of every role.
type Registry struct {
	state   State
	emitter events.Emitter
}

// NewRegistry creates a registry over the supplied state with a no-op emitter.
func NewRegistry(state State) *Registry {
	return &Registry{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) emit(evt events.Event) {
	if r.emitter != nil {
		r.emitter.Emit(evt)
	}
}

// Initialize grants admin the default admin role and every operator and
// vault admin role, and wires the greenlist and blacklist roles to their
// operators. It may run only once.
func (r *Registry) Initialize(admin common.Address) error {
	if admin == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	return r.state.Atomic(func() error {
		done, err := r.state.KVGet(initializedKey, nil)
		if err != nil {
			return err
		}
		if done {
			return ErrAlreadyInitialized
		}
		for _, role := range bootstrapRoles {
			if err := r.grant(role, admin, admin); err != nil {
				return err
			}
		}
		if err := r.setAdmin(GreenlistedRole, GreenlistOperatorRole); err != nil {
			return err
		}
		if err := r.setAdmin(BlacklistedRole, BlacklistOperatorRole); err != nil {
			return err
		}
		return r.state.KVPut(initializedKey, true)
	})
}

// Initialized reports whether Initialize has completed.
func (r *Registry) Initialized() (bool, error) {
	return r.state.KVGet(initializedKey, nil)
}

// HasRole reports whether account is a member of role.
func (r *Registry) HasRole(role Role, account common.Address) (bool, error) {
	var member bool
	if _, err := r.state.KVGet(memberKey(role, account), &member); err != nil {
		return false, err
	}
	return member, nil
}

// CheckRole returns errs.ErrMissingRole unless account holds role.
func (r *Registry) CheckRole(role Role, account common.Address) error {
	ok, err := r.HasRole(role, account)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrMissingRole
	}
	return nil
}

// GetRoleAdmin returns the role whose members administer role. Roles without
// an explicit admin are administered by the default admin role.
func (r *Registry) GetRoleAdmin(role Role) (Role, error) {
	var admin Role
	if _, err := r.state.KVGet(adminKey(role), &admin); err != nil {
		return Role{}, err
	}
	return admin, nil
}

// Members lists the accounts holding role in the order they were granted.
func (r *Registry) Members(role Role) ([]common.Address, error) {
	var raw [][]byte
	if err := r.state.KVGetList(membersKey(role), &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i := range raw {
		out[i] = common.BytesToAddress(raw[i])
	}
	return out, nil
}

// GrantRole adds account to role. The caller must hold the admin role of role.
func (r *Registry) GrantRole(caller common.Address, role Role, account common.Address) error {
	return r.state.Atomic(func() error {
		return r.grantChecked(caller, role, account)
	})
}

// RevokeRole removes account from role. The caller must hold the admin role of
// role.
func (r *Registry) RevokeRole(caller common.Address, role Role, account common.Address) error {
	return r.state.Atomic(func() error {
		return r.revokeChecked(caller, role, account)
	})
}

// RenounceRole lets the caller drop one of its own roles.
func (r *Registry) RenounceRole(caller common.Address, role Role, account common.Address) error {
	if caller != account {
		return ErrRenounceForSelf
	}
	return r.state.Atomic(func() error {
		return r.revoke(role, account, caller)
	})
}

// GrantRoleMult grants roles[i] to accounts[i] for every i. Any failing pair
// aborts the whole batch.
func (r *Registry) GrantRoleMult(caller common.Address, roles []Role, accounts []common.Address) error {
	if len(roles) != len(accounts) {
		return ErrMismatchedLengths
	}
	return r.state.Atomic(func() error {
		for i := range roles {
			if err := r.grantChecked(caller, roles[i], accounts[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RevokeRoleMult revokes roles[i] from accounts[i] for every i. Any failing
// pair aborts the whole batch.
func (r *Registry) RevokeRoleMult(caller common.Address, roles []Role, accounts []common.Address) error {
	if len(roles) != len(accounts) {
		return ErrMismatchedLengths
	}
	return r.state.Atomic(func() error {
		for i := range roles {
			if err := r.revokeChecked(caller, roles[i], accounts[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetRoleAdmin changes the admin role of role. The caller must hold the
// current admin role.
func (r *Registry) SetRoleAdmin(caller common.Address, role, admin Role) error {
	return r.state.Atomic(func() error {
		if err := r.checkAdmin(caller, role); err != nil {
			return err
		}
		return r.setAdmin(role, admin)
	})
}

func (r *Registry) checkAdmin(caller common.Address, role Role) error {
	admin, err := r.GetRoleAdmin(role)
	if err != nil {
		return err
	}
	return r.CheckRole(admin, caller)
}

func (r *Registry) grantChecked(caller common.Address, role Role, account common.Address) error {
	if err := r.checkAdmin(caller, role); err != nil {
		return err
	}
	return r.grant(role, account, caller)
}

func (r *Registry) revokeChecked(caller common.Address, role Role, account common.Address) error {
	if err := r.checkAdmin(caller, role); err != nil {
		return err
	}
	return r.revoke(role, account, caller)
}

func (r *Registry) grant(role Role, account, sender common.Address) error {
	if account == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	member, err := r.HasRole(role, account)
	if err != nil || member {
		return err
	}
	if err := r.state.KVPut(memberKey(role, account), true); err != nil {
		return err
	}
	if err := r.state.KVAppend(membersKey(role), account.Bytes()); err != nil {
		return err
	}
	r.emit(events.RoleGranted{Role: role, Account: account, Sender: sender})
	return nil
}

func (r *Registry) revoke(role Role, account, sender common.Address) error {
	member, err := r.HasRole(role, account)
	if err != nil || !member {
		return err
	}
	if err := r.state.KVDelete(memberKey(role, account)); err != nil {
		return err
	}
	if err := r.state.KVRemove(membersKey(role), account.Bytes()); err != nil {
		return err
	}
	r.emit(events.RoleRevoked{Role: role, Account: account, Sender: sender})
	return nil
}

func (r *Registry) setAdmin(role, admin Role) error {
	previous, err := r.GetRoleAdmin(role)
	if err != nil {
		return err
	}
	if previous == admin {
		return nil
	}
	if admin == DefaultAdminRole {
		if err := r.state.KVDelete(adminKey(role)); err != nil {
			return err
		}
	} else if err := r.state.KVPut(adminKey(role), admin); err != nil {
		return err
	}
	r.emit(events.RoleAdminChanged{Role: role, PreviousAdmin: previous, NewAdmin: admin})
	return nil
}
