package access

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/core/state"
	"mvault/native/errs"
	"mvault/storage"
)

var (
	admin    = common.HexToAddress("0xa11ce")
	operator = common.HexToAddress("0x0b0b")
	user     = common.HexToAddress("0xc0ffee")
)

type capture struct {
	events []events.Event
}

func (c *capture) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newRegistry(t *testing.T) (*Registry, *capture) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	sink := &capture{}
	reg := NewRegistry(mgr)
	reg.SetEmitter(mgr.Emitter(sink))
	if err := reg.Initialize(admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return reg, sink
}

func mustHave(t *testing.T, reg *Registry, role Role, account common.Address, want bool) {
	t.Helper()
	got, err := reg.HasRole(role, account)
	if err != nil {
		t.Fatalf("has role: %v", err)
	}
	if got != want {
		t.Fatalf("role %s for %s: want %v got %v", role, account.Hex(), want, got)
	}
}

func TestInitializeBootstrapsAdmin(t *testing.T) {
	reg, sink := newRegistry(t)
	for _, role := range bootstrapRoles {
		mustHave(t, reg, role, admin, true)
	}
	mustHave(t, reg, PriceKeeperRole, admin, false)
	if len(sink.events) == 0 {
		t.Fatalf("expected grant events from initialization")
	}
	greenAdmin, err := reg.GetRoleAdmin(GreenlistedRole)
	if err != nil || greenAdmin != GreenlistOperatorRole {
		t.Fatalf("unexpected greenlist admin %s %v", greenAdmin, err)
	}
	if err := reg.Initialize(admin); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
}

func TestGrantAndRevokeRequireAdminRole(t *testing.T) {
	reg, _ := newRegistry(t)
	if err := reg.GrantRole(user, GreenlistedRole, user); !errors.Is(err, errs.ErrMissingRole) {
		t.Fatalf("expected missing role, got %v", err)
	}
	if err := reg.GrantRole(admin, GreenlistOperatorRole, operator); err != nil {
		t.Fatalf("grant operator: %v", err)
	}
	if err := reg.GrantRole(operator, GreenlistedRole, user); err != nil {
		t.Fatalf("operator grant greenlist: %v", err)
	}
	mustHave(t, reg, GreenlistedRole, user, true)
	if err := reg.RevokeRole(user, GreenlistedRole, user); !errors.Is(err, errs.ErrAuthorization) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if err := reg.RevokeRole(operator, GreenlistedRole, user); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	mustHave(t, reg, GreenlistedRole, user, false)
	members, err := reg.Members(GreenlistOperatorRole)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 || members[0] != admin || members[1] != operator {
		t.Fatalf("unexpected members %v", members)
	}
}

func TestRenounceRoleOnlyForSelf(t *testing.T) {
	reg, _ := newRegistry(t)
	if err := reg.RenounceRole(user, DepositVaultAdminRole, admin); !errors.Is(err, ErrRenounceForSelf) {
		t.Fatalf("expected renounce for self error, got %v", err)
	}
	if err := reg.RenounceRole(admin, DepositVaultAdminRole, admin); err != nil {
		t.Fatalf("renounce: %v", err)
	}
	mustHave(t, reg, DepositVaultAdminRole, admin, false)
}

func TestGrantRoleMultIsAllOrNothing(t *testing.T) {
	reg, sink := newRegistry(t)
	before := len(sink.events)
	if err := reg.GrantRoleMult(admin, []Role{GreenlistedRole}, nil); !errors.Is(err, ErrMismatchedLengths) {
		t.Fatalf("expected mismatched lengths, got %v", err)
	}
	// admin holds the operator roles so both pairs pass, but the zero account fails the batch
	err := reg.GrantRoleMult(admin,
		[]Role{GreenlistedRole, BlacklistedRole},
		[]common.Address{user, {}},
	)
	if !errors.Is(err, errs.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	mustHave(t, reg, GreenlistedRole, user, false)
	if len(sink.events) != before {
		t.Fatalf("failed batch must not emit events")
	}
	if err := reg.GrantRoleMult(admin,
		[]Role{GreenlistedRole, BlacklistedRole},
		[]common.Address{user, operator},
	); err != nil {
		t.Fatalf("grant mult: %v", err)
	}
	mustHave(t, reg, GreenlistedRole, user, true)
	mustHave(t, reg, BlacklistedRole, operator, true)
	if err := reg.RevokeRoleMult(admin,
		[]Role{GreenlistedRole, BlacklistedRole},
		[]common.Address{user, operator},
	); err != nil {
		t.Fatalf("revoke mult: %v", err)
	}
	mustHave(t, reg, BlacklistedRole, operator, false)
}

func TestSetRoleAdmin(t *testing.T) {
	reg, sink := newRegistry(t)
	if err := reg.SetRoleAdmin(user, PriceKeeperRole, CustomAggregatorFeedAdminRole); !errors.Is(err, errs.ErrMissingRole) {
		t.Fatalf("expected missing role, got %v", err)
	}
	if err := reg.SetRoleAdmin(admin, PriceKeeperRole, CustomAggregatorFeedAdminRole); err != nil {
		t.Fatalf("set role admin: %v", err)
	}
	last := sink.events[len(sink.events)-1]
	changed, ok := last.(events.RoleAdminChanged)
	if !ok {
		t.Fatalf("expected RoleAdminChanged, got %T", last)
	}
	if Role(changed.Role) != PriceKeeperRole || Role(changed.NewAdmin) != CustomAggregatorFeedAdminRole {
		t.Fatalf("unexpected event %+v", changed)
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("greenlisted_role")
	if err != nil || role != GreenlistedRole {
		t.Fatalf("parse by name: %s %v", role, err)
	}
	role, err = ParseRole(PriceKeeperRole.Hex())
	if err != nil || role != PriceKeeperRole {
		t.Fatalf("parse by id: %s %v", role, err)
	}
	if _, err := ParseRole("nope"); err == nil {
		t.Fatalf("expected unknown role error")
	}
	if DefaultAdminRole.String() != "DEFAULT_ADMIN_ROLE" {
		t.Fatalf("unexpected default admin name %s", DefaultAdminRole)
	}
}
