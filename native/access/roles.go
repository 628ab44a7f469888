package access

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"mvault/native/errs"
)

// Role identifies a capability. Ids are the keccak256 hash of the role name;
// the default admin role is the zero hash.
type Role [32]byte

// Hex renders the role id with a 0x prefix.
func (r Role) Hex() string { return common.Hash(r).Hex() }

// String returns the well-known name of the role when there is one.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return r.Hex()
}

// RoleID derives the id of a named role.
func RoleID(name string) Role {
	return Role(ethcrypto.Keccak256Hash([]byte(name)))
}

// Predefined roles.
var (
	DefaultAdminRole              Role
	GreenlistedRole               = RoleID("GREENLISTED_ROLE")
	BlacklistedRole               = RoleID("BLACKLISTED_ROLE")
	GreenlistOperatorRole         = RoleID("GREENLIST_OPERATOR_ROLE")
	BlacklistOperatorRole         = RoleID("BLACKLIST_OPERATOR_ROLE")
	DepositVaultAdminRole         = RoleID("DEPOSIT_VAULT_ADMIN_ROLE")
	RedemptionVaultAdminRole      = RoleID("REDEMPTION_VAULT_ADMIN_ROLE")
	CustomAggregatorFeedAdminRole = RoleID("CUSTOM_AGGREGATOR_FEED_ADMIN_ROLE")
	PriceKeeperRole               = RoleID("PRICE_KEEPER_ROLE")
	RebasingTokenAdminRole        = RoleID("REBASING_TOKEN_ADMIN_ROLE")
)

var (
	errUnknownRole = errs.Validation("unknown role")

	roleNames      = map[Role]string{}
	bootstrapRoles []Role
)

func init() {
	for name, role := range map[string]Role{
		"DEFAULT_ADMIN_ROLE":                DefaultAdminRole,
		"GREENLISTED_ROLE":                  GreenlistedRole,
		"BLACKLISTED_ROLE":                  BlacklistedRole,
		"GREENLIST_OPERATOR_ROLE":           GreenlistOperatorRole,
		"BLACKLIST_OPERATOR_ROLE":           BlacklistOperatorRole,
		"DEPOSIT_VAULT_ADMIN_ROLE":          DepositVaultAdminRole,
		"REDEMPTION_VAULT_ADMIN_ROLE":       RedemptionVaultAdminRole,
		"CUSTOM_AGGREGATOR_FEED_ADMIN_ROLE": CustomAggregatorFeedAdminRole,
		"PRICE_KEEPER_ROLE":                 PriceKeeperRole,
		"REBASING_TOKEN_ADMIN_ROLE":         RebasingTokenAdminRole,
	} {
		roleNames[role] = name
	}
	bootstrapRoles = []Role{
		DefaultAdminRole,
		GreenlistOperatorRole,
		BlacklistOperatorRole,
		DepositVaultAdminRole,
		RedemptionVaultAdminRole,
		CustomAggregatorFeedAdminRole,
		RebasingTokenAdminRole,
	}
}

// KnownRoles lists the names of every predefined role in lexical order.
func KnownRoles() []string {
	names := make([]string, 0, len(roleNames))
	for _, name := range roleNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseRole accepts either a predefined role name or a 0x-prefixed 32-byte id.
func ParseRole(raw string) (Role, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Role{}, errUnknownRole
	}
	upper := strings.ToUpper(trimmed)
	for role, name := range roleNames {
		if name == upper {
			return role, nil
		}
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded := common.FromHex(trimmed)
		if len(decoded) == 32 {
			var role Role
			copy(role[:], decoded)
			return role, nil
		}
	}
	return Role{}, errUnknownRole
}
