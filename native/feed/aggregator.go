// Package feed provides the price oracle side of the vaults: keeper-driven
// custom aggregators and the data feeds that normalise their answers into
// base-18 prices with health checks.
package feed

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mvault/native/access"
)

// RoundData is a single oracle observation in the aggregator's native
// precision.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       int64
	UpdatedAt       int64
	AnsweredInRound uint64
}

// Aggregator is the upstream oracle contract a DataFeed reads from.
type Aggregator interface {
	Address() common.Address
	Decimals() uint8
	LatestRoundData() (*RoundData, error)
}

// PriceFeed is what vaults consume: a live base-18 price.
type PriceFeed interface {
	Address() common.Address
	GetDataInBase18() (*big.Int, error)
}

// State is the persistence surface used by aggregators and feeds.
// *state.Manager satisfies it.
type State interface {
	Atomic(fn func() error) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Roles checks capabilities against the access registry.
type Roles interface {
	CheckRole(role access.Role, account common.Address) error
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func parseSigned(raw string) *big.Int {
	if raw == "" {
		return nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil
	}
	return value
}

func formatSigned(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
