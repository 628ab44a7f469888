package app

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"mvault/core/events"
	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/services/vaultd/config"
	"mvault/storage"
)

type recorder struct {
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recorder) count(eventType string) int {
	n := 0
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

func loadExample(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("../config.example.yaml")
	require.NoError(t, err)
	return cfg
}

func units(n int64, dec uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), decimals.Unit(dec))
}

func TestBuildFromExampleConfig(t *testing.T) {
	cfg := loadExample(t)
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	sink := &recorder{}

	rt, err := Build(cfg, db, sink)
	require.NoError(t, err)
	require.Len(t, rt.Tokens, 4)
	require.Len(t, rt.Aggregators, 4)
	require.Len(t, rt.Feeds, 4)
	require.Contains(t, rt.Deposits, "mtbill-deposit")
	require.Contains(t, rt.Redemptions, "mtbill-redemption")
	require.Contains(t, rt.Redemptions, "mbasis-swapper")
	require.Contains(t, rt.Swappers, "mbasis-swapper")
	require.Contains(t, rt.Buidl, "mtbill-redemption")
	require.Contains(t, rt.Rebasing, "rmtbill")
	require.Equal(t, "mtbill-deposit", rt.Names[VaultAddress("mtbill-deposit")])

	held, err := rt.Registry.HasRole(access.PriceKeeperRole, rt.Keeper)
	require.NoError(t, err)
	require.True(t, held)
	held, err = rt.Registry.HasRole(access.DepositVaultAdminRole, rt.Admin)
	require.NoError(t, err)
	require.True(t, held)
	held, err = rt.Registry.HasRole(access.GreenlistedRole, VaultAddress("mbasis-swapper"))
	require.NoError(t, err)
	require.True(t, held)

	price, err := rt.Feeds["eur-usd"].GetDataInBase18()
	require.NoError(t, err)
	require.Zero(t, price.Cmp(big.NewInt(1_080_000_000_000_000_000)))

	tokens, err := rt.Deposits["mtbill-deposit"].PaymentTokens()
	require.NoError(t, err)
	require.Equal(t, []common.Address{TokenAddress("usdc")}, tokens)
	require.Equal(t, 4, sink.count(events.TypeAnswerUpdated))

	minRedeem, err := rt.Buidl["mtbill-redemption"].MinBuidlToRedeem()
	require.NoError(t, err)
	require.Zero(t, minRedeem.Cmp(units(250_000, 6)))

	jobs := rt.KeeperJobs(cfg, nil)
	require.Len(t, jobs, 1)
	require.Equal(t, "mtbill-usd", jobs[0].Name)
	require.Same(t, rt.Manager, jobs[0].State)
}

func TestBuildIsIdempotentOverPersistedState(t *testing.T) {
	cfg := loadExample(t)
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	_, err := Build(cfg, db, nil)
	require.NoError(t, err)
	sink := &recorder{}
	rt, err := Build(cfg, db, sink)
	require.NoError(t, err)
	require.Zero(t, sink.count(events.TypeAnswerUpdated))
	require.Zero(t, sink.count(events.TypeRoleGranted))

	round, err := rt.Aggregators["mtbill-usd"].LatestRound()
	require.NoError(t, err)
	require.Equal(t, uint64(1), round)
}

func TestDepositThroughRuntime(t *testing.T) {
	cfg := loadExample(t)
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	sink := &recorder{}
	rt, err := Build(cfg, db, sink)
	require.NoError(t, err)

	alice := common.HexToAddress("0xa11ce")
	usdc := TokenAddress("usdc")
	dv := rt.Deposits["mtbill-deposit"]
	require.NoError(t, rt.Registry.GrantRole(rt.Admin, access.GreenlistedRole, alice))
	require.NoError(t, rt.Manager.Atomic(func() error {
		if err := rt.Manager.Mint(usdc, alice, units(200_000, 6)); err != nil {
			return err
		}
		return rt.Manager.Approve(usdc, alice, dv.Address(), units(200_000, 6))
	}))

	id, err := dv.Deposit(alice, usdc, units(200_000, 18))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.Equal(t, 1, sink.count(events.TypeInitiateRequest))

	held, err := rt.Manager.BalanceOf(usdc, dv.Address())
	require.NoError(t, err)
	require.Zero(t, held.Cmp(units(200_000, 6)))

	require.NoError(t, dv.FulfillDepositRequest(rt.Admin, id, units(199_000, 18)))
	minted, err := rt.Manager.BalanceOf(TokenAddress("mtbill"), alice)
	require.NoError(t, err)
	require.Zero(t, minted.Cmp(units(199_000, 18)))
}

func TestBuildRejectsUnknownPaymentToken(t *testing.T) {
	cfg := loadExample(t)
	cfg.Deposits[0].PaymentTokens = append(cfg.Deposits[0].PaymentTokens, config.PaymentToken{Token: "dai"})
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	_, err := Build(cfg, db, nil)
	require.ErrorContains(t, err, `unknown token "dai"`)
}

func TestResolveToken(t *testing.T) {
	cfg := loadExample(t)
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	rt, err := Build(cfg, db, nil)
	require.NoError(t, err)

	addr, dec, ok := rt.ResolveToken("usdc")
	require.True(t, ok)
	require.Equal(t, uint8(6), dec)
	byHex, _, ok := rt.ResolveToken(addr.Hex())
	require.True(t, ok)
	require.Equal(t, addr, byHex)
	_, _, ok = rt.ResolveToken("dai")
	require.False(t, ok)
}
