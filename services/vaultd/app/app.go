// Package app assembles the vaultd runtime: token ledger, access registry,
// oracles, vaults and rebasing tokens, all sharing one state manager.
package app

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/core/state"
	"mvault/core/types"
	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/native/feed"
	"mvault/native/rebasing"
	"mvault/native/vault"
	"mvault/observability"
	"mvault/services/vaultd/config"
	"mvault/services/vaultd/keeper"
	"mvault/storage"
)

// Runtime holds every engine built from the configuration, keyed by the
// configured names.
type Runtime struct {
	Manager   *state.Manager
	Registry  *access.Registry
	Directory *feed.Directory
	Admin     common.Address
	Keeper    common.Address

	Tokens      map[string]common.Address
	Aggregators map[string]*feed.CustomAggregator
	Feeds       map[string]*feed.DataFeed
	Deposits    map[string]*vault.DepositVault
	// Redemptions includes the base vault of every swapper.
	Redemptions map[string]*vault.RedemptionVault
	Swappers    map[string]*vault.SwapperVault
	Buidl       map[string]*vault.BuidlLiquidity
	Rebasing    map[string]*rebasing.Token

	// Names maps component addresses back to configured names.
	Names map[common.Address]string

	tokenDecimals map[string]uint8
}

// TokenAddress derives the ledger address of a configured token.
func TokenAddress(name string) common.Address { return types.ComponentAddress("token/" + name) }

// AggregatorAddress derives the address of a configured aggregator.
func AggregatorAddress(name string) common.Address {
	return types.ComponentAddress("aggregator/" + name)
}

// FeedAddress derives the address of a configured data feed.
func FeedAddress(name string) common.Address { return types.ComponentAddress("feed/" + name) }

// VaultAddress derives the ledger address of a configured vault.
func VaultAddress(name string) common.Address { return types.ComponentAddress("vault/" + name) }

// RebasingAddress derives the address of a configured rebasing token.
func RebasingAddress(name string) common.Address { return types.ComponentAddress("rebasing/" + name) }

// FacilityAddress derives the ledger address of a vault's BUIDL facility.
func FacilityAddress(vaultName string) common.Address {
	return types.ComponentAddress("buidl-facility/" + vaultName)
}

// Names lists the display name of every component declared in cfg.
func Names(cfg config.Config) map[common.Address]string {
	names := make(map[common.Address]string)
	for _, t := range cfg.Tokens {
		names[TokenAddress(t.Name)] = t.Name
	}
	for _, a := range cfg.Aggregators {
		names[AggregatorAddress(a.Name)] = a.Name
	}
	for _, f := range cfg.Feeds {
		names[FeedAddress(f.Name)] = f.Name
	}
	for _, v := range cfg.Deposits {
		names[VaultAddress(v.Name)] = v.Name
	}
	for _, v := range cfg.Redemptions {
		names[VaultAddress(v.Name)] = v.Name
		if v.Kind == "buidl" {
			names[FacilityAddress(v.Name)] = v.Name + "-facility"
		}
	}
	for _, r := range cfg.Rebasing {
		names[RebasingAddress(r.Name)] = r.Name
	}
	return names
}

// Build constructs the runtime over db. Components already persisted keep
// their stored parameters; only missing tokens, roles, rounds and payment
// tokens are seeded. Committed events are fanned out to sink and to the
// prometheus registries.
func Build(cfg config.Config, db storage.Database, sink events.Emitter) (*Runtime, error) {
	admin, ok := types.ParseAddress(cfg.Admin)
	if !ok {
		return nil, fmt.Errorf("invalid admin address %q", cfg.Admin)
	}
	rt := &Runtime{
		Manager:       state.NewManager(db),
		Directory:     feed.NewDirectory(),
		Admin:         admin,
		Tokens:        make(map[string]common.Address),
		Aggregators:   make(map[string]*feed.CustomAggregator),
		Feeds:         make(map[string]*feed.DataFeed),
		Deposits:      make(map[string]*vault.DepositVault),
		Redemptions:   make(map[string]*vault.RedemptionVault),
		Swappers:      make(map[string]*vault.SwapperVault),
		Buidl:         make(map[string]*vault.BuidlLiquidity),
		Rebasing:      make(map[string]*rebasing.Token),
		Names:         Names(cfg),
		tokenDecimals: make(map[string]uint8),
	}
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	emitter := rt.Manager.Emitter(events.Multi{sink, observability.NewMetricsEmitter(rt.Names)})

	rt.Registry = access.NewRegistry(rt.Manager)
	rt.Registry.SetEmitter(emitter)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"tokens", func() error { return rt.buildTokens(cfg) }},
		{"access", func() error { return rt.bootstrapAccess(cfg) }},
		{"aggregators", func() error { return rt.buildAggregators(cfg, emitter) }},
		{"feeds", func() error { return rt.buildFeeds(cfg, emitter) }},
		{"deposit vaults", func() error { return rt.buildDeposits(cfg, emitter) }},
		{"redemption vaults", func() error { return rt.buildRedemptions(cfg, emitter) }},
		{"rebasing tokens", func() error { return rt.buildRebasing(cfg, emitter) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, fmt.Errorf("build %s: %w", step.name, err)
		}
	}
	return rt, nil
}

func (rt *Runtime) buildTokens(cfg config.Config) error {
	return rt.Manager.Atomic(func() error {
		for _, t := range cfg.Tokens {
			addr := TokenAddress(t.Name)
			meta, err := rt.Manager.Token(addr)
			if err != nil {
				return err
			}
			if meta == nil {
				if err := rt.Manager.RegisterToken(addr, t.Symbol, t.Decimals); err != nil {
					return fmt.Errorf("%s: %w", t.Name, err)
				}
			} else if meta.Decimals != t.Decimals {
				return fmt.Errorf("%s: stored decimals %d differ from configured %d", t.Name, meta.Decimals, t.Decimals)
			}
			rt.Tokens[t.Name] = addr
			rt.tokenDecimals[t.Name] = t.Decimals
		}
		return nil
	})
}

func (rt *Runtime) bootstrapAccess(cfg config.Config) error {
	initialized, err := rt.Registry.Initialized()
	if err != nil {
		return err
	}
	if !initialized {
		if err := rt.Registry.Initialize(rt.Admin); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.Keeper.Address) == "" {
		return nil
	}
	keeperAddr, ok := types.ParseAddress(cfg.Keeper.Address)
	if !ok {
		return fmt.Errorf("invalid keeper address %q", cfg.Keeper.Address)
	}
	rt.Keeper = keeperAddr
	return rt.ensureRole(access.PriceKeeperRole, keeperAddr)
}

func (rt *Runtime) ensureRole(role access.Role, account common.Address) error {
	held, err := rt.Registry.HasRole(role, account)
	if err != nil || held {
		return err
	}
	return rt.Registry.GrantRole(rt.Admin, role, account)
}

func (rt *Runtime) buildAggregators(cfg config.Config, emitter events.Emitter) error {
	for _, a := range cfg.Aggregators {
		minAnswer, err := parseAmount("min_answer", a.MinAnswer, a.Decimals)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Name, err)
		}
		maxAnswer, err := parseAmount("max_answer", a.MaxAnswer, a.Decimals)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Name, err)
		}
		deviation, err := parseAmount("max_deviation_pct", a.MaxDeviation, a.Decimals)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Name, err)
		}
		agg, err := feed.NewCustomAggregator(rt.Manager, rt.Registry, feed.AggregatorConfig{
			Address:            AggregatorAddress(a.Name),
			Description:        a.Description,
			Decimals:           a.Decimals,
			MinAnswer:          minAnswer,
			MaxAnswer:          maxAnswer,
			MaxAnswerDeviation: deviation,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", a.Name, err)
		}
		agg.SetEmitter(emitter)
		if err := rt.Directory.RegisterAggregator(agg); err != nil {
			return fmt.Errorf("%s: %w", a.Name, err)
		}
		rt.Aggregators[a.Name] = agg

		if strings.TrimSpace(a.InitialAnswer) == "" {
			continue
		}
		latest, err := agg.LatestRound()
		if err != nil {
			return err
		}
		if latest != 0 {
			continue
		}
		initial, err := parseAmount("initial_answer", a.InitialAnswer, a.Decimals)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Name, err)
		}
		if err := agg.SetRoundData(rt.Admin, initial); err != nil {
			return fmt.Errorf("%s: seed answer: %w", a.Name, err)
		}
	}
	return nil
}

func (rt *Runtime) buildFeeds(cfg config.Config, emitter events.Emitter) error {
	for _, f := range cfg.Feeds {
		agg, ok := rt.Aggregators[f.Aggregator]
		if !ok {
			return fmt.Errorf("%s: unknown aggregator %q", f.Name, f.Aggregator)
		}
		minExpected, err := parseOptional("min_expected_answer", f.MinExpectedAnswer, agg.Decimals())
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		maxExpected, err := parseOptional("max_expected_answer", f.MaxExpectedAnswer, agg.Decimals())
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		df, err := feed.NewDataFeed(rt.Manager, rt.Registry, rt.Directory, feed.DataFeedConfig{
			Address:           FeedAddress(f.Name),
			Aggregator:        agg.Address(),
			HealthyDiff:       f.HealthyDiff.Duration,
			MinExpectedAnswer: minExpected,
			MaxExpectedAnswer: maxExpected,
			AdminRole:         access.CustomAggregatorFeedAdminRole,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		df.SetEmitter(emitter)
		if err := rt.Directory.RegisterFeed(df); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		rt.Feeds[f.Name] = df
	}
	return nil
}

func (rt *Runtime) feedAddress(name string) (common.Address, error) {
	if strings.TrimSpace(name) == "" {
		return common.Address{}, nil
	}
	if _, ok := rt.Feeds[name]; !ok {
		return common.Address{}, fmt.Errorf("unknown feed %q", name)
	}
	return FeedAddress(name), nil
}

func (rt *Runtime) tokenAddress(name string) (common.Address, error) {
	addr, ok := rt.Tokens[name]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown token %q", name)
	}
	return addr, nil
}

func (rt *Runtime) vaultConfig(v config.VaultCommon) (vault.Config, error) {
	mToken, err := rt.tokenAddress(v.MToken)
	if err != nil {
		return vault.Config{}, err
	}
	mTokenFeed, err := rt.feedAddress(v.MTokenFeed)
	if err != nil {
		return vault.Config{}, err
	}
	minAmount, err := parseOptional("min_amount", v.MinAmount, decimals.Base)
	if err != nil {
		return vault.Config{}, err
	}
	limit, err := parseOptional("instant_daily_limit", v.InstantDailyLimit, decimals.Base)
	if err != nil {
		return vault.Config{}, err
	}
	return vault.Config{
		Address:           VaultAddress(v.Name),
		MToken:            mToken,
		MTokenFeed:        mTokenFeed,
		MinAmount:         minAmount,
		InstantFeeBps:     v.InstantFeeBps,
		InstantDailyLimit: limit,
		GreenlistDisabled: v.GreenlistDisabled,
	}, nil
}

// paymentTokenAdmin is the slice of vault administration used to seed
// payment tokens.
type paymentTokenAdmin interface {
	TokenConfig(token common.Address) (*vault.TokenConfig, error)
	AddPaymentToken(caller, token, feedAddr common.Address, feeBps uint64) error
	ChangeTokenAllowance(caller, token common.Address, allowance *big.Int) error
}

func (rt *Runtime) seedPaymentTokens(v paymentTokenAdmin, tokens []config.PaymentToken) error {
	for _, pt := range tokens {
		token, err := rt.tokenAddress(pt.Token)
		if err != nil {
			return err
		}
		if _, err := v.TokenConfig(token); err == nil {
			continue
		} else if !errors.Is(err, vault.ErrTokenNotExists) {
			return err
		}
		feedAddr, err := rt.feedAddress(pt.Feed)
		if err != nil {
			return err
		}
		if err := v.AddPaymentToken(rt.Admin, token, feedAddr, pt.FeeBps); err != nil {
			return fmt.Errorf("add %s: %w", pt.Token, err)
		}
		allowance, err := parseOptional("allowance", pt.Allowance, decimals.Base)
		if err != nil {
			return err
		}
		if allowance != nil {
			if err := v.ChangeTokenAllowance(rt.Admin, token, allowance); err != nil {
				return fmt.Errorf("allowance %s: %w", pt.Token, err)
			}
		}
	}
	return nil
}

func (rt *Runtime) buildDeposits(cfg config.Config, emitter events.Emitter) error {
	for _, d := range cfg.Deposits {
		base, err := rt.vaultConfig(d.VaultCommon)
		if err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
		eurUsd, err := rt.feedAddress(d.EurUsdFeed)
		if err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
		dv, err := vault.NewDepositVault(rt.Manager, rt.Manager, rt.Registry, rt.Directory, vault.DepositConfig{Config: base, EurUsdFeed: eurUsd})
		if err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
		dv.SetEmitter(emitter)
		if err := rt.seedPaymentTokens(dv, d.PaymentTokens); err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
		rt.Deposits[d.Name] = dv
	}
	return nil
}

func (rt *Runtime) buildRedemptions(cfg config.Config, emitter events.Emitter) error {
	var swappers []config.RedemptionVault
	for _, r := range cfg.Redemptions {
		if r.Kind == "swapper" {
			swappers = append(swappers, r)
			continue
		}
		base, err := rt.vaultConfig(r.VaultCommon)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		rv, err := vault.NewRedemptionVault(rt.Manager, rt.Manager, rt.Registry, rt.Directory, base)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		rv.SetEmitter(emitter)
		if r.Kind == "buidl" {
			if err := rt.attachBuidl(r, rv); err != nil {
				return fmt.Errorf("%s: %w", r.Name, err)
			}
		}
		if err := rt.seedPaymentTokens(rv, r.PaymentTokens); err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		rt.Redemptions[r.Name] = rv
	}
	for _, r := range swappers {
		paired, ok := rt.Redemptions[r.Swapper.Paired]
		if !ok {
			return fmt.Errorf("%s: unknown paired vault %q", r.Name, r.Swapper.Paired)
		}
		provider, ok := types.ParseAddress(r.Swapper.Provider)
		if !ok {
			return fmt.Errorf("%s: invalid provider %q", r.Name, r.Swapper.Provider)
		}
		base, err := rt.vaultConfig(r.VaultCommon)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		sv, err := vault.NewSwapperVault(rt.Manager, rt.Manager, rt.Registry, rt.Directory, base, paired, provider)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		sv.SetEmitter(emitter)
		if err := rt.seedPaymentTokens(sv, r.PaymentTokens); err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		if err := rt.ensureRole(access.GreenlistedRole, sv.Address()); err != nil {
			return fmt.Errorf("%s: greenlist on paired vault: %w", r.Name, err)
		}
		rt.Swappers[r.Name] = sv
		rt.Redemptions[r.Name] = sv.RedemptionVault
	}
	return nil
}

func (rt *Runtime) attachBuidl(r config.RedemptionVault, rv *vault.RedemptionVault) error {
	asset, err := rt.tokenAddress(r.Buidl.Asset)
	if err != nil {
		return err
	}
	liquidity, err := rt.tokenAddress(r.Buidl.Liquidity)
	if err != nil {
		return err
	}
	feedAddr, err := rt.feedAddress(r.Buidl.Feed)
	if err != nil {
		return err
	}
	assetDecimals := rt.tokenDecimals[r.Buidl.Asset]
	minRedeem, err := parseOptional("min_redeem", r.Buidl.MinBuidlToRedeem, assetDecimals)
	if err != nil {
		return err
	}
	minBalance, err := parseOptional("min_balance", r.Buidl.MinBuidlBalance, assetDecimals)
	if err != nil {
		return err
	}
	facility := vault.NewLedgerBuidlRedemption(rt.Manager, FacilityAddress(r.Name), asset, liquidity)
	liq, err := vault.NewBuidlLiquidity(rv, vault.BuidlConfig{
		Facility:         facility,
		Feed:             feedAddr,
		MinBuidlToRedeem: minRedeem,
		MinBuidlBalance:  minBalance,
	})
	if err != nil {
		return err
	}
	rt.Buidl[r.Name] = liq
	return nil
}

func (rt *Runtime) buildRebasing(cfg config.Config, emitter events.Emitter) error {
	for _, r := range cfg.Rebasing {
		underlying, err := rt.tokenAddress(r.Underlying)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		feedAddr, err := rt.feedAddress(r.Feed)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		token, err := rebasing.NewToken(rt.Manager, rt.Manager, rt.Registry, rt.Directory, rebasing.Config{
			Address:    RebasingAddress(r.Name),
			Name:       r.Name,
			Symbol:     r.Symbol,
			Underlying: underlying,
			PriceFeed:  feedAddr,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		token.SetEmitter(emitter)
		rt.Rebasing[r.Name] = token
	}
	return nil
}

// KeeperJobs maps every aggregator with configured sources to a keeper job.
func (rt *Runtime) KeeperJobs(cfg config.Config, client *http.Client) []keeper.Job {
	var jobs []keeper.Job
	for _, a := range cfg.Aggregators {
		agg, ok := rt.Aggregators[a.Name]
		if !ok || len(a.Sources) == 0 {
			continue
		}
		job := keeper.Job{Name: a.Name, Target: agg, State: rt.Manager}
		for _, src := range a.Sources {
			job.Sources = append(job.Sources, keeper.NewHTTPSource(client, src.Name, src.Endpoint, src.Field, src.Headers))
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// TokenName returns the configured name of a token address.
func (rt *Runtime) TokenName(addr common.Address) string {
	if name, ok := rt.Names[addr]; ok {
		return name
	}
	return addr.Hex()
}

// ResolveToken accepts a configured token name or a hex address.
func (rt *Runtime) ResolveToken(raw string) (common.Address, uint8, bool) {
	raw = strings.TrimSpace(raw)
	if addr, ok := rt.Tokens[raw]; ok {
		return addr, rt.tokenDecimals[raw], true
	}
	addr, ok := types.ParseAddress(raw)
	if !ok {
		return common.Address{}, 0, false
	}
	for name, candidate := range rt.Tokens {
		if candidate == addr {
			return addr, rt.tokenDecimals[name], true
		}
	}
	return common.Address{}, 0, false
}

func parseAmount(field, raw string, dec uint8) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	value, err := decimals.ParseUnits(raw, dec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return value, nil
}

func parseOptional(field, raw string, dec uint8) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(field, raw, dec)
}
