package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings. TOML decoding goes
// through it.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress string            `yaml:"listen" toml:"listen"`
	Admin         string            `yaml:"admin" toml:"admin"`
	State         StateConfig       `yaml:"state" toml:"state"`
	JournalPath   string            `yaml:"journal" toml:"journal"`
	Log           LogConfig         `yaml:"log" toml:"log"`
	Auth          AuthConfig        `yaml:"auth" toml:"auth"`
	Keeper        KeeperConfig      `yaml:"keeper" toml:"keeper"`
	Tokens        []Token           `yaml:"tokens" toml:"tokens"`
	Aggregators   []Aggregator      `yaml:"aggregators" toml:"aggregators"`
	Feeds         []Feed            `yaml:"feeds" toml:"feeds"`
	Deposits      []DepositVault    `yaml:"deposit_vaults" toml:"deposit_vaults"`
	Redemptions   []RedemptionVault `yaml:"redemption_vaults" toml:"redemption_vaults"`
	Rebasing      []RebasingToken   `yaml:"rebasing_tokens" toml:"rebasing_tokens"`
}

// StateConfig selects the key/value backend holding engine state.
type StateConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// AuthConfig controls caller authentication and throttling.
type AuthConfig struct {
	HMACSecret        string   `yaml:"hmac_secret" toml:"hmac_secret"`
	Issuer            string   `yaml:"issuer" toml:"issuer"`
	Audience          string   `yaml:"audience" toml:"audience"`
	ClockSkew         Duration `yaml:"clock_skew" toml:"clock_skew"`
	RequestsPerMinute float64  `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int      `yaml:"burst" toml:"burst"`
}

// KeeperConfig tunes the price keeper loop.
type KeeperConfig struct {
	Enabled    bool     `yaml:"enabled" toml:"enabled"`
	Address    string   `yaml:"address" toml:"address"`
	Interval   Duration `yaml:"interval" toml:"interval"`
	MaxAge     Duration `yaml:"max_age" toml:"max_age"`
	MinSources int      `yaml:"min_sources" toml:"min_sources"`
	Timeout    Duration `yaml:"timeout" toml:"timeout"`
}

// Token registers a ledger token.
type Token struct {
	Name     string `yaml:"name" toml:"name"`
	Symbol   string `yaml:"symbol" toml:"symbol"`
	Decimals uint8  `yaml:"decimals" toml:"decimals"`
}

// Aggregator configures a custom aggregator. Answers are decimal strings in
// the aggregator's own units (for example "1.02" at 8 decimals).
type Aggregator struct {
	Name          string   `yaml:"name" toml:"name"`
	Description   string   `yaml:"description" toml:"description"`
	Decimals      uint8    `yaml:"decimals" toml:"decimals"`
	MinAnswer     string   `yaml:"min_answer" toml:"min_answer"`
	MaxAnswer     string   `yaml:"max_answer" toml:"max_answer"`
	MaxDeviation  string   `yaml:"max_deviation_pct" toml:"max_deviation_pct"`
	InitialAnswer string   `yaml:"initial_answer" toml:"initial_answer"`
	Sources       []Source `yaml:"sources" toml:"sources"`
}

// Source is an HTTP endpoint polled by the keeper. Field is a dot separated
// path to the price inside the JSON response.
type Source struct {
	Name     string            `yaml:"name" toml:"name"`
	Endpoint string            `yaml:"endpoint" toml:"endpoint"`
	Field    string            `yaml:"field" toml:"field"`
	Headers  map[string]string `yaml:"headers" toml:"headers"`
}

// Feed configures a data feed over an aggregator. Expected answers are in
// aggregator units.
type Feed struct {
	Name              string   `yaml:"name" toml:"name"`
	Aggregator        string   `yaml:"aggregator" toml:"aggregator"`
	HealthyDiff       Duration `yaml:"healthy_diff" toml:"healthy_diff"`
	MinExpectedAnswer string   `yaml:"min_expected_answer" toml:"min_expected_answer"`
	MaxExpectedAnswer string   `yaml:"max_expected_answer" toml:"max_expected_answer"`
}

// PaymentToken is a token accepted or paid out by a vault.
type PaymentToken struct {
	Token     string `yaml:"token" toml:"token"`
	Feed      string `yaml:"feed" toml:"feed"`
	FeeBps    uint64 `yaml:"fee_bps" toml:"fee_bps"`
	Allowance string `yaml:"allowance" toml:"allowance"`
}

// VaultCommon holds the settings shared by every vault. Amounts are decimal
// strings in whole units.
type VaultCommon struct {
	Name              string         `yaml:"name" toml:"name"`
	MToken            string         `yaml:"mtoken" toml:"mtoken"`
	MTokenFeed        string         `yaml:"mtoken_feed" toml:"mtoken_feed"`
	MinAmount         string         `yaml:"min_amount" toml:"min_amount"`
	InstantFeeBps     uint64         `yaml:"instant_fee_bps" toml:"instant_fee_bps"`
	InstantDailyLimit string         `yaml:"instant_daily_limit" toml:"instant_daily_limit"`
	GreenlistDisabled bool           `yaml:"greenlist_disabled" toml:"greenlist_disabled"`
	PaymentTokens     []PaymentToken `yaml:"payment_tokens" toml:"payment_tokens"`
}

// DepositVault configures a deposit vault.
type DepositVault struct {
	VaultCommon `yaml:",inline"`
	EurUsdFeed  string `yaml:"eur_usd_feed" toml:"eur_usd_feed"`
}

// RedemptionVault configures a redemption vault. Kind selects "standard",
// "buidl" or "swapper".
type RedemptionVault struct {
	VaultCommon `yaml:",inline"`
	Kind        string        `yaml:"kind" toml:"kind"`
	Buidl       BuidlConfig   `yaml:"buidl" toml:"buidl"`
	Swapper     SwapperConfig `yaml:"swapper" toml:"swapper"`
}

// BuidlConfig wires a BUIDL liquidity source. Minimums are in BUIDL units.
type BuidlConfig struct {
	Asset            string `yaml:"asset" toml:"asset"`
	Liquidity        string `yaml:"liquidity" toml:"liquidity"`
	Feed             string `yaml:"feed" toml:"feed"`
	MinBuidlToRedeem string `yaml:"min_redeem" toml:"min_redeem"`
	MinBuidlBalance  string `yaml:"min_balance" toml:"min_balance"`
}

// SwapperConfig pairs a swapper vault with another redemption vault.
type SwapperConfig struct {
	Paired   string `yaml:"paired" toml:"paired"`
	Provider string `yaml:"provider" toml:"provider"`
}

// RebasingToken configures a rebasing wrapper.
type RebasingToken struct {
	Name       string `yaml:"name" toml:"name"`
	Symbol     string `yaml:"symbol" toml:"symbol"`
	Underlying string `yaml:"underlying" toml:"underlying"`
	Feed       string `yaml:"feed" toml:"feed"`
}

// Load reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML and everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "leveldb"
	}
	if cfg.State.Path == "" && cfg.State.Backend != "memory" {
		cfg.State.Path = "/var/data/vaultd/state"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = "/var/data/vaultd/journal.sqlite"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Auth.RequestsPerMinute <= 0 {
		cfg.Auth.RequestsPerMinute = 120
	}
	if cfg.Auth.Burst <= 0 {
		cfg.Auth.Burst = 20
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = time.Minute
	}
	if cfg.Keeper.MaxAge.Duration == 0 {
		cfg.Keeper.MaxAge.Duration = 5 * time.Minute
	}
	if cfg.Keeper.MinSources <= 0 {
		cfg.Keeper.MinSources = 1
	}
	if cfg.Keeper.Timeout.Duration == 0 {
		cfg.Keeper.Timeout.Duration = 10 * time.Second
	}
	for i := range cfg.Aggregators {
		if cfg.Aggregators[i].Decimals == 0 {
			cfg.Aggregators[i].Decimals = 8
		}
	}
	for i := range cfg.Redemptions {
		if cfg.Redemptions[i].Kind == "" {
			cfg.Redemptions[i].Kind = "standard"
		}
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Admin) == "" {
		return fmt.Errorf("admin address must be configured")
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmac_secret must be configured")
	}
	if cfg.Keeper.Enabled && strings.TrimSpace(cfg.Keeper.Address) == "" {
		return fmt.Errorf("keeper.address must be configured when the keeper is enabled")
	}
	names := map[string]string{}
	claim := func(kind, name string) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("%s name required", kind)
		}
		key := kind + "/" + name
		if _, dup := names[key]; dup {
			return fmt.Errorf("duplicate %s %q", kind, name)
		}
		names[key] = name
		return nil
	}
	for _, token := range cfg.Tokens {
		if err := claim("token", token.Name); err != nil {
			return err
		}
	}
	for _, agg := range cfg.Aggregators {
		if err := claim("aggregator", agg.Name); err != nil {
			return err
		}
	}
	for _, f := range cfg.Feeds {
		if err := claim("feed", f.Name); err != nil {
			return err
		}
		if _, ok := names["aggregator/"+f.Aggregator]; !ok {
			return fmt.Errorf("feed %q references unknown aggregator %q", f.Name, f.Aggregator)
		}
	}
	for _, v := range cfg.Deposits {
		if err := claim("vault", v.Name); err != nil {
			return err
		}
		if _, ok := names["token/"+v.MToken]; !ok {
			return fmt.Errorf("vault %q references unknown mtoken %q", v.Name, v.MToken)
		}
	}
	for _, v := range cfg.Redemptions {
		if err := claim("vault", v.Name); err != nil {
			return err
		}
		if _, ok := names["token/"+v.MToken]; !ok {
			return fmt.Errorf("vault %q references unknown mtoken %q", v.Name, v.MToken)
		}
		switch v.Kind {
		case "standard":
		case "buidl":
			if v.Buidl.Asset == "" || v.Buidl.Liquidity == "" {
				return fmt.Errorf("vault %q: buidl asset and liquidity tokens required", v.Name)
			}
		case "swapper":
			if v.Swapper.Paired == "" || v.Swapper.Provider == "" {
				return fmt.Errorf("vault %q: swapper paired vault and provider required", v.Name)
			}
		default:
			return fmt.Errorf("vault %q: unknown kind %q", v.Name, v.Kind)
		}
	}
	for _, r := range cfg.Rebasing {
		if err := claim("rebasing", r.Name); err != nil {
			return err
		}
	}
	return nil
}
