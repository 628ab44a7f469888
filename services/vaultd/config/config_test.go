package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.example.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":7080", cfg.ListenAddress)
	require.Len(t, cfg.Tokens, 4)
	require.Len(t, cfg.Redemptions, 2)
	require.Equal(t, "buidl", cfg.Redemptions[0].Kind)
	require.Equal(t, "mtbill", cfg.Redemptions[0].MToken)
	require.Equal(t, "mtbill-redemption", cfg.Redemptions[1].Swapper.Paired)
	require.Equal(t, 72*time.Hour, cfg.Feeds[0].HealthyDiff.Duration)
	require.Equal(t, "100000", cfg.Deposits[0].MinAmount)
	require.Equal(t, "eur-usd", cfg.Deposits[0].EurUsdFeed)
	require.Equal(t, 10*time.Second, cfg.Keeper.Timeout.Duration)
}

func TestLoadTOMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "vaultd.toml", `
admin = "0x5b38da6a701c568545dcfcb03fcb875f56beddc4"

[auth]
hmac_secret = "secret"

[keeper]
interval = "30s"

[[tokens]]
name = "mtbill"
symbol = "mTBILL"
decimals = 18

[[aggregators]]
name = "mtbill-usd"
min_answer = "0.1"
max_answer = "10"
max_deviation_pct = "1"

[[feeds]]
name = "mtbill-usd"
aggregator = "mtbill-usd"
healthy_diff = "1h"

[[redemption_vaults]]
name = "plain"
mtoken = "mtbill"
min_amount = "5"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "leveldb", cfg.State.Backend)
	require.Equal(t, 30*time.Second, cfg.Keeper.Interval.Duration)
	require.Equal(t, uint8(8), cfg.Aggregators[0].Decimals)
	require.Equal(t, time.Hour, cfg.Feeds[0].HealthyDiff.Duration)
	require.Equal(t, "standard", cfg.Redemptions[0].Kind)
	require.Equal(t, "5", cfg.Redemptions[0].MinAmount)
	require.Equal(t, float64(120), cfg.Auth.RequestsPerMinute)
}

func TestValidateRejectsBrokenReferences(t *testing.T) {
	cases := map[string]string{
		"admin address must be configured": `
auth: {hmac_secret: s}
`,
		"auth.hmac_secret must be configured": `
admin: "0x01"
`,
		`feed "f" references unknown aggregator "missing"`: `
admin: "0x01"
auth: {hmac_secret: s}
feeds: [{name: f, aggregator: missing}]
`,
		`duplicate token "usdc"`: `
admin: "0x01"
auth: {hmac_secret: s}
tokens: [{name: usdc}, {name: usdc}]
`,
		`vault "v": unknown kind "odd"`: `
admin: "0x01"
auth: {hmac_secret: s}
tokens: [{name: m}]
redemption_vaults: [{name: v, mtoken: m, kind: odd}]
`,
		`vault "s": swapper paired vault and provider required`: `
admin: "0x01"
auth: {hmac_secret: s}
tokens: [{name: m}]
redemption_vaults: [{name: s, mtoken: m, kind: swapper}]
`,
	}
	for want, body := range cases {
		_, err := Load(writeFile(t, "vaultd.yaml", body))
		require.EqualError(t, err, want)
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	require.Error(t, d.UnmarshalText([]byte("soon")))
	require.NoError(t, d.UnmarshalText([]byte("")))
	require.Zero(t, d.Duration)
}
