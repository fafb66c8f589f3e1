package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volbalance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VOLBALANCE_DATA_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "XRP", "MANA"}, cfg.Rebalance.Assets)
	assert.Equal(t, 5000.0, cfg.Rebalance.MinOrderValue)
	assert.Equal(t, 0.0005, cfg.Rebalance.FeeRate)
	assert.Equal(t, 10000000.0, cfg.Rebalance.StartingCash)
	assert.Equal(t, 20, cfg.Rebalance.VolatilityWindow)
	assert.Equal(t, time.Second, cfg.Rebalance.Poll.Interval)
	assert.Equal(t, 60, cfg.Rebalance.Poll.MaxAttempts)
	assert.Equal(t, "paper", cfg.Exchange.Mode)
	assert.Equal(t, "Asia/Seoul", cfg.Timezone)
	assert.Equal(t, DefaultTickTable(), cfg.Rebalance.TickTable)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Empty(t, cfg.Server.RunToken)
	assert.Empty(t, cfg.Server.AllowedOrigins)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Setenv("VOLBALANCE_DATA_DIR", t.TempDir())
	path := writeConfig(t, `
rebalance:
  assets: [BTC, ETH]
  min_order_value: 10000
  lot_increments:
    BTC: 0.0001
  poll:
    max_attempts: 5
server:
  allowed_origins: ["http://localhost:3000"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Rebalance.Assets)
	assert.Equal(t, 10000.0, cfg.Rebalance.MinOrderValue)
	assert.Equal(t, 0.0001, cfg.Rebalance.LotIncrements["BTC"])
	assert.Equal(t, 5, cfg.Rebalance.Poll.MaxAttempts)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	// untouched siblings keep defaults
	assert.Equal(t, time.Second, cfg.Rebalance.Poll.Interval)
	assert.Equal(t, 0.0005, cfg.Rebalance.FeeRate)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VOLBALANCE_DATA_DIR", t.TempDir())
	t.Setenv("VOLBALANCE_ASSETS", "btc, SOL,")
	t.Setenv("VOLBALANCE_PORT", "9100")
	t.Setenv("VOLBALANCE_HOST", "0.0.0.0")
	t.Setenv("VOLBALANCE_RUN_TOKEN", "s3cret")
	t.Setenv("VOLBALANCE_SYNC_BALANCES", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "SOL"}, cfg.Rebalance.Assets)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "s3cret", cfg.Server.RunToken)
	assert.True(t, cfg.Rebalance.SyncBalances)
}

func TestLoad_LiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("VOLBALANCE_DATA_DIR", t.TempDir())
	t.Setenv("VOLBALANCE_EXCHANGE_MODE", "live")
	t.Setenv("UPBIT_ACCESS_KEY", "")
	t.Setenv("UPBIT_SECRET_KEY", "")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Setenv("VOLBALANCE_DATA_DIR", t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"fee rate of one", func(c *Config) { c.Rebalance.FeeRate = 1 }},
		{"zero min order value", func(c *Config) { c.Rebalance.MinOrderValue = 0 }},
		{"lowercase asset", func(c *Config) { c.Rebalance.Assets = []string{"btc"} }},
		{"duplicate asset", func(c *Config) { c.Rebalance.Assets = []string{"BTC", "BTC"} }},
		{"non-positive lot", func(c *Config) { c.Rebalance.LotIncrements = map[string]float64{"BTC": 0} }},
		{"ascending tick table", func(c *Config) {
			c.Rebalance.TickTable = []TickStep{{MinPrice: 0, Tick: 1}, {MinPrice: 100, Tick: 10}}
		}},
		{"tick table without floor", func(c *Config) {
			c.Rebalance.TickTable = []TickStep{{MinPrice: 100, Tick: 10}, {MinPrice: 10, Tick: 1}}
		}},
		{"tick coarser than its band", func(c *Config) {
			c.Rebalance.TickTable = []TickStep{{MinPrice: 100, Tick: 500}, {MinPrice: 0, Tick: 1}}
		}},
		{"poll max below interval", func(c *Config) { c.Rebalance.Poll.MaxInterval = time.Millisecond }},
		{"backup without bucket", func(c *Config) { c.Backup.Enabled = true; c.Backup.Bucket = "" }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultTickTable_IsValid(t *testing.T) {
	t.Setenv("VOLBALANCE_DATA_DIR", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Rebalance.TickTable = DefaultTickTable()
	assert.NoError(t, cfg.Validate())
}

func TestPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data", Storage: StorageConfig{
		StateDB: "s.db", LedgerDB: "l.db", LedgerCSV: "l.csv", LockFile: "x.lock",
	}}
	assert.Equal(t, "/data/s.db", cfg.StatePath())
	assert.Equal(t, "/data/l.db", cfg.LedgerDBPath())
	assert.Equal(t, "/data/l.csv", cfg.LedgerCSVPath())
	assert.Equal(t, "/data/x.lock", cfg.LockPath())
}
