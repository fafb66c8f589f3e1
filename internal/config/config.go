// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/volbalance/internal/utils"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
// It is built once at startup and passed to every component; nothing reads
// process-wide settings after Load returns.
type Config struct {
	DataDir   string          `yaml:"data_dir" default:"./data" validate:"required"`
	LogLevel  string          `yaml:"log_level" default:"info" validate:"oneof=debug info warn error disabled"`
	LogPretty bool            `yaml:"log_pretty" default:"true"`
	Timezone  string          `yaml:"timezone" default:"Asia/Seoul" validate:"required"`
	Rebalance RebalanceConfig `yaml:"rebalance"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Storage   StorageConfig   `yaml:"storage"`
	Backup    BackupConfig    `yaml:"backup"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// RebalanceConfig holds the engine parameters. All are static per deployment.
type RebalanceConfig struct {
	Assets           []string           `yaml:"assets" default:"[\"BTC\",\"XRP\",\"MANA\"]" validate:"required,min=1,dive,required,uppercase"`
	MinOrderValue    float64            `yaml:"min_order_value" default:"5000" validate:"gt=0"`
	FeeRate          float64            `yaml:"fee_rate" default:"0.0005" validate:"gte=0,lt=1"`
	StartingCash     float64            `yaml:"starting_cash" default:"10000000" validate:"gte=0"`
	VolatilityWindow int                `yaml:"volatility_window" default:"20" validate:"gte=2"`
	LotIncrements    map[string]float64 `yaml:"lot_increments" validate:"dive,gt=0"`
	TickTable        []TickStep         `yaml:"tick_table" validate:"dive"`
	VolumePrecision  int32              `yaml:"volume_precision" default:"8" validate:"gte=0,lte=18"`
	SyncBalances     bool               `yaml:"sync_balances"`
	Poll             PollConfig         `yaml:"poll"`
}

// TickStep applies Tick to every price >= MinPrice
type TickStep struct {
	MinPrice float64 `yaml:"min_price" validate:"gte=0"`
	Tick     float64 `yaml:"tick" validate:"gt=0"`
}

// PollConfig bounds the fill poller
type PollConfig struct {
	Interval      time.Duration `yaml:"interval" default:"1s" validate:"gt=0"`
	MaxInterval   time.Duration `yaml:"max_interval" default:"30s" validate:"gt=0"`
	BackoffFactor float64       `yaml:"backoff_factor" default:"2" validate:"gte=1"`
	MaxAttempts   int           `yaml:"max_attempts" default:"60" validate:"gte=1"`
}

// ExchangeConfig selects and configures the exchange client
type ExchangeConfig struct {
	Mode           string        `yaml:"mode" default:"paper" validate:"oneof=live paper"`
	BaseURL        string        `yaml:"base_url" default:"https://api.upbit.com" validate:"required,url"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"10s" validate:"gt=0"`
	MaxRetries     int           `yaml:"max_retries" default:"3" validate:"gte=0"`
}

// StorageConfig names the files kept under DataDir
type StorageConfig struct {
	StateDB   string `yaml:"state_db" default:"state.db" validate:"required"`
	LedgerDB  string `yaml:"ledger_db" default:"ledger.db" validate:"required"`
	LedgerCSV string `yaml:"ledger_csv" default:"rebalance_log.csv" validate:"required"`
	LockFile  string `yaml:"lock_file" default:"rebalance.lock" validate:"required"`
}

// BackupConfig configures the optional S3-compatible (e.g. R2) backup
type BackupConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `yaml:"prefix" default:"volbalance"`
	Region          string `yaml:"region" default:"auto"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	RetentionDays   int    `yaml:"retention_days" default:"30" validate:"gte=0"`
}

// ServerConfig configures the status API served in daemon mode.
// POST /api/rebalance/run requires RunToken when set, and is refused in live
// mode when it is not.
type ServerConfig struct {
	Host           string   `yaml:"host" default:"127.0.0.1"`
	Port           int      `yaml:"port" default:"8001" validate:"gt=0,lte=65535"`
	RunToken       string   `yaml:"run_token"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,required"`
}

// SchedulerConfig configures daemon mode. Cron expressions include a seconds field.
type SchedulerConfig struct {
	Spec            string `yaml:"spec" default:"0 0 9 * * *" validate:"required"`
	MaintenanceSpec string `yaml:"maintenance_spec" default:"0 30 3 * * *" validate:"required"`
}

// Load reads configuration from an optional YAML file, then applies
// environment variable overrides (.env is honoured when present).
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if len(cfg.Rebalance.TickTable) == 0 {
		cfg.Rebalance.TickTable = DefaultTickTable()
	}

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// DefaultTickTable is the Upbit KRW market price-unit table
func DefaultTickTable() []TickStep {
	return []TickStep{
		{MinPrice: 2000000, Tick: 1000},
		{MinPrice: 1000000, Tick: 500},
		{MinPrice: 500000, Tick: 100},
		{MinPrice: 100000, Tick: 50},
		{MinPrice: 10000, Tick: 10},
		{MinPrice: 1000, Tick: 1},
		{MinPrice: 100, Tick: 0.1},
		{MinPrice: 10, Tick: 0.01},
		{MinPrice: 1, Tick: 0.001},
		{MinPrice: 0.1, Tick: 0.0001},
		{MinPrice: 0.01, Tick: 0.00001},
		{MinPrice: 0.001, Tick: 0.000001},
		{MinPrice: 0, Tick: 0.0000001},
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Exchange.Mode == "live" && (c.Exchange.AccessKey == "" || c.Exchange.SecretKey == "") {
		return errors.New("exchange.mode=live requires access_key and secret_key")
	}

	if c.Rebalance.Poll.MaxInterval < c.Rebalance.Poll.Interval {
		return errors.New("rebalance.poll.max_interval must be >= rebalance.poll.interval")
	}

	// Thresholds strictly descending, ticks non-increasing, ending at zero
	steps := c.Rebalance.TickTable
	for i := 1; i < len(steps); i++ {
		if steps[i].MinPrice >= steps[i-1].MinPrice {
			return fmt.Errorf("rebalance.tick_table: min_price must be strictly descending at index %d", i)
		}
		if steps[i].Tick > steps[i-1].Tick {
			return fmt.Errorf("rebalance.tick_table: tick must not grow as price falls at index %d", i)
		}
	}
	// A tick above its own threshold floors prices in that band to zero
	for i := 0; i < len(steps)-1; i++ {
		if steps[i].Tick > steps[i].MinPrice {
			return fmt.Errorf("rebalance.tick_table: tick %g exceeds min_price %g at index %d", steps[i].Tick, steps[i].MinPrice, i)
		}
	}
	if len(steps) > 0 && steps[len(steps)-1].MinPrice != 0 {
		return errors.New("rebalance.tick_table: last step must have min_price 0")
	}

	seen := make(map[string]bool, len(c.Rebalance.Assets))
	for _, a := range c.Rebalance.Assets {
		if seen[a] {
			return fmt.Errorf("rebalance.assets: duplicate asset %s", a)
		}
		seen[a] = true
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	return nil
}

// Location returns the configured timezone (UTC if it cannot be loaded)
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StatePath returns the absolute path of the state database
func (c *Config) StatePath() string { return filepath.Join(c.DataDir, c.Storage.StateDB) }

// LedgerDBPath returns the absolute path of the ledger database
func (c *Config) LedgerDBPath() string { return filepath.Join(c.DataDir, c.Storage.LedgerDB) }

// LedgerCSVPath returns the absolute path of the ledger CSV
func (c *Config) LedgerCSVPath() string { return filepath.Join(c.DataDir, c.Storage.LedgerCSV) }

// LockPath returns the absolute path of the single-instance lock file
func (c *Config) LockPath() string { return filepath.Join(c.DataDir, c.Storage.LockFile) }

func (c *Config) applyEnv() {
	c.DataDir = getEnv("VOLBALANCE_DATA_DIR", c.DataDir)
	c.LogLevel = getEnv("VOLBALANCE_LOG_LEVEL", c.LogLevel)
	c.Timezone = getEnv("VOLBALANCE_TIMEZONE", c.Timezone)
	c.Exchange.Mode = getEnv("VOLBALANCE_EXCHANGE_MODE", c.Exchange.Mode)
	c.Exchange.AccessKey = getEnv("UPBIT_ACCESS_KEY", c.Exchange.AccessKey)
	c.Exchange.SecretKey = getEnv("UPBIT_SECRET_KEY", c.Exchange.SecretKey)
	c.Server.Host = getEnv("VOLBALANCE_HOST", c.Server.Host)
	c.Server.Port = getEnvAsInt("VOLBALANCE_PORT", c.Server.Port)
	c.Server.RunToken = getEnv("VOLBALANCE_RUN_TOKEN", c.Server.RunToken)
	c.Rebalance.SyncBalances = getEnvAsBool("VOLBALANCE_SYNC_BALANCES", c.Rebalance.SyncBalances)
	c.Backup.Enabled = getEnvAsBool("VOLBALANCE_BACKUP_ENABLED", c.Backup.Enabled)
	c.Backup.Bucket = getEnv("VOLBALANCE_BACKUP_BUCKET", c.Backup.Bucket)
	c.Backup.Endpoint = getEnv("VOLBALANCE_BACKUP_ENDPOINT", c.Backup.Endpoint)
	c.Backup.AccessKeyID = getEnv("VOLBALANCE_BACKUP_ACCESS_KEY_ID", c.Backup.AccessKeyID)
	c.Backup.SecretAccessKey = getEnv("VOLBALANCE_BACKUP_SECRET_ACCESS_KEY", c.Backup.SecretAccessKey)

	if symbols := utils.ParseSymbols(os.Getenv("VOLBALANCE_ASSETS")); len(symbols) > 0 {
		c.Rebalance.Assets = symbols
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
