package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	SettlementGateway   = "gateway"
	SettlementSimulated = "simulated"
)

type Config struct {
	DBSource       string `mapstructure:"DB_SOURCE"`
	Port           string `mapstructure:"SERVER_PORT"`
	Env            string `mapstructure:"ENVIRONMENT"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	StoreDriver    string `mapstructure:"STORE_DRIVER"`
	MigrateOnStart bool   `mapstructure:"MIGRATE_ON_START"`
	AccountCache   int    `mapstructure:"ACCOUNT_CACHE_SIZE"`

	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisDB         int    `mapstructure:"REDIS_DB"`
	OutcomePrefix   string `mapstructure:"OUTCOME_CHANNEL_PREFIX"`
	DepositStream   string `mapstructure:"DEPOSIT_STREAM"`
	DepositGroup    string `mapstructure:"DEPOSIT_GROUP"`
	DepositConsumer string `mapstructure:"DEPOSIT_CONSUMER"`

	SettlementMode    string        `mapstructure:"SETTLEMENT_MODE"`
	GatewayURL        string        `mapstructure:"SETTLEMENT_GATEWAY_URL"`
	SettlementTimeout time.Duration `mapstructure:"SETTLEMENT_TIMEOUT"`
	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	ReconcileGrace    time.Duration `mapstructure:"RECONCILE_GRACE"`
}

var defaults = map[string]interface{}{
	"DB_SOURCE":              "",
	"SERVER_PORT":            "8080",
	"ENVIRONMENT":            "development",
	"LOG_LEVEL":              "",
	"STORE_DRIVER":           StoreDriverPostgres,
	"MIGRATE_ON_START":       true,
	"ACCOUNT_CACHE_SIZE":     10000,
	"REDIS_ADDR":             "",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"OUTCOME_CHANNEL_PREFIX": "tipledger:outcomes",
	"DEPOSIT_STREAM":         "tipledger:deposits",
	"DEPOSIT_GROUP":          "tipledger",
	"DEPOSIT_CONSUMER":       "",
	"SETTLEMENT_MODE":        SettlementSimulated,
	"SETTLEMENT_GATEWAY_URL": "",
	"SETTLEMENT_TIMEOUT":     "30s",
	"RECONCILE_INTERVAL":     "1m",
	"RECONCILE_GRACE":        "2m",
}

// Load reads the environment, optionally seeded from a .env file in path.
// Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.AddConfigPath(path)
		v.SetConfigName(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.SettlementMode {
	case SettlementGateway:
		if c.GatewayURL == "" {
			return fmt.Errorf("SETTLEMENT_GATEWAY_URL is required in gateway mode")
		}
	case SettlementSimulated:
	default:
		return fmt.Errorf("unknown SETTLEMENT_MODE %q", c.SettlementMode)
	}

	if c.SettlementTimeout <= 0 || c.ReconcileInterval <= 0 {
		return fmt.Errorf("SETTLEMENT_TIMEOUT and RECONCILE_INTERVAL must be positive")
	}
	// A withdrawal younger than the grace period may still be in its first submission.
	if c.ReconcileGrace <= c.SettlementTimeout {
		return fmt.Errorf("RECONCILE_GRACE (%s) must exceed SETTLEMENT_TIMEOUT (%s)", c.ReconcileGrace, c.SettlementTimeout)
	}
	if c.AccountCache <= 0 {
		return fmt.Errorf("ACCOUNT_CACHE_SIZE must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
