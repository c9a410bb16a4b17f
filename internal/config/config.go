// Package config loads the wallet daemon configuration from a YAML file
// and X1WALLET_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	// Network settings
	Network string `mapstructure:"network" yaml:"network"`
	RPCUrl  string `mapstructure:"rpc_url" yaml:"rpc_url"`
	WSUrl   string `mapstructure:"ws_url" yaml:"ws_url"`

	// Storage settings
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Transaction settings
	Transaction TransactionConfig `mapstructure:"transaction" yaml:"transaction"`

	// Logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// StorageConfig locates the persistent key-value store.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// TransactionConfig contains submission-related settings.
type TransactionConfig struct {
	PriorityFeeMicroLamports uint64 `mapstructure:"priority_fee_micro_lamports" yaml:"priority_fee_micro_lamports"`
	ComputeUnitLimit         uint32 `mapstructure:"compute_unit_limit" yaml:"compute_unit_limit"`
	SkipPreflight            bool   `mapstructure:"skip_preflight" yaml:"skip_preflight"`
	ConfirmTimeoutSec        int    `mapstructure:"confirm_timeout_sec" yaml:"confirm_timeout_sec"`
	RPCTimeoutSec            int    `mapstructure:"rpc_timeout_sec" yaml:"rpc_timeout_sec"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ConfirmTimeout returns the confirmation wait as a duration.
func (c *TransactionConfig) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSec) * time.Second
}

// RPCTimeout returns the per-call RPC deadline as a duration.
func (c *TransactionConfig) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutSec) * time.Second
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("walletd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("$HOME/.x1-wallet")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("X1WALLET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: defaults plus environment variables apply.
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.RPCUrl == "" {
		endpoint, ok := EndpointFor(config.Network)
		if !ok {
			return nil, fmt.Errorf("unknown network %q and no rpc_url configured", config.Network)
		}
		config.RPCUrl = endpoint
	}
	if config.WSUrl == "" {
		config.WSUrl = strings.Replace(config.RPCUrl, "https://", "wss://", 1)
	}
	return config, nil
}

func setDefaults() {
	viper.SetDefault("network", NetworkX1Mainnet)
	viper.SetDefault("storage.path", "wallet-store.json")
	viper.SetDefault("transaction.priority_fee_micro_lamports", 0)
	viper.SetDefault("transaction.compute_unit_limit", 0)
	viper.SetDefault("transaction.skip_preflight", false)
	viper.SetDefault("transaction.confirm_timeout_sec", 60)
	viper.SetDefault("transaction.rpc_timeout_sec", 8)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
