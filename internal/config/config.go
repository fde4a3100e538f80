// Package config defines all configuration for the trader node.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	DryRun  bool          `mapstructure:"dry_run"`
	Trader  TraderConfig  `mapstructure:"trader"`
	Account AccountConfig `mapstructure:"account"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// TraderConfig identifies this node.
type TraderConfig struct {
	ID string `mapstructure:"id"`
}

// AccountConfig names the brokerage account the node executes against.
type AccountConfig struct {
	ID        string `mapstructure:"id"`
	Brokerage string `mapstructure:"brokerage"`
	Currency  string `mapstructure:"currency"`
}

// GatewayConfig holds the broker gateway endpoints and the API credential
// triplet used for HMAC request signing.
type GatewayConfig struct {
	RESTBaseURL string `mapstructure:"rest_base_url"`
	WSEventURL  string `mapstructure:"ws_event_url"`
	APIKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. Sensitive
// fields use env vars: TRADER_API_KEY, TRADER_SECRET, TRADER_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("TRADER_API_KEY"); key != "" {
		cfg.Gateway.APIKey = key
	}
	if secret := os.Getenv("TRADER_SECRET"); secret != "" {
		cfg.Gateway.Secret = secret
	}
	if pass := os.Getenv("TRADER_PASSPHRASE"); pass != "" {
		cfg.Gateway.Passphrase = pass
	}

	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Trader.ID == "" {
		return fmt.Errorf("trader.id is required")
	}
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	if c.DryRun {
		return nil
	}
	if c.Gateway.RESTBaseURL == "" {
		return fmt.Errorf("gateway.rest_base_url is required")
	}
	if c.Gateway.WSEventURL == "" {
		return fmt.Errorf("gateway.ws_event_url is required")
	}
	if c.Gateway.APIKey == "" || c.Gateway.Secret == "" || c.Gateway.Passphrase == "" {
		return fmt.Errorf("gateway credentials are required outside dry-run")
	}
	return nil
}
