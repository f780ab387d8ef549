package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"vaultline/internal/token"
)

// Config models vaultline.yml.
type Config struct {
	Token struct {
		ID       string `yaml:"id"`
		Decimals int    `yaml:"decimals"`
	} `yaml:"token"`
	Staking struct {
		MinimumStake      string `yaml:"minimum_stake"`
		LockPeriodSeconds uint64 `yaml:"lock_period_seconds"`
		SlashAuthority    string `yaml:"slash_authority"`
	} `yaml:"staking"`
	Rewards struct {
		Owner       string `yaml:"owner"`
		ProtocolFee string `yaml:"protocol_fee"`
	} `yaml:"rewards"`
	Escrow struct {
		BulkMaxCount           int    `yaml:"bulk_max_count"`
		DefaultBulkMaxValue    string `yaml:"default_bulk_max_value"`
		DefaultDurationSeconds uint64 `yaml:"default_duration_seconds"`
	} `yaml:"escrow"`
	Reputation struct {
		Oracle string `yaml:"oracle"`
		Min    int64  `yaml:"min"`
		Max    int64  `yaml:"max"`
	} `yaml:"reputation"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Secret         string   `yaml:"secret"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with vl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Token.ID == "" {
		return fmt.Errorf("config.token.id is required")
	}
	if c.Token.Decimals < 0 || c.Token.Decimals > 77 {
		return fmt.Errorf("config.token.decimals out of range")
	}
	min, err := token.Parse(c.Staking.MinimumStake)
	if err != nil {
		return fmt.Errorf("config.staking.minimum_stake: %w", err)
	}
	if min.IsZero() {
		return fmt.Errorf("config.staking.minimum_stake must be positive")
	}
	if c.Staking.LockPeriodSeconds == 0 {
		return fmt.Errorf("config.staking.lock_period_seconds must be positive")
	}
	if c.Staking.SlashAuthority == "" {
		return fmt.Errorf("config.staking.slash_authority is required")
	}
	if c.Rewards.Owner == "" {
		return fmt.Errorf("config.rewards.owner is required")
	}
	if _, err := token.Parse(c.Rewards.ProtocolFee); err != nil {
		return fmt.Errorf("config.rewards.protocol_fee: %w", err)
	}
	if c.Escrow.BulkMaxCount <= 0 {
		return fmt.Errorf("config.escrow.bulk_max_count must be positive")
	}
	if _, err := token.Parse(c.Escrow.DefaultBulkMaxValue); err != nil {
		return fmt.Errorf("config.escrow.default_bulk_max_value: %w", err)
	}
	if c.Escrow.DefaultDurationSeconds == 0 {
		return fmt.Errorf("config.escrow.default_duration_seconds must be positive")
	}
	if c.Reputation.Min >= c.Reputation.Max {
		return fmt.Errorf("config.reputation.min must be below max")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// MinimumStake returns the parsed minimum stake. Validate runs first, so a
// parse failure here is a programming error.
func (c *Config) MinimumStake() token.Amount {
	return token.MustParse(c.Staking.MinimumStake)
}

// ProtocolFee returns the parsed rewards protocol fee.
func (c *Config) ProtocolFee() token.Amount {
	return token.MustParse(c.Rewards.ProtocolFee)
}

// DefaultBulkMaxValue returns the parsed per-payout aggregate ceiling.
func (c *Config) DefaultBulkMaxValue() token.Amount {
	return token.MustParse(c.Escrow.DefaultBulkMaxValue)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "vaultline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(tokenID string) string {
	return fmt.Sprintf(defaultTemplate, tokenID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a token.
func Default(tokenID string) *Config {
	cfg, err := FromYAML([]byte(fmt.Sprintf(defaultTemplate, tokenID)))
	if err != nil {
		panic(err)
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `token:
  id: %s
  decimals: 18

staking:
  minimum_stake: "1000000"
  lock_period_seconds: 86400
  slash_authority: admin

rewards:
  owner: admin
  protocol_fee: "1000"

escrow:
  bulk_max_count: 100
  default_bulk_max_value: "1000000000000000000000000"
  default_duration_seconds: 8640000

reputation:
  oracle: admin
  min: -500
  max: 500
`
