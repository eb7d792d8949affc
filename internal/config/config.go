package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Categorize CategorizeConfig `mapstructure:"categorize"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AggregatorConfig holds bank-data aggregator credentials.
type AggregatorConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	ClientID string        `mapstructure:"client_id"`
	Secret   string        `mapstructure:"secret"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
}

// CategorizeConfig holds classifier provider settings.
type CategorizeConfig struct {
	Provider      string        `mapstructure:"provider"`
	Model         string        `mapstructure:"model"`
	APIKeyEnv     string        `mapstructure:"api_key_env"`
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	MaxCandidates int           `mapstructure:"max_candidates"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type SecretsConfig struct {
	KeyEnv string `mapstructure:"key_env"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ResolveAPIKey returns the explicit key, falling back to the configured env var.
func (c CategorizeConfig) ResolveAPIKey() string {
	if strings.TrimSpace(c.APIKey) != "" {
		return c.APIKey
	}
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// CredentialKey reads the passphrase used to seal access tokens.
func (c SecretsConfig) CredentialKey() string {
	return os.Getenv(c.KeyEnv)
}

// Load reads configuration from path (or $BANKFEED_CONFIG, or the user
// config dir) and env. Env var overrides use prefix BANKFEED_.
func Load(path string) (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "bankfeed", "bankfeed.db"))
	v.SetDefault("aggregator.base_url", "https://production.plaid.com")
	v.SetDefault("aggregator.client_id", "")
	v.SetDefault("aggregator.secret", "")
	v.SetDefault("aggregator.page_size", 500)
	v.SetDefault("aggregator.timeout", 30*time.Second)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.stale_after", 30*time.Minute)
	v.SetDefault("categorize.provider", "openai")
	v.SetDefault("categorize.model", "gpt-4o-mini")
	v.SetDefault("categorize.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("categorize.api_key", "")
	v.SetDefault("categorize.base_url", "")
	v.SetDefault("categorize.max_candidates", 50)
	v.SetDefault("categorize.timeout", 8*time.Second)
	v.SetDefault("secrets.key_env", "BANKFEED_CREDENTIAL_KEY")
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv("BANKFEED_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "bankfeed"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("BANKFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Sync.Concurrency < 1 {
		c.Sync.Concurrency = 1
	}
	return c, nil
}
