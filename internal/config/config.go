package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Source kinds.
const (
	SourceMemory   = "memory"
	SourcePostgres = "postgres"
	SourceOnchain  = "onchain"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Source         string
	Fixture        string
	PGDSN          string
	PGMigrate      bool
	RPCURL         string
	Registry       string
	Voter          string
	Router         string
	GenesisEpoch   uint64
	MaxLimit       int
	RetryBackoff   time.Duration
	Listen         string
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUGAR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("source", SourceMemory)
	v.SetDefault("fixture", "./data/fixture.jsonl")
	v.SetDefault("max-limit", 1000)
	v.SetDefault("retry-backoff", 200*time.Millisecond)
	v.SetDefault("listen", ":8080")
	v.SetDefault("rate-limit", 50.0)
	v.SetDefault("rate-burst", 100)
	v.SetDefault("request-timeout", 15*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Source:         strings.ToLower(strings.TrimSpace(v.GetString("source"))),
		Fixture:        v.GetString("fixture"),
		PGDSN:          v.GetString("pg-dsn"),
		PGMigrate:      v.GetBool("pg-migrate"),
		RPCURL:         v.GetString("rpc"),
		Registry:       strings.TrimSpace(v.GetString("registry")),
		Voter:          strings.TrimSpace(v.GetString("voter")),
		Router:         strings.TrimSpace(v.GetString("router")),
		GenesisEpoch:   v.GetUint64("genesis-epoch"),
		MaxLimit:       v.GetInt("max-limit"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		Listen:         v.GetString("listen"),
		RateLimit:      v.GetFloat64("rate-limit"),
		RateBurst:      v.GetInt("rate-burst"),
		RequestTimeout: v.GetDuration("request-timeout"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings the selected source depends on.
func (c Config) Validate() error {
	switch c.Source {
	case SourceMemory:
		if c.Fixture == "" {
			return fmt.Errorf("fixture path is required for source %q", c.Source)
		}
	case SourcePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg dsn is required for source %q", c.Source)
		}
	case SourceOnchain:
		if c.RPCURL == "" {
			return fmt.Errorf("rpc url is required for source %q", c.Source)
		}
		if c.Registry == "" || c.Voter == "" {
			return fmt.Errorf("registry and voter addresses are required for source %q", c.Source)
		}
	default:
		return fmt.Errorf("unknown source %q (want memory, postgres or onchain)", c.Source)
	}
	if c.MaxLimit <= 0 {
		return fmt.Errorf("max-limit must be > 0, got %d", c.MaxLimit)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate-limit and rate-burst must be >= 0")
	}
	return nil
}
