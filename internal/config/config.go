// Package config loads service configuration from a YAML file with
// environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "90s" style values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Generation GenerationConfig `yaml:"generation"`
	Mint       MintConfig       `yaml:"mint"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

type RedisConfig struct {
	// Addr empty means the in-memory adapters are used instead.
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type GenerationConfig struct {
	BaseURL       string        `yaml:"baseUrl"`
	Timeout       Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
	RateBurst     int           `yaml:"rateBurst"`
}

type MintConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout Duration `yaml:"timeout"`
}

type FusionConfig struct {
	RetryInitialWait Duration `yaml:"retryInitialWait"`
	RetryMaxAttempts uint64        `yaml:"retryMaxAttempts"`
}

type ReconcileConfig struct {
	Interval      Duration `yaml:"interval"`
	StuckDeadline Duration `yaml:"stuckDeadline"`
	LookupTimeout Duration `yaml:"lookupTimeout"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Redis: RedisConfig{
			KeyPrefix: "fuseforge:",
		},
		Generation: GenerationConfig{
			Timeout:       Duration(2 * time.Minute),
			RatePerSecond: 5,
			RateBurst:     10,
		},
		Mint: MintConfig{
			Timeout: Duration(90 * time.Second),
		},
		Fusion: FusionConfig{
			RetryInitialWait: Duration(500 * time.Millisecond),
			RetryMaxAttempts: 4,
		},
		Reconcile: ReconcileConfig{
			Interval:      Duration(30 * time.Second),
			StuckDeadline: Duration(10 * time.Minute),
			LookupTimeout: Duration(15 * time.Second),
		},
	}
}

// Load reads the YAML file at path (optional) and applies environment
// overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run safely on.
func (c Config) Validate() error {
	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("generation.timeout must be positive")
	}
	if c.Mint.Timeout <= 0 {
		return fmt.Errorf("mint.timeout must be positive")
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive")
	}
	if c.Reconcile.StuckDeadline <= 0 {
		return fmt.Errorf("reconcile.stuckDeadline must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FUSEFORGE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FUSEFORGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FUSEFORGE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FUSEFORGE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("FUSEFORGE_GENERATION_URL"); v != "" {
		cfg.Generation.BaseURL = v
	}
	if v := os.Getenv("FUSEFORGE_MINT_URL"); v != "" {
		cfg.Mint.BaseURL = v
	}
	if v := os.Getenv("FUSEFORGE_STUCK_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconcile.StuckDeadline = Duration(d)
		}
	}
}
