package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"EpochKeeper/internal/model"
	"EpochKeeper/internal/registry"
	"EpochKeeper/internal/solver"
)

// Config holds all application configuration.
type Config struct {
	Ledger struct {
		BaseURL  string        `yaml:"base_url"`
		APIKey   string        `yaml:"api_key"`
		Timeout  time.Duration `yaml:"timeout"`
		Simulate bool          `yaml:"simulate"`
	} `yaml:"ledger"`
	Schedule struct {
		SettleCron   string        `yaml:"settle_cron"`
		RegistryCron string        `yaml:"registry_cron"`
		MaxParallel  int           `yaml:"max_parallel"`
		TickTimeout  time.Duration `yaml:"tick_timeout"`
	} `yaml:"schedule"`
	Solver struct {
		Weights      model.PriorityWeights `yaml:"weights"`
		MinWeightGap uint64                `yaml:"min_weight_gap"`
	} `yaml:"solver"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		LockTTL  time.Duration `yaml:"lock_ttl"`
	} `yaml:"redis"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	Registry struct {
		PoolsFile string `yaml:"pools_file"`
	} `yaml:"registry"`
	Pools     []registry.Entry `yaml:"pools"`
	StateFile string           `yaml:"state_file"`
	Proxy     string           `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LEDGER_BASE_URL"); v != "" {
		cfg.Ledger.BaseURL = v
	}
	if v := os.Getenv("LEDGER_API_KEY"); v != "" {
		cfg.Ledger.APIKey = v
	}
	if v := os.Getenv("LEDGER_SIMULATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Ledger.Simulate = b
		}
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("SETTLE_CRON"); v != "" {
		cfg.Schedule.SettleCron = v
	}
	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults
	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = 20 * time.Second
	}
	if cfg.Schedule.SettleCron == "" {
		cfg.Schedule.SettleCron = "@every 5m"
	}
	if cfg.Schedule.RegistryCron == "" {
		cfg.Schedule.RegistryCron = "@every 30m"
	}
	if cfg.Schedule.MaxParallel == 0 {
		cfg.Schedule.MaxParallel = 4
	}
	if cfg.Schedule.TickTimeout == 0 {
		cfg.Schedule.TickTimeout = 2 * time.Minute
	}
	if cfg.Solver.Weights.IsZero() {
		cfg.Solver.Weights = solver.DefaultWeights
	}
	if cfg.Solver.MinWeightGap == 0 {
		cfg.Solver.MinWeightGap = solver.DefaultMinWeightGap
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/epoch_keeper.db"
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 5 * time.Minute
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9102"
	}
	if cfg.StateFile == "" {
		cfg.StateFile = "data/halts.json"
	}

	return cfg, nil
}

// Validate checks that the configuration can drive a keeper.
func (c *Config) Validate() error {
	if !c.Ledger.Simulate && c.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger.base_url is required unless ledger.simulate is set")
	}
	if c.Schedule.MaxParallel < 1 {
		return fmt.Errorf("schedule.max_parallel must be at least 1")
	}
	if c.Schedule.TickTimeout < 0 {
		return fmt.Errorf("schedule.tick_timeout must be positive")
	}
	if err := solver.ValidateWeights(c.Solver.Weights, c.Solver.MinWeightGap); err != nil {
		return fmt.Errorf("solver.weights: %w", err)
	}
	if c.Registry.PoolsFile == "" && len(c.Pools) == 0 {
		return fmt.Errorf("either registry.pools_file or pools is required")
	}
	if _, err := registry.Build(c.Pools, c.Solver.MinWeightGap); err != nil {
		return fmt.Errorf("pools: %w", err)
	}
	return nil
}

// PoolSource returns the configured registry source.
func (c *Config) PoolSource() (registry.Source, error) {
	if c.Registry.PoolsFile != "" {
		return &registry.FileSource{Path: c.Registry.PoolsFile, MinWeightGap: c.Solver.MinWeightGap}, nil
	}
	pools, err := registry.Build(c.Pools, c.Solver.MinWeightGap)
	if err != nil {
		return nil, err
	}
	return &registry.StaticSource{Pools: pools}, nil
}

// TelegramEnabled reports whether operator alerts go to Telegram.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
