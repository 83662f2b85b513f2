// Package config loads the quantstore YAML configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"

	"quantstore/market"
)

// Config 服务配置
type Config struct {
	Store struct {
		Root      string              `yaml:"root"`
		Exchanges map[string][]string `yaml:"exchanges"`
	} `yaml:"store"`
	Registry struct {
		CacheSize int  `yaml:"cache_size"`
		Watch     bool `yaml:"watch"`
	} `yaml:"registry"`
	Adjust struct {
		ForwardFillFactor bool `yaml:"forward_fill_factor"`
	} `yaml:"adjust"`
	Log struct {
		Level      string `yaml:"level"`
		Encoding   string `yaml:"encoding"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
	Http struct {
		Port    int           `yaml:"port"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"http"`
	Ingestion struct {
		Concurrency int      `yaml:"concurrency"`
		Schedule    string   `yaml:"schedule"`
		Securities  []string `yaml:"securities"`
		ImportDir   string   `yaml:"import_dir"`
	} `yaml:"ingestion"`
	Export struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"export"`
}

// Load reads path (a missing file means all defaults), applies environment
// overrides and defaults, then validates.
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

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("QUANTSTORE_ROOT"); v != "" {
		c.Store.Root = v
	}
	if v := os.Getenv("QUANTSTORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("QUANTSTORE_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUANTSTORE_HTTP_PORT: %w", err)
		}
		c.Http.Port = port
	}
	if v := os.Getenv("QUANTSTORE_SQLITE_PATH"); v != "" {
		c.Export.SQLitePath = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Store.Root == "" {
		c.Store.Root = "data"
	}
	if c.Registry.CacheSize == 0 {
		c.Registry.CacheSize = 64
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}
	if c.Http.Port == 0 {
		c.Http.Port = 8080
	}
	if c.Http.Timeout == 0 {
		c.Http.Timeout = 30 * time.Second
	}
	if c.Ingestion.Concurrency == 0 {
		c.Ingestion.Concurrency = 4
	}
	if c.Export.SQLitePath == "" {
		c.Export.SQLitePath = "data/quantstore.db"
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Store.Root == "" {
		return fmt.Errorf("store.root is required")
	}
	for t, exchanges := range c.Store.Exchanges {
		if _, err := market.ParseSecurityType(t); err != nil {
			return fmt.Errorf("store.exchanges: %w", err)
		}
		if len(exchanges) == 0 {
			return fmt.Errorf("store.exchanges.%s must list at least one exchange", t)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding must be json or console, got %q", c.Log.Encoding)
	}
	if c.Http.Port < 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.Http.Port)
	}
	if c.Ingestion.Concurrency < 1 {
		return fmt.Errorf("ingestion.concurrency must be positive")
	}
	if c.Ingestion.Schedule != "" {
		if _, err := cron.NewParser(cronFields).Parse(c.Ingestion.Schedule); err != nil {
			return fmt.Errorf("ingestion.schedule: %w", err)
		}
	}
	return nil
}

// cronFields matches cron.WithSeconds.
const cronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// Exchanges converts store.exchanges for store.Options; nil when unset.
func (c *Config) Exchanges() map[market.SecurityType][]string {
	if len(c.Store.Exchanges) == 0 {
		return nil
	}
	out := make(map[market.SecurityType][]string, len(c.Store.Exchanges))
	for t, exchanges := range c.Store.Exchanges {
		out[market.SecurityType(t)] = exchanges
	}
	return out
}
