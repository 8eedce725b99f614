package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Store     StoreConfig               `yaml:"store"`
	Database  DatabaseConfig            `yaml:"database"`
	Redis     RedisConfig               `yaml:"redis"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Engine    EngineConfig              `yaml:"engine"`
	Fetch     FetchConfig               `yaml:"fetch"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Log       LogConfig                 `yaml:"log"`
	Notify    NotifyConfig              `yaml:"notify"`
}

// SchedulerConfig bounds concurrent run invocations.
type SchedulerConfig struct {
	GlobalMax   int `yaml:"global_max"`   // max concurrent runs system-wide (default: 10)
	PerWorkflow int `yaml:"per_workflow"` // max concurrent runs per workflow (default: 3)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AllowedOrigins feeds the CORS middleware. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig selects the execution and approval store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory | postgres | redis
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// ProviderConfig holds AI provider settings.
type ProviderConfig struct {
	Type       string `yaml:"type"`    // e.g. "openai"
	URL        string `yaml:"url"`     // base URL
	APIKey     string `yaml:"api_key"` // API key
	MaxRetries int    `yaml:"max_retries"`
}

// EngineConfig sets node time budgets and the model used when a node names
// none.
type EngineConfig struct {
	DefaultModel   string                   `yaml:"default_model"`
	DefaultTimeout time.Duration            `yaml:"default_timeout"`
	KindTimeouts   map[string]time.Duration `yaml:"kind_timeouts"`
	MaxToolRounds  int                      `yaml:"max_tool_rounds"`
}

// FetchConfig configures the web-fetch providers.
type FetchConfig struct {
	DefaultProvider string        `yaml:"default_provider"` // jina | direct | feed
	JinaURL         string        `yaml:"jina_url"`
	JinaAPIKey      string        `yaml:"jina_api_key"`
	UserAgent       string        `yaml:"user_agent"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxBytes        int           `yaml:"max_bytes"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	Burst           int           `yaml:"burst"`
}

// NotifyConfig names the channels told about new approval requests.
type NotifyConfig struct {
	// BaseURL is the public address of this server, used to link approvals.
	BaseURL          string `yaml:"base_url"`
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
	SlackChannel     string `yaml:"slack_channel"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store:     StoreConfig{Driver: "memory"},
		Database:  DatabaseConfig{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute},
		Redis:     RedisConfig{Prefix: "nodeflow:"},
		Providers: map[string]ProviderConfig{},
		Engine: EngineConfig{
			DefaultTimeout: 2 * time.Minute,
			KindTimeouts:   map[string]time.Duration{},
			MaxToolRounds:  8,
		},
		Fetch: FetchConfig{
			DefaultProvider: "direct",
			JinaURL:         "https://r.jina.ai/",
			UserAgent:       "nodeflow/1.0",
			Timeout:         30 * time.Second,
			MaxBytes:        2 << 20,
			RatePerSecond:   5,
			Burst:           5,
		},
		Scheduler: SchedulerConfig{GlobalMax: 10, PerWorkflow: 3},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
// Environment overrides are applied on top of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Ensure maps are never nil even if YAML has "providers: {}" or omits them.
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	if cfg.Engine.KindTimeouts == nil {
		cfg.Engine.KindTimeouts = map[string]time.Duration{}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadDefault loads variables from a ".env" file when present, then tries
// "config.yaml" from the current directory. If the file does not exist, it
// returns defaults with environment overrides applied.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	path := os.Getenv("NODEFLOW_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = defaults()
			if err := applyEnv(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("store driver postgres requires database.url")
		}
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("store driver redis requires redis.url")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	for kind, d := range c.Engine.KindTimeouts {
		if d < 0 {
			return fmt.Errorf("engine.kind_timeouts.%s must not be negative", kind)
		}
	}
	return nil
}

// applyEnv overlays settings that are usually kept out of config files.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("NODEFLOW_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("NODEFLOW_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NODEFLOW_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("NODEFLOW_STORE"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("JINA_API_KEY"); v != "" {
		cfg.Fetch.JinaAPIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.SlackWebhookURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.TelegramBotToken = v
	}
	if v := os.Getenv("NODEFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	envKey(cfg, "openai", "openai", "OPENAI_API_KEY")
	envKey(cfg, "gemini", "gemini", "GEMINI_API_KEY")
	return nil
}

// envKey fills a provider's API key from the environment, creating the
// provider entry when the file does not declare it.
func envKey(cfg *Config, name, typ, env string) {
	key := os.Getenv(env)
	if key == "" {
		return
	}
	p, ok := cfg.Providers[name]
	if !ok {
		p.Type = typ
	}
	if p.APIKey == "" {
		p.APIKey = key
	}
	cfg.Providers[name] = p
}
