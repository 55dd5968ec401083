package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// HistoryBackend selects the durable tier implementation.
type HistoryBackend string

const (
	HistoryBackendNone   HistoryBackend = "none"
	HistoryBackendSQLite HistoryBackend = "sqlite"
	HistoryBackendRedis  HistoryBackend = "redis"
)

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type HistoryConfig struct {
	Backend    HistoryBackend `yaml:"backend"`
	SQLitePath string         `yaml:"sqlite_path"`
	RedisAddr  string         `yaml:"redis_addr"`
}

// BusConfig selects the inbound event transport: in-process GoChannel by
// default, Redis Streams when enabled.
type BusConfig struct {
	RedisEnabled  bool   `yaml:"redis_enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisGroup    string `yaml:"redis_group"`
	RedisConsumer string `yaml:"redis_consumer"`
}

// Config is resolved once at startup and treated as immutable afterwards.
// Capability decisions (Gemini enabled, durable backend) live here so the
// rest of the code never probes for nil globals.
type Config struct {
	BotToken    string        `yaml:"bot_token"`
	WebhookBase string        `yaml:"webhook_base"`
	ListenAddr  string        `yaml:"listen_addr"`
	Gemini      GeminiConfig  `yaml:"gemini"`
	History     HistoryConfig `yaml:"history"`
	Bus         BusConfig     `yaml:"bus"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		Gemini:     GeminiConfig{Model: "gemini-2.5-flash"},
		History: HistoryConfig{
			Backend:    HistoryBackendSQLite,
			SQLitePath: "telegem-history.db",
			RedisAddr:  "localhost:6379",
		},
		Bus: BusConfig{
			RedisAddr:     "localhost:6379",
			RedisGroup:    "telegem",
			RedisConsumer: "telegem-1",
		},
	}
}

// Load reads the optional YAML file, applies environment overrides matching
// the original deployment's variables, then validates.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config: read file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "config: parse yaml")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.BotToken = v
	}
	if v := os.Getenv("WEBHOOK_BASE"); v != "" {
		c.WebhookBase = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.ListenAddr = ":" + v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.History.RedisAddr = v
		c.Bus.RedisAddr = v
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return errors.New("config: bot_token is required (BOT_TOKEN)")
	}
	if strings.TrimSpace(c.WebhookBase) == "" {
		return errors.New("config: webhook_base is required (WEBHOOK_BASE)")
	}
	switch c.History.Backend {
	case HistoryBackendNone, HistoryBackendSQLite, HistoryBackendRedis:
	default:
		return errors.Errorf("config: unknown history backend %q", c.History.Backend)
	}
	return nil
}

// GeminiEnabled reports whether a model credential was configured. A missing
// key is not fatal for the process: the bot runs and reports the
// misconfiguration per request.
func (c *Config) GeminiEnabled() bool {
	return strings.TrimSpace(c.Gemini.APIKey) != ""
}
