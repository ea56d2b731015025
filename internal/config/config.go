// Package config loads bridge settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/broker"
)

type Config struct {
	Port       string           `yaml:"port"`
	Provider   ProviderConfig   `yaml:"provider"`
	Fallback   ProviderConfig   `yaml:"fallback"`
	Completion CompletionConfig `yaml:"completion"`
	Relay      RelayConfig      `yaml:"relay"`
	Evolution  EvolutionConfig  `yaml:"evolution"`
	Broker     BrokerConfig     `yaml:"broker"`
	Journal    JournalConfig    `yaml:"journal"`
	OTLPURL    string           `yaml:"otlp_endpoint"`
}

type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type CompletionConfig struct {
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float32 `yaml:"temperature"`
	Stream       bool    `yaml:"stream"`
}

type RelayConfig struct {
	HistorySize       int           `yaml:"history_size"`
	ErrorNotice       string        `yaml:"error_notice"`
	Timeout           time.Duration `yaml:"timeout"`
	SerializeSessions bool          `yaml:"serialize_sessions"`
}

type EvolutionConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	WebhookURL string `yaml:"webhook_url"`
}

type BrokerConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

type JournalConfig struct {
	DSN       string        `yaml:"dsn"`
	Retention time.Duration `yaml:"retention"`
}

func Default() *Config {
	return &Config{
		Port: "8080",
		Provider: ProviderConfig{
			BaseURL: "https://api.deepseek.com",
			Model:   "deepseek-chat",
			Timeout: 120 * time.Second,
		},
		Completion: CompletionConfig{
			SystemPrompt: ai.DefaultSystemPrompt,
			MaxTokens:    2048,
			Temperature:  0.7,
		},
		Relay: RelayConfig{
			HistorySize:       10,
			ErrorNotice:       ai.DefaultErrorNotice,
			SerializeSessions: true,
		},
		Broker:  BrokerConfig{Events: []string{broker.DefaultEvent}},
		Journal: JournalConfig{Retention: 720 * time.Hour},
	}
}

// Load reads .env (if present), the YAML file named by BRIDGE_CONFIG (if set)
// and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("BRIDGE_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.Relay.Timeout <= 0 {
		cfg.Relay.Timeout = cfg.CompletionBudget() + DeliveryBudget
	}
	return cfg, nil
}

// DeliveryBudget is the share of a relay cycle reserved for sending the
// reply; it matches the Evolution client timeout.
const DeliveryBudget = 30 * time.Second

// CompletionBudget is the longest a completion can take: the primary
// timeout plus, when enabled, the fallback timeout.
func (c *Config) CompletionBudget() time.Duration {
	budget := c.Provider.Timeout
	if c.FallbackEnabled() {
		budget += c.FallbackEndpoint().Timeout
	}
	return budget
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(dst *string, key string) {
		*dst = firstNonEmpty(strings.TrimSpace(os.Getenv(key)), *dst)
	}
	num := func(dst *int, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(dst *bool, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str(&cfg.Port, "PORT")

	str(&cfg.Provider.BaseURL, "PROVIDER_BASE_URL")
	str(&cfg.Provider.APIKey, "PROVIDER_API_KEY")
	str(&cfg.Provider.Model, "PROVIDER_MODEL")
	dur(&cfg.Provider.Timeout, "PROVIDER_TIMEOUT")

	str(&cfg.Fallback.BaseURL, "FALLBACK_BASE_URL")
	str(&cfg.Fallback.APIKey, "FALLBACK_API_KEY")
	str(&cfg.Fallback.Model, "FALLBACK_MODEL")
	dur(&cfg.Fallback.Timeout, "FALLBACK_TIMEOUT")

	str(&cfg.Completion.SystemPrompt, "SYSTEM_PROMPT")
	num(&cfg.Completion.MaxTokens, "MAX_TOKENS")
	if v := strings.TrimSpace(os.Getenv("TEMPERATURE")); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("TEMPERATURE: %w", err))
		} else {
			cfg.Completion.Temperature = float32(f)
		}
	}
	flag(&cfg.Completion.Stream, "STREAM")

	num(&cfg.Relay.HistorySize, "HISTORY_SIZE")
	str(&cfg.Relay.ErrorNotice, "ERROR_NOTICE")
	dur(&cfg.Relay.Timeout, "RELAY_TIMEOUT")
	flag(&cfg.Relay.SerializeSessions, "SERIALIZE_SESSIONS")

	str(&cfg.Evolution.BaseURL, "EVOLUTION_API_BASE_URL")
	str(&cfg.Evolution.APIKey, "EVOLUTION_API_KEY")
	str(&cfg.Evolution.WebhookURL, "WEBHOOK_URL")

	str(&cfg.Broker.URL, "RABBITMQ_URL")
	if v := strings.TrimSpace(os.Getenv("RABBITMQ_EVENTS")); v != "" {
		cfg.Broker.Events = splitList(v)
	}

	str(&cfg.Journal.DSN, "JOURNAL_DSN")
	dur(&cfg.Journal.Retention, "JOURNAL_RETENTION")

	str(&cfg.OTLPURL, "OTEL_EXPORTER_OTLP_ENDPOINT")

	return errors.Join(errs...)
}

// Validate reports settings the bridge cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("PROVIDER_API_KEY is not set: %w", ai.ErrMissingCredential)
	}
	if c.Relay.HistorySize <= 0 {
		return fmt.Errorf("HISTORY_SIZE must be positive, got %d", c.Relay.HistorySize)
	}
	if budget := c.CompletionBudget(); c.Relay.Timeout < budget {
		return fmt.Errorf("RELAY_TIMEOUT %s is shorter than the completion budget %s (provider plus fallback timeouts)", c.Relay.Timeout, budget)
	}
	return nil
}

func (c *Config) FallbackEnabled() bool {
	return c.Fallback.BaseURL != "" || c.Fallback.Model != ""
}

func (c *Config) PrimaryEndpoint() ai.Endpoint {
	return ai.Endpoint{
		Name:    "primary",
		BaseURL: c.Provider.BaseURL,
		APIKey:  c.Provider.APIKey,
		Model:   c.Provider.Model,
		Timeout: c.Provider.Timeout,
	}
}

// FallbackEndpoint inherits every unset field from the primary provider.
func (c *Config) FallbackEndpoint() ai.Endpoint {
	return ai.Endpoint{
		Name:    "fallback",
		BaseURL: firstNonEmpty(c.Fallback.BaseURL, c.Provider.BaseURL),
		APIKey:  firstNonEmpty(c.Fallback.APIKey, c.Provider.APIKey),
		Model:   firstNonEmpty(c.Fallback.Model, c.Provider.Model),
		Timeout: orDuration(c.Fallback.Timeout, c.Provider.Timeout),
	}
}

func (c *Config) CompletionOptions() ai.Options {
	return ai.Options{
		MaxTokens:   c.Completion.MaxTokens,
		Temperature: c.Completion.Temperature,
		Stream:      c.Completion.Stream,
	}
}

func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDuration(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
