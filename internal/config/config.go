// Package config loads storefront settings: defaults, then an optional YAML
// file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Paystack  PaystackConfig  `yaml:"paystack"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type HTTPConfig struct {
	Port           string        `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	// MaxWebhookBytes caps the webhook body read before verification.
	MaxWebhookBytes int64 `yaml:"max_webhook_bytes"`
}

type DatabaseConfig struct {
	// Path is the SQLite file.
	Path string `yaml:"path"`
}

type PaystackConfig struct {
	BaseURL   string `yaml:"base_url"`
	SecretKey string `yaml:"secret_key"`
	// WebhookSecret signs notifications. Empty means SecretKey, which is
	// what Paystack signs with.
	WebhookSecret string `yaml:"webhook_secret"`
	// CallbackURL may contain {orderId}.
	CallbackURL string        `yaml:"callback_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RedisConfig enables idempotency and webhook dedup when Addr is set.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig enables status events when URL is set.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	ServiceName    string `yaml:"service_name"`
	Environment    string `yaml:"environment"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            "8080",
			AllowedOrigins:  []string{"http://localhost:5173"},
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxWebhookBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			Path: "storefront.db",
		},
		Paystack: PaystackConfig{
			BaseURL:     "https://api.paystack.co",
			CallbackURL: "http://localhost:5173/orders/{orderId}/status",
			Timeout:     10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			ServiceName:  "storefront",
			Environment:  "local",
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// Load builds the effective configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	getEnv := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}

	c.HTTP.Port = getEnv("PORT", c.HTTP.Port)
	if v := getEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	c.Database.Path = getEnv("DATABASE_PATH", c.Database.Path)

	c.Paystack.BaseURL = getEnv("PAYSTACK_BASE_URL", c.Paystack.BaseURL)
	c.Paystack.SecretKey = getEnv("PAYSTACK_SECRET_KEY", c.Paystack.SecretKey)
	c.Paystack.WebhookSecret = getEnv("PAYSTACK_WEBHOOK_SECRET", c.Paystack.WebhookSecret)
	c.Paystack.CallbackURL = getEnv("PAYMENT_CALLBACK_URL", c.Paystack.CallbackURL)
	if v := getEnv("GATEWAY_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: GATEWAY_TIMEOUT: %w", err)
		}
		c.Paystack.Timeout = d
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)

	c.Telemetry.LogLevel = getEnv("LOG_LEVEL", c.Telemetry.LogLevel)
	c.Telemetry.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.Environment = getEnv("OTEL_RESOURCE_ATTRIBUTES_ENV", c.Telemetry.Environment)
	c.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	if v := getEnv("TRACING_ENABLED", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: TRACING_ENABLED: %w", err)
		}
		c.Telemetry.TracingEnabled = b
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port == "" {
		errs = append(errs, errors.New("http.port is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Paystack.SecretKey == "" {
		errs = append(errs, errors.New("paystack.secret_key is required (PAYSTACK_SECRET_KEY)"))
	}
	if c.Paystack.BaseURL == "" {
		errs = append(errs, errors.New("paystack.base_url is required"))
	}
	if c.Paystack.Timeout <= 0 {
		errs = append(errs, errors.New("paystack.timeout must be positive"))
	}
	if c.HTTP.MaxWebhookBytes <= 0 {
		errs = append(errs, errors.New("http.max_webhook_bytes must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// WebhookSecret is the key notifications are verified with.
func (c *Config) WebhookSecret() string {
	if c.Paystack.WebhookSecret != "" {
		return c.Paystack.WebhookSecret
	}
	return c.Paystack.SecretKey
}

func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.HTTP.Port, ":")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
