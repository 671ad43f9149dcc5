// Package config loads service configuration from a YAML file with
// environment variable overrides. Secrets live in env vars (or a local .env
// file); the YAML file carries structure and defaults.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the newsletter service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	MailerLite MailerLiteConfig `yaml:"mailerlite"`
	Tokens     TokenConfig      `yaml:"tokens"`
	Newsletter NewsletterConfig `yaml:"newsletter"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the listen host, honoring container environments where the
// server must bind all interfaces.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the Redis connection used for the notification queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	QueueKey string `yaml:"queue_key"`
}

// MailerLiteConfig holds the mailing provider API configuration.
type MailerLiteConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	GroupName      string `yaml:"group_name"`
	SenderEmail    string `yaml:"sender_email"`
	SenderName     string `yaml:"sender_name"`
	WebhookSecret  string `yaml:"webhook_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured provider timeout as a duration.
func (c MailerLiteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TokenConfig holds the signing secret and lifetimes for confirmation and
// unsubscribe tokens.
type TokenConfig struct {
	Secret               string `yaml:"secret"`
	ConfirmationTTLHours int    `yaml:"confirmation_ttl_hours"`
	UnsubscribeTTLDays   int    `yaml:"unsubscribe_ttl_days"`
}

// ConfirmationTTL returns the confirmation token lifetime.
func (c TokenConfig) ConfirmationTTL() time.Duration {
	return time.Duration(c.ConfirmationTTLHours) * time.Hour
}

// UnsubscribeTTL returns the unsubscribe token lifetime.
func (c TokenConfig) UnsubscribeTTL() time.Duration {
	return time.Duration(c.UnsubscribeTTLDays) * 24 * time.Hour
}

// NewsletterConfig holds front-end facing newsletter behavior.
type NewsletterConfig struct {
	FrontendURL string `yaml:"frontend_url"`
	PromoPrefix string `yaml:"promo_prefix"`
	// SendMode selects the dispatch model: "broadcast" sends one provider
	// campaign to the whole group; "per_recipient" renders and sends one
	// message per subscriber with their own unsubscribe link embedded.
	SendMode string `yaml:"send_mode"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.QueueKey == "" {
		cfg.Redis.QueueKey = "newsletter:notify"
	}
	if cfg.MailerLite.BaseURL == "" {
		cfg.MailerLite.BaseURL = "https://connect.mailerlite.com/api"
	}
	if cfg.MailerLite.GroupName == "" {
		cfg.MailerLite.GroupName = "newsletter_site"
	}
	if cfg.MailerLite.TimeoutSeconds == 0 {
		cfg.MailerLite.TimeoutSeconds = 15
	}
	if cfg.Tokens.ConfirmationTTLHours == 0 {
		cfg.Tokens.ConfirmationTTLHours = 48
	}
	if cfg.Tokens.UnsubscribeTTLDays == 0 {
		cfg.Tokens.UnsubscribeTTLDays = 365
	}
	if cfg.Newsletter.FrontendURL == "" {
		cfg.Newsletter.FrontendURL = "http://localhost:5173"
	}
	if cfg.Newsletter.PromoPrefix == "" {
		cfg.Newsletter.PromoPrefix = "EC10"
	}
	if cfg.Newsletter.SendMode == "" {
		cfg.Newsletter.SendMode = "broadcast"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first if present, so secrets can live there locally
// and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MAILERLITE_PRIVATE_KEY"); v != "" {
		cfg.MailerLite.APIKey = v
	}
	if v := os.Getenv("MAILERLITE_BASE_URL"); v != "" {
		cfg.MailerLite.BaseURL = v
	}
	if v := os.Getenv("MAILERLITE_NEWSLETTER_GROUP"); v != "" {
		cfg.MailerLite.GroupName = v
	}
	if v := os.Getenv("MAILERLITE_SENDER_EMAIL"); v != "" {
		cfg.MailerLite.SenderEmail = v
	}
	if v := os.Getenv("MAILERLITE_SENDER_NAME"); v != "" {
		cfg.MailerLite.SenderName = v
	}
	if v := os.Getenv("MAILERLITE_WEBHOOK_SECRET"); v != "" {
		cfg.MailerLite.WebhookSecret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Tokens.Secret = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.Newsletter.FrontendURL = v
	}

	return cfg, nil
}
