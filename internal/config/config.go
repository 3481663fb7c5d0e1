package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"ring0.store/fulfillment/models"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	SentryDSN   string `env:"SENTRY_DSN"`

	// DatabaseURL is sqlite3://path/to/file.db or postgres://...
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	EnabledProviders         []string `env:"ENABLED_PROVIDERS" envSeparator:"," envDefault:"stripe,storrik,komerza,moneymotion"`
	StripeWebhookSecret      string   `env:"STRIPE_WEBHOOK_SECRET"`
	StorrikWebhookSecret     string   `env:"STORRIK_WEBHOOK_SECRET"`
	KomerzaWebhookSecret     string   `env:"KOMERZA_WEBHOOK_SECRET"`
	MoneyMotionWebhookSecret string   `env:"MONEYMOTION_WEBHOOK_SECRET"`

	Fulfillment

	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitRequests  int           `env:"RATE_LIMIT_REQUESTS" envDefault:"30"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// New loads .env when present, reads the environment and validates the result.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Fulfillment configures what happens once an order is paid: fallback key
// minting, the purchase email and the operational notifiers.
type Fulfillment struct {
	FallbackKeyPrefix string `env:"FALLBACK_KEY_PREFIX" envDefault:"RING0"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     string `env:"SMTP_PORT"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	EmailFrom    string `env:"EMAIL_FROM" envDefault:"licenses@ring0.store"`
	StoreName    string `env:"STORE_NAME" envDefault:"Ring-0"`

	DiscordWebhookURL     string        `env:"DISCORD_WEBHOOK_URL"`
	KafkaBootstrapServers string        `env:"KAFKA_BOOTSTRAP_SERVERS"`
	KafkaTopic            string        `env:"KAFKA_TOPIC" envDefault:"successful_payments"`
	NotifyTimeout         time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
	EmailMaxAttempts      int           `env:"EMAIL_MAX_ATTEMPTS" envDefault:"3"`
}

type databaseConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
}

// DatabaseURL reads only DATABASE_URL, for admin commands that never
// receive webhooks and so need no provider secrets.
func DatabaseURL() (string, error) {
	_ = godotenv.Load()

	var cfg databaseConfig
	if err := env.Parse(&cfg); err != nil {
		return "", fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg.DatabaseURL, nil
}

func (c *Config) Validate() error {
	for _, name := range c.EnabledProviders {
		method, ok := models.ParsePaymentMethod(strings.TrimSpace(name))
		if !ok || method == models.MethodCryptoManual {
			return fmt.Errorf("unknown webhook provider %q in ENABLED_PROVIDERS", name)
		}
		if c.WebhookSecret(method) == "" {
			return fmt.Errorf("%s_WEBHOOK_SECRET environment variable is required when %s is enabled",
				strings.ToUpper(string(method)), method)
		}
	}

	return c.Fulfillment.Validate()
}

// Providers returns the enabled webhook providers in configuration order.
func (c *Config) Providers() []models.PaymentMethod {
	methods := make([]models.PaymentMethod, 0, len(c.EnabledProviders))
	for _, name := range c.EnabledProviders {
		if m, ok := models.ParsePaymentMethod(strings.TrimSpace(name)); ok {
			methods = append(methods, m)
		}
	}
	return methods
}

func (c *Config) WebhookSecret(method models.PaymentMethod) string {
	switch method {
	case models.MethodStripe:
		return c.StripeWebhookSecret
	case models.MethodStorrik:
		return c.StorrikWebhookSecret
	case models.MethodKomerza:
		return c.KomerzaWebhookSecret
	case models.MethodMoneyMotion:
		return c.MoneyMotionWebhookSecret
	default:
		return ""
	}
}

// LoadFulfillment reads only the fulfillment settings, for admin commands
// that complete orders outside a webhook.
func LoadFulfillment() (*Fulfillment, error) {
	_ = godotenv.Load()

	f := &Fulfillment{}
	if err := env.Parse(f); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Fulfillment) Validate() error {
	if f.FallbackKeyPrefix == "" {
		return errors.New("FALLBACK_KEY_PREFIX must not be empty")
	}
	smtp := []string{f.SMTPHost, f.SMTPPort, f.SMTPUsername, f.SMTPPassword}
	set := 0
	for _, v := range smtp {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != len(smtp) {
		return errors.New("SMTP_HOST, SMTP_PORT, SMTP_USERNAME, and SMTP_PASSWORD must be set together")
	}
	if f.EmailMaxAttempts < 1 {
		return errors.New("EMAIL_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (f *Fulfillment) SMTPEnabled() bool {
	return f.SMTPHost != ""
}
