package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the storefront reads from the environment.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	DBDriver    string // sqlite | postgres
	DatabaseDSN string
	OrderStore  string // sql | mongo
	MongoURI    string
	MongoDB     string

	PaymentGateway string // stripe | razorpay
	Currency       string

	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string

	CheckoutSuccessURL string
	CheckoutCancelURL  string

	AllowedOrigins string
	JWTSecret      string
	JWTExpiresIn   time.Duration

	RabbitMQURL           string
	RedisAddr             string
	RedisPassword         string
	DeadLetterMaxAttempts int
	// DeadLetterReplayInterval is how often `serve` retries dead-lettered
	// webhook events. Zero disables the background replay.
	DeadLetterReplayInterval time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "storefront.db")
	v.SetDefault("ORDER_STORE", "sql")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "storefront")
	v.SetDefault("PAYMENT_GATEWAY", "stripe")
	v.SetDefault("CURRENCY", "")
	v.SetDefault("CHECKOUT_SUCCESS_URL", "http://localhost:5173/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("CHECKOUT_CANCEL_URL", "http://localhost:5173/failed")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_EXPIRES_IN", "168h")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("DEAD_LETTER_MAX_ATTEMPTS", 5)
	v.SetDefault("DEAD_LETTER_REPLAY_INTERVAL", "1m")

	for _, key := range []string{
		"STRIPE_SECRET_KEY", "STRIPE_PUBLISHABLE_KEY", "STRIPE_WEBHOOK_SECRET",
		"RAZORPAY_KEY_ID", "RAZORPAY_KEY_SECRET", "RAZORPAY_WEBHOOK_SECRET",
	} {
		v.SetDefault(key, "")
	}
}

// Load reads configuration from environment variables, falling back to defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppPort:               v.GetString("APP_PORT"),
		AppEnv:                strings.ToLower(v.GetString("APP_ENV")),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
		DBDriver:              strings.ToLower(v.GetString("DB_DRIVER")),
		DatabaseDSN:           v.GetString("DATABASE_DSN"),
		OrderStore:            strings.ToLower(v.GetString("ORDER_STORE")),
		MongoURI:              v.GetString("MONGO_URI"),
		MongoDB:               v.GetString("MONGO_DATABASE"),
		PaymentGateway:        strings.ToLower(v.GetString("PAYMENT_GATEWAY")),
		Currency:              strings.ToLower(v.GetString("CURRENCY")),
		StripeSecretKey:       v.GetString("STRIPE_SECRET_KEY"),
		StripePublishableKey:  v.GetString("STRIPE_PUBLISHABLE_KEY"),
		StripeWebhookSecret:   v.GetString("STRIPE_WEBHOOK_SECRET"),
		RazorpayKeyID:         v.GetString("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     v.GetString("RAZORPAY_KEY_SECRET"),
		RazorpayWebhookSecret: v.GetString("RAZORPAY_WEBHOOK_SECRET"),
		CheckoutSuccessURL:    v.GetString("CHECKOUT_SUCCESS_URL"),
		CheckoutCancelURL:     v.GetString("CHECKOUT_CANCEL_URL"),
		AllowedOrigins:        v.GetString("ALLOWED_ORIGINS"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		JWTExpiresIn:          v.GetDuration("JWT_EXPIRES_IN"),
		RabbitMQURL:           v.GetString("RABBITMQ_URL"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		DeadLetterMaxAttempts: v.GetInt("DEAD_LETTER_MAX_ATTEMPTS"),

		DeadLetterReplayInterval: v.GetDuration("DEAD_LETTER_REPLAY_INTERVAL"),
	}

	if cfg.Currency == "" {
		if cfg.PaymentGateway == "razorpay" {
			cfg.Currency = "inr"
		} else {
			cfg.Currency = "usd"
		}
	}
	if cfg.JWTExpiresIn <= 0 {
		cfg.JWTExpiresIn = 7 * 24 * time.Hour
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings. Missing gateway secrets are reported
// when the gateway is constructed, not here, so that `migrate` works without them.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (supported: sqlite, postgres)", c.DBDriver)
	}
	switch c.OrderStore {
	case "sql", "mongo":
	default:
		return fmt.Errorf("unsupported ORDER_STORE %q (supported: sql, mongo)", c.OrderStore)
	}
	switch c.PaymentGateway {
	case "stripe", "razorpay":
	default:
		return fmt.Errorf("unsupported PAYMENT_GATEWAY %q (supported: stripe, razorpay)", c.PaymentGateway)
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}
