package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/domain/receipt"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (POS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (POS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis URL for sales analytics; empty disables the Redis recorder (POS_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Kafka       KafkaConfig
	Currency    CurrencyConfig
	Checkout    CheckoutConfig
	Analytics   AnalyticsConfig
	Receipt     ReceiptConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
	Health      HealthConfig
}

// HealthConfig sets the liveness limits.
type HealthConfig struct {
	MaxGoroutines int           `default:"10000" usage:"Liveness fails above this many goroutines"`
	MaxGCPause    time.Duration `default:"1s" usage:"Liveness fails after a GC pause longer than this"`
}

// KafkaConfig enables the sale event mirror when Brokers is set.
type KafkaConfig struct {
	Brokers string `default:"" usage:"Comma-separated Kafka brokers; empty disables the event mirror" flag:"kafka-brokers"`
	Topic   string `default:"pos.sales" usage:"Kafka topic for recorded sales" flag:"kafka-topic"`
}

// CurrencyConfig sets the money precision used for rounding and display.
type CurrencyConfig struct {
	Scale  int    `default:"0" usage:"Fraction digits of the currency minor unit"`
	Symbol string `default:"Rs" usage:"Currency symbol printed on receipts"`
}

// CheckoutConfig tunes the checkout engine.
type CheckoutConfig struct {
	CommitTimeout time.Duration `default:"10s" usage:"Upper bound for the reserve/commit transaction" flag:"commit-timeout"`
	MaxBodyBytes  int64         `default:"1048576" usage:"Maximum request body size"`
}

// AnalyticsConfig controls the background sales recorder.
type AnalyticsConfig struct {
	Workers     int    `default:"2" usage:"Concurrent analytics writers"`
	QueueSize   int    `default:"1024" usage:"Pending sales buffered before dropping"`
	MaxAttempts int    `default:"5" usage:"Attempts per sale before giving up"`
	KeyPrefix   string `default:"pos" usage:"Redis key prefix"`
}

// ReceiptConfig is the letterhead printed on receipts.
type ReceiptConfig struct {
	BusinessName string `default:"Studio POS" usage:"Business name on receipts"`
	Address      string `default:"" usage:"Business address on receipts"`
	Phone        string `default:"" usage:"Business phone on receipts"`
	Footer       string `default:"Thank you for visiting!" usage:"Closing line on receipts"`
	Width        int    `default:"42" usage:"Text receipt width in columns"`
}

// RateLimitConfig controls the per-register sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"300" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POS",
		Files:     []string{"config.yaml", "/etc/pos/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// maxCurrencyScale is the fraction precision of the money columns.
const maxCurrencyScale = 2

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set POS_DATABASE_URL or DATABASE_URL")
	case c.Currency.Scale < 0 || c.Currency.Scale > maxCurrencyScale:
		return errors.Errorf("currency scale %d out of range [0, %d]", c.Currency.Scale, maxCurrencyScale)
	case c.Analytics.Workers < 1:
		return errors.Errorf("analytics workers must be positive, got %d", c.Analytics.Workers)
	case c.Health.MaxGoroutines < 1 || c.Health.MaxGCPause <= 0:
		return errors.Errorf("health limits must be positive, got %d goroutines and %s GC pause",
			c.Health.MaxGoroutines, c.Health.MaxGCPause)
	}
	return nil
}

// ReceiptHeader converts the receipt settings into the letterhead.
func (c *Config) ReceiptHeader() receipt.Header {
	return receipt.Header{
		BusinessName: c.Receipt.BusinessName,
		Address:      c.Receipt.Address,
		Phone:        c.Receipt.Phone,
		Footer:       c.Receipt.Footer,
		Currency:     c.Currency.Symbol,
		Scale:        int32(c.Currency.Scale),
	}
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's POS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
