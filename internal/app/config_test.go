package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://pos@db/pos")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://pos@db/pos", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestConfig_ApplyPlatformDefaults_ExplicitWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://explicit", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL: "postgres://pos@db/pos",
			Currency:    CurrencyConfig{Scale: 0},
			Analytics:   AnalyticsConfig{Workers: 2},
			Health:      HealthConfig{MaxGoroutines: 10000, MaxGCPause: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "Cents", mutate: func(c *Config) { c.Currency.Scale = 2 }},
		{name: "MissingDatabase", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL is required"},
		{name: "NegativeScale", mutate: func(c *Config) { c.Currency.Scale = -1 }, wantErr: "currency scale"},
		{name: "HugeScale", mutate: func(c *Config) { c.Currency.Scale = 9 }, wantErr: "currency scale"},
		{name: "ScaleFinerThanColumns", mutate: func(c *Config) { c.Currency.Scale = 3 }, wantErr: "out of range [0, 2]"},
		{name: "NoWorkers", mutate: func(c *Config) { c.Analytics.Workers = 0 }, wantErr: "analytics workers"},
		{name: "NoGoroutineLimit", mutate: func(c *Config) { c.Health.MaxGoroutines = 0 }, wantErr: "health limits"},
		{name: "NoGCPauseLimit", mutate: func(c *Config) { c.Health.MaxGCPause = 0 }, wantErr: "health limits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ReceiptHeader(t *testing.T) {
	cfg := Config{
		Currency: CurrencyConfig{Scale: 2, Symbol: "$"},
		Receipt: ReceiptConfig{
			BusinessName: "Iron Gym",
			Address:      "12 Main St",
			Phone:        "555-0100",
			Footer:       "See you soon",
		},
	}

	h := cfg.ReceiptHeader()
	assert.Equal(t, "Iron Gym", h.BusinessName)
	assert.Equal(t, "12 Main St", h.Address)
	assert.Equal(t, "555-0100", h.Phone)
	assert.Equal(t, "See you soon", h.Footer)
	assert.Equal(t, "$", h.Currency)
	assert.Equal(t, int32(2), h.Scale)
}

func TestIsProbe(t *testing.T) {
	for path, want := range map[string]bool{
		"/livez":            true,
		"/readyz":           true,
		"/api/checkout":     false,
		"/api/items/livez":  false,
		"/debug/pprof/heap": true,
	} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, want, isProbe(r), path)
	}
}
