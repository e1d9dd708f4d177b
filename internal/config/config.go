package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int      `mapstructure:"RATE_LIMIT_BURST"`
	VendorTimeoutSecs int      `mapstructure:"VENDOR_TIMEOUT_SECONDS"`
	SyncMaxConcurrent int      `mapstructure:"SYNC_MAX_CONCURRENT"`
	WebhookURL        string   `mapstructure:"WEBHOOK_URL"`
	WebhookSecret     string   `mapstructure:"WEBHOOK_SECRET"`
	AuditSink         string   `mapstructure:"AUDIT_SINK"`
	AuthIssuer        string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL       string   `mapstructure:"AUTH_JWKS_URL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("VENDOR_TIMEOUT_SECONDS", 30)
	v.SetDefault("SYNC_MAX_CONCURRENT", 4)
	v.SetDefault("AUDIT_SINK", "log")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("VENDOR_TIMEOUT_SECONDS")
	v.BindEnv("SYNC_MAX_CONCURRENT")
	v.BindEnv("WEBHOOK_URL")
	v.BindEnv("WEBHOOK_SECRET")
	v.BindEnv("AUDIT_SINK")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_JWKS_URL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// VendorTimeout returns the bounded per-call timeout applied to every
// vendor API request.
func (c *Config) VendorTimeout() time.Duration {
	if c.VendorTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.VendorTimeoutSecs) * time.Second
}

// Validate checks that the configuration is safe to run. In production a
// webhook secret is required whenever a webhook URL is configured, so
// conflict notifications are never delivered unsigned.
func (c *Config) Validate() error {
	if c.WebhookURL != "" && c.WebhookSecret == "" && c.IsProduction() {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URL is set in production")
	}
	switch c.AuditSink {
	case "log", "postgres":
	default:
		return fmt.Errorf("AUDIT_SINK must be \"log\" or \"postgres\", got %q", c.AuditSink)
	}
	if c.SyncMaxConcurrent < 1 {
		return fmt.Errorf("SYNC_MAX_CONCURRENT must be at least 1, got %d", c.SyncMaxConcurrent)
	}
	return nil
}
