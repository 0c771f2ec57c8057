package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Campaign modes. A deployment runs exactly one.
const (
	ModeInventory = "inventory"
	ModeReview    = "review"
	ModeForm      = "form"
)

// Monthly cap keys for the form campaign.
const (
	CapKeyPhone      = "phone"
	CapKeyPhoneEmail = "phone_email"
)

// Config holds all configuration for the campaign server.
type Config struct {
	// Server
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	CookieSecure  bool   `env:"COOKIE_SECURE" envDefault:"false"`

	// Campaign rules
	Mode               string        `env:"CAMPAIGN_MODE" envDefault:"inventory"`
	StrictPhonePrefix  bool          `env:"STRICT_PHONE_PREFIX" envDefault:"false"`
	RequireName        bool          `env:"REQUIRE_NAME" envDefault:"false"`
	MaxScreenshotBytes int64         `env:"MAX_SCREENSHOT_BYTES" envDefault:"5242880"`
	MonthlyCap         int           `env:"MONTHLY_CAP" envDefault:"3"`
	MonthlyCapKey      string        `env:"MONTHLY_CAP_KEY" envDefault:"phone"`
	PendingTTL         time.Duration `env:"PENDING_TTL" envDefault:"30m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
	StatsRefresh       time.Duration `env:"STATS_REFRESH" envDefault:"30s"`
	LaunchAt           time.Time     `env:"LAUNCH_AT" envDefault:"2025-10-21T00:00:00Z"`

	// Database
	DatabaseDriver string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseHost   string `env:"DB_HOST" envDefault:"localhost"`
	DatabasePort   string `env:"DB_PORT" envDefault:"5432"`
	DatabaseUser   string `env:"DB_USER" envDefault:"postgres"`
	DatabasePass   string `env:"DB_PASS" envDefault:"postgrespassword"`
	DatabaseName   string `env:"DB_NAME" envDefault:"cashback"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"cashback.db"`

	// Screenshot storage
	BlobRoot string `env:"BLOB_ROOT" envDefault:"./data/storage"`

	// Admin dashboard
	AdminUser     string `env:"ADMIN_USER" envDefault:"admin"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// Outbound email; sending is disabled while the service id is empty.
	EmailJSEndpoint   string `env:"EMAILJS_ENDPOINT" envDefault:"https://api.emailjs.com/api/v1.0/email/send"`
	EmailJSServiceID  string `env:"EMAILJS_SERVICE_ID"`
	EmailJSTemplateID string `env:"EMAILJS_TEMPLATE_ID"`
	EmailJSPublicKey  string `env:"EMAILJS_PUBLIC_KEY"`
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DatabaseDriver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePass,
		c.DatabaseName,
	)
}

// EmailEnabled reports whether EmailJS credentials are present.
func (c *Config) EmailEnabled() bool {
	return c.EmailJSServiceID != "" && c.EmailJSTemplateID != "" && c.EmailJSPublicKey != ""
}

// Validate checks required fields and enumerations.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeInventory, ModeReview, ModeForm:
	default:
		return fmt.Errorf("CAMPAIGN_MODE must be one of %s, %s, %s (got %q)", ModeInventory, ModeReview, ModeForm, c.Mode)
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite (got %q)", c.DatabaseDriver)
	}
	switch c.MonthlyCapKey {
	case CapKeyPhone, CapKeyPhoneEmail:
	default:
		return fmt.Errorf("MONTHLY_CAP_KEY must be %s or %s (got %q)", CapKeyPhone, CapKeyPhoneEmail, c.MonthlyCapKey)
	}
	if c.MaxScreenshotBytes <= 0 {
		return fmt.Errorf("MAX_SCREENSHOT_BYTES must be positive")
	}
	if c.MonthlyCap <= 0 {
		return fmt.Errorf("MONTHLY_CAP must be positive")
	}
	if c.PendingTTL <= 0 || c.SweepInterval <= 0 || c.StatsRefresh <= 0 {
		return fmt.Errorf("PENDING_TTL, SWEEP_INTERVAL and STATS_REFRESH must be positive")
	}
	if c.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required")
	}
	return nil
}
