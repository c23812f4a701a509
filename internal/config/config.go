package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultUnit    string        `mapstructure:"DEFAULT_UNIT"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	TicketPrefix              string        `mapstructure:"TICKET_PREFIX"`
	ClinicTimezone            string        `mapstructure:"CLINIC_TIMEZONE"`
	ReceptionCallWindow       time.Duration `mapstructure:"RECEPTION_CALL_WINDOW"`
	ReceptionInProgressWindow time.Duration `mapstructure:"RECEPTION_IN_PROGRESS_WINDOW"`
	DisplayUpcomingLimit      int           `mapstructure:"DISPLAY_UPCOMING_LIMIT"`
	DisplayCorridorLimit      int           `mapstructure:"DISPLAY_CORRIDOR_LIMIT"`
	DisplayRecentCallsLimit   int           `mapstructure:"DISPLAY_RECENT_CALLS_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_UNIT",
	"MIGRATIONS_DIR", "REDIS_URL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"AUTH_SIGNING_KEY", "TICKET_PREFIX", "CLINIC_TIMEZONE", "RECEPTION_CALL_WINDOW",
	"RECEPTION_IN_PROGRESS_WINDOW", "DISPLAY_UPCOMING_LIMIT", "DISPLAY_CORRIDOR_LIMIT",
	"DISPLAY_RECENT_CALLS_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_UNIT", "main")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV when empty
	v.SetDefault("TICKET_PREFIX", "A")
	v.SetDefault("CLINIC_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("RECEPTION_CALL_WINDOW", "2m")
	v.SetDefault("RECEPTION_IN_PROGRESS_WINDOW", "30s")
	v.SetDefault("DISPLAY_UPCOMING_LIMIT", 6)
	v.SetDefault("DISPLAY_CORRIDOR_LIMIT", 8)
	v.SetDefault("DISPLAY_RECENT_CALLS_LIMIT", 5)

	// Bind explicitly so Unmarshal sees env-only keys.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in development mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token act as the development operator.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" for
// ENV=development and "external" for everything else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Location resolves CLINIC_TIMEZONE; ticket service dates are computed in it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
	case "external":
		if c.AuthIssuer == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"external\" (ENV=%q)", c.Env)
		}
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_JWKS_URL is required when no AUTH_SIGNING_KEY is configured")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}

	if c.TicketPrefix == "" || len(c.TicketPrefix) > 4 {
		return fmt.Errorf("TICKET_PREFIX must be 1 to 4 characters, got %q", c.TicketPrefix)
	}
	for _, r := range c.TicketPrefix {
		if r >= '0' && r <= '9' {
			return fmt.Errorf("TICKET_PREFIX must not contain digits, got %q", c.TicketPrefix)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ReceptionCallWindow <= 0 || c.ReceptionInProgressWindow <= 0 {
		return fmt.Errorf("reception display windows must be positive")
	}
	if c.DisplayUpcomingLimit < 0 || c.DisplayCorridorLimit < 0 || c.DisplayRecentCallsLimit < 0 {
		return fmt.Errorf("display limits must not be negative")
	}
	return nil
}
