package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL               string        `mapstructure:"REDIS_URL"`
	LockTTL                time.Duration `mapstructure:"LOCK_TTL"`
	OpenELISURI            string        `mapstructure:"OPENELIS_URI"`
	OpenELISFeedPath       string        `mapstructure:"OPENELIS_FEED_PATH"`
	OpenELISTimeout        time.Duration `mapstructure:"OPENELIS_TIMEOUT"`
	OpenELISUser           string        `mapstructure:"OPENELIS_USER"`
	OpenELISPassword       string        `mapstructure:"OPENELIS_PASSWORD"`
	FeedPollInterval       time.Duration `mapstructure:"FEED_POLL_INTERVAL"`
	FeedMaxFailedRetries   int           `mapstructure:"FEED_MAX_FAILED_RETRIES"`
	FetchRateLimitRPS      float64       `mapstructure:"FETCH_RATE_LIMIT_RPS"`
	LabSystemIdentifier    string        `mapstructure:"LAB_SYSTEM_IDENTIFIER"`
	LabResultEncounterType string        `mapstructure:"LAB_RESULT_ENCOUNTER_TYPE"`
	LabOrderEncounterType  string        `mapstructure:"LAB_ORDER_ENCOUNTER_TYPE"`
	LabVisitType           string        `mapstructure:"LAB_VISIT_TYPE"`
	HealthCenters          []string      `mapstructure:"HEALTH_CENTERS"`
	AdminJWTSecret         string        `mapstructure:"ADMIN_JWT_SECRET"`
}

var keys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"REDIS_URL",
	"LOCK_TTL",
	"OPENELIS_URI",
	"OPENELIS_FEED_PATH",
	"OPENELIS_TIMEOUT",
	"OPENELIS_USER",
	"OPENELIS_PASSWORD",
	"FEED_POLL_INTERVAL",
	"FEED_MAX_FAILED_RETRIES",
	"FETCH_RATE_LIMIT_RPS",
	"LAB_SYSTEM_IDENTIFIER",
	"LAB_RESULT_ENCOUNTER_TYPE",
	"LAB_ORDER_ENCOUNTER_TYPE",
	"LAB_VISIT_TYPE",
	"HEALTH_CENTERS",
	"ADMIN_JWT_SECRET",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8090")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("OPENELIS_FEED_PATH", "/openelis/ws/feed/accession/recent")
	v.SetDefault("OPENELIS_TIMEOUT", "30s")
	v.SetDefault("FEED_POLL_INTERVAL", "15s")
	v.SetDefault("FEED_MAX_FAILED_RETRIES", 5)
	v.SetDefault("FETCH_RATE_LIMIT_RPS", 10)
	v.SetDefault("LAB_SYSTEM_IDENTIFIER", "LABSYSTEM")
	v.SetDefault("LAB_RESULT_ENCOUNTER_TYPE", "LAB_RESULT")
	v.SetDefault("LAB_ORDER_ENCOUNTER_TYPE", "LAB_ORDER")
	v.SetDefault("LAB_VISIT_TYPE", "LAB_VISIT")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.HealthCenters = splitList(v.GetString("HEALTH_CENTERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AdminJWTSecret == "" {
		log.Println("WARNING: ADMIN_JWT_SECRET is not set; the admin API accepts unauthenticated requests (ENV=development).")
	}

	return cfg, nil
}

// splitList parses a comma separated env value. Viper hands env lists back
// as a single string, so HEALTH_CENTERS is split here.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// FeedURI is the absolute URI of the accession feed.
func (c *Config) FeedURI() string {
	return strings.TrimRight(c.OpenELISURI, "/") + c.OpenELISFeedPath
}

// Validate checks that the feed client can run with this configuration.
func (c *Config) Validate() error {
	if c.OpenELISURI == "" {
		return fmt.Errorf("OPENELIS_URI is required")
	}
	if !strings.HasPrefix(c.OpenELISFeedPath, "/") {
		return fmt.Errorf("OPENELIS_FEED_PATH must start with /, got %q", c.OpenELISFeedPath)
	}
	if c.FeedPollInterval <= 0 {
		return fmt.Errorf("FEED_POLL_INTERVAL must be positive, got %s", c.FeedPollInterval)
	}
	if c.FeedMaxFailedRetries < 0 {
		return fmt.Errorf("FEED_MAX_FAILED_RETRIES must not be negative, got %d", c.FeedMaxFailedRetries)
	}
	if c.LabSystemIdentifier == "" {
		return fmt.Errorf("LAB_SYSTEM_IDENTIFIER is required")
	}
	if c.IsProduction() && c.AdminJWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET is required in production")
	}
	return nil
}
