package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string   `mapstructure:"PORT"`
	Env                 string   `mapstructure:"ENV"`
	DatabaseURL         string   `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32    `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey      string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer          string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int      `mapstructure:"RATE_LIMIT_BURST"`
	AuditPartition      string   `mapstructure:"AUDIT_PARTITION"`
	SearchDeadlineMs    int      `mapstructure:"SEARCH_DEADLINE_MS"`
	SearchMaxDeadlineMs int      `mapstructure:"SEARCH_MAX_DEADLINE_MS"`
	ParticipantTimeout  int      `mapstructure:"PARTICIPANT_TIMEOUT_MS"`
	TxnRetention        int      `mapstructure:"TXN_RETENTION_SECONDS"`
	SuspendThreshold    int      `mapstructure:"SUSPEND_THRESHOLD"`
	CallbackBaseURL     string   `mapstructure:"CALLBACK_BASE_URL"`
	ClinicalStoreURL    string   `mapstructure:"CLINICAL_STORE_URL"`
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
	v.SetDefault("AUDIT_PARTITION", "default")
	v.SetDefault("SEARCH_DEADLINE_MS", 2000)
	v.SetDefault("SEARCH_MAX_DEADLINE_MS", 30000)
	v.SetDefault("PARTICIPANT_TIMEOUT_MS", 1500)
	v.SetDefault("TXN_RETENTION_SECONDS", 300)
	v.SetDefault("SUSPEND_THRESHOLD", 3)
	v.SetDefault("CALLBACK_BASE_URL", "http://localhost:8000")
	v.SetDefault("CLINICAL_STORE_URL", "http://localhost:9000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("AUDIT_PARTITION")
	v.BindEnv("SEARCH_DEADLINE_MS")
	v.BindEnv("SEARCH_MAX_DEADLINE_MS")
	v.BindEnv("PARTICIPANT_TIMEOUT_MS")
	v.BindEnv("TXN_RETENTION_SECONDS")
	v.BindEnv("SUSPEND_THRESHOLD")
	v.BindEnv("CALLBACK_BASE_URL")
	v.BindEnv("CLINICAL_STORE_URL")

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
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_SIGNING_KEY.")
		log.Println("WARNING: ============================================================")
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

// DefaultSearchDeadline returns the fan-out deadline applied when the caller
// does not supply one.
func (c *Config) DefaultSearchDeadline() time.Duration {
	return time.Duration(c.SearchDeadlineMs) * time.Millisecond
}

// MaxSearchDeadline caps caller-supplied deadlines so a single search cannot
// pin correlator state indefinitely.
func (c *Config) MaxSearchDeadline() time.Duration {
	return time.Duration(c.SearchMaxDeadlineMs) * time.Millisecond
}

// OutboundTimeout is the per-participant request timeout. Every outbound call
// carries one; there is no unbounded wait on any single participant.
func (c *Config) OutboundTimeout() time.Duration {
	return time.Duration(c.ParticipantTimeout) * time.Millisecond
}

// TransactionRetention is how long closed and expired transactions remain
// readable through GetResults before the sweep retires them.
func (c *Config) TransactionRetention() time.Duration {
	return time.Duration(c.TxnRetention) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key must be present so real JWT authentication is enforced, and
// the fan-out timing knobs must be coherent.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY must be set when ENV is %q; refusing to start without authentication", c.Env)
	}
	if c.SearchDeadlineMs <= 0 {
		return fmt.Errorf("SEARCH_DEADLINE_MS must be positive, got %d", c.SearchDeadlineMs)
	}
	if c.SearchMaxDeadlineMs < c.SearchDeadlineMs {
		return fmt.Errorf("SEARCH_MAX_DEADLINE_MS (%d) must be >= SEARCH_DEADLINE_MS (%d)",
			c.SearchMaxDeadlineMs, c.SearchDeadlineMs)
	}
	if c.ParticipantTimeout <= 0 {
		return fmt.Errorf("PARTICIPANT_TIMEOUT_MS must be positive, got %d", c.ParticipantTimeout)
	}
	if c.SuspendThreshold <= 0 {
		return fmt.Errorf("SUSPEND_THRESHOLD must be positive, got %d", c.SuspendThreshold)
	}
	return nil
}
