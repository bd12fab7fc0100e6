package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string   `mapstructure:"PORT"`
	Env                    string   `mapstructure:"ENV"`
	LogLevel               string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL            string   `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret              string   `mapstructure:"JWT_SECRET"`
	CORSOrigins            []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS           float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int      `mapstructure:"RATE_LIMIT_BURST"`
	EvalIntervalSeconds    int      `mapstructure:"EVAL_INTERVAL_SECONDS"`
	EvidenceBaseURL        string   `mapstructure:"EVIDENCE_BASE_URL"`
	EvidenceToken          string   `mapstructure:"EVIDENCE_TOKEN"`
	EvidenceTimeoutSeconds int      `mapstructure:"EVIDENCE_TIMEOUT_SECONDS"`
	EvidenceRetryCount     int      `mapstructure:"EVIDENCE_RETRY_COUNT"`
	AlertBaseURL           string   `mapstructure:"ALERT_BASE_URL"`
	AlertToken             string   `mapstructure:"ALERT_TOKEN"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("EVAL_INTERVAL_SECONDS", 300)
	v.SetDefault("EVIDENCE_TIMEOUT_SECONDS", 15)
	v.SetDefault("EVIDENCE_RETRY_COUNT", 3)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("EVAL_INTERVAL_SECONDS")
	v.BindEnv("EVIDENCE_BASE_URL")
	v.BindEnv("EVIDENCE_TOKEN")
	v.BindEnv("EVIDENCE_TIMEOUT_SECONDS")
	v.BindEnv("EVIDENCE_RETRY_COUNT")
	v.BindEnv("ALERT_BASE_URL")
	v.BindEnv("ALERT_TOKEN")

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

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EvalInterval returns the evaluation loop interval as a duration.
func (c *Config) EvalInterval() time.Duration {
	if c.EvalIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.EvalIntervalSeconds) * time.Second
}

// EvidenceTimeout returns the evidence client timeout as a duration.
func (c *Config) EvidenceTimeout() time.Duration {
	if c.EvidenceTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.EvidenceTimeoutSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// JWT_SECRET must be set so that real authentication is enforced, and the
// evidence service must be configured because the evaluation loop cannot
// function without it.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf(
			"JWT_SECRET must be set when ENV is %q. "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if !c.IsDev() && c.EvidenceBaseURL == "" {
		return fmt.Errorf("EVIDENCE_BASE_URL is required when ENV is %q", c.Env)
	}
	if c.EvalIntervalSeconds < 0 {
		return fmt.Errorf("EVAL_INTERVAL_SECONDS must be positive, got %d", c.EvalIntervalSeconds)
	}
	return nil
}
