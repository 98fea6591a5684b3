// Package config loads service settings from the environment with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	DatabasePath        string `mapstructure:"DATABASE_PATH"`
	JWTSecret           string `mapstructure:"JWT_SECRET"`
	TokenTTLHours       int    `mapstructure:"TOKEN_TTL_HOURS"`
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	LoanEventsExchange  string `mapstructure:"LOAN_EVENTS_EXCHANGE"`
	NICLookupDebounceMS int    `mapstructure:"NIC_LOOKUP_DEBOUNCE_MS"`
	NICLookupTimeoutMS  int    `mapstructure:"NIC_LOOKUP_TIMEOUT_MS"`
	DraftIdleTTLMinutes int    `mapstructure:"DRAFT_IDLE_TTL_MINUTES"`
	DraftSweepSchedule  string `mapstructure:"DRAFT_SWEEP_SCHEDULE"`
	CORSAllowedOrigins  string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel            string `mapstructure:"LOG_LEVEL"`
	LogFormat           string `mapstructure:"LOG_FORMAT"`
	MaxUploadSizeMB     int    `mapstructure:"MAX_UPLOAD_SIZE_MB"`
}

var defaults = map[string]any{
	"SERVER_PORT":            "8080",
	"DATABASE_PATH":          "./loandesk.db",
	"TOKEN_TTL_HOURS":        12,
	"RABBITMQ_URL":           "",
	"LOAN_EVENTS_EXCHANGE":   "loan_events",
	"NIC_LOOKUP_DEBOUNCE_MS": 400,
	"NIC_LOOKUP_TIMEOUT_MS":  10000,
	"DRAFT_IDLE_TTL_MINUTES": 120,
	"DRAFT_SWEEP_SCHEDULE":   "*/15 * * * *",
	"CORS_ALLOWED_ORIGINS":   "http://localhost:3000",
	"LOG_LEVEL":              "info",
	"LOG_FORMAT":             "text",
	"MAX_UPLOAD_SIZE_MB":     10,
}

// LoadConfig reads settings from the environment. When path is not empty the
// file is read first and environment variables override it.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	_ = v.BindEnv("JWT_SECRET")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if strings.HasSuffix(path, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH must be set"))
	}
	if c.NICLookupDebounceMS < 0 {
		errs = append(errs, errors.New("NIC_LOOKUP_DEBOUNCE_MS cannot be negative"))
	}
	if c.DraftIdleTTLMinutes <= 0 {
		errs = append(errs, errors.New("DRAFT_IDLE_TTL_MINUTES must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) NICLookupDebounce() time.Duration {
	return time.Duration(c.NICLookupDebounceMS) * time.Millisecond
}

func (c *Config) NICLookupTimeout() time.Duration {
	return time.Duration(c.NICLookupTimeoutMS) * time.Millisecond
}

func (c *Config) DraftIdleTTL() time.Duration {
	return time.Duration(c.DraftIdleTTLMinutes) * time.Minute
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) << 20
}

// AllowedOrigins splits the comma separated origin list.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
