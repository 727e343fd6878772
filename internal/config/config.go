package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stepguard/server/internal/ratelimit"
	"github.com/stepguard/server/internal/risk"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Config holds the application configuration. It is built once at startup
// and passed down; nothing else reads the environment.
type Config struct {
	Port        string
	Store       string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	TokenTTL    time.Duration
	BcryptCost  int
	GeoIPCityDB string
	LogLevel    slog.Level
	LogFormat   string

	// TrustedProxies may set the client IP through forwarding headers
	TrustedProxies risk.TrustedProxies

	OTP       OTPConfig
	RateLimit RateLimitConfig
	Risk      risk.Config
	SMTP      SMTPConfig
}

// OTPConfig controls one-time passcode generation and verification
type OTPConfig struct {
	Salt        string
	TTL         time.Duration
	MaxAttempts int
	// DevMode logs codes instead of emailing them
	DevMode bool
}

// RateLimitConfig controls the per-account login attempt window
type RateLimitConfig struct {
	Window      time.Duration
	MaxAttempts int
	HistorySize int
}

// SMTPConfig holds outbound mail settings. An empty Host disables SMTP delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Defaults returns a Config populated with the built-in defaults
func Defaults() Config {
	return Config{
		Port:       "8080",
		Store:      StorePostgres,
		TokenTTL:   time.Hour,
		BcryptCost: 10,
		LogLevel:   slog.LevelInfo,
		LogFormat:  "text",
		OTP: OTPConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
		},
		RateLimit: RateLimitConfig{
			Window:      ratelimit.DefaultWindow,
			MaxAttempts: ratelimit.DefaultMaxAttempts,
			HistorySize: 10,
		},
		Risk: risk.DefaultConfig(),
		SMTP: SMTPConfig{Port: 587},
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := Defaults()
	p := parser{getenv: getenv}

	p.str("PORT", &cfg.Port)
	p.str("STORE", &cfg.Store)
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	switch cfg.Store {
	case StorePostgres:
		cfg.DatabaseURL = getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required")
		}
	case StoreRedis:
		cfg.RedisURL = getenv("REDIS_URL")
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL environment variable is required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("STORE must be one of postgres, redis, memory; got %q", cfg.Store)
	}

	// Load JWT_SECRET (required)
	cfg.JWTSecret = getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	// Load OTP_SALT (required)
	cfg.OTP.Salt = getenv("OTP_SALT")
	if cfg.OTP.Salt == "" {
		return nil, fmt.Errorf("OTP_SALT environment variable is required")
	}

	cfg.OTP.DevMode = getenv("OTP_DEV_MODE") == "true"

	p.duration("TOKEN_TTL", &cfg.TokenTTL)
	p.duration("OTP_TTL", &cfg.OTP.TTL)
	p.positiveInt("OTP_MAX_ATTEMPTS", &cfg.OTP.MaxAttempts)
	p.duration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	p.positiveInt("RATE_LIMIT_MAX_ATTEMPTS", &cfg.RateLimit.MaxAttempts)
	p.positiveInt("LOGIN_HISTORY_SIZE", &cfg.RateLimit.HistorySize)
	p.positiveFloat("RISK_DISTANCE_KM", &cfg.Risk.MaxDistanceKm)
	p.positiveFloat("RISK_HOUR_DEVIATION", &cfg.Risk.MaxHourDeviation)
	p.positiveInt("BCRYPT_COST", &cfg.BcryptCost)
	p.str("GEOIP_CITY_DB", &cfg.GeoIPCityDB)

	proxies, err := risk.ParseTrustedProxies(getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	p.str("SMTP_HOST", &cfg.SMTP.Host)
	p.positiveInt("SMTP_PORT", &cfg.SMTP.Port)
	p.str("SMTP_USERNAME", &cfg.SMTP.Username)
	p.str("SMTP_PASSWORD", &cfg.SMTP.Password)
	p.str("SMTP_FROM", &cfg.SMTP.From)
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		return nil, fmt.Errorf("SMTP_FROM environment variable is required when SMTP_HOST is set")
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}
	p.str("LOG_FORMAT", &cfg.LogFormat)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json; got %q", cfg.LogFormat)
	}

	if p.err != nil {
		return nil, p.err
	}
	return &cfg, nil
}

// parser records the first invalid variable and ignores the rest
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key string, dst *string) {
	if v := p.getenv(key); v != "" {
		*dst = v
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.err = fmt.Errorf("%s must be a positive duration; got %q", key, v)
		return
	}
	*dst = d
}

func (p *parser) positiveInt(key string, dst *int) {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.err = fmt.Errorf("%s must be a positive integer; got %q", key, v)
		return
	}
	*dst = n
}

func (p *parser) positiveFloat(key string, dst *float64) {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		p.err = fmt.Errorf("%s must be a positive number; got %q", key, v)
		return
	}
	*dst = f
}
