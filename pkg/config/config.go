package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DefaultCooldownSchedule is the login back-off applied per IP and per user.
// The last entry is repeated for every attempt beyond the schedule length.
var DefaultCooldownSchedule = []time.Duration{
	2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second,
	time.Minute, time.Minute,
	5 * time.Minute, 5 * time.Minute,
	15 * time.Minute, 15 * time.Minute,
	time.Hour, time.Hour,
	4 * time.Hour, 4 * time.Hour,
	24 * time.Hour,
}

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	APIKeys       APIKeyConfig
	Roles         RoleConfig
	IdentityCache IdentityCacheConfig
	CORS          CORSConfig
	Log           LogConfig
	Metrics       MetricsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN returns the lib/pq key/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL returns the postgres:// form used by the migration runner.
func (c DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig holds the session and token policy.
type AuthConfig struct {
	AccessTokenMaxAge      time.Duration
	SecretRotationInterval time.Duration
	// SessionMaxAge of zero means sessions never expire.
	SessionMaxAge      time.Duration
	UseCookies         bool
	CookieSecure       bool
	CookieDomain       string
	BcryptCost         int
	HashConcurrency    int
	CooldownEnabled    bool
	CooldownSchedule   []time.Duration
	ThrottleSweepAfter time.Duration
	TrustProxyIP       bool
}

type APIKeyConfig struct {
	ReloadInterval time.Duration
}

type RoleConfig struct {
	ReloadInterval time.Duration
}

// IdentityCacheConfig toggles the redis-backed identity lookup cache.
type IdentityCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	schedule, err := parseSchedule(v.GetString("LOGIN_COOLDOWN_SCHEDULE"))
	if err != nil {
		return nil, err
	}

	cfg.Auth = AuthConfig{
		AccessTokenMaxAge:      parseDuration(v.GetString("ACCESS_TOKEN_MAX_AGE"), 15*time.Minute),
		SecretRotationInterval: parseDuration(v.GetString("SECRET_ROTATION_INTERVAL"), time.Hour),
		SessionMaxAge:          parseDuration(v.GetString("SESSION_MAX_AGE"), 0),
		UseCookies:             v.GetBool("AUTH_USE_COOKIES"),
		CookieSecure:           v.GetBool("AUTH_COOKIE_SECURE"),
		CookieDomain:           v.GetString("AUTH_COOKIE_DOMAIN"),
		BcryptCost:             v.GetInt("BCRYPT_COST"),
		HashConcurrency:        v.GetInt("HASH_CONCURRENCY"),
		CooldownEnabled:        v.GetBool("LOGIN_COOLDOWN_ENABLED"),
		CooldownSchedule:       schedule,
		ThrottleSweepAfter:     parseDuration(v.GetString("THROTTLE_SWEEP_AFTER"), 48*time.Hour),
		TrustProxyIP:           v.GetBool("TRUST_PROXY_IP"),
	}

	cfg.APIKeys = APIKeyConfig{
		ReloadInterval: parseDuration(v.GetString("API_KEY_RELOAD_INTERVAL"), 30*time.Second),
	}

	cfg.Roles = RoleConfig{
		ReloadInterval: parseDuration(v.GetString("ROLE_CACHE_RELOAD_INTERVAL"), 5*time.Minute),
	}

	cfg.IdentityCache = IdentityCacheConfig{
		Enabled: v.GetBool("ENABLE_IDENTITY_CACHE"),
		TTL:     parseDuration(v.GetString("IDENTITY_CACHE_TTL"), time.Minute),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("ENABLE_METRICS")}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects policies that would weaken or break authentication.
func (c *Config) Validate() error {
	if c.Auth.AccessTokenMaxAge <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_MAX_AGE must be positive")
	}
	if c.Auth.SecretRotationInterval <= 0 {
		return fmt.Errorf("SECRET_ROTATION_INTERVAL must be positive")
	}
	if c.Auth.SessionMaxAge < 0 {
		return fmt.Errorf("SESSION_MAX_AGE must not be negative")
	}
	if c.Auth.BcryptCost < 10 {
		return fmt.Errorf("BCRYPT_COST must be at least 10, got %d", c.Auth.BcryptCost)
	}
	if err := ValidateSchedule(c.Auth.CooldownSchedule); err != nil {
		return err
	}
	if c.APIKeys.ReloadInterval <= 0 || c.Roles.ReloadInterval <= 0 {
		return fmt.Errorf("cache reload intervals must be positive")
	}
	return nil
}

// ValidateSchedule requires a non-empty, non-decreasing list of positive waits.
func ValidateSchedule(schedule []time.Duration) error {
	if len(schedule) == 0 {
		return fmt.Errorf("cooldown schedule must not be empty")
	}
	for i, d := range schedule {
		if d <= 0 {
			return fmt.Errorf("cooldown schedule entry %d must be positive", i)
		}
		if i > 0 && d < schedule[i-1] {
			return fmt.Errorf("cooldown schedule must be non-decreasing at entry %d", i)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "worklog")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ACCESS_TOKEN_MAX_AGE", "15m")
	v.SetDefault("SECRET_ROTATION_INTERVAL", "1h")
	v.SetDefault("SESSION_MAX_AGE", "")
	v.SetDefault("AUTH_USE_COOKIES", true)
	v.SetDefault("AUTH_COOKIE_SECURE", false)
	v.SetDefault("AUTH_COOKIE_DOMAIN", "")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("HASH_CONCURRENCY", 0)
	v.SetDefault("LOGIN_COOLDOWN_ENABLED", true)
	v.SetDefault("LOGIN_COOLDOWN_SCHEDULE", "")
	v.SetDefault("THROTTLE_SWEEP_AFTER", "48h")
	v.SetDefault("TRUST_PROXY_IP", true)

	v.SetDefault("API_KEY_RELOAD_INTERVAL", "30s")
	v.SetDefault("ROLE_CACHE_RELOAD_INTERVAL", "5m")
	v.SetDefault("ENABLE_IDENTITY_CACHE", false)
	v.SetDefault("IDENTITY_CACHE_TTL", "1m")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ENABLE_METRICS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseSchedule(raw string) ([]time.Duration, error) {
	parts := splitAndTrim(raw)
	if len(parts) == 0 {
		schedule := make([]time.Duration, len(DefaultCooldownSchedule))
		copy(schedule, DefaultCooldownSchedule)
		return schedule, nil
	}

	schedule := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("parse LOGIN_COOLDOWN_SCHEDULE entry %q: %w", part, err)
		}
		schedule = append(schedule, d)
	}
	return schedule, nil
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
