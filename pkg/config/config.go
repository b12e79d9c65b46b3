package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env          string
	Port         int
	APIPrefix    string
	StoreTimeout time.Duration

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	AdminJWT    JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Permissions PermissionConfig
	Audit       AuditConfig
	Alerts      AlertConfig
	RateLimit   RateLimitConfig
	Tokens      TokenMaintenanceConfig
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

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PermissionConfig tunes the role permission cache.
type PermissionConfig struct {
	CacheTTL time.Duration
	// SelfServiceRoles names the roles /auth/register may request.
	SelfServiceRoles []string
}

// AuditConfig configures the retry queue for audit writes that failed inline.
type AuditConfig struct {
	RetryWorkers  int
	RetryAttempts int
	RetryDelay    time.Duration
}

// AlertConfig configures the security alert engine and its default scorer.
type AlertConfig struct {
	Window      time.Duration
	WindowLimit int
	Threshold   int
	Workers     int

	// Rule limits are the counts at which a rule reaches Threshold.
	FailedLoginsLimit    int
	DistinctIPsLimit     int
	DistinctDevicesLimit int
	RecordReadsLimit     int
	AccessDeniedLimit    int
}

// RateLimitConfig throttles the login endpoints per client IP.
type RateLimitConfig struct {
	LoginPerSecond float64
	LoginBurst     int
}

// TokenMaintenanceConfig controls eager purging of expired refresh tokens.
type TokenMaintenanceConfig struct {
	PurgeInterval time.Duration
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

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.StoreTimeout = parseDuration(v.GetString("STORE_TIMEOUT"), 3*time.Second)

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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 15*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.AdminJWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("ADMIN_JWT_EXPIRATION"), 10*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("ADMIN_REFRESH_TOKEN_EXPIRATION"), 12*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Permissions = PermissionConfig{
		CacheTTL:         parseDuration(v.GetString("PERMISSION_CACHE_TTL"), 30*time.Second),
		SelfServiceRoles: splitAndTrim(v.GetString("SELF_SERVICE_ROLES")),
	}

	cfg.Audit = AuditConfig{
		RetryWorkers:  v.GetInt("AUDIT_RETRY_WORKERS"),
		RetryAttempts: v.GetInt("AUDIT_RETRY_ATTEMPTS"),
		RetryDelay:    parseDuration(v.GetString("AUDIT_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Alerts = AlertConfig{
		Window:               parseDuration(v.GetString("ALERT_WINDOW"), time.Hour),
		WindowLimit:          v.GetInt("ALERT_WINDOW_LIMIT"),
		Threshold:            v.GetInt("ALERT_THRESHOLD"),
		Workers:              v.GetInt("ALERT_WORKERS"),
		FailedLoginsLimit:    v.GetInt("ALERT_FAILED_LOGINS_LIMIT"),
		DistinctIPsLimit:     v.GetInt("ALERT_DISTINCT_IPS_LIMIT"),
		DistinctDevicesLimit: v.GetInt("ALERT_DISTINCT_DEVICES_LIMIT"),
		RecordReadsLimit:     v.GetInt("ALERT_RECORD_READS_LIMIT"),
		AccessDeniedLimit:    v.GetInt("ALERT_ACCESS_DENIED_LIMIT"),
	}

	cfg.RateLimit = RateLimitConfig{
		LoginPerSecond: v.GetFloat64("LOGIN_RATE_PER_SECOND"),
		LoginBurst:     v.GetInt("LOGIN_RATE_BURST"),
	}

	cfg.Tokens = TokenMaintenanceConfig{
		PurgeInterval: parseDuration(v.GetString("TOKEN_PURGE_INTERVAL"), time.Hour),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("STORE_TIMEOUT", "3s")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "clinical_iam")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "clinical-iam")
	v.SetDefault("JWT_EXPIRATION", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("ADMIN_JWT_EXPIRATION", "10m")
	v.SetDefault("ADMIN_REFRESH_TOKEN_EXPIRATION", "12h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PERMISSION_CACHE_TTL", "30s")
	v.SetDefault("SELF_SERVICE_ROLES", "doctor,nurse,pharmacist,lab_technician,patient")

	v.SetDefault("AUDIT_RETRY_WORKERS", 2)
	v.SetDefault("AUDIT_RETRY_ATTEMPTS", 5)
	v.SetDefault("AUDIT_RETRY_DELAY", "2s")

	v.SetDefault("ALERT_WINDOW", "1h")
	v.SetDefault("ALERT_WINDOW_LIMIT", 500)
	v.SetDefault("ALERT_THRESHOLD", 50)
	v.SetDefault("ALERT_WORKERS", 2)
	v.SetDefault("ALERT_FAILED_LOGINS_LIMIT", 5)
	v.SetDefault("ALERT_DISTINCT_IPS_LIMIT", 3)
	v.SetDefault("ALERT_DISTINCT_DEVICES_LIMIT", 3)
	v.SetDefault("ALERT_RECORD_READS_LIMIT", 200)
	v.SetDefault("ALERT_ACCESS_DENIED_LIMIT", 5)

	v.SetDefault("LOGIN_RATE_PER_SECOND", 1.0)
	v.SetDefault("LOGIN_RATE_BURST", 5)

	v.SetDefault("TOKEN_PURGE_INTERVAL", "1h")
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
