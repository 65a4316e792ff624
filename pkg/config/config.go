package config

import (
	"errors"
	"fmt"
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
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Ledger   LedgerConfig
	Sync     SyncConfig
	Cache    CacheConfig
	Backups  BackupsConfig
	Admin    AdminConfig
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
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
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

// LedgerConfig tunes scoring behaviour.
type LedgerConfig struct {
	ManualBadgePolicy string
	SystemActor       string
	DefaultBimester   int
}

// SyncConfig controls how ledger batches reach the database. With Async off every
// batch is applied before the request returns.
type SyncConfig struct {
	Async           bool
	QueueSize       int
	Retries         int
	RetryDelay      time.Duration
	ConflictRetries int
	ReloadInterval  time.Duration
}

// CacheConfig governs the ranking cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// BackupsConfig controls snapshot backups on disk.
type BackupsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
	MaxUploadBytes  int64
}

// AdminConfig seeds the first administrator when no account exists.
type AdminConfig struct {
	Email    string
	Password string
	FullName string
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
		if !errors.As(err, &notFound) {
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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Ledger = LedgerConfig{
		ManualBadgePolicy: strings.ToLower(v.GetString("LEDGER_MANUAL_BADGE_POLICY")),
		SystemActor:       v.GetString("LEDGER_SYSTEM_ACTOR"),
		DefaultBimester:   v.GetInt("LEDGER_DEFAULT_BIMESTER"),
	}

	cfg.Sync = SyncConfig{
		Async:           v.GetBool("SYNC_ASYNC"),
		QueueSize:       v.GetInt("SYNC_QUEUE_SIZE"),
		Retries:         v.GetInt("SYNC_RETRIES"),
		RetryDelay:      parseDuration(v.GetString("SYNC_RETRY_DELAY"), 500*time.Millisecond),
		ConflictRetries: v.GetInt("SYNC_CONFLICT_RETRIES"),
		ReloadInterval:  parseDuration(v.GetString("SYNC_RELOAD_INTERVAL"), 0),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_RANKING_CACHE"),
		TTL:     parseDuration(v.GetString("RANKING_CACHE_TTL"), 5*time.Minute),
	}

	maxUpload := v.GetInt64("BACKUPS_MAX_UPLOAD_SIZE")
	if maxUpload <= 0 {
		maxUpload = 20 * 1024 * 1024
	}
	cfg.Backups = BackupsConfig{
		StorageDir:      v.GetString("BACKUPS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("BACKUPS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("BACKUPS_SIGNED_URL_TTL"), 30*time.Minute),
		Retention:       parseDuration(v.GetString("BACKUPS_RETENTION"), 30*24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("BACKUPS_CLEANUP_INTERVAL"), time.Hour),
		MaxUploadBytes:  maxUpload,
	}

	cfg.Admin = AdminConfig{
		Email:    v.GetString("ADMIN_EMAIL"),
		Password: v.GetString("ADMIN_PASSWORD"),
		FullName: v.GetString("ADMIN_FULL_NAME"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lxc_ledger")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LEDGER_MANUAL_BADGE_POLICY", "allow")
	v.SetDefault("LEDGER_SYSTEM_ACTOR", "system")
	v.SetDefault("LEDGER_DEFAULT_BIMESTER", 1)

	v.SetDefault("SYNC_ASYNC", true)
	v.SetDefault("SYNC_QUEUE_SIZE", 256)
	v.SetDefault("SYNC_RETRIES", 5)
	v.SetDefault("SYNC_RETRY_DELAY", "500ms")
	v.SetDefault("SYNC_CONFLICT_RETRIES", 3)
	v.SetDefault("SYNC_RELOAD_INTERVAL", "0s")

	v.SetDefault("ENABLE_RANKING_CACHE", true)
	v.SetDefault("RANKING_CACHE_TTL", "5m")

	v.SetDefault("BACKUPS_STORAGE_DIR", "./backups")
	v.SetDefault("BACKUPS_SIGNED_URL_SECRET", "dev_backups_secret")
	v.SetDefault("BACKUPS_SIGNED_URL_TTL", "30m")
	v.SetDefault("BACKUPS_RETENTION", "720h")
	v.SetDefault("BACKUPS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("BACKUPS_MAX_UPLOAD_SIZE", 20*1024*1024)

	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("ADMIN_FULL_NAME", "Administrator")
}

func (c *Config) validate() error {
	switch c.Ledger.ManualBadgePolicy {
	case "allow", "reject":
	default:
		return fmt.Errorf("invalid LEDGER_MANUAL_BADGE_POLICY %q", c.Ledger.ManualBadgePolicy)
	}
	if c.Ledger.DefaultBimester < 1 || c.Ledger.DefaultBimester > 4 {
		return fmt.Errorf("invalid LEDGER_DEFAULT_BIMESTER %d", c.Ledger.DefaultBimester)
	}
	if c.Env == EnvProduction && c.JWT.Secret == "dev_secret" {
		return errors.New("JWT_SECRET must be set in production")
	}
	return nil
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
