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
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Visits      VisitsConfig
	Identifiers IdentifiersConfig
	Agent       AgentConfig
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
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig governs verification of bearer tokens issued by the session collaborator.
type JWTConfig struct {
	Enabled bool
	Secret  string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// VisitsConfig tunes the RecordVisit transaction loop.
type VisitsConfig struct {
	MaxTxRetries int
	RetryBackoff time.Duration
}

// IdentifiersConfig controls the identifier snapshot endpoint.
type IdentifiersConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// AgentConfig configures the scanning device agent.
type AgentConfig struct {
	ServerURL      string
	APIToken       string
	QueuePath      string
	DeviceID       string
	BoothNumber    string
	ProbeInterval  time.Duration
	SyncInterval   time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	Concurrency    int
	StaleAfter     time.Duration
	PruneAfter     time.Duration
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

	cfg.JWT = JWTConfig{
		Enabled: v.GetBool("AUTH_ENABLED"),
		Secret:  v.GetString("JWT_SECRET"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Visits = VisitsConfig{
		MaxTxRetries: v.GetInt("VISITS_MAX_TX_RETRIES"),
		RetryBackoff: parseDuration(v.GetString("VISITS_RETRY_BACKOFF"), 20*time.Millisecond),
	}

	cfg.Identifiers = IdentifiersConfig{
		CacheEnabled: v.GetBool("ENABLE_IDENTIFIER_CACHE"),
		CacheTTL:     parseDuration(v.GetString("IDENTIFIER_CACHE_TTL"), time.Minute),
	}

	cfg.Agent = AgentConfig{
		ServerURL:      strings.TrimRight(v.GetString("AGENT_SERVER_URL"), "/"),
		APIToken:       v.GetString("AGENT_API_TOKEN"),
		QueuePath:      v.GetString("AGENT_QUEUE_PATH"),
		DeviceID:       v.GetString("AGENT_DEVICE_ID"),
		BoothNumber:    v.GetString("AGENT_BOOTH_NUMBER"),
		ProbeInterval:  parseDuration(v.GetString("AGENT_PROBE_INTERVAL"), 5*time.Second),
		SyncInterval:   parseDuration(v.GetString("AGENT_SYNC_INTERVAL"), 30*time.Second),
		RequestTimeout: parseDuration(v.GetString("AGENT_REQUEST_TIMEOUT"), 10*time.Second),
		MaxAttempts:    v.GetInt("AGENT_MAX_ATTEMPTS"),
		BackoffBase:    parseDuration(v.GetString("AGENT_BACKOFF_BASE"), 2*time.Second),
		BackoffMax:     parseDuration(v.GetString("AGENT_BACKOFF_MAX"), 2*time.Minute),
		Concurrency:    v.GetInt("AGENT_SYNC_CONCURRENCY"),
		StaleAfter:     parseDuration(v.GetString("QUEUE_STALE_AFTER"), 2*time.Minute),
		PruneAfter:     parseDuration(v.GetString("QUEUE_PRUNE_AFTER"), 24*time.Hour),
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
	v.SetDefault("DB_NAME", "booth_checkin")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("AUTH_ENABLED", false)
	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("VISITS_MAX_TX_RETRIES", 5)
	v.SetDefault("VISITS_RETRY_BACKOFF", "20ms")

	v.SetDefault("ENABLE_IDENTIFIER_CACHE", true)
	v.SetDefault("IDENTIFIER_CACHE_TTL", "1m")

	v.SetDefault("AGENT_SERVER_URL", "http://localhost:8080")
	v.SetDefault("AGENT_API_TOKEN", "")
	v.SetDefault("AGENT_QUEUE_PATH", "./scan-queue.db")
	v.SetDefault("AGENT_DEVICE_ID", "")
	v.SetDefault("AGENT_BOOTH_NUMBER", "")
	v.SetDefault("AGENT_PROBE_INTERVAL", "5s")
	v.SetDefault("AGENT_SYNC_INTERVAL", "30s")
	v.SetDefault("AGENT_REQUEST_TIMEOUT", "10s")
	v.SetDefault("AGENT_MAX_ATTEMPTS", 8)
	v.SetDefault("AGENT_BACKOFF_BASE", "2s")
	v.SetDefault("AGENT_BACKOFF_MAX", "2m")
	v.SetDefault("AGENT_SYNC_CONCURRENCY", 4)
	v.SetDefault("QUEUE_STALE_AFTER", "2m")
	v.SetDefault("QUEUE_PRUNE_AFTER", "24h")
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
