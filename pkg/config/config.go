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

// Realtime drivers.
const (
	RealtimeDriverRedis = "redis"
	RealtimeDriverKafka = "kafka"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Routing    RoutingConfig
	Credential CredentialConfig
	SMS        SMSConfig
	Realtime   RealtimeConfig
	Kafka      KafkaConfig
	Notify     NotifyConfig
	Lock       LockConfig
	Cache      CacheConfig
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
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RoutingConfig controls how first-line approvers are addressed.
type RoutingConfig struct {
	EmailDomain string
}

// CredentialConfig governs gate-pass issuance.
type CredentialConfig struct {
	SigningSecret  string
	OutgoingWindow time.Duration
	ReturnWindow   time.Duration
	RenderEnabled  bool
	StorageDir     string
	LinkSecret     string
}

// SMSConfig selects and configures the parent SMS provider.
type SMSConfig struct {
	Provider       string
	Endpoint       string
	AccountSID     string
	AuthToken      string
	FromNumber     string
	DefaultRegion  string
	Timeout        time.Duration
	NotifyForwards bool
}

// RealtimeConfig selects the live event transport.
type RealtimeConfig struct {
	Driver        string
	ChannelPrefix string
}

// KafkaConfig is used when the realtime driver is kafka.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	SASLUsername string
	SASLPassword string
}

// NotifyConfig tunes the out-of-band notification workers.
type NotifyConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// LockConfig tunes the per-request decision lock.
type LockConfig struct {
	Enabled    bool
	TTL        time.Duration
	RetryEvery time.Duration
	MaxRetries int
}

// CacheConfig governs approver queue caching.
type CacheConfig struct {
	Enabled  bool
	QueueTTL time.Duration
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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Routing = RoutingConfig{EmailDomain: v.GetString("ROUTING_EMAIL_DOMAIN")}

	cfg.Credential = CredentialConfig{
		SigningSecret:  v.GetString("CREDENTIAL_SIGNING_SECRET"),
		OutgoingWindow: parseDuration(v.GetString("CREDENTIAL_OUTGOING_WINDOW"), 24*time.Hour),
		ReturnWindow:   parseDuration(v.GetString("CREDENTIAL_RETURN_WINDOW"), 24*time.Hour),
		RenderEnabled:  v.GetBool("CREDENTIAL_RENDER_ENABLED"),
		StorageDir:     v.GetString("CREDENTIAL_STORAGE_DIR"),
		LinkSecret:     v.GetString("CREDENTIAL_LINK_SECRET"),
	}

	cfg.SMS = SMSConfig{
		Provider:       strings.ToLower(v.GetString("SMS_PROVIDER")),
		Endpoint:       v.GetString("SMS_ENDPOINT"),
		AccountSID:     v.GetString("SMS_ACCOUNT_SID"),
		AuthToken:      v.GetString("SMS_AUTH_TOKEN"),
		FromNumber:     v.GetString("SMS_FROM_NUMBER"),
		DefaultRegion:  strings.ToUpper(v.GetString("SMS_DEFAULT_REGION")),
		Timeout:        parseDuration(v.GetString("SMS_TIMEOUT"), 10*time.Second),
		NotifyForwards: v.GetBool("SMS_NOTIFY_FORWARDED"),
	}

	cfg.Realtime = RealtimeConfig{
		Driver:        strings.ToLower(v.GetString("REALTIME_DRIVER")),
		ChannelPrefix: v.GetString("REALTIME_CHANNEL_PREFIX"),
	}

	cfg.Kafka = KafkaConfig{
		Brokers:      splitAndTrim(v.GetString("KAFKA_BROKERS")),
		Topic:        v.GetString("KAFKA_TOPIC"),
		SASLUsername: v.GetString("KAFKA_SASL_USERNAME"),
		SASLPassword: v.GetString("KAFKA_SASL_PASSWORD"),
	}

	cfg.Notify = NotifyConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		Retries:    v.GetInt("NOTIFY_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Lock = LockConfig{
		Enabled:    v.GetBool("LOCK_ENABLED"),
		TTL:        parseDuration(v.GetString("LOCK_TTL"), 10*time.Second),
		RetryEvery: parseDuration(v.GetString("LOCK_RETRY_EVERY"), 100*time.Millisecond),
		MaxRetries: v.GetInt("LOCK_MAX_RETRIES"),
	}

	cfg.Cache = CacheConfig{
		Enabled:  v.GetBool("CACHE_QUEUE_ENABLED"),
		QueueTTL: parseDuration(v.GetString("CACHE_QUEUE_TTL"), 30*time.Second),
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
	v.SetDefault("DB_NAME", "hostel_permits")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ROUTING_EMAIL_DOMAIN", "kietgroup.com")

	v.SetDefault("CREDENTIAL_SIGNING_SECRET", "dev_credential_secret")
	v.SetDefault("CREDENTIAL_OUTGOING_WINDOW", "24h")
	v.SetDefault("CREDENTIAL_RETURN_WINDOW", "24h")
	v.SetDefault("CREDENTIAL_RENDER_ENABLED", true)
	v.SetDefault("CREDENTIAL_STORAGE_DIR", "./passes")
	v.SetDefault("CREDENTIAL_LINK_SECRET", "dev_pass_link_secret")

	v.SetDefault("SMS_PROVIDER", "log")
	v.SetDefault("SMS_ENDPOINT", "")
	v.SetDefault("SMS_ACCOUNT_SID", "")
	v.SetDefault("SMS_AUTH_TOKEN", "")
	v.SetDefault("SMS_FROM_NUMBER", "")
	v.SetDefault("SMS_DEFAULT_REGION", "IN")
	v.SetDefault("SMS_TIMEOUT", "10s")
	v.SetDefault("SMS_NOTIFY_FORWARDED", false)

	v.SetDefault("REALTIME_DRIVER", RealtimeDriverRedis)
	v.SetDefault("REALTIME_CHANNEL_PREFIX", "permits:")

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "permission-events")
	v.SetDefault("KAFKA_SASL_USERNAME", "")
	v.SetDefault("KAFKA_SASL_PASSWORD", "")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")

	v.SetDefault("LOCK_ENABLED", true)
	v.SetDefault("LOCK_TTL", "10s")
	v.SetDefault("LOCK_RETRY_EVERY", "100ms")
	v.SetDefault("LOCK_MAX_RETRIES", 20)

	v.SetDefault("CACHE_QUEUE_ENABLED", true)
	v.SetDefault("CACHE_QUEUE_TTL", "30s")
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
