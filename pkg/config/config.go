package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // quota days must resolve QUOTA_TIMEZONE in minimal images

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
	}

	// Database configuration
	Database struct {
		Driver     string // postgres or sqlite
		Host       string
		Port       string
		User       string
		Password   string
		Name       string
		SSLMode    string
		SQLitePath string
		MaxConns   int
		Retries    int
		RetryDelay time.Duration
	}

	// Redis configuration
	Redis struct {
		Enabled bool
		URL     string
		Channel string
	}

	// JWT configuration
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Messaging holds the rules of the direct-messaging core
	Messaging struct {
		DailyLimit      int
		QuotaTimezone   string
		QuotaBackend    string // memory, sql or redis
		MaxBodyLength   int
		DefaultPageSize int
		MaxPageSize     int
		StoreTimeout    time.Duration
		OnlineWindow    time.Duration
		ProfileCacheTTL time.Duration
	}

	// WebSocket holds push transport settings
	WebSocket struct {
		PongWait       time.Duration
		WriteWait      time.Duration
		AuthTimeout    time.Duration
		MaxMessageSize int64
		SendBuffer     int
		TypingTTL      time.Duration
		FrameRate      float64
		FrameBurst     int
	}

	// Observability settings
	Observability struct {
		TracingEnabled bool
		GRPCHealthPort string
		ServiceName    string
	}

	// Vault settings for the secrets manager
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		Mount       string
		SecretsPath string
		CacheTTL    time.Duration
	}

	// OpenAPISchemaPath enables request validation when set
	OpenAPISchemaPath string
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, reading the environment on first use
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	return New()
}

// Load reads a fresh Config from the current environment
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)

	cfg.Database.Driver = getEnvString("DB_DRIVER", "postgres")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "classifieds")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.SQLitePath = getEnvString("DB_SQLITE_PATH", "messaging.db")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Retries = getEnvInt("DB_CONNECT_RETRIES", 5)
	cfg.Database.RetryDelay = getEnvDuration("DB_CONNECT_RETRY_DELAY", 5*time.Second)

	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", false)
	cfg.Redis.URL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.Redis.Channel = getEnvString("REDIS_DELIVERY_CHANNEL", "dm:deliver")

	cfg.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Messaging.DailyLimit = getEnvInt("DAILY_MESSAGE_LIMIT", 25)
	cfg.Messaging.QuotaTimezone = getEnvString("QUOTA_TIMEZONE", "UTC")
	cfg.Messaging.QuotaBackend = getEnvString("QUOTA_BACKEND", "sql")
	cfg.Messaging.MaxBodyLength = getEnvInt("MAX_BODY_LENGTH", 2000)
	cfg.Messaging.DefaultPageSize = getEnvInt("DEFAULT_PAGE_SIZE", 50)
	cfg.Messaging.MaxPageSize = getEnvInt("MAX_PAGE_SIZE", 200)
	cfg.Messaging.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 2*time.Second)
	cfg.Messaging.OnlineWindow = getEnvDuration("ONLINE_WINDOW", 5*time.Minute)
	cfg.Messaging.ProfileCacheTTL = getEnvDuration("PROFILE_CACHE_TTL", time.Minute)

	cfg.WebSocket.PongWait = getEnvDuration("WS_PONG_WAIT", 60*time.Second)
	cfg.WebSocket.WriteWait = getEnvDuration("WS_WRITE_WAIT", 10*time.Second)
	cfg.WebSocket.AuthTimeout = getEnvDuration("WS_AUTH_TIMEOUT", 10*time.Second)
	cfg.WebSocket.MaxMessageSize = getEnvInt64("WS_MAX_MESSAGE_SIZE", 64<<10)
	cfg.WebSocket.SendBuffer = getEnvInt("WS_SEND_BUFFER", 256)
	cfg.WebSocket.TypingTTL = getEnvDuration("TYPING_TTL", time.Second)
	cfg.WebSocket.FrameRate = getEnvFloat("WS_FRAME_RATE", 10)
	cfg.WebSocket.FrameBurst = getEnvInt("WS_FRAME_BURST", 20)

	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.GRPCHealthPort = getEnvString("GRPC_HEALTH_PORT", "")
	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "messaging-service")

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "classifieds-messaging")
	cfg.Vault.CacheTTL = getEnvDuration("VAULT_CACHE_TTL", 5*time.Minute)

	cfg.OpenAPISchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "")

	return cfg
}

// QuotaLocation resolves the reference timezone for quota days, defaulting to UTC
func (c *Config) QuotaLocation() *time.Location {
	loc, err := time.LoadLocation(c.Messaging.QuotaTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
