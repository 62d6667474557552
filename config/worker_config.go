package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Auth
	JWTSecret     string
	CronSecret    string
	EncryptionKey string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftTenantID     string

	// Sync
	SyncInterval        time.Duration
	SyncDefaultLimit    int
	SyncMaxLimit        int
	SyncMaxConcurrency  int
	SyncAccountTimeout  time.Duration
	SyncLockTTL         time.Duration
	ProviderHTTPTimeout time.Duration

	// Worker
	WorkerID         string
	SchedulerEnabled bool

	// Consumer (Redis Stream)
	ConsumerGroup      string
	ConsumerMaxRetries int

	// HTTP
	AllowedOrigins       []string
	RateLimitPerMinute   int
	OAuthSuccessRedirect string
	DevUserID            string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "jobsync"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Auth
		JWTSecret:     getEnv("JWT_SECRET", ""),
		CronSecret:    getEnv("CRON_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 512),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 30),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		// OAuth - Microsoft
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftRedirectURL:  getEnv("MICROSOFT_REDIRECT_URL", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),

		// Sync
		SyncInterval:        getEnvDuration("SYNC_INTERVAL", 15*time.Minute),
		SyncDefaultLimit:    getEnvInt("SYNC_DEFAULT_LIMIT", 10),
		SyncMaxLimit:        getEnvInt("SYNC_MAX_LIMIT", 50),
		SyncMaxConcurrency:  getEnvInt("SYNC_MAX_CONCURRENCY", 4),
		SyncAccountTimeout:  getEnvDuration("SYNC_ACCOUNT_TIMEOUT", 2*time.Minute),
		SyncLockTTL:         getEnvDuration("SYNC_LOCK_TTL", 10*time.Minute),
		ProviderHTTPTimeout: getEnvDuration("PROVIDER_HTTP_TIMEOUT", 30*time.Second),

		// Worker
		WorkerID:         getEnv("WORKER_ID", generateWorkerID()),
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),

		// Consumer
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "jobsync-workers"),
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),

		// HTTP
		AllowedOrigins:       getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		RateLimitPerMinute:   getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		OAuthSuccessRedirect: getEnv("OAUTH_SUCCESS_REDIRECT", ""),
		DevUserID:            getEnv("DEV_USER_ID", "dev-user"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SyncDefaultLimit <= 0 {
		return fmt.Errorf("SYNC_DEFAULT_LIMIT must be positive, got %d", c.SyncDefaultLimit)
	}
	if c.SyncMaxLimit < c.SyncDefaultLimit {
		return fmt.Errorf("SYNC_MAX_LIMIT (%d) must be >= SYNC_DEFAULT_LIMIT (%d)", c.SyncMaxLimit, c.SyncDefaultLimit)
	}
	if c.SyncMaxConcurrency <= 0 {
		c.SyncMaxConcurrency = 1
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
