package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig
	LLM   LLMConfig
	Embed EmbedConfig

	SnowflakeNode     int64
	SchedulerInterval time.Duration
	SchedulerEnabled  bool
	SchedulerJobs     string
	SeedCatalog       bool
	KnowledgePath     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type LLMConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

type EmbedConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

const (
	ProviderKeyword = "keyword"
	ProviderOpenAI  = "openai"
	ProviderTFIDF   = "tfidf"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "shopassist"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "shopassist"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "shopassist.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getenv("LLM_PROVIDER", ProviderKeyword)),
			BaseURL:     strings.TrimSpace(getenv("LLM_BASE_URL", "https://api.openai.com/v1")),
			APIKey:      strings.TrimSpace(getenv(getenv("LLM_API_KEY_ENV", "OPENAI_API_KEY"), "")),
			Model:       getenv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getenvFloat("LLM_TEMPERATURE", 0),
		},
		Embed: EmbedConfig{
			Provider: strings.ToLower(getenv("EMBEDDER_TYPE", ProviderTFIDF)),
			BaseURL:  strings.TrimSpace(getenv("EMBEDDER_BASE_URL", "https://api.openai.com/v1")),
			APIKey:   strings.TrimSpace(getenv(getenv("EMBEDDER_API_KEY_ENV", "OPENAI_API_KEY"), "")),
			Model:    getenv("EMBEDDER_MODEL", "text-embedding-3-small"),
		},
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		SchedulerInterval: getenvDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerEnabled:  getenvBool("SCHEDULER_ENABLED", true),
		SchedulerJobs:     getenv("SCHEDULER_JOBS", ""),
		SeedCatalog:       getenvBool("SEED_CATALOG", true),
		KnowledgePath:     strings.TrimSpace(getenv("KNOWLEDGE_PATH", "")),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
