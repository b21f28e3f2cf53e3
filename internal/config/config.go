package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	AuthCookieSecure bool

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TMDB   TMDBConfig
	Search SearchConfig
	GenAI  GenAIConfig

	BootstrapDevUser bool
}

// TMDBConfig configures the title metadata client and its call budget.
type TMDBConfig struct {
	BaseURL     string
	APIKey      string
	RateLimit   int
	RateWindow  time.Duration
	HTTPTimeout time.Duration
}

// SearchConfig configures the candidate sourcing API client.
type SearchConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GenAIConfig configures the structured generation API client.
type GenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRecsConfigHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "reelay"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		AuthCookieSecure: authCookieSecure,
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "reelay"),
		DBUser:            getenv("DATABASE_USER", "reelay"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		TMDB: TMDBConfig{
			BaseURL:     getenv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
			APIKey:      strings.TrimSpace(getenv("TMDB_API_KEY", "")),
			RateLimit:   getenvInt("TMDB_RATE_LIMIT", 40),
			RateWindow:  getenvDuration("TMDB_RATE_WINDOW", 10*time.Second),
			HTTPTimeout: getenvDuration("TMDB_HTTP_TIMEOUT", 10*time.Second),
		},
		Search: SearchConfig{
			BaseURL: getenv("SEARCH_BASE_URL", "https://api.perplexity.ai"),
			APIKey:  strings.TrimSpace(getenv("SEARCH_API_KEY", "")),
			Model:   getenv("SEARCH_MODEL", "sonar"),
			Timeout: getenvDuration("SEARCH_TIMEOUT", 30*time.Second),
		},
		GenAI: GenAIConfig{
			BaseURL:     getenv("GENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      strings.TrimSpace(getenv("GENAI_API_KEY", "")),
			Model:       getenv("GENAI_MODEL", "gpt-4o-mini"),
			Temperature: getenvFloat("GENAI_TEMPERATURE", 0.2),
			Timeout:     getenvDuration("GENAI_TIMEOUT", 30*time.Second),
		},

		BootstrapDevUser: getenvBool("BOOTSTRAP_DEV_USER", false),
	}

	return cfg
}

// RedisEnabled reports whether a Redis endpoint is configured.
func (c Config) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
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
