package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment.
type Config struct {
	DatabaseURL    string
	ServerPort     string
	AllowedOrigins string
	JWTSecret      string

	LogLevel  string
	LogFormat string

	OpenAIAPIKey string
	OpenAIModel  string

	// AutoAllocationInterval is zero when the periodic pass is disabled.
	AutoAllocationInterval time.Duration
	AutoAllocationTenants  []int

	UploadMaxBytes int64
}

const (
	defaultServerPort     = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultOpenAIModel    = "gpt-4o"
	defaultUploadMaxBytes = 10 << 20
)

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DatabaseURL:    getenv("DATABASE_URL"),
		ServerPort:     orDefault(getenv("SERVER_PORT"), defaultServerPort),
		AllowedOrigins: getenv("ALLOWED_ORIGINS"),
		JWTSecret:      getenv("JWT_SECRET"),
		LogLevel:       strings.ToLower(orDefault(getenv("LOG_LEVEL"), defaultLogLevel)),
		LogFormat:      strings.ToLower(orDefault(getenv("LOG_FORMAT"), defaultLogFormat)),
		OpenAIAPIKey:   getenv("OPENAI_API_KEY"),
		OpenAIModel:    orDefault(getenv("OPENAI_MODEL"), defaultOpenAIModel),
		UploadMaxBytes: defaultUploadMaxBytes,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	if v := getenv("AUTO_ALLOCATION_INTERVAL"); v != "" && v != "0" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_ALLOCATION_INTERVAL %q: %w", v, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("AUTO_ALLOCATION_INTERVAL must not be negative")
		}
		cfg.AutoAllocationInterval = d
	}

	if v := getenv("AUTO_ALLOCATION_TENANTS"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid tenant id %q in AUTO_ALLOCATION_TENANTS", part)
			}
			cfg.AutoAllocationTenants = append(cfg.AutoAllocationTenants, id)
		}
	}
	if cfg.AutoAllocationInterval > 0 && len(cfg.AutoAllocationTenants) == 0 {
		return nil, fmt.Errorf("AUTO_ALLOCATION_INTERVAL is set but AUTO_ALLOCATION_TENANTS is empty")
	}

	if v := getenv("UPLOAD_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid UPLOAD_MAX_BYTES %q", v)
		}
		cfg.UploadMaxBytes = n
	}

	return cfg, nil
}

// RequireJWTSecret fails when the server is started without a signing secret.
func (c *Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable not set")
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
