package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevelopmentSecret is only accepted outside production.
const DevelopmentSecret = "mediconnect-development-secret"

type Config struct {
	Environment    string
	ServerPort     string
	AllowedOrigins string

	MongoDBURL  string
	MongoDBName string
	RedisURL    string
	PostgresURL string

	KafkaBrokers []string
	KafkaTopic   string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioBucket    string

	JWTSecret string
	JWTExpiry time.Duration
	JWTIssuer string
	JWKSURL   string

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load() // Ignore error since file might not exist in production

	env := strings.ToLower(getEnvWithDefault("ENVIRONMENT", "development"))
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[env] {
		return nil, fmt.Errorf("invalid environment value: %s", env)
	}

	expiry, err := ParseExpiry(getEnvWithDefault("JWT_EXPIRE", "7d"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRE: %w", err)
	}

	useSSL, err := strconv.ParseBool(getEnvWithDefault("MINIO_USE_SSL", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid MINIO_USE_SSL: %w", err)
	}

	limit, err := strconv.Atoi(getEnvWithDefault("RATE_LIMIT_REQUESTS", "300"))
	if err != nil || limit < 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REQUESTS: %q", os.Getenv("RATE_LIMIT_REQUESTS"))
	}

	window, err := time.ParseDuration(getEnvWithDefault("RATE_LIMIT_WINDOW", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}

	config := &Config{
		Environment:    env,
		ServerPort:     getEnvWithDefault("SERVER_PORT", "8080"),
		AllowedOrigins: getEnvWithDefault("ALLOWED_ORIGINS", "http://localhost:3000"),

		MongoDBURL:  getEnvWithDefault("MONGODB_URL", "mongodb://localhost:27017"),
		MongoDBName: getEnvWithDefault("MONGODB_NAME", "mediconnect"),
		RedisURL:    getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0"),
		PostgresURL: os.Getenv("POSTGRES_URL"),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnvWithDefault("KAFKA_TOPIC", "appointment-events"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:    useSSL,
		MinioBucket:    getEnvWithDefault("MINIO_BUCKET", "profile-pics"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTExpiry: expiry,
		JWTIssuer: getEnvWithDefault("JWT_ISSUER", "medi-connect-api"),
		JWKSURL:   os.Getenv("JWKS_URL"),

		RateLimitRequests: limit,
		RateLimitWindow:   window,
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" && c.JWKSURL == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET or JWKS_URL environment variable is required")
		}
		c.JWTSecret = DevelopmentSecret
	}
	if c.IsProduction() && c.JWTSecret == DevelopmentSecret {
		return fmt.Errorf("JWT_SECRET must not use the development default in production")
	}
	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	return nil
}

// ParseExpiry accepts Go durations ("12h") and whole days ("7d").
func ParseExpiry(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid day count %q", value)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("expiry must be positive, got %s", value)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsDevelopment returns whether the current environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns whether the current environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsStaging returns whether the current environment is staging
func (c *Config) IsStaging() bool {
	return c.Environment == "staging"
}
