package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Known default shipped in early deployments. Never valid in any environment.
const placeholderSecret = "your-super-secret-jwt-key-change-this-in-production"

const minSecretLength = 32

var weakSecretSubstrings = []string{
	"password",
	"secret",
	"admin",
	"test",
	"123456",
	"changeme",
	"brownie:brownie",
}

// Config holds all runtime configuration for the service.
type Config struct {
	PostgresDSN string

	JWTSecret         string
	JWTExpiresMinutes int
	JWTAlgorithm      string

	HTTPAddr string
	GRPCAddr string

	LogLevel string
	Debug    bool

	// AllowWeakSecret disables secret strength validation. Test use only.
	AllowWeakSecret bool
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:       getEnv("METADATA_POSTGRES_DSN", ""),
		JWTSecret:         strings.TrimSpace(os.Getenv("METADATA_JWT_SECRET")),
		JWTExpiresMinutes: getIntEnv("METADATA_JWT_EXPIRES_MINUTES", 60),
		JWTAlgorithm:      getEnv("METADATA_JWT_ALGORITHM", "HS256"),
		HTTPAddr:          getEnv("METADATA_HTTP_ADDR", ":8080"),
		GRPCAddr:          getEnv("METADATA_GRPC_ADDR", ":8081"),
		LogLevel:          getEnv("METADATA_LOG_LEVEL", "info"),
		Debug:             getBoolEnv("METADATA_DEBUG", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces startup invariants. The process must not come up with a
// signing secret that fails these checks.
func (c *Config) Validate() error {
	if c.JWTExpiresMinutes <= 0 {
		return fmt.Errorf("config: METADATA_JWT_EXPIRES_MINUTES must be positive, got %d", c.JWTExpiresMinutes)
	}
	if c.JWTAlgorithm != "HS256" {
		return fmt.Errorf("config: unsupported JWT algorithm %q (only HS256 is supported)", c.JWTAlgorithm)
	}
	if c.AllowWeakSecret {
		if c.JWTSecret == "" {
			return fmt.Errorf("config: METADATA_JWT_SECRET is required")
		}
		return nil
	}
	return ValidateSecret(c.JWTSecret)
}

// ValidateSecret rejects missing, short, placeholder, and guessable secrets.
func ValidateSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("config: METADATA_JWT_SECRET is required")
	}
	if len(secret) < minSecretLength {
		return fmt.Errorf("config: JWT secret must be at least %d characters, got %d", minSecretLength, len(secret))
	}
	if secret == placeholderSecret {
		return fmt.Errorf("config: JWT secret is the shipped placeholder, set a real value")
	}
	lower := strings.ToLower(secret)
	for _, weak := range weakSecretSubstrings {
		if strings.Contains(lower, weak) {
			return fmt.Errorf("config: JWT secret contains weak pattern %q", weak)
		}
	}
	return nil
}

// TokenTTL returns the configured access token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpiresMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
