package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Lockout LockoutConfig
	Storage StorageConfig
	Notify  NotifyConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
}

// LockoutConfig controls the attempt-limiting engine. Loaded once at startup
// and immutable for the process lifetime.
type LockoutConfig struct {
	MaxAttempts             int
	BaseLockoutDuration     time.Duration
	MaxLockoutDuration      time.Duration
	ProgressiveMultiplier   float64
	ResetPeriod             time.Duration
	ManagerOverrideRequired bool

	// Emergency unlock: bcrypt hashes of static codes, plus an optional
	// base32 TOTP secret for rotating codes
	EmergencyCodeHashes []string
	EmergencyTOTPSecret string

	// Manager override proof verification
	ManagerJWTSecret   string
	ManagerJWTAudience string

	AttemptRetention time.Duration
	StatusRetention  time.Duration
	CleanupInterval  time.Duration
}

type StorageConfig struct {
	Backend string // "memory", "redis" or "postgres"

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Database DatabaseConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

type NotifyConfig struct {
	Enabled          bool
	AWSRegion        string
	FromAddress      string
	ManagerAddresses []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            getEnv("ENV", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Lockout: LockoutConfig{
			MaxAttempts:             getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			BaseLockoutDuration:     getEnvAsDuration("LOCKOUT_BASE_DURATION", 15*time.Minute),
			MaxLockoutDuration:      getEnvAsDuration("LOCKOUT_MAX_DURATION", 24*time.Hour),
			ProgressiveMultiplier:   getEnvAsFloat("LOCKOUT_PROGRESSIVE_MULTIPLIER", 2.0),
			ResetPeriod:             getEnvAsDuration("LOCKOUT_RESET_PERIOD", 1*time.Hour),
			ManagerOverrideRequired: getEnvAsBool("LOCKOUT_MANAGER_OVERRIDE_REQUIRED", true),
			EmergencyCodeHashes:     getEnvAsList("EMERGENCY_CODE_HASHES"),
			EmergencyTOTPSecret:     getEnv("EMERGENCY_TOTP_SECRET", ""),
			ManagerJWTSecret:        getEnv("MANAGER_JWT_SECRET", ""),
			ManagerJWTAudience:      getEnv("MANAGER_JWT_AUDIENCE", "pinlock"),
			AttemptRetention:        getEnvAsDuration("ATTEMPT_RETENTION", 24*time.Hour),
			StatusRetention:         getEnvAsDuration("STATUS_RETENTION", 7*24*time.Hour),
			CleanupInterval:         getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Storage: StorageConfig{
			Backend:       getEnv("STORAGE_BACKEND", "memory"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			Database: DatabaseConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnvAsInt("DB_PORT", 5432),
				User:     getEnv("DB_USER", "postgres"),
				Password: getEnv("DB_PASSWORD", ""),
				Name:     getEnv("DB_NAME", "pinlock"),
				SSLMode:  getEnv("DB_SSLMODE", "disable"),
				MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 10)),
				MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 2)),
			},
		},
		Notify: NotifyConfig{
			Enabled:          getEnvAsBool("NOTIFY_ENABLED", false),
			AWSRegion:        getEnv("NOTIFY_AWS_REGION", "us-east-1"),
			FromAddress:      getEnv("NOTIFY_FROM_ADDRESS", ""),
			ManagerAddresses: getEnvAsList("NOTIFY_MANAGER_ADDRESSES"),
		},
	}

	if err := cfg.Lockout.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	if cfg.Notify.Enabled && cfg.Notify.FromAddress == "" {
		return nil, fmt.Errorf("NOTIFY_FROM_ADDRESS is required when notifications are enabled")
	}

	return cfg, nil
}

// Validate enforces startup invariants; configuration errors are fatal
func (c *LockoutConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be at least 1 (got %d)", c.MaxAttempts)
	}
	if c.BaseLockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_BASE_DURATION must be positive")
	}
	if c.MaxLockoutDuration < c.BaseLockoutDuration {
		return fmt.Errorf("LOCKOUT_MAX_DURATION must be >= LOCKOUT_BASE_DURATION")
	}
	if c.ProgressiveMultiplier < 1 {
		return fmt.Errorf("LOCKOUT_PROGRESSIVE_MULTIPLIER must be >= 1 (got %g)", c.ProgressiveMultiplier)
	}
	if c.ResetPeriod <= 0 {
		return fmt.Errorf("LOCKOUT_RESET_PERIOD must be positive")
	}
	if c.ManagerOverrideRequired {
		if c.ManagerJWTSecret == "" {
			return fmt.Errorf("MANAGER_JWT_SECRET is required when manager override is enabled")
		}
		if len(c.ManagerJWTSecret) < 32 {
			return fmt.Errorf("MANAGER_JWT_SECRET must be at least 32 characters (got %d)", len(c.ManagerJWTSecret))
		}
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case "memory", "redis", "postgres":
		return nil
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, redis, postgres (got %q)", c.Backend)
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
