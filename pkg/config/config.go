// Package config provides environment-based configuration for the pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/logweir/logweir/internal/models"
)

// Config holds all configuration for the gateway and coordinator.
// Values are read once at startup; changing quota limits requires a
// coordinator reset so that a window never mixes old and new semantics.
type Config struct {
	// Database configuration (durable store)
	DatabaseDSN string

	// Server configuration
	GatewayHost     string
	GatewayPort     int
	CoordinatorPort int

	// CoordinatorURL points a gateway at a remote coordinator. Empty means
	// the gateway hosts the coordinator in-process.
	CoordinatorURL string

	// Buffer configuration
	BufferDir string
	BufferTTL time.Duration

	// Quota configuration
	Quota QuotaConfig

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration
}

// QuotaConfig holds the rate-limit coordinator's limits and policies.
type QuotaConfig struct {
	GlobalLimit   int
	SystemQuota   map[models.System]int
	PerTraceLimit int
	Window        time.Duration

	// CheckTimeout bounds the gateway's call to a remote coordinator.
	CheckTimeout time.Duration
	// FailOpen accepts events when the coordinator cannot be reached.
	// Failing closed is the default: it bounds worst-case storage cost at
	// the price of occasionally dropping legitimate logs.
	FailOpen bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/logweir?sslmode=disable"),
		GatewayHost:     getEnv("GATEWAY_HOST", "0.0.0.0"),
		GatewayPort:     getIntEnv("GATEWAY_PORT", 8080),
		CoordinatorPort: getIntEnv("COORDINATOR_PORT", 8090),
		CoordinatorURL:  getEnv("COORDINATOR_URL", ""),
		BufferDir:       getEnv("BUFFER_DIR", "/var/lib/logweir/buffer"),
		BufferTTL:       getDurationEnv("BUFFER_TTL", time.Hour),
		Quota: QuotaConfig{
			GlobalLimit: getIntEnv("GLOBAL_LIMIT", 1000),
			SystemQuota: map[models.System]int{
				models.SystemClient:  getIntEnv("SYSTEM_QUOTA_CLIENT", 400),
				models.SystemEdge:    getIntEnv("SYSTEM_QUOTA_EDGE", 400),
				models.SystemBackend: getIntEnv("SYSTEM_QUOTA_BACKEND", 400),
			},
			PerTraceLimit: getIntEnv("PER_TRACE_LIMIT", 100),
			Window:        getDurationEnv("WINDOW", time.Hour),
			CheckTimeout:  getDurationEnv("QUOTA_CHECK_TIMEOUT", 2*time.Second),
			FailOpen:      getBoolEnv("QUOTA_FAIL_OPEN", false),
		},
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Quota.GlobalLimit <= 0 {
		return fmt.Errorf("GLOBAL_LIMIT must be positive")
	}
	if c.Quota.PerTraceLimit <= 0 {
		return fmt.Errorf("PER_TRACE_LIMIT must be positive")
	}
	for system, quota := range c.Quota.SystemQuota {
		if quota <= 0 {
			return fmt.Errorf("system quota for %q must be positive", system)
		}
	}
	if c.Quota.Window <= 0 {
		return fmt.Errorf("WINDOW must be positive")
	}
	if c.BufferTTL <= 0 {
		return fmt.Errorf("BUFFER_TTL must be positive")
	}
	return nil
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns the environment variable as an int or a default.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getBoolEnv returns the environment variable as a bool or a default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getDurationEnv returns the environment variable as a duration or a default.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
