package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the warden process.
type Config struct {
	// Extension bridge connection
	BridgeURL string

	// CDP connection used by the messenger
	CDPAddress string
	CDPPort    int

	// API server
	BindAddr         string
	PortCandidates   []int
	PortAutoFallback bool

	// Persistence
	DataDir string

	// Managed group presentation
	GroupLabel string
	GroupColor string

	// Tuning
	IndicatorDebounceMS int
	BlocklistCacheMS    int

	// Safety alerts
	AlertWebhookURL string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and an optional
// .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BridgeURL:           getEnvOrDefault("WARDEN_BRIDGE_URL", "ws://127.0.0.1:9333/bridge"),
		CDPAddress:          getEnvOrDefault("WARDEN_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:             getEnvIntOrDefault("WARDEN_CDP_PORT", 9222),
		BindAddr:            getEnvOrDefault("WARDEN_BIND_ADDR", "127.0.0.1:8466"),
		PortCandidates:      getEnvIntListOrDefault("WARDEN_PORT_CANDIDATES", []int{8466, 8467, 8468}),
		PortAutoFallback:    getEnvBoolOrDefault("WARDEN_PORT_AUTO_FALLBACK", true),
		DataDir:             getEnvOrDefault("WARDEN_DATA_DIR", "./warden_data"),
		GroupLabel:          getEnvOrDefault("WARDEN_GROUP_LABEL", "Agent"),
		GroupColor:          getEnvOrDefault("WARDEN_GROUP_COLOR", "blue"),
		IndicatorDebounceMS: getEnvIntOrDefault("WARDEN_INDICATOR_DEBOUNCE_MS", 100),
		BlocklistCacheMS:    getEnvIntOrDefault("WARDEN_BLOCKLIST_CACHE_MS", 5000),
		AlertWebhookURL:     getEnvOrDefault("WARDEN_ALERT_WEBHOOK_URL", ""),
		LogLevel:            getEnvOrDefault("WARDEN_LOG_LEVEL", "info"),
		LogFile:             getEnvOrDefault("WARDEN_LOG_FILE", "logs/warden.log"),
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the messenger's remote
// allocator.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvIntListOrDefault(key string, defaultVal []int) []int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []int
	for _, part := range strings.Split(val, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultVal
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
