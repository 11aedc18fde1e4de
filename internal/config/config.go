package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Routing
	FallbackCompanyID string
	QueueUnitSeconds  int
	QueueTickInterval time.Duration
	QueueUpdateBatch  int
	QueueMaxWait      time.Duration
	RingTimeout       time.Duration
	DeclineCooldown   time.Duration
	DefaultMaxLoad    int
	STUNURLs          []string

	// Directory
	RequireKnownCompany bool

	// Agent auth
	Env                string
	SkipAuth           bool
	OIDCIssuer         string
	VerifyJWTSignature bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:              getEnv("PORT", "8080"),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		FallbackCompanyID: strings.TrimSpace(os.Getenv("FALLBACK_COMPANY_ID")),
		STUNURLs:          splitList(getEnv("STUN_URLS", "stun:stun.l.google.com:19302")),
		Env:               getEnv("ENV", "development"),
		OIDCIssuer:        os.Getenv("OIDC_ISSUER"),
	}
	if _, set := os.LookupEnv("FALLBACK_COMPANY_ID"); !set {
		config.FallbackCompanyID = "platform"
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := getSeconds("WS_READ_TIMEOUT", "60")
	if err != nil {
		return nil, err
	}
	config.WSReadTimeout = wsReadTimeout

	wsWriteTimeout, err := getSeconds("WS_WRITE_TIMEOUT", "10")
	if err != nil {
		return nil, err
	}
	config.WSWriteTimeout = wsWriteTimeout

	maxMessageSize, err := getInt("WS_MAX_MESSAGE_SIZE", "65536")
	if err != nil {
		return nil, err
	}
	config.MaxMessageSize = int64(maxMessageSize)

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout

	if config.QueueUnitSeconds, err = getInt("QUEUE_UNIT_SECONDS", "60"); err != nil {
		return nil, err
	}
	if config.QueueTickInterval, err = getSeconds("QUEUE_TICK_INTERVAL", "5"); err != nil {
		return nil, err
	}
	if config.QueueUpdateBatch, err = getInt("QUEUE_UPDATE_BATCH", "2000"); err != nil {
		return nil, err
	}
	if config.QueueMaxWait, err = getSeconds("QUEUE_MAX_WAIT", "600"); err != nil {
		return nil, err
	}
	if config.RingTimeout, err = getSeconds("RING_TIMEOUT", "30"); err != nil {
		return nil, err
	}
	if config.DeclineCooldown, err = getSeconds("DECLINE_COOLDOWN", "15"); err != nil {
		return nil, err
	}
	if config.DefaultMaxLoad, err = getInt("DEFAULT_MAX_LOAD", "1"); err != nil {
		return nil, err
	}
	if config.RequireKnownCompany, err = getBool("REQUIRE_KNOWN_COMPANY", "false"); err != nil {
		return nil, err
	}
	if config.SkipAuth, err = getBool("SKIP_AUTH", "false"); err != nil {
		return nil, err
	}
	if config.VerifyJWTSignature, err = getBool("VERIFY_JWT_SIGNATURE", "false"); err != nil {
		return nil, err
	}
	if config.DefaultMaxLoad <= 0 {
		return nil, fmt.Errorf("invalid DEFAULT_MAX_LOAD: must be positive, got %d", config.DefaultMaxLoad)
	}
	if config.QueueTickInterval <= 0 {
		return nil, fmt.Errorf("invalid QUEUE_TICK_INTERVAL: must be positive")
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key, defaultValue string) (int, error) {
	v, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key, defaultValue string) (bool, error) {
	v, err := strconv.ParseBool(getEnv(key, defaultValue))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getSeconds(key, defaultValue string) (time.Duration, error) {
	v, err := getInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

// splitList splits a comma separated value, trimming spaces and dropping empties
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
