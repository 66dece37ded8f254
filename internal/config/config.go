package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds the server settings.
type Config struct {
	Port string

	MongoURI string
	MongoDB  string

	JWTSecret string
	JWTExpiry time.Duration

	RedisAddr     string
	RedisPassword string

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	LogLevel      string
	LogFile       string
	LogMaxAgeDays int

	// RateLimit is the number of auth requests allowed per IP per minute.
	RateLimit int
	// TrustProxy takes client IPs from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
}

const defaultJWTSecret = "default-secret-key-change-in-production"

// Load reads an optional .env file (or the files named) and then the
// environment. Unset values fall back to defaults.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDB:         getEnv("MONGO_DB", "fleet"),
		JWTSecret:       getEnv("JWT_SECRET", defaultJWTSecret),
		JWTExpiry:       24 * time.Hour,
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "fleet-dashboard"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "fleet"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		LogFile:         os.Getenv("LOG_FILE"),
		LogMaxAgeDays:   30,
		RateLimit:       20,
	}

	if v := os.Getenv("JWT_EXPIRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("JWT_EXPIRY: %w", err)
		}
		cfg.JWTExpiry = d
	}
	if err := getInt("LOG_MAX_AGE_DAYS", &cfg.LogMaxAgeDays); err != nil {
		return nil, err
	}
	if err := getInt("RATE_LIMIT", &cfg.RateLimit); err != nil {
		return nil, err
	}
	if v := os.Getenv("TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("TRUST_PROXY must be a boolean: %w", err)
		}
		cfg.TrustProxy = b
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == defaultJWTSecret {
		log.Warn("JWT_SECRET not set, using the development default")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.JWTExpiry <= 0 {
		return fmt.Errorf("JWT_EXPIRY must be positive")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be positive")
	}
	return nil
}

// GetLogLevel maps LOG_LEVEL to a logrus level, INFO when unknown.
func (c *Config) GetLogLevel() log.Level {
	switch c.LogLevel {
	case "DEBUG":
		return log.DebugLevel
	case "WARN":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ListenAddress is the HTTP listen address.
func (c *Config) ListenAddress() string {
	return ":" + c.Port
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}
