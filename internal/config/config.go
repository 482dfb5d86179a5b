// Package config loads the server configuration. An optional YAML file gives
// the base values and environment variables, from the process or a .env
// file, override them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Auth     AuthConfig     `yaml:"auth"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Routing  RoutingConfig  `yaml:"routing"`
	Sessions SessionsConfig `yaml:"sessions"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	WatchPoll       time.Duration `yaml:"watch_poll_interval"`
}

// MongoConfig holds the database connection configuration.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// AuthConfig holds the token verification settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// MQTTConfig holds the position ingest broker settings. An empty broker
// disables MQTT ingest.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// RoutingConfig holds the routing and geocoding provider endpoints.
type RoutingConfig struct {
	OSRMURL      string        `yaml:"osrm_url"`
	NominatimURL string        `yaml:"nominatim_url"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// SessionsConfig holds the live session sweeper settings.
type SessionsConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			RateLimitPerSec: 10,
			RateLimitBurst:  20,
			WatchPoll:       2 * time.Second,
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "fuel_cycle",
		},
		Auth: AuthConfig{
			JWTSecret: "default-secret-key-change-in-production",
			JWTExpiry: 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			ClientID:    "fuel-cycle-server",
			TopicPrefix: "fuelcycle",
		},
		Routing: RoutingConfig{
			OSRMURL:      "https://router.project-osrm.org",
			NominatimURL: "https://nominatim.openstreetmap.org",
			CacheTTL:     10 * time.Minute,
		},
		Sessions: SessionsConfig{
			MaxAge:        2 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded first when present; CONFIG_FILE names an optional YAML base.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 1
	}
	if cfg.Sessions.SweepInterval <= 0 {
		log.Warn("sessions.sweep_interval is not set or invalid; defaulting to 5m")
		cfg.Sessions.SweepInterval = 5 * time.Minute
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.RateLimitPerSec = getEnvFloat("RATE_LIMIT_PER_SEC", cfg.Server.RateLimitPerSec)
	cfg.Server.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", cfg.Server.RateLimitBurst)
	cfg.Server.WatchPoll = getEnvDuration("WATCH_POLL_INTERVAL", cfg.Server.WatchPoll)

	cfg.Mongo.URI = getEnv("MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = getEnv("MONGO_DB", cfg.Mongo.Database)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTExpiry = getEnvDuration("JWT_EXPIRY", cfg.Auth.JWTExpiry)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)

	cfg.Routing.OSRMURL = getEnv("OSRM_URL", cfg.Routing.OSRMURL)
	cfg.Routing.NominatimURL = getEnv("NOMINATIM_URL", cfg.Routing.NominatimURL)
	cfg.Routing.CacheTTL = getEnvDuration("ROUTE_CACHE_TTL", cfg.Routing.CacheTTL)

	cfg.Sessions.MaxAge = getEnvDuration("SESSION_MAX_AGE", cfg.Sessions.MaxAge)
	cfg.Sessions.SweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", cfg.Sessions.SweepInterval)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

// SetupLogging configures the standard logrus logger.
func (c *Config) SetupLogging() {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		log.WithField("level", c.Log.Level).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(c.Log.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.WithField("key", key).Warn("Ignoring invalid integer setting")
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.WithField("key", key).Warn("Ignoring invalid number setting")
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.WithField("key", key).Warn("Ignoring invalid duration setting")
	}
	return fallback
}
