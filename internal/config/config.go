package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "CANVAS"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "canvas.db"
	defaultLogLevel          = "info"
	defaultAuthIssuer        = "canvas-auth"
	defaultQueueBackend      = QueueBackendBolt
	defaultQueuePath         = "canvas-queue.db"
	defaultRedisAddress      = "localhost:6379"
	defaultAuthTimeout       = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultSendBuffer        = 256
	defaultReadLimitBytes    = 64 * 1024
	defaultHistoryLimit      = 100
	defaultPersistRetries    = 3
	defaultPersistRetryDelay = 200 * time.Millisecond
	defaultRole              = "editor"
	defaultChatLimit         = 200
)

// Offline queue backends understood by the service.
const (
	QueueBackendMemory = "memory"
	QueueBackendBolt   = "bolt"
	QueueBackendRedis  = "redis"
)

// AppConfig captures runtime configuration for the collaboration service.
type AppConfig struct {
	HTTPAddress       string
	AllowedOrigins    []string
	SigningSecret     string
	AuthIssuer        string
	DatabasePath      string
	LogLevel          string
	LogFormat         string
	QueueBackend      string
	QueuePath         string
	RedisAddress      string
	RedisDB           int
	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	ReadLimitBytes    int64
	HistoryLimit      int
	PersistRetries    int
	PersistRetryDelay time.Duration
	DefaultRole       string
	ChatLimit         int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", "json")
	configViper.SetDefault("queue.backend", defaultQueueBackend)
	configViper.SetDefault("queue.path", defaultQueuePath)
	configViper.SetDefault("queue.redis_address", defaultRedisAddress)
	configViper.SetDefault("queue.redis_db", 0)
	configViper.SetDefault("session.auth_timeout", defaultAuthTimeout)
	configViper.SetDefault("session.heartbeat_interval", defaultHeartbeatInterval)
	configViper.SetDefault("session.write_timeout", defaultWriteTimeout)
	configViper.SetDefault("session.send_buffer", defaultSendBuffer)
	configViper.SetDefault("session.read_limit_bytes", defaultReadLimitBytes)
	configViper.SetDefault("history.limit", defaultHistoryLimit)
	configViper.SetDefault("persistence.retries", defaultPersistRetries)
	configViper.SetDefault("persistence.retry_delay", defaultPersistRetryDelay)
	configViper.SetDefault("collab.default_role", defaultRole)
	configViper.SetDefault("collab.chat_limit", defaultChatLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    configViper.GetStringSlice("http.allowed_origins"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		QueueBackend:      strings.ToLower(strings.TrimSpace(configViper.GetString("queue.backend"))),
		QueuePath:         configViper.GetString("queue.path"),
		RedisAddress:      configViper.GetString("queue.redis_address"),
		RedisDB:           configViper.GetInt("queue.redis_db"),
		AuthTimeout:       configViper.GetDuration("session.auth_timeout"),
		HeartbeatInterval: configViper.GetDuration("session.heartbeat_interval"),
		WriteTimeout:      configViper.GetDuration("session.write_timeout"),
		SendBuffer:        configViper.GetInt("session.send_buffer"),
		ReadLimitBytes:    configViper.GetInt64("session.read_limit_bytes"),
		HistoryLimit:      configViper.GetInt("history.limit"),
		PersistRetries:    configViper.GetInt("persistence.retries"),
		PersistRetryDelay: configViper.GetDuration("persistence.retry_delay"),
		DefaultRole:       strings.ToLower(strings.TrimSpace(configViper.GetString("collab.default_role"))),
		ChatLimit:         configViper.GetInt("collab.chat_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.QueueBackend {
	case QueueBackendMemory:
	case QueueBackendBolt:
		if strings.TrimSpace(c.QueuePath) == "" {
			return fmt.Errorf("queue.path is required for the bolt backend")
		}
	case QueueBackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("queue.redis_address is required for the redis backend")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.QueueBackend)
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("session.auth_timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("session.heartbeat_interval must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("session.send_buffer must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history.limit must be positive")
	}
	if c.PersistRetries < 0 {
		return fmt.Errorf("persistence.retries must not be negative")
	}
	switch c.DefaultRole {
	case "viewer", "editor", "admin":
	default:
		return fmt.Errorf("collab.default_role %q is not a known role", c.DefaultRole)
	}
	return nil
}
