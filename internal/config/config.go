// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Runtime drivers accepted by RUNTIME_DRIVER.
const (
	RuntimeDriverAPI  = "api"
	RuntimeDriverCLI  = "cli"
	RuntimeDriverMock = "mock"
)

// Action drivers accepted by ACTION_DRIVER.
const (
	ActionDriverNoop          = "noop"
	ActionDriverHomeAssistant = "homeassistant"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL for the denylist and session context (e.g. redis://localhost:6379/0).
	// Empty selects the in-process store, which is only correct for a single replica.
	RedisURL string `mapstructure:"REDIS_URL"`
	// KVTimeout bounds each denylist/context round trip (e.g. "250ms").
	KVTimeout string `mapstructure:"KV_TIMEOUT"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTSecret is the HS256 shared secret, used only when no key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "60m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// PasswordMinLength is the minimum accepted password length on register.
	PasswordMinLength int `mapstructure:"PASSWORD_MIN_LENGTH"`

	// RuntimeDriver selects the runtime backend: api, cli, or mock. There is no fallback between them.
	RuntimeDriver string `mapstructure:"RUNTIME_DRIVER"`
	// DockerHost is the Engine API endpoint (unix:///var/run/docker.sock or tcp://host:2375).
	DockerHost string `mapstructure:"DOCKER_HOST"`
	// DockerBinary is the docker CLI executable used by the cli driver.
	DockerBinary string `mapstructure:"DOCKER_BINARY"`
	// HAImage is the automation runtime image.
	HAImage string `mapstructure:"HA_IMAGE"`
	// HANetwork is the runtime network every instance joins.
	HANetwork string `mapstructure:"HA_NETWORK"`
	// HATimezone is passed to instances as TZ.
	HATimezone string `mapstructure:"HA_TIMEZONE"`
	// HAMemoryLimit is the per-instance memory limit (e.g. "512m").
	HAMemoryLimit string `mapstructure:"HA_MEMORY_LIMIT"`
	// HACPULimit is the per-instance CPU share (e.g. 0.5).
	HACPULimit float64 `mapstructure:"HA_CPU_LIMIT"`
	// HAHost is the host the action executor uses to reach instance ports.
	HAHost string `mapstructure:"HA_HOST"`
	// HAAccessToken is the long-lived token the action executor presents to instances.
	HAAccessToken string `mapstructure:"HA_ACCESS_TOKEN"`
	// PortRangeStart is the first host port handed to instances (inclusive).
	PortRangeStart int `mapstructure:"PORT_RANGE_START"`
	// PortRangeEnd is the end of the host port range (exclusive).
	PortRangeEnd int `mapstructure:"PORT_RANGE_END"`
	// RuntimeCreateTimeout bounds volume+container creation and first start.
	RuntimeCreateTimeout string `mapstructure:"RUNTIME_CREATE_TIMEOUT"`
	// RuntimeStartTimeout bounds a start call.
	RuntimeStartTimeout string `mapstructure:"RUNTIME_START_TIMEOUT"`
	// RuntimeStopGrace is how long a stop waits before the runtime is forced down.
	RuntimeStopGrace string `mapstructure:"RUNTIME_STOP_GRACE"`

	// NLUBaseURL is the Ollama base URL.
	NLUBaseURL string `mapstructure:"NLU_BASE_URL"`
	// NLUModel is the model name passed to /api/generate.
	NLUModel string `mapstructure:"NLU_MODEL"`
	// NLUTimeout bounds one NLU call.
	NLUTimeout string `mapstructure:"NLU_TIMEOUT"`
	// NLUTemperature is the sampling temperature.
	NLUTemperature float64 `mapstructure:"NLU_TEMPERATURE"`
	// ActionDriver selects the action executor: noop or homeassistant.
	ActionDriver string `mapstructure:"ACTION_DRIVER"`

	// ContextWindow is the number of conversation turns kept per session.
	ContextWindow int `mapstructure:"CONTEXT_WINDOW"`
	// SessionTTL is the sliding expiry of a session context (e.g. "30m").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// ConfidenceThreshold flags NLU results below it.
	ConfidenceThreshold float64 `mapstructure:"CONFIDENCE_THRESHOLD"`
	// IntentRateLimitPerMinute caps /intent requests per client; 0 disables.
	IntentRateLimitPerMinute int `mapstructure:"INTENT_RATE_LIMIT_PER_MINUTE"`
	// InternalAPIToken, when set, is required in X-Internal-Token on /instance routes.
	InternalAPIToken string `mapstructure:"INTERNAL_API_TOKEN"`

	// Telemetry (optional). When Kafka brokers are set, audit and request events are emitted to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// OTLPEndpoint is the OTLP gRPC collector; empty keeps no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogPretty switches to the human-readable console writer.
	LogPretty bool `mapstructure:"LOG_PRETTY"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("KV_TIMEOUT", "250ms")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "homestack-auth")
	v.SetDefault("JWT_AUDIENCE", "homestack-api")
	v.SetDefault("JWT_ACCESS_TTL", "60m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PASSWORD_MIN_LENGTH", 8)
	v.SetDefault("RUNTIME_DRIVER", RuntimeDriverAPI)
	v.SetDefault("DOCKER_HOST", "unix:///var/run/docker.sock")
	v.SetDefault("DOCKER_BINARY", "docker")
	v.SetDefault("HA_IMAGE", "homeassistant/home-assistant:latest")
	v.SetDefault("HA_NETWORK", "central")
	v.SetDefault("HA_TIMEZONE", "Europe/Budapest")
	v.SetDefault("HA_MEMORY_LIMIT", "512m")
	v.SetDefault("HA_CPU_LIMIT", 0.5)
	v.SetDefault("HA_HOST", "localhost")
	v.SetDefault("HA_ACCESS_TOKEN", "")
	v.SetDefault("PORT_RANGE_START", 8200)
	v.SetDefault("PORT_RANGE_END", 8300)
	v.SetDefault("RUNTIME_CREATE_TIMEOUT", "30s")
	v.SetDefault("RUNTIME_START_TIMEOUT", "15s")
	v.SetDefault("RUNTIME_STOP_GRACE", "10s")
	v.SetDefault("NLU_BASE_URL", "http://localhost:11434")
	v.SetDefault("NLU_MODEL", "mistral:7b")
	v.SetDefault("NLU_TIMEOUT", "5s")
	v.SetDefault("NLU_TEMPERATURE", 0.1)
	v.SetDefault("ACTION_DRIVER", ActionDriverNoop)
	v.SetDefault("CONTEXT_WINDOW", 10)
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("CONFIDENCE_THRESHOLD", 0.5)
	v.SetDefault("INTENT_RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("INTERNAL_API_TOKEN", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "homestack-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "homestack-event-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.PasswordMinLength <= 0 {
		cfg.PasswordMinLength = 8
	}

	if cfg.PortRangeStart <= 0 || cfg.PortRangeEnd > 65536 || cfg.PortRangeEnd <= cfg.PortRangeStart {
		return nil, errors.New("config: PORT_RANGE_START..PORT_RANGE_END must be a non-empty range of valid ports")
	}

	cfg.RuntimeDriver = strings.ToLower(strings.TrimSpace(cfg.RuntimeDriver))
	switch cfg.RuntimeDriver {
	case RuntimeDriverAPI, RuntimeDriverCLI:
	case RuntimeDriverMock:
		if cfg.Env == "production" {
			return nil, errors.New("config: RUNTIME_DRIVER=mock must not be used when APP_ENV=production")
		}
	default:
		return nil, errors.New("config: RUNTIME_DRIVER must be one of api, cli, mock")
	}

	cfg.ActionDriver = strings.ToLower(strings.TrimSpace(cfg.ActionDriver))
	if cfg.ActionDriver != ActionDriverNoop && cfg.ActionDriver != ActionDriverHomeAssistant {
		return nil, errors.New("config: ACTION_DRIVER must be one of noop, homeassistant")
	}

	if cfg.ContextWindow <= 0 {
		return nil, errors.New("config: CONTEXT_WINDOW must be positive")
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, errors.New("config: CONFIDENCE_THRESHOLD must be between 0 and 1")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 60m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 60*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// KVOpTimeout returns KVTimeout, or 250ms if unset or invalid.
func (c *Config) KVOpTimeout() time.Duration {
	return parseDuration(c.KVTimeout, 250*time.Millisecond)
}

// SessionContextTTL returns SessionTTL, or 30m if unset or invalid.
func (c *Config) SessionContextTTL() time.Duration {
	return parseDuration(c.SessionTTL, 30*time.Minute)
}

// NLURequestTimeout returns NLUTimeout, or 5s if unset or invalid.
func (c *Config) NLURequestTimeout() time.Duration {
	return parseDuration(c.NLUTimeout, 5*time.Second)
}

// CreateTimeout returns RuntimeCreateTimeout, or 30s if unset or invalid.
func (c *Config) CreateTimeout() time.Duration {
	return parseDuration(c.RuntimeCreateTimeout, 30*time.Second)
}

// StartTimeout returns RuntimeStartTimeout, or 15s if unset or invalid.
func (c *Config) StartTimeout() time.Duration {
	return parseDuration(c.RuntimeStartTimeout, 15*time.Second)
}

// StopGrace returns RuntimeStopGrace, or 10s if unset or invalid.
func (c *Config) StopGrace() time.Duration {
	return parseDuration(c.RuntimeStopGrace, 10*time.Second)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event streaming is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
