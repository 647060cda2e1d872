package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ClareAI/astra-routing-service/pkg/redis"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// RoutingConfig holds configuration for the routing service
type RoutingConfig struct {
	// Server configuration
	Port        string
	LogEnv      string
	SecretKey   string
	DevMode     bool
	CORSOrigins []string

	// Storage
	Store   string
	Migrate bool

	// Redis; empty host disables the task bus and sweeper lock
	Redis redis.RedisConfig

	// RabbitMQ; empty URL disables event forwarding
	RabbitMQURL      string
	RabbitMQExchange string

	// Google Cloud Pub/Sub escalation channel
	PubSubProjectID       string
	PubSubEscalationTopic string
	PubSubPubID           string

	// Twilio SMS escalation channel
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// History archive
	ArchiveBucket string

	// Routing behaviour
	AssignTimeout        time.Duration
	SweepInterval        time.Duration
	SweeperLockTTL       time.Duration
	ClaimTimeout         time.Duration
	DefaultMaxConcurrent int
	RuleCacheTTL         time.Duration
	RuleCacheSize        int

	// Escalation notifications per second across all channels
	NotifyRatePerSecond int
	NotifyBurst         int
}

// LoadRoutingConfigFromEnv loads routing configuration from environment variables
func LoadRoutingConfigFromEnv() *RoutingConfig {
	config := &RoutingConfig{
		Port:        getEnv("ROUTING_PORT", "8090"),
		LogEnv:      getEnv("LOG_ENV", "development"),
		SecretKey:   getEnv("SECRET_KEY", ""),
		DevMode:     getEnvAsBool("ROUTING_DEV_MODE", false),
		CORSOrigins: []string{"*"},

		Store:   strings.ToLower(getEnv("ROUTING_STORE", StorePostgres)),
		Migrate: getEnvAsBool("DB_AUTO_MIGRATE", true),

		Redis: redis.RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "astra.routing"),

		PubSubProjectID:       getEnv("PUBSUB_PROJECT_ID", ""),
		PubSubEscalationTopic: getEnv("PUBSUB_ESCALATION_TOPIC", "routing-escalations"),
		PubSubPubID:           getEnv("PUBSUB_PUB_ID", ""),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		ArchiveBucket: getEnv("ARCHIVE_GCS_BUCKET", ""),

		AssignTimeout:        getEnvAsDuration("ROUTING_ASSIGN_TIMEOUT_MS", 2000, time.Millisecond),
		SweepInterval:        getEnvAsDuration("ROUTING_SWEEP_INTERVAL_SECONDS", 30, time.Second),
		SweeperLockTTL:       getEnvAsDuration("ROUTING_SWEEPER_LOCK_SECONDS", 25, time.Second),
		ClaimTimeout:         getEnvAsDuration("ROUTING_CLAIM_TIMEOUT_SECONDS", 120, time.Second),
		DefaultMaxConcurrent: getEnvAsInt("ROUTING_DEFAULT_MAX_CONCURRENT", 5),
		RuleCacheTTL:         getEnvAsDuration("ROUTING_RULE_CACHE_TTL_SECONDS", 30, time.Second),
		RuleCacheSize:        getEnvAsInt("ROUTING_RULE_CACHE_SIZE", 4096),

		NotifyRatePerSecond: getEnvAsInt("ROUTING_NOTIFY_RATE_PER_SECOND", 5),
		NotifyBurst:         getEnvAsInt("ROUTING_NOTIFY_BURST", 10),
	}

	if origins := getEnv("ROUTING_CORS_ORIGINS", ""); origins != "" {
		config.CORSOrigins = splitString(origins, ",")
	}

	return config
}

// Validate rejects configurations the service cannot start with
func (c *RoutingConfig) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("ROUTING_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.SecretKey == "" && !c.DevMode {
		return fmt.Errorf("SECRET_KEY is required unless ROUTING_DEV_MODE is set")
	}
	if c.AssignTimeout <= 0 {
		return fmt.Errorf("ROUTING_ASSIGN_TIMEOUT_MS must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("ROUTING_SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.DefaultMaxConcurrent < 1 {
		return fmt.Errorf("ROUTING_DEFAULT_MAX_CONCURRENT must be >= 1")
	}
	return nil
}

// RedisEnabled reports whether a Redis host was configured
func (c *RoutingConfig) RedisEnabled() bool {
	return c.Redis.Host != ""
}
