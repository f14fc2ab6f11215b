package config

import (
	"os"
	"time"
)

type Config struct {
	Port           string
	TenantsFile    string
	NATSURL        string
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	WebhookSecret  string
	TopicNamespace string
	GatewayBaseURL string
	JaegerEndpoint string

	// Bounded timeouts on external calls. The gateway enforces webhook
	// delivery timeouts, so these stay well under its retry window.
	GatewayTimeout    time.Duration
	PriceFetchTimeout time.Duration
	SignatureMaxAge   time.Duration
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		TenantsFile:    getEnv("TENANTS_FILE", "tenants.json"),
		NATSURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		WebhookSecret:  os.Getenv("MP_WEBHOOK_SECRET"),
		TopicNamespace: getEnv("TOPIC_NAMESPACE", "lavanderia"),
		GatewayBaseURL: getEnv("GATEWAY_BASE_URL", "https://api.mercadopago.com"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),

		GatewayTimeout:    10 * time.Second,
		PriceFetchTimeout: 10 * time.Second,
		SignatureMaxAge:   5 * time.Minute,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
