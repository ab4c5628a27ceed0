// Package config loads service configuration from a TOML file with
// environment-variable overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Gateway  GatewayConfig
	Workflow WorkflowConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

type NATSConfig struct {
	URL            string
	QuoteSubject   string
	PaymentSubject string
	QueueGroup     string
}

type GatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// WorkflowConfig tunes the orchestration engine.
type WorkflowConfig struct {
	StepRetryLimit    int
	QuoteMinVendors   int
	QuoteDeadline     time.Duration
	SweepInterval     time.Duration
	ResumeConcurrency int
}

// Load reads config.toml (path from CONFIG_PATH, default ".") and applies
// PROCURE_-prefixed environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(getEnv("CONFIG_PATH", "."))
	v.AddConfigPath("config")

	v.SetEnvPrefix("PROCURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-procure-requests")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.readtimeout", 15*time.Second)
	v.SetDefault("server.writetimeout", 15*time.Second)
	v.SetDefault("server.idletimeout", 60*time.Second)
	v.SetDefault("server.shutdowntimeout", 20*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "procure")
	v.SetDefault("database.database", "procure")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxconns", 10)
	v.SetDefault("database.minconns", 2)
	v.SetDefault("database.maxconntime", time.Hour)
	v.SetDefault("database.maxidletime", 30*time.Minute)
	v.SetDefault("database.healthcheck", time.Minute)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.quotesubject", "procure.quotes.extracted")
	v.SetDefault("nats.paymentsubject", "procure.payments.status")
	v.SetDefault("nats.queuegroup", "procure-requests")

	v.SetDefault("gateway.baseurl", "http://localhost:9090")
	v.SetDefault("gateway.timeout", 10*time.Second)

	v.SetDefault("workflow.stepretrylimit", 3)
	v.SetDefault("workflow.quoteminvendors", 2)
	v.SetDefault("workflow.quotedeadline", 72*time.Hour)
	v.SetDefault("workflow.sweepinterval", 5*time.Minute)
	v.SetDefault("workflow.resumeconcurrency", 8)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
