package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Connector types accepted in indexer.connector
const (
	ConnectorClickHouse = "clickhouse"
	ConnectorMongoDB    = "mongodb"
	ConnectorKafka      = "kafka"
	ConnectorNATS       = "nats"
	ConnectorRedis      = "redis"
	ConnectorMemory     = "memory"
)

// SSLConfig holds the client certificates used to reach the indexer backend
type SSLConfig struct {
	CertificateAuthorities []string `mapstructure:"certificate_authorities"`
	Certificate            string   `mapstructure:"certificate"`
	Key                    string   `mapstructure:"key"`
	InsecureSkipVerify     bool     `mapstructure:"insecure_skip_verify"`
}

// Enabled reports whether any TLS material is configured
func (s SSLConfig) Enabled() bool {
	return len(s.CertificateAuthorities) > 0 || s.Certificate != ""
}

// IndexerConfig selects and tunes the connector behind every index
type IndexerConfig struct {
	Connector      string    `mapstructure:"connector" validate:"oneof=clickhouse mongodb kafka nats redis memory"`
	IndexPrefix    string    `mapstructure:"index_prefix" validate:"max=64"`
	Username       string    `mapstructure:"username"`
	Password       string    `mapstructure:"password"`
	SSL            SSLConfig `mapstructure:"ssl"`
	BatchSize      int       `mapstructure:"batch_size" validate:"min=1,max=100000"`
	FlushInterval  int       `mapstructure:"flush_interval" validate:"min=1"` // seconds
	QueueSize      int       `mapstructure:"queue_size" validate:"min=1"`
	DedupCacheSize int       `mapstructure:"dedup_cache_size" validate:"min=0"`
	PublishTimeout int       `mapstructure:"publish_timeout" validate:"min=1"` // seconds

	CircuitBreaker struct {
		Enabled             bool `mapstructure:"enabled"`
		MaxFailures         int  `mapstructure:"max_failures"`
		TimeoutSeconds      int  `mapstructure:"timeout_seconds"`
		MaxHalfOpenRequests int  `mapstructure:"max_half_open_requests"`
	} `mapstructure:"circuit_breaker"`

	ClickHouse struct {
		Addr        string `mapstructure:"addr"`
		Database    string `mapstructure:"database"`
		MaxPoolSize int    `mapstructure:"max_pool_size"`
	} `mapstructure:"clickhouse"`

	MongoDB struct {
		URI         string `mapstructure:"uri"`
		Database    string `mapstructure:"database"`
		MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	} `mapstructure:"mongodb"`

	Kafka struct {
		Brokers           []string `mapstructure:"brokers"`
		ClientID          string   `mapstructure:"client_id"`
		Partitions        int32    `mapstructure:"partitions"`
		ReplicationFactor int16    `mapstructure:"replication_factor"`
	} `mapstructure:"kafka"`

	NATS struct {
		URL     string `mapstructure:"url"`
		Subject string `mapstructure:"subject"`
		Stream  string `mapstructure:"stream"`
	} `mapstructure:"nats"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`
}

// ClusterConfig names the manager cluster. Index names carry the cluster name.
type ClusterConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Name     string `mapstructure:"name"`
	NodeName string `mapstructure:"node_name"`
}

// ListenerConfig configures the HTTP ingest listener
type ListenerConfig struct {
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"min=1,max=65535"`
	TLS         bool   `mapstructure:"tls"`
	CertFile    string `mapstructure:"cert_file"`
	KeyFile     string `mapstructure:"key_file"`
	MaxBodySize int64  `mapstructure:"max_body_size" validate:"min=1"`

	RateLimit struct {
		RequestsPerSecond int `mapstructure:"requests_per_second"`
		Burst             int `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`

	Auth struct {
		Enabled   bool   `mapstructure:"enabled"`
		JWTSecret string `mapstructure:"jwt_secret"`
		Issuer    string `mapstructure:"issuer"`
	} `mapstructure:"auth"`
}

// WorkersConfig sizes the event processing pool
type WorkersConfig struct {
	Count     int `mapstructure:"count" validate:"min=1,max=1024"`
	QueueSize int `mapstructure:"queue_size" validate:"min=1"`
}

// DLQConfig configures the SQLite dead letter queue
type DLQConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SecretsConfig selects where indexer credentials come from
type SecretsConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=none env vault aws"`
	Vault    struct {
		Address string `mapstructure:"address"`
		Token   string `mapstructure:"token"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"vault"`
	AWS struct {
		Region    string `mapstructure:"region"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		SecretID  string `mapstructure:"secret_id"`
	} `mapstructure:"aws"`
}

// Config holds all configuration for the harvester
type Config struct {
	LogLevel string         `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Indexer  IndexerConfig  `mapstructure:"indexer"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Listener ListenerConfig `mapstructure:"listener"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	DLQ      DLQConfig      `mapstructure:"dlq"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

func setDefaults() {
	viper.SetDefault("log_level", "info")

	viper.SetDefault("indexer.connector", ConnectorMemory)
	viper.SetDefault("indexer.index_prefix", "wazuh-states-")
	viper.SetDefault("indexer.username", "admin")
	viper.SetDefault("indexer.password", "admin")
	viper.SetDefault("indexer.ssl.certificate_authorities", []string{})
	viper.SetDefault("indexer.ssl.certificate", "")
	viper.SetDefault("indexer.ssl.key", "")
	viper.SetDefault("indexer.ssl.insecure_skip_verify", false)
	viper.SetDefault("indexer.batch_size", 1000)
	viper.SetDefault("indexer.flush_interval", 5)
	viper.SetDefault("indexer.queue_size", 10000)
	viper.SetDefault("indexer.dedup_cache_size", 10000)
	viper.SetDefault("indexer.publish_timeout", 10)
	viper.SetDefault("indexer.circuit_breaker.enabled", true)
	viper.SetDefault("indexer.circuit_breaker.max_failures", 5)
	viper.SetDefault("indexer.circuit_breaker.timeout_seconds", 30)
	viper.SetDefault("indexer.circuit_breaker.max_half_open_requests", 1)
	viper.SetDefault("indexer.clickhouse.addr", "localhost:9000")
	viper.SetDefault("indexer.clickhouse.database", "harvester")
	viper.SetDefault("indexer.clickhouse.max_pool_size", 10)
	viper.SetDefault("indexer.mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("indexer.mongodb.database", "harvester")
	viper.SetDefault("indexer.mongodb.max_pool_size", 10)
	viper.SetDefault("indexer.kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("indexer.kafka.client_id", "harvester")
	viper.SetDefault("indexer.kafka.partitions", 3)
	viper.SetDefault("indexer.kafka.replication_factor", 1)
	viper.SetDefault("indexer.nats.url", "nats://localhost:4222")
	viper.SetDefault("indexer.nats.subject", "harvester")
	viper.SetDefault("indexer.nats.stream", "HARVESTER")
	viper.SetDefault("indexer.redis.addr", "localhost:6379")
	viper.SetDefault("indexer.redis.db", 0)
	viper.SetDefault("indexer.redis.pool_size", 10)

	// a blank cluster name yields the "undefined" index suffix
	viper.SetDefault("cluster.enabled", false)
	viper.SetDefault("cluster.name", " ")
	viper.SetDefault("cluster.node_name", " ")

	viper.SetDefault("listener.host", "0.0.0.0")
	viper.SetDefault("listener.port", 8090)
	viper.SetDefault("listener.tls", false)
	viper.SetDefault("listener.cert_file", "server.crt")
	viper.SetDefault("listener.key_file", "server.key")
	viper.SetDefault("listener.max_body_size", 1<<20)
	viper.SetDefault("listener.rate_limit.requests_per_second", 1000)
	viper.SetDefault("listener.rate_limit.burst", 2000)
	viper.SetDefault("listener.auth.enabled", false)
	viper.SetDefault("listener.auth.jwt_secret", "")
	viper.SetDefault("listener.auth.issuer", "harvester")

	viper.SetDefault("workers.count", 8)
	viper.SetDefault("workers.queue_size", 10000)

	viper.SetDefault("dlq.enabled", true)
	viper.SetDefault("dlq.path", "./data/harvester_dlq.db")

	viper.SetDefault("secrets.provider", "none")
	viper.SetDefault("secrets.vault.path", "secret/harvester")
	viper.SetDefault("secrets.aws.secret_id", "harvester/indexer")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("HARVESTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("indexer.username", "HARVESTER_INDEXER_USERNAME")
	_ = viper.BindEnv("indexer.password", "HARVESTER_INDEXER_PASSWORD")
	_ = viper.BindEnv("listener.auth.jwt_secret", "HARVESTER_JWT_SECRET")
	_ = viper.BindEnv("dlq.path", "HARVESTER_DLQ_PATH")
}

// LoadConfig loads configuration from config.yaml (in . or ./config) and
// HARVESTER_* environment variables, then validates it
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	return load()
}

// LoadConfigFile is LoadConfig with an explicit file path
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return LoadConfig()
	}
	viper.SetConfigFile(path)
	return load()
}

func load() (*Config, error) {
	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// FlushInterval returns indexer.flush_interval as a duration
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Indexer.FlushInterval) * time.Second
}

// PublishTimeout returns indexer.publish_timeout as a duration
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.Indexer.PublishTimeout) * time.Second
}

func validateConfig(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return err
	}

	switch config.Indexer.Connector {
	case ConnectorClickHouse:
		if config.Indexer.ClickHouse.Addr == "" {
			return fmt.Errorf("indexer.clickhouse.addr cannot be empty")
		}
		if config.Indexer.ClickHouse.Database == "" {
			return fmt.Errorf("indexer.clickhouse.database cannot be empty")
		}
	case ConnectorMongoDB:
		uri := config.Indexer.MongoDB.URI
		if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
			return fmt.Errorf("invalid MongoDB URI: must start with mongodb:// or mongodb+srv://")
		}
		parsed, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid MongoDB URI: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("invalid MongoDB URI: missing host")
		}
		if config.Indexer.MongoDB.Database == "" {
			return fmt.Errorf("indexer.mongodb.database cannot be empty")
		}
	case ConnectorKafka:
		if len(config.Indexer.Kafka.Brokers) == 0 {
			return fmt.Errorf("indexer.kafka.brokers cannot be empty")
		}
	case ConnectorNATS:
		if config.Indexer.NATS.URL == "" || config.Indexer.NATS.Subject == "" {
			return fmt.Errorf("indexer.nats.url and indexer.nats.subject are required")
		}
	case ConnectorRedis:
		if config.Indexer.Redis.Addr == "" {
			return fmt.Errorf("indexer.redis.addr cannot be empty")
		}
	}

	if config.Indexer.SSL.Certificate != "" && config.Indexer.SSL.Key == "" {
		return fmt.Errorf("indexer.ssl.key is required when indexer.ssl.certificate is set")
	}

	if config.Indexer.CircuitBreaker.Enabled {
		if config.Indexer.CircuitBreaker.MaxFailures <= 0 {
			return fmt.Errorf("circuit breaker max_failures must be positive, got %d", config.Indexer.CircuitBreaker.MaxFailures)
		}
		if config.Indexer.CircuitBreaker.TimeoutSeconds <= 0 {
			return fmt.Errorf("circuit breaker timeout_seconds must be positive, got %d", config.Indexer.CircuitBreaker.TimeoutSeconds)
		}
		if config.Indexer.CircuitBreaker.MaxHalfOpenRequests <= 0 {
			return fmt.Errorf("circuit breaker max_half_open_requests must be positive, got %d", config.Indexer.CircuitBreaker.MaxHalfOpenRequests)
		}
	}

	if config.Listener.Auth.Enabled && config.Secrets.Provider == "none" && len(config.Listener.Auth.JWTSecret) < 32 {
		return fmt.Errorf("listener.auth.jwt_secret must be at least 32 characters when auth is enabled")
	}
	if config.Listener.TLS && (config.Listener.CertFile == "" || config.Listener.KeyFile == "") {
		return fmt.Errorf("listener.cert_file and listener.key_file are required when TLS is enabled")
	}

	if config.DLQ.Enabled && config.DLQ.Path == "" {
		return fmt.Errorf("dlq.path cannot be empty when the DLQ is enabled")
	}

	if os.Getenv("HARVESTER_ENV") == "production" && !config.Listener.TLS {
		return fmt.Errorf("TLS must be enabled for the listener in production (HARVESTER_ENV=production, listener.tls=false)")
	}

	return nil
}
