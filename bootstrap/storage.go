package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"harvester/config"
	"harvester/core"
	"harvester/storage"
	"harvester/util"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// shutdownTimeout bounds closing the shared indexer clients
const shutdownTimeout = 10 * time.Second

// components gets one index, and one connector, each
var components = []core.AffectedComponentType{core.ComponentFile, core.ComponentRegistry}

// StorageComponents holds the connector registry and the clients it shares.
// Connectors do not own the clients; Close releases both in order.
type StorageComponents struct {
	Registry *storage.Registry

	ClickHouse driver.Conn
	MongoDB    *storage.MongoDB
	Kafka      *kgo.Client
	NATS       *storage.NATS
	Redis      *redis.Client

	logger *zap.SugaredLogger
}

// InitStorage connects to the configured indexer and registers a connector per component
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	tlsConfig, err := storage.NewTLSConfig(cfg.Indexer.SSL)
	if err != nil {
		return nil, fmt.Errorf("failed to load indexer TLS material: %w", err)
	}

	sc := &StorageComponents{logger: sugar}
	if err := sc.connect(ctx, cfg, tlsConfig); err != nil {
		sc.Close()
		return nil, err
	}

	registry, err := sc.buildRegistry(ctx, cfg)
	if err != nil {
		sc.Close()
		return nil, err
	}
	sc.Registry = registry

	sugar.Infow("Indexer connectors ready",
		"connector", cfg.Indexer.Connector,
		"files_index", storage.IndexName(cfg.Indexer.IndexPrefix, core.ComponentFile, cfg.Cluster.Name),
		"registries_index", storage.IndexName(cfg.Indexer.IndexPrefix, core.ComponentRegistry, cfg.Cluster.Name),
		"circuit_breaker", cfg.Indexer.CircuitBreaker.Enabled)
	return sc, nil
}

// connect opens the client shared by both connectors
func (sc *StorageComponents) connect(ctx context.Context, cfg *config.Config, tlsConfig *tls.Config) error {
	var err error
	switch cfg.Indexer.Connector {
	case config.ConnectorClickHouse:
		err = withRetry(ctx, "ClickHouse", cfg.Indexer.ClickHouse.Addr, sc.logger, func() error {
			conn, err := storage.OpenClickHouse(cfg, tlsConfig, sc.logger)
			sc.ClickHouse = conn
			return err
		})
	case config.ConnectorMongoDB:
		err = withRetry(ctx, "MongoDB", cfg.Indexer.MongoDB.URI, sc.logger, func() error {
			db, err := storage.NewMongoDB(cfg.Indexer.MongoDB.URI, cfg.Indexer.MongoDB.Database,
				cfg.Indexer.MongoDB.MaxPoolSize, tlsConfig, sc.logger)
			sc.MongoDB = db
			return err
		})
	case config.ConnectorKafka:
		addr := strings.Join(cfg.Indexer.Kafka.Brokers, ",")
		err = withRetry(ctx, "Kafka", addr, sc.logger, func() error {
			client, err := storage.NewKafkaClient(cfg, tlsConfig, sc.logger)
			sc.Kafka = client
			return err
		})
		if err == nil {
			topics := make([]string, 0, len(components))
			for _, component := range components {
				topics = append(topics, storage.IndexName(cfg.Indexer.IndexPrefix, component, cfg.Cluster.Name))
			}
			err = storage.EnsureKafkaTopics(ctx, sc.Kafka,
				cfg.Indexer.Kafka.Partitions, cfg.Indexer.Kafka.ReplicationFactor, topics...)
		}
	case config.ConnectorNATS:
		err = withRetry(ctx, "NATS", cfg.Indexer.NATS.URL, sc.logger, func() error {
			n, err := storage.NewNATS(cfg, tlsConfig, sc.logger)
			sc.NATS = n
			return err
		})
	case config.ConnectorRedis:
		err = withRetry(ctx, "Redis", cfg.Indexer.Redis.Addr, sc.logger, func() error {
			client, err := storage.NewRedisClient(cfg, tlsConfig, sc.logger)
			sc.Redis = client
			return err
		})
	case config.ConnectorMemory:
		sc.logger.Warn("Using the in-memory connector, documents are not persisted")
	default:
		err = fmt.Errorf("unsupported connector: %s", cfg.Indexer.Connector)
	}
	return err
}

// buildRegistry creates one connector per component, each behind its own breaker
func (sc *StorageComponents) buildRegistry(ctx context.Context, cfg *config.Config) (*storage.Registry, error) {
	builder := storage.NewRegistryBuilder()
	var created []storage.IndexerConnector

	for _, component := range components {
		index := storage.IndexName(cfg.Indexer.IndexPrefix, component, cfg.Cluster.Name)
		connector, err := sc.newConnector(ctx, cfg, index)
		if err != nil {
			closeAll(created, sc.logger)
			return nil, fmt.Errorf("failed to create %s connector for %s: %w", cfg.Indexer.Connector, index, err)
		}
		created = append(created, connector)

		if cfg.Indexer.CircuitBreaker.Enabled {
			breaker, err := storage.NewCircuitBreaker(BreakerConfigFromConfig(cfg))
			if err != nil {
				closeAll(created, sc.logger)
				return nil, err
			}
			connector = storage.NewGuardedConnector(index, connector, breaker, sc.logger)
		}
		builder.Register(component, connector)
	}

	registry, err := builder.Build()
	if err != nil {
		closeAll(created, sc.logger)
		return nil, fmt.Errorf("failed to build connector registry: %w", err)
	}
	return registry, nil
}

func (sc *StorageComponents) newConnector(ctx context.Context, cfg *config.Config, index string) (storage.IndexerConnector, error) {
	switch cfg.Indexer.Connector {
	case config.ConnectorClickHouse:
		return storage.NewClickHouseConnector(ctx, sc.ClickHouse, cfg.Indexer.ClickHouse.Database, index,
			ConnectorOptionsFromConfig(cfg), sc.logger)
	case config.ConnectorMongoDB:
		return storage.NewMongoConnector(ctx, sc.MongoDB, index, sc.logger)
	case config.ConnectorKafka:
		return storage.NewKafkaConnector(sc.Kafka, index, sc.logger), nil
	case config.ConnectorNATS:
		return storage.NewNATSConnector(sc.NATS, cfg.Indexer.NATS.Subject, index, sc.logger), nil
	case config.ConnectorRedis:
		return storage.NewRedisConnector(sc.Redis, index, sc.logger), nil
	case config.ConnectorMemory:
		return storage.NewMemoryConnector(index), nil
	}
	return nil, fmt.Errorf("unsupported connector: %s", cfg.Indexer.Connector)
}

// ConnectorOptionsFromConfig maps the indexer section onto buffered connector options
func ConnectorOptionsFromConfig(cfg *config.Config) storage.ConnectorOptions {
	return storage.ConnectorOptions{
		BatchSize:      cfg.Indexer.BatchSize,
		FlushInterval:  cfg.FlushInterval(),
		QueueSize:      cfg.Indexer.QueueSize,
		DedupCacheSize: cfg.Indexer.DedupCacheSize,
	}
}

// BreakerConfigFromConfig maps indexer.circuit_breaker onto a BreakerConfig
func BreakerConfigFromConfig(cfg *config.Config) storage.BreakerConfig {
	cb := cfg.Indexer.CircuitBreaker
	return storage.BreakerConfig{
		MaxFailures:         uint32(max(cb.MaxFailures, 1)),
		Timeout:             time.Duration(max(cb.TimeoutSeconds, 1)) * time.Second,
		MaxHalfOpenRequests: uint32(max(cb.MaxHalfOpenRequests, 1)),
	}
}

// Close closes the registry first so buffered connectors can flush through
// the shared clients, then the clients themselves.
func (sc *StorageComponents) Close() {
	if sc.Registry != nil {
		if err := sc.Registry.Close(); err != nil {
			sc.logger.Errorw("Error closing indexer connectors", "error", err)
		}
	}

	if sc.ClickHouse != nil {
		if err := sc.ClickHouse.Close(); err != nil {
			sc.logger.Errorw("Error closing ClickHouse connection", "error", err)
		}
	}
	if sc.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := sc.MongoDB.Close(ctx); err != nil {
			sc.logger.Errorw("Error closing MongoDB connection", "error", err)
		}
		cancel()
	}
	if sc.Kafka != nil {
		sc.Kafka.Close()
	}
	if sc.NATS != nil {
		sc.NATS.Close()
	}
	if sc.Redis != nil {
		if err := sc.Redis.Close(); err != nil {
			sc.logger.Errorw("Error closing Redis client", "error", err)
		}
	}
}

// Ping checks every connector that talks to a remote service
func (sc *StorageComponents) Ping(ctx context.Context) map[core.AffectedComponentType]error {
	results := make(map[core.AffectedComponentType]error)
	for _, component := range sc.Registry.Components() {
		connector, err := sc.Registry.Lookup(component)
		if err != nil {
			results[component] = err
			continue
		}
		pinger, ok := storage.AsPinger(connector)
		if !ok {
			results[component] = nil
			continue
		}
		results[component] = pinger.Ping(ctx)
	}
	return results
}

func closeAll(connectors []storage.IndexerConnector, sugar *zap.SugaredLogger) {
	for _, c := range connectors {
		if err := c.Close(); err != nil {
			sugar.Warnw("Error closing connector", "error", err)
		}
	}
}

// withRetry runs connect with the startup backoff, printing a remediation hint
// to stderr when every attempt failed
func withRetry(ctx context.Context, service, addr string, sugar *zap.SugaredLogger, connect func() error) error {
	const maxRetries = 3
	retryDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			sugar.Infow("Retrying indexer connection",
				"service", service,
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", retryDelays[attempt-1])
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelays[attempt-1]):
			}
		}

		lastErr = connect()
		if lastErr == nil {
			sugar.Infow("Connected to indexer", "service", service, "addr", addr)
			return nil
		}
		if errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		sugar.Warnw("Indexer connection attempt failed",
			"service", service,
			"attempt", attempt+1,
			"error", util.RedactError(lastErr))
	}

	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: %s Connection Failed\n", service)
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", ClassifyConnectionError(service, addr, lastErr))
	fmt.Fprintf(os.Stderr, "========================================\n\n")
	return fmt.Errorf("failed to connect to %s after %d attempts: %w", service, maxRetries+1, lastErr)
}
