package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"harvester/config"
	"harvester/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisScanCount = 500

// NewRedisClient creates a Redis client and checks the connection
func NewRedisClient(cfg *config.Config, tlsConfig *tls.Config, logger *zap.SugaredLogger) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:      cfg.Indexer.Redis.Addr,
		DB:        cfg.Indexer.Redis.DB,
		PoolSize:  cfg.Indexer.Redis.PoolSize,
		TLSConfig: tlsConfig,
	}
	if cfg.Indexer.Username != "" && cfg.Indexer.Username != "default" {
		opts.Username = cfg.Indexer.Username
		opts.Password = cfg.Indexer.Password
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PublishTimeout())
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Infow("Connected to Redis", "addr", cfg.Indexer.Redis.Addr, "db", cfg.Indexer.Redis.DB)
	return client, nil
}

// RedisConnector keeps each index in a hash of element id to document
type RedisConnector struct {
	client *redis.Client
	key    string
	logger *zap.SugaredLogger
}

// NewRedisConnector stores index in the hash named index with a shared client
func NewRedisConnector(client *redis.Client, index string, logger *zap.SugaredLogger) *RedisConnector {
	return &RedisConnector{client: client, key: index, logger: logger}
}

func (c *RedisConnector) Publish(ctx context.Context, message string) error {
	msg, err := ParseMessage(message)
	if err != nil {
		return err
	}

	switch msg.Operation {
	case OperationInserted:
		err = c.client.HSet(ctx, c.key, msg.ID, string(msg.Data)).Err()
	case OperationDeleted:
		err = c.client.HDel(ctx, c.key, msg.ID).Err()
	case OperationDeletedByQuery:
		err = c.deleteAgent(ctx, msg.ID)
	}
	if err != nil {
		metrics.PublishErrors.WithLabelValues(config.ConnectorRedis).Inc()
		return fmt.Errorf("redis %s %s: %w", msg.Operation, msg.ID, err)
	}

	metrics.DocumentsPublished.WithLabelValues(config.ConnectorRedis, msg.Operation).Inc()
	return nil
}

func (c *RedisConnector) deleteAgent(ctx context.Context, agentID string) error {
	var cursor uint64
	deleted := 0
	for {
		// HSCAN returns field/value pairs
		kv, next, err := c.client.HScan(ctx, c.key, cursor, escapeGlob(agentID)+"_*", redisScanCount).Result()
		if err != nil {
			return err
		}
		fields := make([]string, 0, len(kv)/2)
		for i := 0; i < len(kv); i += 2 {
			// the pattern also matches agents whose id extends agentID with '_'
			if agentOfID(kv[i]) == agentID {
				fields = append(fields, kv[i])
			}
		}
		if len(fields) > 0 {
			if err := c.client.HDel(ctx, c.key, fields...).Err(); err != nil {
				return err
			}
			deleted += len(fields)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	c.logger.Debugw("Deleted agent documents", "hash", c.key, "agent_id", agentID, "count", deleted)
	return nil
}

// escapeGlob quotes the characters Redis MATCH patterns treat specially
func escapeGlob(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Document returns the stored document of id
func (c *RedisConnector) Document(ctx context.Context, id string) (string, error) {
	return c.client.HGet(ctx, c.key, id).Result()
}

func (c *RedisConnector) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close is a no-op, the client is shared between indices
func (c *RedisConnector) Close() error {
	return nil
}
