package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"harvester/config"
	"harvester/metrics"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"go.uber.org/zap"
)

// operationHeader carries the message operation on records and NATS messages
const operationHeader = "operation"

// kafkaProducer is the part of *kgo.Client the connector uses
type kafkaProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
}

// NewKafkaClient connects to the configured brokers. Credentials are sent with
// SASL/PLAIN when a username is set.
func NewKafkaClient(cfg *config.Config, tlsConfig *tls.Config, logger *zap.SugaredLogger) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Indexer.Kafka.Brokers...),
		kgo.ClientID(cfg.Indexer.Kafka.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.FlushInterval()),
	}
	if tlsConfig != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}
	if cfg.Indexer.Username != "" {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.Indexer.Username,
			Pass: cfg.Indexer.Password,
		}.AsMechanism()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PublishTimeout())
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach Kafka brokers: %w", err)
	}

	logger.Infow("Connected to Kafka", "brokers", cfg.Indexer.Kafka.Brokers)
	return client, nil
}

// EnsureKafkaTopics creates the topics that do not exist yet
func EnsureKafkaTopics(ctx context.Context, client *kgo.Client, partitions int32, replication int16, topics ...string) error {
	admin := kadm.NewClient(client)
	responses, err := admin.CreateTopics(ctx, partitions, replication, nil, topics...)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	for _, resp := range responses.Sorted() {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("failed to create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// KafkaConnector produces every message as a record on the topic named after the
// index, keyed by agent id so one agent's changes stay ordered.
type KafkaConnector struct {
	producer kafkaProducer
	topic    string
	logger   *zap.SugaredLogger
}

// NewKafkaConnector publishes to topic with a shared client
func NewKafkaConnector(client *kgo.Client, topic string, logger *zap.SugaredLogger) *KafkaConnector {
	return newKafkaConnector(client, topic, logger)
}

func newKafkaConnector(producer kafkaProducer, topic string, logger *zap.SugaredLogger) *KafkaConnector {
	return &KafkaConnector{producer: producer, topic: topic, logger: logger}
}

func (c *KafkaConnector) Publish(ctx context.Context, message string) error {
	msg, err := ParseMessage(message)
	if err != nil {
		return err
	}

	record := &kgo.Record{
		Topic: c.topic,
		Key:   []byte(msg.AgentID()),
		Value: []byte(message),
		Headers: []kgo.RecordHeader{
			{Key: operationHeader, Value: []byte(msg.Operation)},
		},
	}
	if err := c.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		metrics.PublishErrors.WithLabelValues(config.ConnectorKafka).Inc()
		return fmt.Errorf("kafka produce to %s: %w", c.topic, err)
	}

	metrics.DocumentsPublished.WithLabelValues(config.ConnectorKafka, msg.Operation).Inc()
	return nil
}

// Sync waits for buffered records to be acknowledged
func (c *KafkaConnector) Sync(ctx context.Context, agentID string) error {
	if err := c.producer.Flush(ctx); err != nil {
		return fmt.Errorf("flush topic %s for agent %s: %w", c.topic, agentID, err)
	}
	return nil
}

func (c *KafkaConnector) Ping(ctx context.Context) error {
	return c.producer.Ping(ctx)
}

// Close is a no-op, the client is shared between topics
func (c *KafkaConnector) Close() error {
	return nil
}
