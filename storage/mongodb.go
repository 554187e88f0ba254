package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"harvester/config"
	"harvester/metrics"

	"github.com/cespare/xxhash/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// DocumentCollection interface for mocking
type DocumentCollection interface {
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// MongoDB holds the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoDB creates a new MongoDB connection
func NewMongoDB(uri, dbName string, maxPoolSize uint64, tlsConfig *tls.Config, logger *zap.SugaredLogger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)
	if tlsConfig != nil {
		clientOptions.SetTLSConfig(tlsConfig)
	}
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB successfully")

	return &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
	}, nil
}

// HealthCheck performs a health check on the MongoDB connection
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// MongoConnector keeps one collection per index, one document per element.
// Writes are synchronous so backend errors reach the caller.
type MongoConnector struct {
	coll   DocumentCollection
	index  string
	ping   func(ctx context.Context) error
	logger *zap.SugaredLogger
}

// NewMongoConnector uses the collection named after index and indexes agent_id
func NewMongoConnector(ctx context.Context, db *MongoDB, index string, logger *zap.SugaredLogger) (*MongoConnector, error) {
	coll := db.Database.Collection(index)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "agent_id", Value: 1}},
		Options: options.Index().SetName("agent_id_1"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent_id index on %s: %w", index, err)
	}

	c := newMongoConnector(coll, index, logger)
	c.ping = db.HealthCheck
	logger.Infow("MongoDB connector started", "collection", index)
	return c, nil
}

func newMongoConnector(coll DocumentCollection, index string, logger *zap.SugaredLogger) *MongoConnector {
	return &MongoConnector{coll: coll, index: index, logger: logger}
}

func (c *MongoConnector) Publish(ctx context.Context, message string) error {
	msg, err := ParseMessage(message)
	if err != nil {
		return err
	}

	switch msg.Operation {
	case OperationInserted:
		err = c.upsert(ctx, msg)
	case OperationDeleted:
		_, err = c.coll.DeleteOne(ctx, bson.M{"_id": msg.ID})
	case OperationDeletedByQuery:
		var res *mongo.DeleteResult
		res, err = c.coll.DeleteMany(ctx, bson.M{"agent_id": msg.ID})
		if err == nil && res != nil {
			c.logger.Debugw("Deleted agent documents", "collection", c.index, "agent_id", msg.ID, "count", res.DeletedCount)
		}
	}
	if err != nil {
		metrics.PublishErrors.WithLabelValues(config.ConnectorMongoDB).Inc()
		return fmt.Errorf("mongodb %s %s: %w", msg.Operation, msg.ID, err)
	}

	metrics.DocumentsPublished.WithLabelValues(config.ConnectorMongoDB, msg.Operation).Inc()
	return nil
}

func (c *MongoConnector) upsert(ctx context.Context, msg *Message) error {
	var document bson.D
	if err := bson.UnmarshalExtJSON(msg.Data, false, &document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	replacement := bson.M{
		"_id":         msg.ID,
		"agent_id":    msg.AgentID(),
		"document":    document,
		"fingerprint": fmt.Sprintf("%016x", xxhash.Sum64(msg.Data)),
		"updated_at":  time.Now().UTC(),
	}
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": msg.ID}, replacement, options.Replace().SetUpsert(true))
	return err
}

// Count returns the number of documents stored for agentID
func (c *MongoConnector) Count(ctx context.Context, agentID string) (int64, error) {
	return c.coll.CountDocuments(ctx, bson.M{"agent_id": agentID})
}

func (c *MongoConnector) Ping(ctx context.Context) error {
	if c.ping == nil {
		return nil
	}
	return c.ping(ctx)
}

// Close is a no-op, the client is shared between indices
func (c *MongoConnector) Close() error {
	return nil
}
