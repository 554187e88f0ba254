package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type fakeProducer struct {
	records  []*kgo.Record
	err      error
	flushed  int
	flushErr error
}

func (f *fakeProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeProducer) Flush(ctx context.Context) error {
	f.flushed++
	return f.flushErr
}

func (f *fakeProducer) Ping(ctx context.Context) error { return nil }

func TestKafkaConnector_Publish(t *testing.T) {
	producer := &fakeProducer{}
	c := newKafkaConnector(producer, "wazuh-states-fim-files-undefined", zap.NewNop().Sugar())

	msg := `{"id":"001_a","operation":"INSERTED","data":{"n":1}}`
	require.NoError(t, c.Publish(context.Background(), msg))

	require.Len(t, producer.records, 1)
	r := producer.records[0]
	assert.Equal(t, "wazuh-states-fim-files-undefined", r.Topic)
	assert.Equal(t, "001", string(r.Key))
	assert.Equal(t, msg, string(r.Value))
	require.Len(t, r.Headers, 1)
	assert.Equal(t, operationHeader, r.Headers[0].Key)
	assert.Equal(t, OperationInserted, string(r.Headers[0].Value))
}

func TestKafkaConnector_DeleteByQueryKeyedByAgent(t *testing.T) {
	producer := &fakeProducer{}
	c := newKafkaConnector(producer, "topic", zap.NewNop().Sugar())

	require.NoError(t, c.Publish(context.Background(), `{"operation":"DELETED_BY_QUERY","id":"007"}`))
	require.Len(t, producer.records, 1)
	assert.Equal(t, "007", string(producer.records[0].Key))
}

func TestKafkaConnector_ProduceError(t *testing.T) {
	boom := errors.New("NOT_LEADER_FOR_PARTITION")
	c := newKafkaConnector(&fakeProducer{err: boom}, "topic", zap.NewNop().Sugar())

	err := c.Publish(context.Background(), `{"id":"001_a","operation":"DELETED"}`)
	assert.ErrorIs(t, err, boom)
}

func TestKafkaConnector_SyncFlushes(t *testing.T) {
	producer := &fakeProducer{}
	c := newKafkaConnector(producer, "topic", zap.NewNop().Sugar())

	require.NoError(t, c.Sync(context.Background(), "001"))
	assert.Equal(t, 1, producer.flushed)

	producer.flushErr = context.DeadlineExceeded
	assert.ErrorIs(t, c.Sync(context.Background(), "001"), context.DeadlineExceeded)
}

func TestKafkaConnector_InvalidMessage(t *testing.T) {
	producer := &fakeProducer{}
	c := newKafkaConnector(producer, "topic", zap.NewNop().Sugar())

	assert.ErrorIs(t, c.Publish(context.Background(), `nope`), ErrInvalidMessage)
	assert.Empty(t, producer.records)
}
