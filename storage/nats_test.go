package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeJetStream struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeJetStream) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, m)
	return &nats.PubAck{Stream: "HARVESTER", Sequence: uint64(len(f.msgs))}, nil
}

func TestNATSConnector_Publish(t *testing.T) {
	js := &fakeJetStream{}
	c := newNATSConnector(js, "harvester", "wazuh-states-fim-registries-undefined", zap.NewNop().Sugar())
	assert.Equal(t, "harvester.wazuh-states-fim-registries-undefined", c.Subject())

	msg := `{"operation":"DELETED_BY_QUERY","id":"001"}`
	require.NoError(t, c.Publish(context.Background(), msg))

	require.Len(t, js.msgs, 1)
	assert.Equal(t, c.Subject(), js.msgs[0].Subject)
	assert.Equal(t, OperationDeletedByQuery, js.msgs[0].Header.Get(operationHeader))
	assert.Equal(t, msg, string(js.msgs[0].Data))
}

func TestNATSConnector_PublishError(t *testing.T) {
	c := newNATSConnector(&fakeJetStream{err: nats.ErrNoResponders}, "harvester", "idx", zap.NewNop().Sugar())

	err := c.Publish(context.Background(), `{"id":"001_a","operation":"DELETED"}`)
	assert.True(t, errors.Is(err, nats.ErrNoResponders))
}

func TestNATSConnector_InvalidMessage(t *testing.T) {
	js := &fakeJetStream{}
	c := newNATSConnector(js, "harvester", "idx", zap.NewNop().Sugar())

	assert.ErrorIs(t, c.Publish(context.Background(), `{}`), ErrInvalidMessage)
	assert.Empty(t, js.msgs)
	assert.NoError(t, c.Ping(context.Background()))
}
