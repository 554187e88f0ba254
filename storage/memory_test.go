package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConnector_Publish(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryConnector("wazuh-states-fim-files-undefined")

	require.NoError(t, c.Publish(ctx, `{"id":"001_a","operation":"INSERTED","data":{"n":1}}`))
	require.NoError(t, c.Publish(ctx, `{"id":"001_b","operation":"INSERTED","data":{"n":2}}`))
	require.NoError(t, c.Publish(ctx, `{"id":"002_a","operation":"INSERTED","data":{"n":3}}`))
	assert.Equal(t, 3, c.Len())

	require.NoError(t, c.Publish(ctx, `{"id":"001_a","operation":"DELETED"}`))
	_, ok := c.Document("001_a")
	assert.False(t, ok)

	require.NoError(t, c.Publish(ctx, `{"operation":"DELETED_BY_QUERY","id":"001"}`))
	assert.Equal(t, 1, c.Len())

	doc, ok := c.Document("002_a")
	require.True(t, ok)
	assert.JSONEq(t, `{"n":3}`, string(doc))
	assert.Len(t, c.Messages(), 5)
}

func TestMemoryConnector_RejectsInvalid(t *testing.T) {
	c := NewMemoryConnector("idx")
	err := c.Publish(context.Background(), `{"operation":"INSERTED"}`)
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Empty(t, c.Messages())
}

func TestMemoryConnector_Closed(t *testing.T) {
	c := NewMemoryConnector("idx")
	require.NoError(t, c.Close())
	err := c.Publish(context.Background(), `{"id":"1_a","operation":"DELETED"}`)
	assert.ErrorIs(t, err, ErrConnectorClosed)
}

func TestMemoryConnector_DeleteByQueryMatchesAgentExactly(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryConnector("idx")

	for _, id := range []string{"A_abc", "A_B_abc", "002_abc", "*_abc"} {
		require.NoError(t, c.Publish(ctx, `{"id":"`+id+`","operation":"INSERTED","data":{}}`))
	}

	require.NoError(t, c.Publish(ctx, `{"operation":"DELETED_BY_QUERY","id":"A"}`))
	_, ok := c.Document("A_abc")
	assert.False(t, ok)
	_, ok = c.Document("A_B_abc")
	assert.True(t, ok)

	require.NoError(t, c.Publish(ctx, `{"operation":"DELETED_BY_QUERY","id":"*"}`))
	_, ok = c.Document("*_abc")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}
