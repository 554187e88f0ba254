package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisConnector(t *testing.T) (*RedisConnector, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisConnector(client, "wazuh-states-fim-files-undefined", zap.NewNop().Sugar()), client
}

func TestRedisConnector_InsertAndDelete(t *testing.T) {
	c, _ := setupRedisConnector(t)
	ctx := context.Background()

	require.NoError(t, c.Publish(ctx, `{"id":"001_a","operation":"INSERTED","data":{"n":1}}`))
	doc, err := c.Document(ctx, "001_a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, doc)

	require.NoError(t, c.Publish(ctx, `{"id":"001_a","operation":"DELETED"}`))
	_, err = c.Document(ctx, "001_a")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedisConnector_DeleteByQuery(t *testing.T) {
	c, client := setupRedisConnector(t)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		require.NoError(t, c.Publish(ctx, fmt.Sprintf(`{"id":"001_%d","operation":"INSERTED","data":{}}`, i)))
	}
	require.NoError(t, c.Publish(ctx, `{"id":"0010_a","operation":"INSERTED","data":{}}`))
	require.NoError(t, c.Publish(ctx, `{"id":"002_a","operation":"INSERTED","data":{}}`))

	require.NoError(t, c.Publish(ctx, `{"operation":"DELETED_BY_QUERY","id":"001"}`))

	keys, err := client.HKeys(ctx, "wazuh-states-fim-files-undefined").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0010_a", "002_a"}, keys)
}

func TestRedisConnector_Ping(t *testing.T) {
	c, _ := setupRedisConnector(t)
	assert.NoError(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}

func TestRedisConnector_DeleteByQueryMatchesAgentExactly(t *testing.T) {
	c, client := setupRedisConnector(t)
	ctx := context.Background()

	for _, id := range []string{"A_abc", "A_B_abc", "002_abc", "*_abc", "a?_abc", "[a]_abc"} {
		require.NoError(t, c.Publish(ctx, `{"id":"`+id+`","operation":"INSERTED","data":{}}`))
	}

	tests := []struct {
		agent   string
		removed string
	}{
		{"A", "A_abc"},
		{"*", "*_abc"},
		{"a?", "a?_abc"},
		{"[a]", "[a]_abc"},
	}
	remaining := []string{"A_abc", "A_B_abc", "002_abc", "*_abc", "a?_abc", "[a]_abc"}
	for _, tt := range tests {
		require.NoError(t, c.Publish(ctx, `{"operation":"DELETED_BY_QUERY","id":"`+tt.agent+`"}`))
		for i, id := range remaining {
			if id == tt.removed {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
		keys, err := client.HKeys(ctx, "wazuh-states-fim-files-undefined").Result()
		require.NoError(t, err)
		assert.ElementsMatch(t, remaining, keys, "after clearing agent %q", tt.agent)
	}
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "001", escapeGlob("001"))
	assert.Equal(t, `\*`, escapeGlob("*"))
	assert.Equal(t, `a\?\[b\]\\`, escapeGlob(`a?[b]\`))
}
