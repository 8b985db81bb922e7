package memory

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	redisC, err := testcontainers.Run(
		ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	testcontainers.CleanupContainer(t, redisC)
	require.NoError(t, err)

	endpoint, err := redisC.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, "redis://"+endpoint)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedisBackend(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	backend := NewRedisBackend(client, "agentflow:test:")
	collection := backend.Collection(CollectionName("researcher"))

	id, err := collection.Add(ctx, "the cat sat on the mat", map[string]any{"kind": "animal"}, "")
	require.NoError(t, err)
	assert.Equal(t, ContentID("the cat sat on the mat"), id)

	_, err = collection.Add(ctx, "stock prices rose sharply", map[string]any{"kind": "finance"}, "")
	require.NoError(t, err)

	results, err := collection.Search(ctx, "cat mat", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "the cat sat on the mat", results[0].Content)
	assert.Equal(t, "animal", results[0].Metadata["kind"])

	filtered, err := collection.Search(ctx, "cat", 5, map[string]any{"kind": "finance"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	require.NoError(t, collection.Delete(ctx, id))

	results, err = collection.Search(ctx, "cat mat", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "stock prices rose sharply", results[0].Content)

	keys, err := client.Keys(ctx, "agentflow:test:mem:agent_researcher_memory:*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "://nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis url")
}
