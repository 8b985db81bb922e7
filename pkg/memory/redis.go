package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores collections in Redis. Keys:
//
//	<prefix>mem:<collection>:ids        => SET of item ids
//	<prefix>mem:<collection>:item:<id>  => JSON encoded item
//
// Similarity is computed client side over the collection's items.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a RedisBackend. prefix defaults to "agentflow:".
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "agentflow:"
	}

	return &RedisBackend{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL into a client and pings it.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func (b *RedisBackend) Collection(name string) LongTerm {
	return &redisCollection{client: b.client, base: b.prefix + "mem:" + name + ":"}
}

type redisCollection struct {
	client *redis.Client
	base   string
}

func (c *redisCollection) keyIDs() string {
	return c.base + "ids"
}

func (c *redisCollection) keyItem(id string) string {
	return c.base + "item:" + id
}

func (c *redisCollection) Add(ctx context.Context, content string, metadata map[string]any, id string) (string, error) {
	if id == "" {
		id = ContentID(content)
	}

	payload, err := json.Marshal(item{ID: id, Content: content, Metadata: stamp(metadata)})
	if err != nil {
		return "", fmt.Errorf("failed to encode memory item: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.keyItem(id), payload, 0)
		pipe.SAdd(ctx, c.keyIDs(), id)

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store memory item: %w", err)
	}

	return id, nil
}

func (c *redisCollection) Search(ctx context.Context, query string, k int, filter map[string]any) ([]SearchResult, error) {
	ids, err := c.client.SMembers(ctx, c.keyIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list memory items: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.keyItem(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load memory items: %w", err)
	}

	items := make([]item, 0, len(values))

	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		var it item

		err := json.Unmarshal([]byte(raw), &it)
		if err != nil {
			return nil, fmt.Errorf("failed to decode memory item: %w", err)
		}

		items = append(items, it)
	}

	// SMEMBERS order is arbitrary; sort by id so ties rank deterministically.
	sortItemsByID(items)

	return rank(items, query, k, filter), nil
}

func (c *redisCollection) Delete(ctx context.Context, id string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.keyItem(id))
		pipe.SRem(ctx, c.keyIDs(), id)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete memory item: %w", err)
	}

	return nil
}
