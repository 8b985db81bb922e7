package memory

import (
	"context"
	"maps"
	"sync"
	"time"
)

// InMemoryBackend keeps collections in process memory.
type InMemoryBackend struct {
	mu          sync.Mutex
	collections map[string]*inMemoryCollection
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{collections: make(map[string]*inMemoryCollection)}
}

func (b *InMemoryBackend) Collection(name string) LongTerm {
	b.mu.Lock()
	defer b.mu.Unlock()

	collection, ok := b.collections[name]
	if !ok {
		collection = &inMemoryCollection{index: make(map[string]int)}
		b.collections[name] = collection
	}

	return collection
}

type inMemoryCollection struct {
	mu    sync.RWMutex
	items []item
	index map[string]int
}

func (c *inMemoryCollection) Add(_ context.Context, content string, metadata map[string]any, id string) (string, error) {
	if id == "" {
		id = ContentID(content)
	}

	stored := item{ID: id, Content: content, Metadata: stamp(metadata)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if pos, ok := c.index[id]; ok {
		c.items[pos] = stored

		return id, nil
	}

	c.index[id] = len(c.items)
	c.items = append(c.items, stored)

	return id, nil
}

func (c *inMemoryCollection) Search(_ context.Context, query string, k int, filter map[string]any) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return rank(c.items, query, k, filter), nil
}

func (c *inMemoryCollection) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.index[id]
	if !ok {
		return nil
	}

	c.items = append(c.items[:pos], c.items[pos+1:]...)
	delete(c.index, id)

	for i := pos; i < len(c.items); i++ {
		c.index[c.items[i].ID] = i
	}

	return nil
}

func stamp(metadata map[string]any) map[string]any {
	stamped := maps.Clone(metadata)
	if stamped == nil {
		stamped = make(map[string]any, 1)
	}

	stamped["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return stamped
}
