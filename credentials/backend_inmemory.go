package credentials

import (
	"context"
	"sync"
)

var _ Backend = (*InMemoryBackend)(nil)

// InMemoryBackend is shared by every Store created over it, which makes it the
// in-process equivalent of origin-wide browser storage.
type InMemoryBackend struct {
	mu          sync.RWMutex
	values      map[string]string
	subscribers map[chan Change]struct{}
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		values:      make(map[string]string),
		subscribers: make(map[chan Change]struct{}),
	}
}

func (b *InMemoryBackend) Get(_ context.Context, keys ...string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := b.values[k]; ok {
			values[k] = v
		}
	}
	return values, nil
}

func (b *InMemoryBackend) Write(_ context.Context, origin string, batch Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, v := range batch.Set {
		b.values[k] = v
	}
	for _, k := range batch.Delete {
		delete(b.values, k)
	}

	change := Change{Origin: origin}
	for ch := range b.subscribers {
		notify(ch, change)
	}
	return nil
}

func (b *InMemoryBackend) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close ends every subscription.
func (b *InMemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
	return nil
}
