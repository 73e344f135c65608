package credentials

import "context"

// Batch is applied by a Backend as a single write: a reader observes either
// none or all of it.
type Batch struct {
	Set    map[string]string
	Delete []string
}

// Change is published to every subscriber after a Batch was committed.
type Change struct {
	Origin string `json:"origin"` // id of the Store that wrote, empty if unknown
}

// Backend is the durable key-value storage shared by every execution context.
type Backend interface {
	// Get returns the values of the keys that exist; missing keys are omitted.
	Get(ctx context.Context, keys ...string) (map[string]string, error)

	// Write applies the batch atomically and notifies subscribers.
	Write(ctx context.Context, origin string, batch Batch) error

	// Subscribe streams committed changes until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Change, error)

	Close() error
}

// notify delivers change to ch without blocking. A full ch loses its oldest
// entry and receives a Change with no origin instead: the buffered entries may
// all be the receiver's own writes, and an unknown origin is never filtered.
// Each ch must have a single sender.
func notify(ch chan Change, change Change) {
	select {
	case ch <- change:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}
	select {
	case ch <- Change{}:
	default:
	}
}
