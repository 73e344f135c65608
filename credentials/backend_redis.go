package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ Backend = (*RedisBackend)(nil)

// RedisBackend stores each key under a prefix and publishes a Change on
// "<prefix>changes" after every committed batch.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	log    zerolog.Logger
}

type RedisOption func(*RedisBackend)

func WithRedisLogger(logger zerolog.Logger) RedisOption {
	return func(b *RedisBackend) {
		b.log = logger
	}
}

// NewRedisBackend does not take ownership of client; Close leaves it open.
func NewRedisBackend(client redis.UniversalClient, prefix string, options ...RedisOption) *RedisBackend {
	b := &RedisBackend{
		client: client,
		prefix: prefix,
		log:    log.Logger,
	}
	for _, opt := range options {
		opt(b)
	}
	b.log = b.log.With().Str("component", "redis_backend").Str("prefix", prefix).Logger()
	return b
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + k
}

func (b *RedisBackend) channel() string {
	return b.prefix + "changes"
}

func (b *RedisBackend) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = b.key(k)
	}

	raw, err := b.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStorageUnavailable, err)
	}

	values := make(map[string]string, len(keys))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			values[keys[i]] = s
		}
	}
	return values, nil
}

func (b *RedisBackend) Write(ctx context.Context, origin string, batch Batch) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range batch.Set {
			pipe.Set(ctx, b.key(k), v, 0)
		}
		if len(batch.Delete) > 0 {
			prefixed := make([]string, len(batch.Delete))
			for i, k := range batch.Delete {
				prefixed[i] = b.key(k)
			}
			pipe.Del(ctx, prefixed...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStorageUnavailable, err)
	}

	payload, err := json.Marshal(Change{Origin: origin})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	// The batch is committed; a lost notification only delays other contexts.
	if err := b.client.Publish(ctx, b.channel(), payload).Err(); err != nil {
		b.log.Warn().Err(err).Msg("Failed to publish credential change")
	}
	return nil
}

func (b *RedisBackend) Subscribe(ctx context.Context) (<-chan Change, error) {
	pubsub := b.client.Subscribe(ctx, b.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", apperrors.ErrStorageUnavailable, err)
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					b.log.Warn().Err(err).Msg("Ignoring malformed change notification")
					continue
				}
				notify(out, change)
			}
		}
	}()
	return out, nil
}

func (b *RedisBackend) Close() error {
	return nil
}
