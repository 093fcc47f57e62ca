package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solusiemas/api/internal/pricedoc"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the key the browser client used for its local copy.
const DefaultKey = "solusiemas_price"

// Redis is a Slot shared by every process pointed at the same server.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(redisURL, key string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, key), nil
}

func NewRedisWithClient(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key}
}

// Get returns the cached document. Entries that no longer validate are
// reported as a miss.
func (r *Redis) Get(ctx context.Context) (pricedoc.Document, bool, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return pricedoc.Document{}, false, nil
	}
	if err != nil {
		return pricedoc.Document{}, false, fmt.Errorf("read cached price: %w", err)
	}
	doc, err := pricedoc.Validate(raw)
	if err != nil {
		return pricedoc.Document{}, false, nil
	}
	return doc, true, nil
}

func (r *Redis) Set(ctx context.Context, doc pricedoc.Document) error {
	raw, err := pricedoc.Encode(doc)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("cache price: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
