package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// New creates a key-value store based on configuration.
// "memory" returns an LRUStore; "redis" returns a RedisStore.
func New(cfg domain.CacheConfig) (domain.KeyValueStore, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUStore(cfg.LocalMaxSize, cfg.LocalTTL), nil

	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LocalTTL)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Namespaced scopes a shared store to one prefix, such as a browser session.
type Namespaced struct {
	store  domain.KeyValueStore
	prefix string
}

// Namespace returns a view of store whose keys are prefixed with prefix.
// Closing the view does not close the underlying store.
func Namespace(store domain.KeyValueStore, prefix string) *Namespaced {
	return &Namespaced{store: store, prefix: prefix + ":"}
}

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.store.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.store.Set(ctx, n.prefix+key, value, ttl)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.store.Delete(ctx, n.prefix+key)
}

func (n *Namespaced) Ping(ctx context.Context) error {
	return n.store.Ping(ctx)
}

func (n *Namespaced) Close() error {
	return nil
}
