package cache

import (
	"context"
	"errors"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache provides values by key, loading them on demand
type Cache[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, error)
	Invalidate(key K)
	InvalidateAll()
}
