package loadercache

import (
	"context"
	"sync"
	"time"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/utils/cache"
)

type (
	Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)
	Option[K comparable, V any] func(*Cache[K, V])

	entry[V any] struct {
		value   V
		expires time.Time // zero: never
	}
)

// Cache keeps loaded values until they expire or are invalidated.
// Loads are serialized, concurrent callers for a missing key wait for the first load.
type Cache[K comparable, V any] struct {
	mutex      sync.Mutex
	items      map[K]entry[V]
	loader     Loader[K, V]
	expiration time.Duration
	now        func() time.Time
	loads      int
	l          *log.Logger
}

var _ cache.Cache[string, int] = (*Cache[string, int])(nil)

// WithExpiration sets the lifetime of an entry, 0 keeps entries until invalidated
func WithExpiration[K comparable, V any](expiration time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.expiration = expiration
	}
}

func WithLoader[K comparable, V any](lf Loader[K, V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.loader = lf
	}
}

func WithLogger[K comparable, V any](arg *log.Logger) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.l = arg
	}
}

func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.now = now
	}
}

func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		items:      make(map[K]entry[V]),
		expiration: 5 * time.Minute,
		now:        time.Now,
		l:          log.Default().Named("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if e, ok := c.items[key]; ok {
		if e.expires.IsZero() || c.now().Before(e.expires) {
			return e.value, nil
		}
		delete(c.items, key)
	}
	return c.load(ctx, key)
}

func (c *Cache[K, V]) load(ctx context.Context, key K) (V, error) {
	var zero V
	if c.loader == nil {
		return zero, cache.ErrCacheMiss
	}
	v, err := c.loader(ctx, key)
	c.loads++
	if err != nil {
		c.l.Warn("error loading entry", log.Any("key", key), log.ErrorField(err))
		return zero, err
	}
	e := entry[V]{value: v}
	if c.expiration > 0 {
		e.expires = c.now().Add(c.expiration)
	}
	c.items[key] = e
	c.l.Debug("loaded", log.Any("key", key))
	return v, nil
}

func (c *Cache[K, V]) Invalidate(key K) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
	c.l.Debug("invalidated", log.Any("key", key), log.Int("remaining", len(c.items)))
}

func (c *Cache[K, V]) InvalidateAll() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	clear(c.items)
}

// Loads returns how often the loader was called
func (c *Cache[K, V]) Loads() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.loads
}
