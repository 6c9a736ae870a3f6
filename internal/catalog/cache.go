package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Source is the uncached backing store of the catalog.
type Source interface {
	ProductByID(ctx context.Context, id uuid.UUID) (Product, error)
	ActiveProducts(ctx context.Context) ([]Product, error)
	CustomerByID(ctx context.Context, id uuid.UUID) (Customer, error)
	Channels(ctx context.Context) ([]Channel, error)
}

const (
	allKey      = "all"
	loadTimeout = 5 * time.Second
)

// Cache is a read-through cache over a Source. Entries expire a fixed TTL
// after they were loaded; hits do not extend their lifetime. Failed loads,
// including not-found, are never cached.
type Cache struct {
	src Source

	products  *ttlcache.Cache[uuid.UUID, Product]
	customers *ttlcache.Cache[uuid.UUID, Customer]
	listings  *ttlcache.Cache[string, []Product]
	channels  *ttlcache.Cache[string, []Channel]

	group singleflight.Group

	// mu orders Invalidate against cache fills; gen counts invalidations.
	mu  sync.RWMutex
	gen uint64
}

func NewCache(src Source, ttl time.Duration) *Cache {
	return &Cache{
		src: src,
		products: ttlcache.New[uuid.UUID, Product](
			ttlcache.WithTTL[uuid.UUID, Product](ttl),
			ttlcache.WithDisableTouchOnHit[uuid.UUID, Product](),
		),
		customers: ttlcache.New[uuid.UUID, Customer](
			ttlcache.WithTTL[uuid.UUID, Customer](ttl),
			ttlcache.WithDisableTouchOnHit[uuid.UUID, Customer](),
		),
		listings: ttlcache.New[string, []Product](
			ttlcache.WithTTL[string, []Product](ttl),
			ttlcache.WithDisableTouchOnHit[string, []Product](),
		),
		channels: ttlcache.New[string, []Channel](
			ttlcache.WithTTL[string, []Channel](ttl),
			ttlcache.WithDisableTouchOnHit[string, []Channel](),
		),
	}
}

// Start runs the expired-entry cleaners. It returns immediately; call Stop
// to end them.
func (c *Cache) Start() {
	go c.products.Start()
	go c.customers.Start()
	go c.listings.Start()
	go c.channels.Start()
}

func (c *Cache) Stop() {
	c.products.Stop()
	c.customers.Stop()
	c.listings.Stop()
	c.channels.Stop()
}

// Invalidate drops every cached entry. The next lookup of each key reloads
// from the source; loads already in flight finish but do not repopulate the
// cache.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.products.DeleteAll()
	c.customers.DeleteAll()
	c.listings.DeleteAll()
	c.channels.DeleteAll()
	c.mu.Unlock()
	log.Info().Msg("catalog: cache invalidated")
}

func (c *Cache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// readThrough serves key from entries or loads it once per generation. The
// load runs detached from the caller's cancellation, since other callers may
// be waiting on it, and is bounded by loadTimeout instead.
func readThrough[K comparable, V any](ctx context.Context, c *Cache, entries *ttlcache.Cache[K, V], key K, flight string, fetch func(context.Context) (V, error)) (V, error) {
	if item := entries.Get(key); item != nil {
		return item.Value(), nil
	}

	gen := c.generation()
	v, err, _ := c.group.Do(fmt.Sprintf("%d:%s", gen, flight), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		val, err := fetch(loadCtx)
		if err != nil {
			return nil, err
		}

		c.mu.RLock()
		if c.gen == gen {
			entries.Set(key, val, ttlcache.DefaultTTL)
		}
		c.mu.RUnlock()
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *Cache) Product(ctx context.Context, id uuid.UUID) (Product, error) {
	return readThrough(ctx, c, c.products, id, "product:"+id.String(), func(ctx context.Context) (Product, error) {
		return c.src.ProductByID(ctx, id)
	})
}

func (c *Cache) Customer(ctx context.Context, id uuid.UUID) (Customer, error) {
	return readThrough(ctx, c, c.customers, id, "customer:"+id.String(), func(ctx context.Context) (Customer, error) {
		return c.src.CustomerByID(ctx, id)
	})
}

// ActiveProducts returns a copy of the cached listing.
func (c *Cache) ActiveProducts(ctx context.Context) ([]Product, error) {
	ps, err := readThrough(ctx, c, c.listings, allKey, "products", c.src.ActiveProducts)
	if err != nil {
		return nil, err
	}
	return append([]Product(nil), ps...), nil
}

func (c *Cache) Channels(ctx context.Context) ([]Channel, error) {
	chs, err := readThrough(ctx, c, c.channels, allKey, "channels", c.src.Channels)
	if err != nil {
		return nil, err
	}
	return append([]Channel(nil), chs...), nil
}
