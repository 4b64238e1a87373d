// Package productcache keeps gateway product display names for a bounded time.
package productcache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/metrics"
)

const DefaultTTL = 24 * time.Hour

type entry struct {
	name      string
	expiresAt time.Time
}

// Fetcher loads names for the given product ids in one remote round trip.
// Ids it cannot resolve are simply absent from the result.
type Fetcher func(ctx context.Context, ids []string) (map[string]string, error)

// Cache is safe for concurrent use. Expiry is checked against the injected clock
// on read; there is no background sweep.
type Cache struct {
	items   *gocache.Cache
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		items: gocache.New(gocache.NoExpiration, 0),
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}
	return c
}

func (c *Cache) Get(productID string) (string, bool) {
	v, ok := c.items.Get(productID)
	if !ok {
		c.metrics.ProductCacheLookups.WithLabelValues("miss").Inc()
		return "", false
	}
	e := v.(entry)
	if !c.now().Before(e.expiresAt) {
		c.items.Delete(productID)
		c.metrics.ProductCacheLookups.WithLabelValues("expired").Inc()
		return "", false
	}
	c.metrics.ProductCacheLookups.WithLabelValues("hit").Inc()
	return e.name, true
}

func (c *Cache) Put(productID, name string) {
	c.items.Set(productID, entry{name: name, expiresAt: c.now().Add(c.ttl)}, gocache.NoExpiration)
}

// Len counts stored entries, including expired ones not yet evicted.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Resolve returns names for ids, fetching every uncached id in a single call.
// A failed fetch is returned alongside whatever was cached; nothing about the
// failure is cached, so the next request tries again.
func (c *Cache) Resolve(ctx context.Context, ids []string, fetch Fetcher) (map[string]string, error) {
	ids = lo.Uniq(lo.Filter(ids, func(id string, _ int) bool { return strings.TrimSpace(id) != "" }))
	names := make(map[string]string, len(ids))

	var missing []string
	for _, id := range ids {
		if name, ok := c.Get(id); ok {
			names[id] = name
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 || fetch == nil {
		return names, nil
	}

	fetched, err := fetch(ctx, missing)
	if err != nil {
		c.metrics.ProductFetches.WithLabelValues("error").Inc()
		return names, err
	}
	c.metrics.ProductFetches.WithLabelValues("ok").Inc()
	for _, id := range missing {
		if name, ok := fetched[id]; ok && name != "" {
			c.Put(id, name)
			names[id] = name
		}
	}
	return names, nil
}
