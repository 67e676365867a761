// Package cache is the read-through layer in front of the store. Entries are
// never updated in place: writers call Delete (or Flush) and the next read
// repopulates from the store.
package cache

import (
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	NSAudience       = "audience"
	NSAudienceSearch = "audience_search"
	NSUserAudiences  = "user_audiences"
	NSField          = "custom_field"
	NSBooking        = "booking"
)

type Cache interface {
	Get(namespace, key string) (any, bool)
	Set(namespace, key string, value any)
	Delete(namespace, key string)
	// Flush drops every entry in namespace.
	Flush(namespace string)
}

// Lookup fetches a typed value. A value of another type counts as a miss.
func Lookup[T any](c Cache, namespace, key string) (T, bool) {
	var zero T
	v, ok := c.Get(namespace, key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

type entryKey struct {
	Namespace string
	Key       string
}

// TTLCache is a process-wide Cache backed by ttlcache.
type TTLCache struct {
	items *ttlcache.Cache[entryKey, any]
}

// New creates a TTLCache. ttl <= 0 disables expiry.
func New(ttl time.Duration) *TTLCache {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	items := ttlcache.New(
		ttlcache.WithTTL[entryKey, any](ttl),
		ttlcache.WithDisableTouchOnHit[entryKey, any](),
	)
	go items.Start()
	return &TTLCache{items: items}
}

func (c *TTLCache) Get(namespace, key string) (any, bool) {
	item := c.items.Get(entryKey{Namespace: namespace, Key: key})
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *TTLCache) Set(namespace, key string, value any) {
	c.items.Set(entryKey{Namespace: namespace, Key: key}, value, ttlcache.DefaultTTL)
}

func (c *TTLCache) Delete(namespace, key string) {
	c.items.Delete(entryKey{Namespace: namespace, Key: key})
}

func (c *TTLCache) Flush(namespace string) {
	for _, k := range c.items.Keys() {
		if k.Namespace == namespace {
			c.items.Delete(k)
		}
	}
}

func (c *TTLCache) Len() int {
	return c.items.Len()
}

// Close stops the expiry goroutine.
func (c *TTLCache) Close() {
	c.items.Stop()
}

type nopCache struct{}

// Nop returns a Cache that never stores anything.
func Nop() Cache {
	return nopCache{}
}

func (nopCache) Get(string, string) (any, bool) { return nil, false }
func (nopCache) Set(string, string, any)        {}
func (nopCache) Delete(string, string)          {}
func (nopCache) Flush(string)                   {}

// Key joins key parts with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
