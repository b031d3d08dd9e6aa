package tokenstore

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/uber/rides-go-sdk/auth"
)

// Cache wraps another store with an in-process read cache, sparing the
// slower backend on repeated Fetches. Writes go through and update the
// cache; Delete invalidates it.
type Cache struct {
	next  Store
	cache *gocache.Cache
}

// NewCache decorates next with a read cache holding entries for ttl.
func NewCache(next Store, ttl time.Duration) *Cache {
	return &Cache{
		next:  next,
		cache: gocache.New(ttl, time.Minute),
	}
}

func cacheKey(key Key) string {
	return key.group() + ":" + key.Identifier
}

// Save writes through to the underlying store and refreshes the cache.
func (c *Cache) Save(ctx context.Context, key Key, token *auth.AccessToken) error {
	if err := c.next.Save(ctx, key, token); err != nil {
		return err
	}
	c.cache.Set(cacheKey(key), token.Clone(), gocache.DefaultExpiration)
	return nil
}

// Fetch returns the cached token when present, falling back to the
// underlying store and caching the result.
func (c *Cache) Fetch(ctx context.Context, key Key) (*auth.AccessToken, error) {
	if v, ok := c.cache.Get(cacheKey(key)); ok {
		if token, ok := v.(*auth.AccessToken); ok {
			return token.Clone(), nil
		}
	}
	token, err := c.next.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.Set(cacheKey(key), token.Clone(), gocache.DefaultExpiration)
	return token, nil
}

// Delete removes the token from the underlying store and the cache.
func (c *Cache) Delete(ctx context.Context, key Key) (bool, error) {
	existed, err := c.next.Delete(ctx, key)
	c.cache.Delete(cacheKey(key))
	return existed, err
}
