package redis

import (
	"context"
	"errors"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
)

// ClassCache implements classroom.Cache using the generic Redis Cache.
//
// Two keys per class: "class:{id}" holds the serialized record and
// "classcode:{CODE}" holds a pointer to the id. The pointer makes
// code lookups a cache operation instead of a store scan, and lets
// Invalidate evict both keys knowing only the id.
type ClassCache struct {
	cache *Cache
}

// NewClassCache creates a new ClassCache.
func NewClassCache(cache *Cache) *ClassCache {
	return &ClassCache{
		cache: cache,
	}
}

// Get gets a class from cache by record id.
func (c *ClassCache) Get(ctx context.Context, classID string) (*classroom.ClassRecord, error) {
	var rec classroom.ClassRecord
	if err := c.cache.Get(ctx, ClassKey(classID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByCode gets a class from cache by join code, following the pointer key.
func (c *ClassCache) GetByCode(ctx context.Context, code classroom.ClassCode) (*classroom.ClassRecord, error) {
	classID, err := c.cache.GetString(ctx, CodeKey(code.String()))
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, classID)
}

// Set stores a class under its id key and refreshes the code pointer.
func (c *ClassCache) Set(ctx context.Context, rec *classroom.ClassRecord, ttl time.Duration) error {
	if rec == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = TTLClassCache
	}

	if err := c.cache.Set(ctx, ClassKey(rec.ID), rec, ttl); err != nil {
		return err
	}
	if rec.Code != "" {
		return c.cache.SetString(ctx, CodeKey(rec.Code.String()), rec.ID, ttl)
	}
	return nil
}

// Invalidate evicts both keys of a class. The cached record is read first
// to learn the code; on a miss only the id key needs deleting.
func (c *ClassCache) Invalidate(ctx context.Context, classID string) error {
	rec, err := c.Get(ctx, classID)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return c.cache.Delete(ctx, ClassKey(classID))
		}
		return err
	}

	keys := []string{ClassKey(classID)}
	if rec.Code != "" {
		keys = append(keys, CodeKey(rec.Code.String()))
	}
	return c.cache.Delete(ctx, keys...)
}

// InvalidateAll clears all class cache entries, pointers included.
func (c *ClassCache) InvalidateAll(ctx context.Context) error {
	if err := c.cache.DeleteByPattern(ctx, PrefixClass+"*"); err != nil {
		return err
	}
	return c.cache.DeleteByPattern(ctx, PrefixCode+"*")
}
