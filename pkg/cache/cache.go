package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// LRU implements Cacher with a bounded in-memory cache whose entries expire
// after a fixed TTL.
type LRU struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRU creates a cache holding at most size entries for ttl each.
// A non-positive size disables the bound.
func NewLRU(size int, ttl time.Duration) *LRU {
	return &LRU{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *LRU) GetCache(ctx context.Context, key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *LRU) SetCache(ctx context.Context, key string, val []byte) error {
	c.lru.Add(key, val)
	return nil
}

// Len returns the number of live entries.
func (c *LRU) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *LRU) Purge() {
	c.lru.Purge()
}

// Nop never stores anything.
type Nop struct{}

func (Nop) GetCache(context.Context, string) ([]byte, bool) { return nil, false }
func (Nop) SetCache(context.Context, string, []byte) error  { return nil }

// Tiered reads through a fast cache to a slower one, filling the fast cache on
// a slow hit. Writes go to both.
type Tiered struct {
	fast Cacher
	slow Cacher
}

// NewTiered layers fast over slow.
func NewTiered(fast, slow Cacher) *Tiered {
	return &Tiered{fast: fast, slow: slow}
}

func (t *Tiered) GetCache(ctx context.Context, key string) ([]byte, bool) {
	if val, ok := t.fast.GetCache(ctx, key); ok {
		return val, true
	}
	val, ok := t.slow.GetCache(ctx, key)
	if !ok {
		return nil, false
	}
	_ = t.fast.SetCache(ctx, key, val)
	return val, true
}

func (t *Tiered) SetCache(ctx context.Context, key string, val []byte) error {
	if err := t.fast.SetCache(ctx, key, val); err != nil {
		return err
	}
	return t.slow.SetCache(ctx, key, val)
}
