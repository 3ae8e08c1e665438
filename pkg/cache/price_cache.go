// Package cache holds the latest observed price per symbol.
package cache

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const numShards = 16

// PriceCache is a sharded last-price table keyed by upper-case symbol.
type PriceCache struct {
	shards [numShards]*priceShard
	now    func() time.Time
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// Quote is a cached price and when it was observed.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Age reports how old q is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.UpdatedAt)
}

func NewPriceCache() *PriceCache {
	c := &PriceCache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &priceShard{items: make(map[string]Quote)}
	}
	return c
}

func key(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (c *PriceCache) shard(k string) *priceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return c.shards[h.Sum32()%numShards]
}

// Set records price for symbol at the current time.
func (c *PriceCache) Set(symbol string, price decimal.Decimal) {
	c.SetAt(symbol, price, c.now())
}

// SetAt records price observed at t. Older observations never overwrite newer ones.
func (c *PriceCache) SetAt(symbol string, price decimal.Decimal, t time.Time) {
	k := key(symbol)
	s := c.shard(k)
	s.mu.Lock()
	if prev, ok := s.items[k]; !ok || !t.Before(prev.UpdatedAt) {
		s.items[k] = Quote{Symbol: k, Price: price, UpdatedAt: t}
	}
	s.mu.Unlock()
}

// Get returns the cached quote for symbol.
func (c *PriceCache) Get(symbol string) (Quote, bool) {
	k := key(symbol)
	s := c.shard(k)
	s.mu.RLock()
	q, ok := s.items[k]
	s.mu.RUnlock()
	return q, ok
}

// Fresh returns the price only when it is younger than maxAge. maxAge <= 0
// disables the age check.
func (c *PriceCache) Fresh(symbol string, maxAge time.Duration) (decimal.Decimal, bool) {
	q, ok := c.Get(symbol)
	if !ok {
		return decimal.Zero, false
	}
	if maxAge > 0 && q.Age(c.now()) > maxAge {
		return decimal.Zero, false
	}
	return q.Price, true
}

// Cleanup drops quotes older than maxAge and returns how many were removed.
func (c *PriceCache) Cleanup(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, q := range s.items {
			if q.UpdatedAt.Before(cutoff) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx ends, so symbols that
// stop trading do not linger.
func (c *PriceCache) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Cleanup(maxAge)
			}
		}
	}()
}

// Stats summarises the cache for the metrics endpoint.
type Stats struct {
	TotalItems int           `json:"totalItems"`
	OldestAge  time.Duration `json:"oldestAgeNs"`
}

func (c *PriceCache) Stats() Stats {
	var st Stats
	var oldest time.Time
	for _, s := range c.shards {
		s.mu.RLock()
		st.TotalItems += len(s.items)
		for _, q := range s.items {
			if oldest.IsZero() || q.UpdatedAt.Before(oldest) {
				oldest = q.UpdatedAt
			}
		}
		s.mu.RUnlock()
	}
	if !oldest.IsZero() {
		st.OldestAge = c.now().Sub(oldest)
	}
	return st
}
