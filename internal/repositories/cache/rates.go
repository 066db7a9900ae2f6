package cache

import (
	"context"
	"time"
)

// RateCache stores the rate table of one base currency.
type RateCache struct {
	cache *CacheService
	ttl   time.Duration
}

func NewRateCache(cache *CacheService, ttl time.Duration) *RateCache {
	return &RateCache{cache: cache, ttl: ttl}
}

func (c *RateCache) key(base string) string {
	return c.cache.Key("rates", base)
}

func (c *RateCache) GetRates(ctx context.Context, base string) (map[string]float64, bool, error) {
	var rates map[string]float64
	found, err := c.cache.Get(ctx, c.key(base), &rates)
	if err != nil || !found {
		return nil, false, err
	}
	return rates, true, nil
}

func (c *RateCache) SetRates(ctx context.Context, base string, rates map[string]float64) error {
	return c.cache.Put(ctx, c.key(base), rates, c.ttl)
}
