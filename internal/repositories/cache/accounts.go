package cache

import (
	"context"
	"fmt"
	"time"

	"fxwallet/internal/providers"
)

// AccountCache keeps resolved bank accounts for a bounded time. A stale
// name is worse than a lookup, so callers invalidate on any payout
// rejection that names the destination.
type AccountCache struct {
	cache *CacheService
	ttl   time.Duration
}

var _ providers.AccountCache = (*AccountCache)(nil)

func NewAccountCache(cache *CacheService, ttl time.Duration) *AccountCache {
	return &AccountCache{cache: cache, ttl: ttl}
}

func (c *AccountCache) key(bankCode, accountNumber string) string {
	return c.cache.Key("account", bankCode, accountNumber)
}

func (c *AccountCache) Get(ctx context.Context, bankCode, accountNumber string) (*providers.Account, bool, error) {
	var account providers.Account
	found, err := c.cache.Get(ctx, c.key(bankCode, accountNumber), &account)
	if err != nil || !found {
		return nil, false, err
	}
	return &account, true, nil
}

func (c *AccountCache) Set(ctx context.Context, account *providers.Account) error {
	if account == nil {
		return fmt.Errorf("cannot cache nil account")
	}
	return c.cache.Put(ctx, c.key(account.BankCode, account.AccountNumber), account, c.ttl)
}

func (c *AccountCache) Invalidate(ctx context.Context, bankCode, accountNumber string) error {
	return c.cache.Delete(ctx, c.key(bankCode, accountNumber))
}
