package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/presaleledger/internal/domain"
)

// SettlementCache implements usecase.SettlementCache using Redis. Results
// are stored as JSON under settlement:<provider>:<order id>.
type SettlementCache struct {
	client redis.Cmdable
	prefix string
}

// NewSettlementCache creates a new SettlementCache.
func NewSettlementCache(client redis.Cmdable) *SettlementCache {
	return &SettlementCache{
		client: client,
		prefix: "settlement:",
	}
}

func (c *SettlementCache) key(provider, providerOrderID string) string {
	return c.prefix + provider + ":" + providerOrderID
}

// Get returns the cached result of a provider order, or nil on a miss.
func (c *SettlementCache) Get(ctx context.Context, provider, providerOrderID string) (*domain.SettlementResult, error) {
	raw, err := c.client.Get(ctx, c.key(provider, providerOrderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result domain.SettlementResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Put stores a settled result with TTL.
func (c *SettlementCache) Put(ctx context.Context, result *domain.SettlementResult, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(result.Provider, result.ProviderOrderID), raw, ttl).Err()
}

// Forget drops the cached result of a provider order.
func (c *SettlementCache) Forget(ctx context.Context, provider, providerOrderID string) error {
	return c.client.Del(ctx, c.key(provider, providerOrderID)).Err()
}
