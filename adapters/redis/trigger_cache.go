// Package redis provides an adapter to redis client
package redis

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// TriggerCache lets several reactor replicas watching the same mempool answer every trigger once
type TriggerCache struct {
	client         *redis.Client
	expireDuration time.Duration
	keyPrefix      string
}

func NewTriggerCache(client *redis.Client, expireDuration time.Duration, keyPrefix string) *TriggerCache {
	return &TriggerCache{
		client:         client,
		expireDuration: expireDuration,
		keyPrefix:      keyPrefix,
	}
}

// Claim returns true only for the first caller claiming hash within the expire duration
func (c *TriggerCache) Claim(ctx context.Context, hash common.Hash) (bool, error) {
	return c.client.SetNX(ctx, c.keyPrefix+hash.Hex(), 1, c.expireDuration).Result()
}

// Release drops a claim so the trigger can be answered again
func (c *TriggerCache) Release(ctx context.Context, hash common.Hash) error {
	return c.client.Del(ctx, c.keyPrefix+hash.Hex()).Err()
}
