package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethaccount/useropkit/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
)

const DefaultCacheTTL = 24 * time.Hour

// CachedOperation is the status entry shared between processes through Redis.
type CachedOperation struct {
	UserOpHash      common.Hash            `json:"user_op_hash"`
	ChainID         int64                  `json:"chain_id"`
	Sender          common.Address         `json:"sender"`
	Status          domain.OperationStatus `json:"status"`
	TransactionHash string                 `json:"transaction_hash,omitempty"`
	Error           string                 `json:"error,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// OperationCache stores operation status under "<prefix>:<hash>" with a TTL.
type OperationCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewOperationCache(redis *redis.Client, prefix string, ttl time.Duration) *OperationCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &OperationCache{
		redis:  redis,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *OperationCache) key(hash common.Hash) string {
	return fmt.Sprintf("%s:%s", c.prefix, hash.Hex())
}

// Get returns nil when hash is not cached.
func (c *OperationCache) Get(ctx context.Context, hash common.Hash) (*CachedOperation, error) {
	data, err := c.redis.Get(ctx, c.key(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry CachedOperation
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached operation: %w", err)
	}
	return &entry, nil
}

// Set stores entry and refreshes its timestamp and TTL.
func (c *OperationCache) Set(ctx context.Context, entry *CachedOperation) error {
	entry.UpdatedAt = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cached operation: %w", err)
	}
	return c.redis.Set(ctx, c.key(entry.UserOpHash), data, c.ttl).Err()
}

// Delete removes the entry for hash.
func (c *OperationCache) Delete(ctx context.Context, hash common.Hash) error {
	return c.redis.Del(ctx, c.key(hash)).Err()
}

// Ping reports whether Redis is reachable.
func (c *OperationCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}
