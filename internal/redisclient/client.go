package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	lockTTL       = 5 * time.Second
	lockRetryWait = 25 * time.Millisecond
	basketTTL     = 10 * time.Minute
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// WithLock runs fn while holding a distributed lock. Basket mutations take
// the order lock and the default-address swap takes the user lock, so each
// aggregate's read-modify-write sequences are serialized across instances.
func (c *Client) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := fmt.Sprintf("lock:%s", key)

	for {
		ok, err := c.rdb.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryWait):
		}
	}

	defer c.rdb.Del(context.Background(), lockKey)
	return fn(ctx)
}

// GetBasketCount reads the cached basket item count for a user. The second
// return is false on a cache miss.
func (c *Client) GetBasketCount(ctx context.Context, userID int64) (int, bool, error) {
	val, err := c.rdb.Get(ctx, basketKey(userID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt basket count for user %d: %w", userID, err)
	}
	return count, true, nil
}

// SetBasketCount caches the basket item count for a user.
func (c *Client) SetBasketCount(ctx context.Context, userID int64, count int) error {
	return c.rdb.Set(ctx, basketKey(userID), count, basketTTL).Err()
}

// InvalidateBasketCount drops the cached basket count after a basket
// mutation.
func (c *Client) InvalidateBasketCount(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, basketKey(userID)).Err()
}

func basketKey(userID int64) string {
	return fmt.Sprintf("basket:%d", userID)
}
