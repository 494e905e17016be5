// Package cache holds the Redis fast paths: order status reads and the
// checkout idempotency recall. The database unique index on
// (customer_ref, idempotency_key) remains the source of truth; Redis only
// saves the round trip on replays and hot status polls. Every method is safe
// on a nil *Cache, which is how the service runs when Redis is not
// configured.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb       *redis.Client
	statusTTL time.Duration
	idemTTL   time.Duration
}

func New(addr, password string, db int, statusTTL, idemTTL time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Cache{rdb: rdb, statusTTL: statusTTL, idemTTL: idemTTL}, nil
}

func orderStatusKey(orderID int64) string {
	return fmt.Sprintf("order:status:%d", orderID)
}

func idemKey(customerRef, key string) string {
	return fmt.Sprintf("idemp:checkout:%s:%s", customerRef, key)
}

type OrderStatusEntry struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

func (c *Cache) GetOrderStatus(ctx context.Context, orderID int64) (*OrderStatusEntry, bool) {
	if c == nil {
		return nil, false
	}
	val, err := c.rdb.Get(ctx, orderStatusKey(orderID)).Result()
	if err != nil {
		return nil, false
	}
	var entry OrderStatusEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (c *Cache) SetOrderStatus(ctx context.Context, orderID int64, entry OrderStatusEntry) {
	if c == nil {
		return
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, orderStatusKey(orderID), val, c.statusTTL)
}

// InvalidateOrderStatus drops the cached entry after any status mutation so
// the next read goes to the database.
func (c *Cache) InvalidateOrderStatus(ctx context.Context, orderID int64) {
	if c == nil {
		return
	}
	c.rdb.Del(ctx, orderStatusKey(orderID))
}

// RememberCheckout records the order id served for an idempotency key.
func (c *Cache) RememberCheckout(ctx context.Context, customerRef, key string, orderID int64) {
	if c == nil || key == "" {
		return
	}
	c.rdb.Set(ctx, idemKey(customerRef, key), orderID, c.idemTTL)
}

// RecallCheckout returns the order id previously served for this key, if any.
func (c *Cache) RecallCheckout(ctx context.Context, customerRef, key string) (int64, bool) {
	if c == nil || key == "" {
		return 0, false
	}
	id, err := c.rdb.Get(ctx, idemKey(customerRef, key)).Int64()
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
