package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "kimhanh:dedup:"

// Deduplicator 在时间窗口内对同一个键只放行一次（SETNX + TTL）。
type Deduplicator struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDeduplicator 创建去重器。ttl 即去重窗口，默认 1 小时。
func NewDeduplicator(rdb *redis.Client, prefix string, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Deduplicator{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}
}

// IsDuplicate 键在窗口内已出现过时返回 true；首次出现时占位并返回 false。
func (d *Deduplicator) IsDuplicate(ctx context.Context, key string) (bool, error) {
	if d == nil || d.rdb == nil || key == "" {
		return false, nil
	}
	ok, err := d.rdb.SetNX(ctx, d.prefix+hashKey(key), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Delete 释放占位，使下一次同键请求重新放行。
func (d *Deduplicator) Delete(ctx context.Context, key string) error {
	if d == nil || d.rdb == nil || key == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, d.prefix+hashKey(key)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
