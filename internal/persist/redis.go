package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kimhanh/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCollectionsKey = "kimhanh:collections"
	defaultCustomersKey   = "kimhanh:customers"
)

// RedisStore 将收藏集保存在 Redis Hash 中，field 为身份键。
type RedisStore struct {
	rdb            *redis.Client
	collectionsKey string
	customersKey   string
}

// NewRedisStore 创建存储实例。prefix 为空时使用默认前缀 "kimhanh"。
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	s := &RedisStore{
		rdb:            rdb,
		collectionsKey: defaultCollectionsKey,
		customersKey:   defaultCustomersKey,
	}
	if prefix != "" {
		s.collectionsKey = prefix + ":collections"
		s.customersKey = prefix + ":customers"
	}
	return s
}

type redisCollection struct {
	IdentityKey string          `json:"identity_key"`
	Items       json.RawMessage `json:"items"`
	ItemCount   int             `json:"item_count"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Find 按身份键查找收藏集，不存在时返回 ErrNotFound。
func (s *RedisStore) Find(ctx context.Context, identityKey string) (*model.SavedCollection, error) {
	raw, err := s.rdb.HGet(ctx, s.collectionsKey, identityKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hget collection: %w", err)
	}
	var rc redisCollection
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return &model.SavedCollection{
		CreatedAt:   rc.CreatedAt,
		UpdatedAt:   rc.UpdatedAt,
		IdentityKey: rc.IdentityKey,
		Items:       []byte(rc.Items),
		ItemCount:   rc.ItemCount,
	}, nil
}

// Upsert 覆盖身份键对应的收藏集。
func (s *RedisStore) Upsert(ctx context.Context, c *model.SavedCollection) error {
	now := time.Now()
	created := c.CreatedAt
	if created.IsZero() {
		created = now
		if prev, err := s.Find(ctx, c.IdentityKey); err == nil {
			created = prev.CreatedAt
		}
	}
	items := json.RawMessage(c.Items)
	if len(items) == 0 {
		items = json.RawMessage("[]")
	}
	raw, err := json.Marshal(redisCollection{
		IdentityKey: c.IdentityKey,
		Items:       items,
		ItemCount:   c.ItemCount,
		CreatedAt:   created,
		UpdatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.collectionsKey, c.IdentityKey, raw).Err(); err != nil {
		return fmt.Errorf("hset collection: %w", err)
	}
	c.CreatedAt = created
	c.UpdatedAt = now
	return nil
}

// UpsertCustomer 覆盖电话对应的客户资料。
func (s *RedisStore) UpsertCustomer(ctx context.Context, c *model.Customer) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.customersKey, c.Phone, raw).Err(); err != nil {
		return fmt.Errorf("hset customer: %w", err)
	}
	return nil
}

// Customer 读取客户资料（后台与测试使用）。
func (s *RedisStore) Customer(ctx context.Context, phone string) (*model.Customer, error) {
	raw, err := s.rdb.HGet(ctx, s.customersKey, phone).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hget customer: %w", err)
	}
	var c model.Customer
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	return &c, nil
}
