package persist

import (
	"context"
	"errors"
	"testing"

	"kimhanh/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb, mr
}

func TestRedisStore_UpsertAndFind(t *testing.T) {
	ctx := context.Background()
	rdb, mr := newMiniRedis(t)
	s := NewRedisStore(rdb, "")

	if _, err := s.Find(ctx, "0903"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Upsert(ctx, &model.SavedCollection{IdentityKey: "0903", Items: []byte(`[{"instance_id":5}]`), ItemCount: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !mr.Exists(defaultCollectionsKey) {
		t.Fatalf("expected hash %s", defaultCollectionsKey)
	}

	got, err := s.Find(ctx, "0903")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ItemCount != 1 || string(got.Items) != `[{"instance_id":5}]` {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set")
	}
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	rdb, mr := newMiniRedis(t)
	s := NewRedisStore(rdb, "test")

	mr.HSet("test:collections", "0904", "{not json")
	if _, err := s.Find(ctx, "0904"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestRedisStore_UpsertCustomer(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newMiniRedis(t)
	s := NewRedisStore(rdb, "")

	if err := s.UpsertCustomer(ctx, &model.Customer{Phone: "0905", Name: "Chi"}); err != nil {
		t.Fatalf("upsert customer: %v", err)
	}
	c, err := s.Customer(ctx, "0905")
	if err != nil {
		t.Fatalf("customer: %v", err)
	}
	if c.Name != "Chi" {
		t.Fatalf("unexpected customer: %+v", c)
	}
}
