package persist

import (
	"context"
	"errors"
	"testing"

	"kimhanh/internal/canvas"
	"kimhanh/internal/catalog"
	"kimhanh/internal/model"
	"kimhanh/internal/pkg/logger"

	"github.com/shopspring/decimal"
)

type failingStore struct{}

func (failingStore) Find(ctx context.Context, key string) (*model.SavedCollection, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Upsert(ctx context.Context, c *model.SavedCollection) error {
	return errors.New("connection refused")
}

func sampleItems() []canvas.PlacedItem {
	c := canvas.New()
	a := c.AddProduct(catalog.Product{ID: 1, Name: "Bông 1", Weight: decimal.NewFromFloat(0.5), LaborCost: decimal.NewFromInt(100000)})
	c.AddProduct(catalog.Product{ID: 2, Name: "Dây 1", Weight: decimal.NewFromInt(1), LaborCost: decimal.NewFromInt(200000)})
	c.SetQuantity(a.InstanceID, "3")
	c.SetPosition(a.InstanceID, 12.5, 40)
	c.SetDisplayWidth(a.InstanceID, 300)
	return c.Items()
}

func TestBridge_SaveThenLoadSameIdentity(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newMiniRedis(t)
	b := NewBridge(NewRedisStore(rdb, ""), logger.Discard())

	items := sampleItems()
	if err := b.Save(ctx, "0911", items); err != nil {
		t.Fatalf("save: %v", err)
	}
	got := b.Load(ctx, "0911")
	if len(got) != len(items) {
		t.Fatalf("expected %d items, got %d", len(items), len(got))
	}
	for i := range items {
		w, g := items[i], got[i]
		if w.InstanceID != g.InstanceID || w.Quantity != g.Quantity || w.X != g.X || w.Y != g.Y || w.DisplayWidth != g.DisplayWidth {
			t.Fatalf("item %d differs: want %+v got %+v", i, w, g)
		}
		if w.Product.ID != g.Product.ID || !w.Product.Weight.Equal(g.Product.Weight) || !w.Product.LaborCost.Equal(g.Product.LaborCost) {
			t.Fatalf("product %d differs", i)
		}
	}
}

func TestBridge_OtherIdentityLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	b := NewBridge(newSQLiteStore(t), logger.Discard())

	if err := b.Save(ctx, "0912", sampleItems()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := b.Load(ctx, "0999"); len(got) != 0 {
		t.Fatalf("expected empty canvas for other identity, got %d items", len(got))
	}
	if got := b.Load(ctx, "0912"); len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
}

func TestBridge_SaveWithoutIdentity(t *testing.T) {
	b := NewBridge(failingStore{}, logger.Discard())
	if err := b.Save(context.Background(), "  ", sampleItems()); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestBridge_LoadFailuresYieldEmpty(t *testing.T) {
	ctx := context.Background()

	b := NewBridge(failingStore{}, logger.Discard())
	if got := b.Load(ctx, "0913"); got != nil {
		t.Fatalf("unavailable store should load empty, got %v", got)
	}

	rdb, mr := newMiniRedis(t)
	b = NewBridge(NewRedisStore(rdb, ""), logger.Discard())
	mr.HSet(defaultCollectionsKey, "0914", `{"identity_key":"0914","items":{"oops":true}}`)
	if got := b.Load(ctx, "0914"); got != nil {
		t.Fatalf("corrupt items should load empty, got %v", got)
	}
	if got := b.Load(ctx, ""); got != nil {
		t.Fatalf("empty identity should load empty")
	}
}

func TestBridge_SaveStoreError(t *testing.T) {
	b := NewBridge(failingStore{}, logger.Discard())
	err := b.Save(context.Background(), "0915", nil)
	if err == nil || errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
