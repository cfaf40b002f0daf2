package pricing

import (
	"fmt"
	"testing"

	"kimhanh/internal/canvas"
	"kimhanh/internal/catalog"
	"kimhanh/internal/goldprice"

	"github.com/shopspring/decimal"
)

func product(id int64, weight float64, labor int64) catalog.Product {
	return catalog.Product{
		ID:        id,
		Name:      fmt.Sprintf("p%d", id),
		Weight:    decimal.NewFromFloat(weight),
		LaborCost: decimal.NewFromInt(labor),
	}
}

func twoItemCanvas(t *testing.T) *canvas.Canvas {
	t.Helper()
	c := canvas.New()
	c.AddProduct(product(1, 2, 100000))
	b := c.AddProduct(product(2, 1, 50000))
	if _, err := c.SetQuantity(b.InstanceID, "3"); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	return c
}

func TestAggregator_TotalsAcrossUnitDivisors(t *testing.T) {
	for _, units := range []int{10, 100} {
		t.Run(fmt.Sprintf("units_%d", units), func(t *testing.T) {
			feed := goldprice.NewFeed()
			feed.Set(goldprice.Price{
				Buy:  decimal.NewFromInt(int64(units) * 990000),
				Sell: decimal.NewFromInt(int64(units) * 1000000),
			})
			agg := NewAggregator(feed, units)

			s := agg.Summary(twoItemCanvas(t))
			if !s.PricePerUnit.Equal(decimal.NewFromInt(1000000)) {
				t.Fatalf("price per unit = %s", s.PricePerUnit)
			}
			if !s.TotalWeight.Equal(decimal.NewFromInt(5)) {
				t.Fatalf("total weight = %s, want 5", s.TotalWeight)
			}
			if !s.TotalLaborCost.Equal(decimal.NewFromInt(250000)) {
				t.Fatalf("total labor = %s, want 250000", s.TotalLaborCost)
			}
			if !s.TotalPrice.Equal(decimal.NewFromInt(5250000)) {
				t.Fatalf("total price = %s, want 5250000", s.TotalPrice)
			}
		})
	}
}

func TestAggregator_EmptyCanvasNoPrice(t *testing.T) {
	agg := NewAggregator(goldprice.NewFeed(), 10)
	s := agg.Summary(canvas.New())
	if s.ItemCount != 0 || !s.TotalWeight.IsZero() || !s.TotalLaborCost.IsZero() || !s.TotalPrice.IsZero() || !s.PricePerUnit.IsZero() {
		t.Fatalf("expected zero summary, got %+v", s)
	}
}

func TestAggregator_MissingPriceChargesLaborOnly(t *testing.T) {
	agg := NewAggregator(goldprice.NewFeed(), 10)
	s := agg.Summary(twoItemCanvas(t))
	if !s.PricePerUnit.IsZero() {
		t.Fatalf("expected ppu 0, got %s", s.PricePerUnit)
	}
	if !s.TotalPrice.Equal(decimal.NewFromInt(250000)) {
		t.Fatalf("total price = %s, want labor only", s.TotalPrice)
	}
}

func TestAggregator_RecomputesOnCanvasAndPriceChange(t *testing.T) {
	feed := goldprice.NewFeed()
	agg := NewAggregator(feed, 10)
	c := canvas.New()
	item := c.AddProduct(product(1, 1, 1000))

	first := agg.Summary(c)
	if !first.TotalPrice.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("first total = %s", first.TotalPrice)
	}

	c.SetQuantity(item.InstanceID, "2")
	second := agg.Summary(c)
	if !second.TotalPrice.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("after quantity change total = %s", second.TotalPrice)
	}

	feed.Set(goldprice.Price{Sell: decimal.NewFromInt(50000)})
	third := agg.Summary(c)
	// 2 * 5000 + 2000
	if !third.TotalPrice.Equal(decimal.NewFromInt(12000)) {
		t.Fatalf("after price change total = %s", third.TotalPrice)
	}
}

func TestCompute_NilFeedAggregator(t *testing.T) {
	agg := NewAggregator(nil, 10)
	s := agg.Summary(canvas.New())
	if !s.PricePerUnit.IsZero() {
		t.Fatalf("expected zero ppu")
	}
}
