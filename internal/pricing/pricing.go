package pricing

import (
	"sync"

	"kimhanh/internal/canvas"
	"kimhanh/internal/pkg/metrics"

	"github.com/shopspring/decimal"
)

// Summary 画布的价格汇总。
type Summary struct {
	ItemCount      int             `json:"item_count"`
	TotalWeight    decimal.Decimal `json:"total_weight"`
	TotalLaborCost decimal.Decimal `json:"total_labor_cost"`
	PricePerUnit   decimal.Decimal `json:"price_per_unit"`
	TotalPrice     decimal.Decimal `json:"total_price"`
}

// Compute 计算汇总。
//
// 参数:
//
//	items: 画布中的实例
//	pricePerUnit: 单位重量金价，未加载时传 0
//
// 返回值:
//
//	Summary: TotalPrice = TotalWeight * pricePerUnit + TotalLaborCost
func Compute(items []canvas.PlacedItem, pricePerUnit decimal.Decimal) Summary {
	weight := decimal.Zero
	labor := decimal.Zero
	for _, it := range items {
		qty := decimal.NewFromInt(int64(it.Quantity))
		weight = weight.Add(it.Product.Weight.Mul(qty))
		labor = labor.Add(it.Product.LaborCost.Mul(qty))
	}
	return Summary{
		ItemCount:      len(items),
		TotalWeight:    weight,
		TotalLaborCost: labor,
		PricePerUnit:   pricePerUnit,
		TotalPrice:     weight.Mul(pricePerUnit).Add(labor),
	}
}

// PriceSource 提供单位金价。
type PriceSource interface {
	PricePerUnit(unitsPerPrincipalUnit int) decimal.Decimal
}

// Aggregator 按 (画布版本, 单位金价) 缓存汇总结果。
type Aggregator struct {
	mu    sync.Mutex
	feed  PriceSource
	units int

	valid   bool
	version uint64
	ppu     decimal.Decimal
	cached  Summary
}

// NewAggregator 创建汇总器。unitsPerPrincipalUnit 为一个金价计价单位包含的重量单位数。
func NewAggregator(feed PriceSource, unitsPerPrincipalUnit int) *Aggregator {
	return &Aggregator{feed: feed, units: unitsPerPrincipalUnit}
}

// Summary 返回画布当前的汇总；画布与金价都未变化时直接返回缓存。
func (a *Aggregator) Summary(c *canvas.Canvas) Summary {
	ppu := decimal.Zero
	if a.feed != nil {
		ppu = a.feed.PricePerUnit(a.units)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.valid && a.version == c.Version() && a.ppu.Equal(ppu) {
		return a.cached
	}
	a.cached = Compute(c.Items(), ppu)
	a.version = c.Version()
	a.ppu = ppu
	a.valid = true
	metrics.PricingRecomputeTotal.Inc()
	return a.cached
}

// UnitsPerPrincipalUnit 当前使用的换算系数。
func (a *Aggregator) UnitsPerPrincipalUnit() int {
	return a.units
}
