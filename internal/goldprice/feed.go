package goldprice

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Price 金价（买入/卖出），单位为每“lượng”的 VND。
type Price struct {
	Buy       decimal.Decimal `json:"buy_price"`
	Sell      decimal.Decimal `json:"sell_price"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

// Feed 保存当前金价，未加载前为空。
type Feed struct {
	mu      sync.RWMutex
	current *Price
}

// NewFeed 创建空的金价源。
func NewFeed() *Feed {
	return &Feed{}
}

// Set 替换当前金价。
func (f *Feed) Set(p Price) {
	f.mu.Lock()
	f.current = &p
	f.mu.Unlock()
}

// Current 返回当前金价以及是否已加载。
func (f *Feed) Current() (Price, bool) {
	if f == nil {
		return Price{}, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current == nil {
		return Price{}, false
	}
	return *f.current, true
}

// PricePerUnit 返回每“chỉ”的价格：卖出价 / unitsPerPrincipalUnit。
//
// 金价未加载或除数不合法时返回 0。
func (f *Feed) PricePerUnit(unitsPerPrincipalUnit int) decimal.Decimal {
	p, ok := f.Current()
	if !ok || unitsPerPrincipalUnit <= 0 {
		return decimal.Zero
	}
	return p.Sell.Div(decimal.NewFromInt(int64(unitsPerPrincipalUnit)))
}
