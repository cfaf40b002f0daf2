package canvas

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"kimhanh/internal/catalog"
)

const (
	DefaultWidth = 260.0 // 新放置商品的默认显示宽度
	MinWidth     = 80.0
	MaxWidth     = 420.0

	gridOriginX = 80.0
	gridOriginY = 80.0
	gridStepX   = 180.0
	gridStepY   = 220.0
	gridColumns = 3
)

// ErrInvalidQuantity 数量不是正整数，或超出 int 的取值范围。
var ErrInvalidQuantity = errors.New("quantity must be a positive integer")

// PlacedItem 画布上的一件商品实例。
type PlacedItem struct {
	InstanceID   int64           `json:"instance_id"`
	Product      catalog.Product `json:"product"`
	Quantity     int             `json:"quantity"`
	X            float64         `json:"x"`
	Y            float64         `json:"y"`
	DisplayWidth float64         `json:"display_width"`
}

// VariantIndex 当前数量对应的图片下标。
func (it PlacedItem) VariantIndex() int {
	return catalog.VariantIndex(it.Quantity, len(it.Product.Images))
}

// ImageURL 当前数量下展示的图片。
func (it PlacedItem) ImageURL() string {
	return it.Product.VariantURL(it.Quantity)
}

// Option 画布配置项。
type Option func(*Canvas)

// WithClock 替换生成实例 ID 时使用的时钟（测试用）。
func WithClock(now func() time.Time) Option {
	return func(c *Canvas) {
		if now != nil {
			c.ids.now = now
		}
	}
}

// Canvas 有序的商品实例集合。
//
// Canvas 本身不加锁，调用方需保证所有变更串行执行（见 session.Session）。
type Canvas struct {
	items   []PlacedItem
	ids     idGenerator
	version uint64
}

// New 创建空画布。
func New(opts ...Option) *Canvas {
	c := &Canvas{ids: idGenerator{now: time.Now}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GridPosition 返回第 n 个（从 0 开始）商品的默认位置。
func GridPosition(n int) (float64, float64) {
	x := gridOriginX + float64(n%gridColumns)*gridStepX
	y := gridOriginY + float64(n/gridColumns)*gridStepY
	return x, y
}

// ClampWidth 将宽度限制在 [MinWidth, MaxWidth]。
func ClampWidth(w float64) float64 {
	if w < MinWidth {
		return MinWidth
	}
	if w > MaxWidth {
		return MaxWidth
	}
	return w
}

// ParseQuantity 解析用户输入的数量，只接受正整数。
//
// 除 int 的取值范围外没有上限，超出范围的输入同样返回 ErrInvalidQuantity。
func ParseQuantity(raw string) (int, error) {
	q, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || q < 1 {
		return 0, ErrInvalidQuantity
	}
	return q, nil
}

// AddProduct 追加一件商品实例并返回它。
func (c *Canvas) AddProduct(p catalog.Product) PlacedItem {
	x, y := GridPosition(len(c.items))
	item := PlacedItem{
		InstanceID:   c.ids.next(),
		Product:      p,
		Quantity:     1,
		X:            x,
		Y:            y,
		DisplayWidth: DefaultWidth,
	}
	c.items = append(c.items, item)
	c.version++
	return item
}

// RemoveProduct 删除指定实例，不存在时返回 false。
func (c *Canvas) RemoveProduct(instanceID int64) bool {
	i := c.indexOf(instanceID)
	if i < 0 {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.version++
	return true
}

// SetPosition 覆盖实例坐标。
func (c *Canvas) SetPosition(instanceID int64, x, y float64) bool {
	i := c.indexOf(instanceID)
	if i < 0 {
		return false
	}
	c.items[i].X = x
	c.items[i].Y = y
	c.version++
	return true
}

// SetDisplayWidth 设置显示宽度（先裁剪到合法区间）。
func (c *Canvas) SetDisplayWidth(instanceID int64, width float64) bool {
	i := c.indexOf(instanceID)
	if i < 0 {
		return false
	}
	c.items[i].DisplayWidth = ClampWidth(width)
	c.version++
	return true
}

// SetQuantity 用用户输入更新数量。
//
// 输入不是正整数时返回 ErrInvalidQuantity，状态不变；实例不存在时返回 false, nil。
func (c *Canvas) SetQuantity(instanceID int64, raw string) (bool, error) {
	q, err := ParseQuantity(raw)
	if err != nil {
		return false, err
	}
	i := c.indexOf(instanceID)
	if i < 0 {
		return false, nil
	}
	c.items[i].Quantity = q
	c.version++
	return true, nil
}

// Reorder 把 from 位置的元素移动到 to 位置，其余元素相对顺序不变。
//
// 下标越界时返回 false；from == to 时不做任何修改并返回 true。
func (c *Canvas) Reorder(from, to int) bool {
	n := len(c.items)
	if from < 0 || to < 0 || from >= n || to >= n {
		return false
	}
	if from == to {
		return true
	}
	item := c.items[from]
	c.items = append(c.items[:from], c.items[from+1:]...)
	c.items = append(c.items[:to], append([]PlacedItem{item}, c.items[to:]...)...)
	c.version++
	return true
}

// Replace 用已保存的实例整体替换画布内容。
//
// 缺失或越界的字段会被修正：数量至少为 1，宽度为 0 时取默认值，重复的实例 ID 会重新分配。
func (c *Canvas) Replace(items []PlacedItem) {
	for _, it := range items {
		c.ids.observe(it.InstanceID)
	}
	seen := make(map[int64]struct{}, len(items))
	next := make([]PlacedItem, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.InstanceID]; dup || it.InstanceID <= 0 {
			it.InstanceID = c.ids.next()
		}
		seen[it.InstanceID] = struct{}{}
		if it.Quantity < 1 {
			it.Quantity = 1
		}
		if it.DisplayWidth == 0 {
			it.DisplayWidth = DefaultWidth
		}
		it.DisplayWidth = ClampWidth(it.DisplayWidth)
		next = append(next, it)
	}
	c.items = next
	c.version++
}

// Clear 清空画布。
func (c *Canvas) Clear() {
	c.items = nil
	c.version++
}

// Items 返回实例列表的拷贝。
func (c *Canvas) Items() []PlacedItem {
	return append([]PlacedItem(nil), c.items...)
}

// Item 按实例 ID 查找。
func (c *Canvas) Item(instanceID int64) (PlacedItem, bool) {
	i := c.indexOf(instanceID)
	if i < 0 {
		return PlacedItem{}, false
	}
	return c.items[i], true
}

// Len 实例数量。
func (c *Canvas) Len() int {
	return len(c.items)
}

// Version 每次成功变更后递增，用于下游缓存失效。
func (c *Canvas) Version() uint64 {
	return c.version
}

func (c *Canvas) indexOf(instanceID int64) int {
	for i := range c.items {
		if c.items[i].InstanceID == instanceID {
			return i
		}
	}
	return -1
}

// idGenerator 基于毫秒时钟生成严格递增的实例 ID。
type idGenerator struct {
	now  func() time.Time
	last int64
}

func (g *idGenerator) next() int64 {
	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

func (g *idGenerator) observe(id int64) {
	if id > g.last {
		g.last = id
	}
}
