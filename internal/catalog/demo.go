package catalog

import (
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

var demoGroups = []string{"Bông", "Dây", "Kiềng", "Cara", "Lắc", "Vòng", "Nhẫn trơn"}

// DemoCategories 生成本地演示用的目录（7 个分组，每组 5 件商品）。
//
// 商品 ID 全局递增，避免不同分组之间重复。
func DemoCategories() []Category {
	const perGroup = 5
	categories := make([]Category, 0, len(demoGroups))
	var id int64
	for _, name := range demoGroups {
		products := make([]Product, 0, perGroup)
		for i := 0; i < perGroup; i++ {
			id++
			products = append(products, Product{
				ID:        id,
				Name:      fmt.Sprintf("%s %d", name, i+1),
				Category:  name,
				Weight:    decimal.NewFromFloat(0.5).Mul(decimal.NewFromInt(int64(i + 1))),
				LaborCost: decimal.NewFromInt(int64(100000 * (i + 1))),
				ImageURL:  fmt.Sprintf("https://picsum.photos/seed/%s%d/100/100", url.PathEscape(name), i),
			})
		}
		categories = append(categories, Category{Name: name, Products: products})
	}
	return categories
}
