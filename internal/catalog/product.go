package catalog

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// PlaceholderImage 所有图片都无法解析时使用的占位图。
const PlaceholderImage = "/placeholder.png"

// formatPriority 图片尺寸的优先顺序，最后回退到原图 URL。
var formatPriority = []string{"large", "medium", "small", "thumbnail"}

// Image 商品图片及其多尺寸版本。
type Image struct {
	URL     string            `json:"url,omitempty"`
	Name    string            `json:"name,omitempty"`
	Formats map[string]string `json:"formats,omitempty"` // large / medium / small / thumbnail -> URL
}

// BestURL 按 large → medium → small → thumbnail → 原图 的顺序返回第一个可用 URL。
func (img Image) BestURL() string {
	for _, key := range formatPriority {
		if u := strings.TrimSpace(img.Formats[key]); u != "" {
			return u
		}
	}
	return strings.TrimSpace(img.URL)
}

// Product 表示目录中的一件商品。
//
// Weight 单位为“chỉ”，LaborCost 为工费（VND）。两者缺省为 0。
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Weight    decimal.Decimal `json:"weight"`
	LaborCost decimal.Decimal `json:"labor_cost"`
	Images    []Image         `json:"images,omitempty"`
	ImageURL  string          `json:"image_url,omitempty"`
}

// Category 商品分组。
type Category struct {
	Name     string    `json:"name"`
	Products []Product `json:"products"`
}

// FrameURLs 返回商品所有可展示图片的 URL（去重且保持顺序）。
func (p Product) FrameURLs() []string {
	frames := make([]string, 0, len(p.Images)+1)
	seen := make(map[string]struct{}, len(p.Images)+1)
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		frames = append(frames, u)
	}
	add(strings.TrimSpace(p.ImageURL))
	for _, img := range p.Images {
		add(img.BestURL())
	}
	return frames
}

// PrimaryImage 返回商品主图，没有任何图片时返回占位图。
func (p Product) PrimaryImage() string {
	frames := p.FrameURLs()
	if len(frames) == 0 {
		return PlaceholderImage
	}
	return frames[0]
}

// VariantIndex 返回数量对应的图片下标：min(quantity, n) - 1。
//
// 没有图片时返回 -1；数量小于 1 时按 1 处理。
func VariantIndex(quantity, n int) int {
	if n <= 0 {
		return -1
	}
	if quantity < 1 {
		quantity = 1
	}
	if quantity > n {
		quantity = n
	}
	return quantity - 1
}

var numberedName = regexp.MustCompile(`^(.*?)(\d+)(\.[^.]*)?$`)

// VariantURL 返回指定数量时展示的图片 URL。
//
// 先尝试按文件名数字后缀匹配（如 nhantron1 / nhantron2），匹配不到时按 VariantIndex 取图。
func (p Product) VariantURL(quantity int) string {
	if len(p.Images) == 0 {
		return p.PrimaryImage()
	}

	if m := numberedName.FindStringSubmatch(imageKey(p.Images[0])); m != nil {
		target := m[1] + strconv.Itoa(quantity)
		for _, img := range p.Images {
			if strings.Contains(imageKey(img), target) {
				if u := img.BestURL(); u != "" {
					return u
				}
			}
		}
	}

	if u := p.Images[VariantIndex(quantity, len(p.Images))].BestURL(); u != "" {
		return u
	}
	return p.PrimaryImage()
}

func imageKey(img Image) string {
	if img.Name != "" {
		return img.Name
	}
	if img.URL != "" {
		return img.URL
	}
	return img.Formats["medium"]
}
