package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"kimhanh/internal/canvas"
	"kimhanh/internal/identity"
	"kimhanh/internal/pkg/notify"
	"kimhanh/internal/pricing"

	"github.com/shopspring/decimal"
)

//go:embed templates/collection.html
var templateFS embed.FS

var collectionTmpl = template.Must(template.New("collection.html").Funcs(template.FuncMap{
	"vnd": notify.FormatVND,
	"dec": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"px":  func(f float64) string { return strconv.FormatFloat(f, 'f', 0, 64) + "px" },
	"mul": func(d decimal.Decimal, n int) decimal.Decimal { return d.Mul(decimal.NewFromInt(int64(n))) },
}).ParseFS(templateFS, "templates/collection.html"))

const pageMargin = 80.0

// Document 导出所需的画布快照。
type Document struct {
	Customer    *identity.Identity
	Items       []canvas.PlacedItem
	Summary     pricing.Summary
	GeneratedAt time.Time
}

// Width 画布需要的宽度，至少覆盖所有实例。
func (d Document) Width() float64 {
	w := 1200.0
	for _, it := range d.Items {
		if right := it.X + it.DisplayWidth + pageMargin; right > w {
			w = right
		}
	}
	return w
}

// Height 画布需要的高度（图片按正方形估算）。
func (d Document) Height() float64 {
	h := 600.0
	for _, it := range d.Items {
		if bottom := it.Y + it.DisplayWidth + pageMargin; bottom > h {
			h = bottom
		}
	}
	return h
}

// RenderHTML 把快照渲染为独立的 HTML 页面。
func RenderHTML(doc Document) ([]byte, error) {
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = time.Now()
	}
	var buf bytes.Buffer
	if err := collectionTmpl.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("render collection html: %w", err)
	}
	return buf.Bytes(), nil
}
