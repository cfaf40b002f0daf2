package cms

import (
	"encoding/json"
	"hash/fnv"
	"strconv"
	"strings"

	"kimhanh/internal/catalog"
	"kimhanh/internal/goldprice"

	"github.com/shopspring/decimal"
)

// 本文件是后台响应进入系统的唯一入口：无论返回哪种结构，
// 下游只看到 catalog.Product / catalog.Category / goldprice.Price。

const otherCategory = "Other"

type record = map[string]any

func asRecord(v any) (record, bool) {
	r, ok := v.(map[string]any)
	return r, ok
}

// normalizeEntity 展开 {id, attributes:{...}} 包装，保留外层 id/documentId。
func normalizeEntity(v any) record {
	r, ok := asRecord(v)
	if !ok {
		return record{}
	}
	attrs, ok := asRecord(r["attributes"])
	if !ok {
		return r
	}
	out := make(record, len(attrs)+2)
	for k, val := range attrs {
		out[k] = val
	}
	if id, ok := r["id"]; ok && id != nil {
		out["id"] = id
	}
	if doc, ok := r["documentId"]; ok && doc != nil {
		out["documentId"] = doc
	}
	return out
}

// collectionData 接受 [...]、{data:[...]}、{data:{...}} 三种形式。
func collectionData(payload any) []record {
	if arr, ok := payload.([]any); ok {
		return normalizeAll(arr)
	}
	r, ok := asRecord(payload)
	if !ok {
		return nil
	}
	switch data := r["data"].(type) {
	case []any:
		return normalizeAll(data)
	case map[string]any:
		return []record{normalizeEntity(data)}
	}
	return nil
}

// singleData 取单个实体；{data:[...]} 时取第一个，没有数据时返回 nil。
func singleData(payload any) record {
	r, ok := asRecord(payload)
	if !ok {
		return nil
	}
	data, hasData := r["data"]
	if !hasData {
		return normalizeEntity(r)
	}
	switch d := data.(type) {
	case []any:
		if len(d) == 0 {
			return nil
		}
		return normalizeEntity(d[0])
	case map[string]any:
		return normalizeEntity(d)
	}
	return nil
}

func normalizeAll(arr []any) []record {
	out := make([]record, 0, len(arr))
	for _, item := range arr {
		out = append(out, normalizeEntity(item))
	}
	return out
}

// relationData 读取关联字段：[...]、{data:[...]}、{data:{...}}。
func relationData(v any) []record {
	switch rel := v.(type) {
	case []any:
		return normalizeAll(rel)
	case map[string]any:
		if _, ok := rel["data"]; ok {
			return collectionData(rel)
		}
		return []record{normalizeEntity(rel)}
	}
	return nil
}

func toText(v any, fallback string) string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return s
		}
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fallback
}

// toDecimal 数字或数字字符串转 decimal，无法解析时为 0。
func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case json.Number:
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(t)
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(t)); err == nil {
			return d
		}
	}
	return decimal.Zero
}

// firstDecimal 按顺序取第一个存在的字段。
func firstDecimal(r record, keys ...string) decimal.Decimal {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return toDecimal(v)
		}
	}
	return decimal.Zero
}

func firstText(r record, keys ...string) string {
	for _, k := range keys {
		if s := toText(r[k], ""); s != "" {
			return s
		}
	}
	return ""
}

// entityID 数字 id 直接使用；只有字符串 documentId 时取稳定哈希。
func entityID(r record) int64 {
	if s := toText(r["id"], ""); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	doc := toText(r["documentId"], toText(r["id"], ""))
	if doc == "" {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(doc))
	return int64(h.Sum64() & (1<<62 - 1))
}

type urlResolver func(string) string

// mediaImages 媒体字段可以是字符串、对象、{data:...} 或数组。
func mediaImages(field any, abs urlResolver) []catalog.Image {
	switch m := field.(type) {
	case string:
		if s := strings.TrimSpace(m); s != "" {
			return []catalog.Image{{URL: abs(s)}}
		}
	case []any:
		var out []catalog.Image
		for _, item := range m {
			out = append(out, mediaImages(item, abs)...)
		}
		return out
	case map[string]any:
		if data, ok := m["data"]; ok {
			return mediaImages(data, abs)
		}
		entity := normalizeEntity(m)
		img := catalog.Image{
			URL:  abs(toText(entity["url"], "")),
			Name: toText(entity["name"], ""),
		}
		if formats, ok := asRecord(entity["formats"]); ok {
			img.Formats = make(map[string]string, len(formats))
			for key, f := range formats {
				if fr, ok := asRecord(f); ok {
					if u := toText(fr["url"], ""); u != "" {
						img.Formats[key] = abs(u)
					}
				}
			}
		}
		if img.URL == "" && len(img.Formats) == 0 {
			return nil
		}
		return []catalog.Image{img}
	}
	return nil
}

// categoryLabel 产品的分类字段可以是字符串或关联实体。
func categoryLabel(v any) string {
	if s := toText(v, ""); s != "" {
		return s
	}
	for _, r := range relationData(v) {
		if name := firstText(r, "name", "title"); name != "" {
			return name
		}
	}
	return ""
}

func productFromEntry(entry record, category string, abs urlResolver) catalog.Product {
	if category == "" {
		category = categoryLabel(entry["category"])
	}
	if category == "" {
		category = otherCategory
	}
	p := catalog.Product{
		ID:        entityID(entry),
		Name:      toText(entry["name"], "Unnamed product"),
		Category:  category,
		Weight:    firstDecimal(entry, "weight", "goldWeight", "gold_weight"),
		LaborCost: firstDecimal(entry, "laborCost", "labor_cost"),
	}
	p.Images = append(p.Images, mediaImages(entry["images"], abs)...)
	p.Images = append(p.Images, mediaImages(entry["image"], abs)...)
	if u := toText(entry["imageUrl"], ""); u != "" {
		p.ImageURL = abs(u)
	}
	return p
}

// categoriesFromPayload 解析分类接口（分类内嵌产品）。
func categoriesFromPayload(payload any, abs urlResolver) []catalog.Category {
	entries := collectionData(payload)
	out := make([]catalog.Category, 0, len(entries))
	for _, entry := range entries {
		name := toText(entry["name"], otherCategory)
		cat := catalog.Category{Name: name}
		for _, pe := range relationData(entry["products"]) {
			cat.Products = append(cat.Products, productFromEntry(pe, name, abs))
		}
		out = append(out, cat)
	}
	return out
}

// productsFromPayload 解析扁平产品接口，按分类标签分组并保持首次出现顺序。
func productsFromPayload(payload any, abs urlResolver) []catalog.Category {
	var out []catalog.Category
	index := make(map[string]int)
	for _, entry := range collectionData(payload) {
		p := productFromEntry(entry, "", abs)
		i, ok := index[p.Category]
		if !ok {
			i = len(out)
			index[p.Category] = i
			out = append(out, catalog.Category{Name: p.Category})
		}
		out[i].Products = append(out[i].Products, p)
	}
	return out
}

// goldPriceFromPayload 解析金价，返回是否存在数据。
func goldPriceFromPayload(payload any) (goldprice.Price, bool) {
	entry := singleData(payload)
	if entry == nil {
		return goldprice.Price{}, false
	}
	return goldprice.Price{
		Buy:       firstDecimal(entry, "buyPrice", "buy_price"),
		Sell:      firstDecimal(entry, "sellPrice", "sell_price"),
		UpdatedAt: firstText(entry, "updatedAt", "updated_at"),
	}, true
}

// extractErrorMessage 优先取 message，其次 error.message。
func extractErrorMessage(payload any, status int) string {
	if r, ok := asRecord(payload); ok {
		if msg := toText(r["message"], ""); msg != "" {
			return msg
		}
		if nested, ok := asRecord(r["error"]); ok {
			if msg := toText(nested["message"], ""); msg != "" {
				return msg
			}
		}
	}
	return "Request failed with status " + strconv.Itoa(status) + "."
}
