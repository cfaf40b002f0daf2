package catalog

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Store 保存目录分组与商品，整体替换、并发只读。
type Store struct {
	mu         sync.RWMutex
	categories []Category
	byID       map[int64]Product
	loaded     bool
}

// NewStore 创建空的目录存储。
func NewStore() *Store {
	return &Store{byID: make(map[int64]Product)}
}

// Replace 用新的分组整体替换目录内容。
func (s *Store) Replace(categories []Category) {
	copied := make([]Category, len(categories))
	byID := make(map[int64]Product)
	for i, c := range categories {
		products := make([]Product, len(c.Products))
		for j, p := range c.Products {
			if p.Category == "" {
				p.Category = c.Name
			}
			products[j] = p
			if _, ok := byID[p.ID]; !ok && p.ID != 0 {
				byID[p.ID] = p
			}
		}
		copied[i] = Category{Name: c.Name, Products: products}
	}

	s.mu.Lock()
	s.categories = copied
	s.byID = byID
	s.loaded = true
	s.mu.Unlock()
}

// Loaded 目录是否至少成功加载过一次。
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Categories 返回分组的拷贝。
func (s *Store) Categories() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Category, len(s.categories))
	for i, c := range s.categories {
		out[i] = Category{Name: c.Name, Products: append([]Product(nil), c.Products...)}
	}
	return out
}

// CategoryNames 返回分组名称列表。
func (s *Store) CategoryNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.categories))
	for _, c := range s.categories {
		names = append(names, c.Name)
	}
	return names
}

// Product 按 ID 查找商品。
func (s *Store) Product(id int64) (Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

// AllProducts 返回按分组顺序展开、按 ID 去重后的商品列表。
func (s *Store) AllProducts() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]struct{}, len(s.byID))
	out := make([]Product, 0, len(s.byID))
	for _, c := range s.categories {
		for _, p := range c.Products {
			if p.ID == 0 {
				continue
			}
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Search 按名称或分组模糊搜索，忽略大小写与越南语声调。
func (s *Store) Search(keyword string) []Product {
	all := s.AllProducts()
	key := NormalizeForSearch(keyword)
	if key == "" {
		return all
	}
	out := make([]Product, 0)
	for _, p := range all {
		if strings.Contains(NormalizeForSearch(p.Name), key) || strings.Contains(NormalizeForSearch(p.Category), key) {
			out = append(out, p)
		}
	}
	return out
}

var dReplacer = strings.NewReplacer("đ", "d", "Đ", "D")

// NormalizeForSearch 去掉组合声调符号，đ/Đ 折叠为 d/D，转小写并去除首尾空白。
func NormalizeForSearch(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(strings.TrimSpace(dReplacer.Replace(folded)))
}
