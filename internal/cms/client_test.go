package cms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kimhanh/internal/config"
	"kimhanh/internal/pkg/logger"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*config.CMSConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.CMSConfig{BaseURL: srv.URL + "/api", Token: "secret"}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg, logger.Discard())
}

func TestFetchCategories_StrapiV4Shape(t *testing.T) {
	body := `{"data":[{"id":1,"attributes":{"name":"Nhẫn","products":{"data":[
		{"id":11,"attributes":{"name":"Nhẫn trơn","weight":"1.5","laborCost":200000,
		 "images":{"data":[{"id":3,"attributes":{"url":"/uploads/n1.png","formats":{"large":{"url":"/uploads/large_n1.png"}}}}]}}}
	]}}}]}`
	var gotAuth, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(body))
	}, nil)

	cats, err := c.FetchCategories(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("missing bearer token, got %q", gotAuth)
	}
	if gotPath != "/api/categories" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if len(cats) != 1 || cats[0].Name != "Nhẫn" || len(cats[0].Products) != 1 {
		t.Fatalf("unexpected categories: %+v", cats)
	}
	p := cats[0].Products[0]
	if p.ID != 11 || p.Category != "Nhẫn" {
		t.Fatalf("unexpected product: %+v", p)
	}
	if !p.Weight.Equal(decimal.RequireFromString("1.5")) || !p.LaborCost.Equal(decimal.NewFromInt(200000)) {
		t.Fatalf("numbers not normalized: weight=%s labor=%s", p.Weight, p.LaborCost)
	}
	base := strings.TrimSuffix(c.baseURL, "/api")
	if got := p.PrimaryImage(); got != base+"/uploads/large_n1.png" {
		t.Fatalf("primary image = %q", got)
	}
}

func TestFetchProducts_FlatShapeGroupedByCategory(t *testing.T) {
	body := `[
		{"id":1,"name":"Bông A","category":"Bông","goldWeight":0.5,"labor_cost":"50000","image":"https://cdn/a.png"},
		{"id":2,"name":"Dây A","category":{"data":{"id":9,"attributes":{"name":"Dây"}}}},
		{"documentId":"abc","name":"Bông B","category":"Bông"},
		{"id":4}
	]`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}, func(cfg *config.CMSConfig) { cfg.CatalogSource = "products" })

	cats, err := c.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(cats) != 3 {
		t.Fatalf("expected 3 groups, got %d: %+v", len(cats), cats)
	}
	if cats[0].Name != "Bông" || len(cats[0].Products) != 2 {
		t.Fatalf("first group wrong: %+v", cats[0])
	}
	if cats[1].Name != "Dây" || cats[2].Name != otherCategory {
		t.Fatalf("group order wrong: %s, %s", cats[1].Name, cats[2].Name)
	}
	a := cats[0].Products[0]
	if !a.Weight.Equal(decimal.RequireFromString("0.5")) || !a.LaborCost.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("alternate field names not read: %+v", a)
	}
	if a.PrimaryImage() != "https://cdn/a.png" {
		t.Fatalf("string media not read: %q", a.PrimaryImage())
	}
	if b := cats[0].Products[1]; b.ID <= 0 {
		t.Fatalf("documentId-only product needs a stable id, got %d", b.ID)
	}
	if unnamed := cats[2].Products[0]; unnamed.Name != "Unnamed product" || !unnamed.Weight.IsZero() {
		t.Fatalf("defaults not applied: %+v", unnamed)
	}
}

func TestFetchGoldPrice_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"v4_single", `{"data":{"id":1,"attributes":{"buyPrice":"7500000","sellPrice":7700000,"updatedAt":"2024-01-01"}}}`, true},
		{"v5_flat", `{"data":{"buyPrice":7500000,"sellPrice":"7700000","updatedAt":"2024-01-01"}}`, true},
		{"array", `{"data":[{"buyPrice":7500000,"sellPrice":7700000}]}`, true},
		{"bare", `{"buy_price":7500000,"sell_price":7700000}`, true},
		{"empty", `{"data":null}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}, nil)
			p, err := c.FetchGoldPrice(context.Background())
			if !tt.ok {
				if !errors.Is(err, ErrNoGoldPrice) {
					t.Fatalf("expected ErrNoGoldPrice, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if !p.Sell.Equal(decimal.NewFromInt(7700000)) || !p.Buy.Equal(decimal.NewFromInt(7500000)) {
				t.Fatalf("unexpected price: %+v", p)
			}
		})
	}
}

func TestFetch_ErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"top_level", http.StatusBadRequest, `{"message":"bad query"}`, "bad query"},
		{"nested", http.StatusForbidden, `{"data":null,"error":{"status":403,"message":"Forbidden"}}`, "Forbidden"},
		{"plain_text", http.StatusBadGateway, `upstream down`, "upstream down"},
		{"empty", http.StatusInternalServerError, ``, "Request failed with status 500."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, nil)
			_, err := c.FetchCategories(context.Background())
			if err == nil || err.Error() != tt.want {
				t.Fatalf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *config.CMSConfig) { cfg.Timeout = 50 * time.Millisecond })
	defer close(release)

	_, err := c.FetchGoldPrice(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(config.CMSConfig{}, logger.Discard())
	if c.Configured() {
		t.Fatalf("expected unconfigured client")
	}
	if _, err := c.FetchCategories(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		base, endpoint, want string
	}{
		{"http://cms/api", "/products", "http://cms/api/products"},
		{"http://cms/api", "/api/products", "http://cms/api/products"},
		{"http://cms", "/products", "http://cms/api/products"},
		{"http://cms", "/api/products", "http://cms/api/products"},
		{"http://cms/api/", "gold-price", "http://cms/api/gold-price"},
	}
	for _, tt := range tests {
		c := NewClient(config.CMSConfig{BaseURL: tt.base}, logger.Discard())
		if got := c.buildURL(tt.endpoint); got != tt.want {
			t.Fatalf("buildURL(%q, %q) = %q, want %q", tt.base, tt.endpoint, got, tt.want)
		}
	}
}
