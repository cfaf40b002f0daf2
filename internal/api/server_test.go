package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"kimhanh/internal/advisor"
	"kimhanh/internal/catalog"
	"kimhanh/internal/config"
	"kimhanh/internal/export"
	"kimhanh/internal/goldprice"
	"kimhanh/internal/persist"
	"kimhanh/internal/pkg/logger"
	"kimhanh/internal/refresher"
	"kimhanh/internal/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type staticGenerator struct{}

func (staticGenerator) Generate(ctx context.Context, contents []advisor.Message) (string, error) {
	return "tư vấn: " + contents[len(contents)-1].Content, nil
}

type fakeStatus struct {
	report refresher.Report
	ok     bool
}

func (f fakeStatus) Last() (refresher.Report, bool) { return f.report, f.ok }

type fakeExporter struct {
	calls int
	last  export.Document
	err   error
}

func (f *fakeExporter) Render(ctx context.Context, doc export.Document, format export.Format) ([]byte, error) {
	f.calls++
	f.last = doc
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%" + string(format)), nil
}

type testEnv struct {
	srv      *Server
	mr       *miniredis.Miniredis
	exporter *fakeExporter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Discard()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := persist.NewRedisStore(rdb, "test")

	cat := catalog.NewStore()
	cat.Replace(catalog.DemoCategories())
	feed := goldprice.NewFeed()
	feed.Set(goldprice.Price{Buy: decimal.NewFromInt(9_800_000), Sell: decimal.NewFromInt(10_000_000), UpdatedAt: "2026-10-01"})

	mgr := session.NewManager(session.Deps{
		Catalog:     cat,
		Feed:        feed,
		Collections: persist.NewBridge(store, log),
		Customers:   store,
		Advisor:     advisor.New(staticGenerator{}, nil, nil, log),
		Units:       10,
		Logger:      log,
	}, time.Hour)
	t.Cleanup(mgr.CloseAll)

	exp := &fakeExporter{}
	s := &Server{
		cfg: &config.Config{App: config.AppConfig{
			Env:                   "local",
			JWTSecret:             "test-secret",
			UnitsPerPrincipalUnit: 10,
		}},
		logger:    log,
		rdb:       rdb,
		catalog:   cat,
		feed:      feed,
		sessions:  mgr,
		exporter:  exp,
		advisorOn: true,
		status: fakeStatus{ok: true, report: refresher.Report{
			Products:     35,
			GoldLoaded:   true,
			CatalogError: "",
		}},
	}
	s.checks = []healthCheck{{name: "redis", check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }}}
	s.initRouter()
	return &testEnv{srv: s, mr: mr, exporter: exp}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) newSession(t *testing.T) createSessionResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/sessions", "", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", w.Code, w.Body.String())
	}
	var resp createSessionResponse
	decode(t, w, &resp)
	if resp.SessionID == "" || resp.Token == "" {
		t.Fatalf("empty session response: %+v", resp)
	}
	return resp
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type snapshotBody struct {
	Items []struct {
		InstanceID   int64   `json:"instance_id"`
		Quantity     int     `json:"quantity"`
		X            float64 `json:"x"`
		Y            float64 `json:"y"`
		DisplayWidth float64 `json:"display_width"`
		ImageURL     string  `json:"image_url"`
	} `json:"items"`
	Summary struct {
		TotalWeight    decimal.Decimal `json:"total_weight"`
		TotalLaborCost decimal.Decimal `json:"total_labor_cost"`
		PricePerUnit   decimal.Decimal `json:"price_per_unit"`
		TotalPrice     decimal.Decimal `json:"total_price"`
	} `json:"summary"`
}

func (e *testEnv) addItem(t *testing.T, token string, productID int64) int64 {
	t.Helper()
	w := e.do(t, http.MethodPost, "/session/items", token, gin.H{"product_id": productID})
	if w.Code != http.StatusCreated {
		t.Fatalf("add item: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Item struct {
			InstanceID int64 `json:"instance_id"`
		} `json:"item"`
	}
	decode(t, w, &resp)
	return resp.Item.InstanceID
}

func itemPath(id int64, suffix string) string {
	return "/session/items/" + strconv.FormatInt(id, 10) + suffix
}

func wedding() gin.H {
	return gin.H{
		"purchase_type": "wedding",
		"primary":       gin.H{"name": "Lan", "dob": "1995-03-02"},
		"partner":       gin.H{"name": "Minh", "dob": "1994-07-09"},
		"phone":         "0900000001",
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	env.mr.SetError("LOADING redis is loading")
	if w := env.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz after redis down = %d", w.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/catalog", "", nil)
	var cat struct {
		Loaded     bool               `json:"loaded"`
		Categories []catalog.Category `json:"categories"`
	}
	decode(t, w, &cat)
	if !cat.Loaded || len(cat.Categories) != 7 {
		t.Fatalf("catalog = loaded %v, %d categories", cat.Loaded, len(cat.Categories))
	}

	w = env.do(t, http.MethodGet, "/catalog/search?q=nhan", "", nil)
	var search struct {
		Products []catalog.Product `json:"products"`
	}
	decode(t, w, &search)
	if len(search.Products) != 5 {
		t.Fatalf("search nhan = %d products", len(search.Products))
	}

	w = env.do(t, http.MethodGet, "/gold-price", "", nil)
	var gold struct {
		Loaded       bool            `json:"loaded"`
		PricePerUnit decimal.Decimal `json:"price_per_unit"`
	}
	decode(t, w, &gold)
	if !gold.Loaded || !gold.PricePerUnit.Equal(decimal.NewFromInt(1_000_000)) {
		t.Fatalf("gold = %+v", gold)
	}

	w = env.do(t, http.MethodGet, "/status", "", nil)
	var status struct {
		Refreshed bool             `json:"refreshed"`
		Report    refresher.Report `json:"report"`
	}
	decode(t, w, &status)
	if !status.Refreshed || status.Report.Products != 35 {
		t.Fatalf("status = %+v", status)
	}
}

func TestSessionRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/session/canvas", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/session/canvas", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", w.Code)
	}

	sess := env.newSession(t)
	env.srv.sessions.Remove(sess.SessionID)
	if w := env.do(t, http.MethodGet, "/session/canvas", sess.Token, nil); w.Code != http.StatusGone {
		t.Fatalf("removed session = %d", w.Code)
	}
}

func TestCanvasFlow(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t)

	first := env.addItem(t, sess.Token, 1)
	second := env.addItem(t, sess.Token, 2)

	w := env.do(t, http.MethodGet, "/session/canvas", sess.Token, nil)
	var snap snapshotBody
	decode(t, w, &snap)
	if len(snap.Items) != 2 || snap.Items[0].X != 80 || snap.Items[1].X != 260 {
		t.Fatalf("unexpected grid placement: %+v", snap.Items)
	}

	// 非法数量被拒绝，画布不变
	for _, raw := range []string{`{"quantity":"0"}`, `{"quantity":"abc"}`, `{"quantity":-1}`, `{"quantity":1.5}`, `{}`} {
		if w := env.do(t, http.MethodPatch, itemPath(first, "/quantity"), sess.Token, raw); w.Code != http.StatusBadRequest {
			t.Fatalf("quantity %s = %d", raw, w.Code)
		}
	}

	w = env.do(t, http.MethodPatch, itemPath(first, "/quantity"), sess.Token, `{"quantity":"3"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("quantity 3 = %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodDelete, itemPath(second, ""), sess.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	decode(t, w, &snap)
	if len(snap.Items) != 1 || snap.Items[0].Quantity != 3 {
		t.Fatalf("after delete: %+v", snap.Items)
	}
	// 0.5 * 3 = 1.5 chỉ; 1.5 * 1.000.000 + 300.000
	if !snap.Summary.TotalWeight.Equal(decimal.NewFromFloat(1.5)) ||
		!snap.Summary.TotalLaborCost.Equal(decimal.NewFromInt(300_000)) ||
		!snap.Summary.TotalPrice.Equal(decimal.NewFromInt(1_800_000)) {
		t.Fatalf("summary = %+v", snap.Summary)
	}

	w = env.do(t, http.MethodPatch, itemPath(first, "/width"), sess.Token, gin.H{"width": 9999})
	decode(t, w, &snap)
	if snap.Items[0].DisplayWidth != 420 {
		t.Fatalf("width not clamped: %v", snap.Items[0].DisplayWidth)
	}

	w = env.do(t, http.MethodPatch, itemPath(first, "/position"), sess.Token, gin.H{"x": 10, "y": 20})
	decode(t, w, &snap)
	if snap.Items[0].X != 10 || snap.Items[0].Y != 20 {
		t.Fatalf("position = %v,%v", snap.Items[0].X, snap.Items[0].Y)
	}

	w = env.do(t, http.MethodPost, itemPath(first, "/drag"), sess.Token, gin.H{
		"kind":   "move",
		"deltas": []gin.H{{"dx": 5, "dy": 5}, {"dx": 30, "dy": 40}},
	})
	decode(t, w, &snap)
	if snap.Items[0].X != 40 || snap.Items[0].Y != 60 {
		t.Fatalf("drag = %v,%v", snap.Items[0].X, snap.Items[0].Y)
	}
}

func TestCanvasNoOps(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t)

	first := env.addItem(t, sess.Token, 1)
	second := env.addItem(t, sess.Token, 2)

	w := env.do(t, http.MethodPost, "/session/items/reorder", sess.Token, gin.H{"from": 1, "to": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("same-index reorder = %d %s", w.Code, w.Body.String())
	}
	var snap snapshotBody
	decode(t, w, &snap)
	if len(snap.Items) != 2 || snap.Items[0].InstanceID != first || snap.Items[1].InstanceID != second {
		t.Fatalf("same-index reorder changed the canvas: %+v", snap.Items)
	}

	w = env.do(t, http.MethodDelete, itemPath(424242, ""), sess.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("removing an unknown item = %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &snap)
	if len(snap.Items) != 2 {
		t.Fatalf("unknown remove changed the canvas: %+v", snap.Items)
	}
}

func TestCanvasErrors(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown product", http.MethodPost, "/session/items", gin.H{"product_id": 9999}, http.StatusNotFound},
		{"missing product id", http.MethodPost, "/session/items", gin.H{}, http.StatusBadRequest},
		{"unknown instance position", http.MethodPatch, itemPath(42, "/position"), gin.H{"x": 1, "y": 2}, http.StatusNotFound},
		{"bad instance id", http.MethodDelete, "/session/items/abc", nil, http.StatusBadRequest},
		{"position missing y", http.MethodPatch, itemPath(42, "/position"), gin.H{"x": 1}, http.StatusBadRequest},
		{"bad gesture", http.MethodPost, itemPath(42, "/drag"), gin.H{"kind": "spin"}, http.StatusBadRequest},
		{"reorder out of range", http.MethodPost, "/session/items/reorder", gin.H{"from": 0, "to": 3}, http.StatusBadRequest},
		{"phone too long", http.MethodPut, "/session/identity", gin.H{"purchase_type": "regular", "primary": gin.H{"name": "Lan", "dob": "1995-03-02"}, "phone": strings.Repeat("9", 40)}, http.StatusBadRequest},
		{"save without identity", http.MethodPost, "/session/save", nil, http.StatusConflict},
		{"chat without identity", http.MethodPost, "/session/chat", gin.H{"message": "xin chào"}, http.StatusConflict},
		{"empty chat", http.MethodPost, "/session/chat", gin.H{"message": "  "}, http.StatusBadRequest},
		{"invalid identity", http.MethodPut, "/session/identity", gin.H{"purchase_type": "regular", "primary": gin.H{"name": "Lan"}}, http.StatusBadRequest},
		{"bad export format", http.MethodGet, "/session/export?format=gif", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := env.do(t, tc.method, tc.path, sess.Token, tc.body)
		if w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d (%s)", tc.name, w.Code, tc.want, w.Body.String())
		}
	}
}

func TestIdentityLoadsSavedCollection(t *testing.T) {
	env := newTestEnv(t)

	first := env.newSession(t)
	w := env.do(t, http.MethodPut, "/session/identity", first.Token, wedding())
	if w.Code != http.StatusOK {
		t.Fatalf("set identity: %d %s", w.Code, w.Body.String())
	}
	var idResp struct {
		Chat []advisor.Message `json:"chat"`
	}
	decode(t, w, &idResp)
	if len(idResp.Chat) != 1 || idResp.Chat[0].Role != advisor.RoleModel {
		t.Fatalf("expected initial advice, got %+v", idResp.Chat)
	}

	env.addItem(t, first.Token, 3)
	env.addItem(t, first.Token, 4)
	if w := env.do(t, http.MethodPost, "/session/save", first.Token, nil); w.Code != http.StatusOK {
		t.Fatalf("save: %d %s", w.Code, w.Body.String())
	}

	second := env.newSession(t)
	w = env.do(t, http.MethodPut, "/session/identity", second.Token, wedding())
	var loaded struct {
		Canvas snapshotBody `json:"canvas"`
	}
	decode(t, w, &loaded)
	if len(loaded.Canvas.Items) != 2 {
		t.Fatalf("second session loaded %d items", len(loaded.Canvas.Items))
	}

	w = env.do(t, http.MethodGet, "/session/identity", second.Token, nil)
	var got struct {
		Set      bool `json:"set"`
		Identity struct {
			Phone string `json:"phone"`
		} `json:"identity"`
	}
	decode(t, w, &got)
	if !got.Set || got.Identity.Phone != "0900000001" {
		t.Fatalf("identity = %+v", got)
	}
}

func TestChat(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t)
	env.do(t, http.MethodPut, "/session/identity", sess.Token, wedding())

	w := env.do(t, http.MethodPost, "/session/chat", sess.Token, gin.H{"message": "màu nào hợp?"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Reply advisor.Message `json:"reply"`
	}
	decode(t, w, &resp)
	if resp.Reply.Content != "tư vấn: màu nào hợp?" {
		t.Fatalf("reply = %q", resp.Reply.Content)
	}

	w = env.do(t, http.MethodGet, "/session/chat", sess.Token, nil)
	var history struct {
		Messages []advisor.Message `json:"messages"`
	}
	decode(t, w, &history)
	if len(history.Messages) != 3 {
		t.Fatalf("history = %d messages", len(history.Messages))
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t)
	env.addItem(t, sess.Token, 1)

	w := env.do(t, http.MethodGet, "/session/export?format=pdf", sess.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if env.exporter.calls != 1 || len(env.exporter.last.Items) != 1 || env.exporter.last.Customer != nil {
		t.Fatalf("exporter got %+v", env.exporter.last)
	}

	env.exporter.err = errors.New("browser crashed")
	if w := env.do(t, http.MethodGet, "/session/export", sess.Token, nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("failed export = %d", w.Code)
	}
}

func TestSeedDemoCatalog(t *testing.T) {
	env := newTestEnv(t)
	if env.srv.SeedDemoCatalog() {
		t.Fatalf("loaded catalog should not be replaced")
	}

	env.srv.catalog = catalog.NewStore()
	if !env.srv.SeedDemoCatalog() || len(env.srv.catalog.AllProducts()) != 35 {
		t.Fatalf("demo catalog not seeded")
	}

	env.srv.catalog = catalog.NewStore()
	env.srv.cfg.App.Env = "prod"
	if env.srv.SeedDemoCatalog() {
		t.Fatalf("demo catalog seeded outside local")
	}
}
