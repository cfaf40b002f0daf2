package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"kimhanh/internal/catalog"
	"kimhanh/internal/config"
	"kimhanh/internal/goldprice"
	"kimhanh/internal/pkg/metrics"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrNotConfigured 未配置后台地址。
	ErrNotConfigured = errors.New("cms base url not configured")
	// ErrTimeout 请求超时。
	ErrTimeout = errors.New("the request timed out, please try again")
	// ErrNoGoldPrice 后台没有金价数据。
	ErrNoGoldPrice = errors.New("gold price not available")
)

// Client 内容后台（目录与金价）HTTP 客户端。
type Client struct {
	baseURL      string
	imageBaseURL string
	token        string
	source       string
	timeout      time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient 根据配置创建客户端。
func NewClient(cfg config.CMSConfig, logger *slog.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	img := strings.TrimRight(strings.TrimSpace(cfg.ImageBaseURL), "/")
	if img == "" {
		img = strings.TrimSuffix(base, "/api")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:      base,
		imageBaseURL: img,
		token:        strings.TrimSpace(cfg.Token),
		source:       cfg.CatalogSource,
		timeout:      timeout,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// Configured 是否配置了后台地址。
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// FetchCatalog 按配置的来源拉取目录（categories 或 products）。
func (c *Client) FetchCatalog(ctx context.Context) ([]catalog.Category, error) {
	if c.source == "products" {
		return c.FetchProducts(ctx)
	}
	return c.FetchCategories(ctx)
}

// FetchCategories 拉取分类及其产品。
func (c *Client) FetchCategories(ctx context.Context) ([]catalog.Category, error) {
	payload, err := c.get(ctx, "categories", "/categories?populate[products][populate][0]=images")
	if err != nil {
		return nil, err
	}
	return categoriesFromPayload(payload, c.absoluteURL), nil
}

// FetchProducts 拉取扁平产品列表并按分类标签分组。
func (c *Client) FetchProducts(ctx context.Context) ([]catalog.Category, error) {
	payload, err := c.get(ctx, "products", "/products?populate=*")
	if err != nil {
		return nil, err
	}
	return productsFromPayload(payload, c.absoluteURL), nil
}

// FetchGoldPrice 拉取当前金价。
func (c *Client) FetchGoldPrice(ctx context.Context) (goldprice.Price, error) {
	payload, err := c.get(ctx, "gold_price", "/gold-price")
	if err != nil {
		return goldprice.Price{}, err
	}
	p, ok := goldPriceFromPayload(payload)
	if !ok {
		return goldprice.Price{}, ErrNoGoldPrice
	}
	return p, nil
}

// get 发送 GET 请求并解析 JSON。
//
// 非 JSON 响应体会被当作错误消息；非 2xx 时从响应中提取错误信息。
func (c *Client) get(ctx context.Context, resource, endpoint string) (any, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	payload, err := c.do(ctx, endpoint)
	metrics.CMSFetchDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CMSFetchTotal.WithLabelValues(resource, "error").Inc()
		c.logger.Warn("cms fetch failed", slog.String("resource", resource), slog.String("error", err.Error()))
		return nil, err
	}
	metrics.CMSFetchTotal.WithLabelValues(resource, "success").Inc()
	return payload, nil
}

func (c *Client) do(ctx context.Context, endpoint string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var payload any
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			payload = map[string]any{"message": string(body)}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(extractErrorMessage(payload, resp.StatusCode))
	}
	return payload, nil
}

// buildURL 拼接接口地址，兼容 baseURL 是否以 /api 结尾。
func (c *Client) buildURL(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	if strings.HasSuffix(c.baseURL, "/api") {
		return c.baseURL + strings.TrimPrefix(endpoint, "/api")
	}
	if strings.HasPrefix(endpoint, "/api/") {
		return c.baseURL + endpoint
	}
	return c.baseURL + "/api" + endpoint
}

func (c *Client) absoluteURL(u string) string {
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return c.imageBaseURL + u
}
