package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"kimhanh/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	renderTimeout = 30 * time.Second
	imageSettle   = 2 * time.Second // 等待远程图片加载的最长时间
)

// Format 导出格式。
type Format string

const (
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
)

// ErrUnsupportedFormat 不支持的导出格式。
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat 解析查询参数，空值为 png。
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatPNG:
		return FormatPNG, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
}

// ContentType 对应的 MIME 类型。
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "image/png"
}

// Renderer 用无头浏览器把快照渲染为 PNG 或 PDF。
//
// 浏览器在第一次导出时启动并复用，Close 时退出。
type Renderer struct {
	cfg    config.BrowserConfig
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRenderer 创建渲染器，不会立即启动浏览器。
func NewRenderer(cfg config.BrowserConfig, logger *slog.Logger) *Renderer {
	return &Renderer{cfg: cfg, logger: logger}
}

// Render 渲染一份快照。
//
// 参数:
//
//	ctx: 上下文
//	doc: 画布快照
//	format: 导出格式
//
// 返回值:
//
//	[]byte: 文件内容
//	error: 渲染失败返回错误
func (r *Renderer) Render(ctx context.Context, doc Document, format Format) ([]byte, error) {
	if format != FormatPNG && format != FormatPDF {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	html, err := RenderHTML(doc)
	if err != nil {
		return nil, err
	}

	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			r.logger.Debug("close export page failed", slog.String("error", err.Error()))
		}
	}()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             int(math.Ceil(doc.Width())),
		Height:            int(math.Ceil(doc.Height())),
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetDocumentContent(string(html)); err != nil {
		return nil, fmt.Errorf("set document: %w", err)
	}
	if err := page.Timeout(imageSettle).WaitLoad(); err != nil {
		r.logger.Debug("export page load incomplete", slog.String("error", err.Error()))
	}

	start := time.Now()
	var out []byte
	switch format {
	case FormatPDF:
		stream, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true})
		if err != nil {
			return nil, fmt.Errorf("print pdf: %w", err)
		}
		out, err = io.ReadAll(stream)
		if err != nil {
			return nil, fmt.Errorf("read pdf: %w", err)
		}
	default:
		out, err = page.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
		if err != nil {
			return nil, fmt.Errorf("screenshot: %w", err)
		}
	}

	r.logger.Info("collection exported",
		slog.String("format", string(format)),
		slog.Int("items", len(doc.Items)),
		slog.Int("bytes", len(out)),
		slog.Duration("elapsed", time.Since(start)))
	return out, nil
}

// Close 退出浏览器。
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

func (r *Renderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}
	b, err := startBrowser(r.cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.browser = b
	return b, nil
}

// startBrowser 启动并连接浏览器。
//
// 未指定浏览器路径时自动下载默认版本；容器环境下关闭沙箱与 /dev/shm。
func startBrowser(cfg config.BrowserConfig, logger *slog.Logger) (*rod.Browser, error) {
	bin := cfg.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("hide-scrollbars", "true").
		Set("font-render-hinting", "none")

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	logger.Info("export browser started", slog.String("bin", bin), slog.Bool("headless", cfg.Headless))
	return browser, nil
}
