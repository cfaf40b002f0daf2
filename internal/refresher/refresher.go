package refresher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kimhanh/internal/catalog"
	"kimhanh/internal/goldprice"
	"kimhanh/internal/pkg/queue"
)

const (
	jobCatalog = "catalog"
	jobGold    = "gold_price"
)

// ErrNoSource 没有配置数据源。
var ErrNoSource = errors.New("catalog source not configured")

// Source 目录与金价数据源。
type Source interface {
	FetchCatalog(ctx context.Context) ([]catalog.Category, error)
	FetchGoldPrice(ctx context.Context) (goldprice.Price, error)
}

// Report 一次刷新的结果，两个数据源各自报告。
type Report struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Products     int       `json:"products"`
	GoldLoaded   bool      `json:"gold_loaded"`
	CatalogError string    `json:"catalog_error,omitempty"`
	GoldError    string    `json:"gold_error,omitempty"`
	Discarded    bool      `json:"discarded,omitempty"` // 刷新器已停止，结果未应用
}

// OK 两个数据源是否都成功。
func (r Report) OK() bool {
	return r.CatalogError == "" && r.GoldError == "" && !r.Discarded
}

// Refresher 并发拉取目录与金价并写入内存存储。
type Refresher struct {
	src    Source
	store  *catalog.Store
	feed   *goldprice.Feed
	q      *queue.Queue
	logger *slog.Logger

	stopped atomic.Bool
	mu      sync.RWMutex
	last    *Report
}

// New 创建刷新器。q 需要已经 Start。
func New(src Source, store *catalog.Store, feed *goldprice.Feed, q *queue.Queue, logger *slog.Logger) *Refresher {
	return &Refresher{src: src, store: store, feed: feed, q: q, logger: logger}
}

// Refresh 执行一次刷新。
//
// 目录与金价在 worker 池中并发拉取，任一失败不影响另一个。
// 失败时保留已有数据（首次加载失败则目录为空、金价未加载）。
// 刷新器已 Stop 时丢弃结果。
func (r *Refresher) Refresh(ctx context.Context) Report {
	report := Report{StartedAt: time.Now()}

	var (
		categories []catalog.Category
		price      goldprice.Price
	)
	g := r.q.NewGroup()
	g.Go(ctx, jobCatalog, func(ctx context.Context) error {
		if r.src == nil {
			return ErrNoSource
		}
		cats, err := r.src.FetchCatalog(ctx)
		if err != nil {
			return err
		}
		categories = cats
		return nil
	})
	g.Go(ctx, jobGold, func(ctx context.Context) error {
		if r.src == nil {
			return ErrNoSource
		}
		p, err := r.src.FetchGoldPrice(ctx)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	errs := g.Wait()
	report.FinishedAt = time.Now()

	if r.stopped.Load() {
		report.Discarded = true
		r.logger.Info("refresh finished after stop, results discarded")
		return report
	}

	if err := errs[jobCatalog]; err != nil {
		report.CatalogError = err.Error()
	} else {
		r.store.Replace(categories)
	}
	if err := errs[jobGold]; err != nil {
		report.GoldError = err.Error()
	} else {
		r.feed.Set(price)
	}
	report.Products = len(r.store.AllProducts())
	_, report.GoldLoaded = r.feed.Current()

	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()

	r.logger.Info("refresh completed",
		slog.Int("products", report.Products),
		slog.Bool("gold_loaded", report.GoldLoaded),
		slog.String("catalog_error", report.CatalogError),
		slog.String("gold_error", report.GoldError),
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report
}

// Last 最近一次已应用的刷新结果。
func (r *Refresher) Last() (Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Stop 标记刷新器已停止，之后完成的刷新不再写入存储。
func (r *Refresher) Stop() {
	r.stopped.Store(true)
}

// Run 立即刷新一次，然后按 interval 周期刷新，直到 ctx 结束。
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	defer r.Stop()
	r.Refresh(ctx)
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}
