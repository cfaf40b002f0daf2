package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"kimhanh/internal/catalog"
	"kimhanh/internal/cms"
	"kimhanh/internal/config"
	"kimhanh/internal/goldprice"
	"kimhanh/internal/pkg/logger"
	"kimhanh/internal/pkg/queue"
	"kimhanh/internal/refresher"
)

// main 执行一次目录与金价刷新并以 JSON 输出结果，用于检查内容后台连通性。
//
// 任一数据源失败时退出码为 1。
func main() {
	configPath := flag.String("config", "", "config file path (default configs/config.json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// 第一次信号取消刷新，之后恢复默认处理，再次 Ctrl-C 直接退出
		<-ctx.Done()
		stop()
	}()

	client := cms.NewClient(cfg.CMS, appLogger)
	if !client.Configured() {
		appLogger.Error("cms base url not configured")
		os.Exit(1)
	}

	q := queue.NewQueue(appLogger, 2, 2)
	q.Start(ctx)
	defer q.Shutdown()

	store := catalog.NewStore()
	r := refresher.New(client, store, goldprice.NewFeed(), q, appLogger)
	report := r.Refresh(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		refresher.Report
		Categories []string `json:"categories"`
	}{report, store.CategoryNames()}); err != nil {
		appLogger.Error("write report failed", slog.String("error", err.Error()))
	}

	if !report.OK() {
		q.Shutdown()
		os.Exit(1)
	}
}
