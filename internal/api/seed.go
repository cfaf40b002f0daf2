package api

import (
	"log/slog"

	"kimhanh/internal/catalog"
)

// SeedDemoCatalog 本地环境且未配置内容后台时载入演示目录。
//
// 返回值:
//
//	bool: 是否载入了演示目录
func (s *Server) SeedDemoCatalog() bool {
	if s.cfg.App.Env != "local" || (s.cms != nil && s.cms.Configured()) {
		return false
	}
	if s.catalog.Loaded() {
		return false
	}
	demo := catalog.DemoCategories()
	s.catalog.Replace(demo)
	s.logger.Info("demo catalog loaded",
		slog.Int("categories", len(demo)),
		slog.Int("products", len(s.catalog.AllProducts())))
	return true
}
