package api

import (
	"net/http"
	"strings"

	"kimhanh/internal/catalog"

	"github.com/gin-gonic/gin"
)

// handleCatalog 返回分组后的完整目录。
func (s *Server) handleCatalog(c *gin.Context) {
	categories := s.catalog.Categories()
	if categories == nil {
		categories = []catalog.Category{}
	}
	c.JSON(http.StatusOK, gin.H{
		"loaded":     s.catalog.Loaded(),
		"categories": categories,
	})
}

// handleSearch 按名称或分类搜索（不区分声调）。
//
// GET /catalog/search?q=
func (s *Server) handleSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	products := s.catalog.Search(q)
	if products == nil {
		products = []catalog.Product{}
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "products": products})
}

// handleGoldPrice 返回当前金价与每单位价格。
func (s *Server) handleGoldPrice(c *gin.Context) {
	ppu := s.feed.PricePerUnit(s.cfg.App.UnitsPerPrincipalUnit)
	p, ok := s.feed.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"loaded": false, "price_per_unit": ppu})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loaded":         true,
		"buy":            p.Buy,
		"sell":           p.Sell,
		"updated_at":     p.UpdatedAt,
		"price_per_unit": ppu,
	})
}

// handleStatus 返回最近一次刷新结果，各数据源的错误分别给出。
func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{"refreshed": false})
		return
	}
	report, ok := s.status.Last()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"refreshed": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": true, "report": report})
}
