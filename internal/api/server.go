package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kimhanh/internal/advisor"
	"kimhanh/internal/api/middleware"
	"kimhanh/internal/catalog"
	"kimhanh/internal/cms"
	"kimhanh/internal/config"
	"kimhanh/internal/export"
	"kimhanh/internal/goldprice"
	"kimhanh/internal/persist"
	"kimhanh/internal/pkg/dedup"
	"kimhanh/internal/pkg/metrics"
	"kimhanh/internal/pkg/notify"
	"kimhanh/internal/pkg/outbox"
	"kimhanh/internal/pkg/queue"
	"kimhanh/internal/pkg/ratelimit"
	"kimhanh/internal/refresher"
	"kimhanh/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const (
	tokenTTL          = 24 * time.Hour
	evictInterval     = time.Minute
	healthTimeout     = 2 * time.Second
	redisKeyPrefix    = "kimhanh"
	chatLimiterPrefix = redisKeyPrefix + ":chat"
	nudgeDedupPrefix  = redisKeyPrefix + ":nudge:"
	outboxGroup       = "mailers"
)

// StatusSource 最近一次目录刷新结果。
type StatusSource interface {
	Last() (refresher.Report, bool)
}

// Exporter 把画布快照渲染为文件。
type Exporter interface {
	Render(ctx context.Context, doc export.Document, format export.Format) ([]byte, error)
}

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有存储连接、目录与金价的内存状态、会话管理器以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	catalog   *catalog.Store
	feed      *goldprice.Feed
	sessions  *session.Manager
	status    StatusSource
	exporter  Exporter
	refresher *refresher.Refresher
	queue     *queue.Queue
	renderer  *export.Renderer
	cms       *cms.Client
	mailer    notify.Notifier
	outbox    *outbox.Consumer
	advisorOn bool
	checks    []healthCheck
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 Redis（限流、提醒去重，以及 redis 存储后端）
// 2. 按配置连接 MySQL 并执行自动迁移
// 3. 组装内容后台客户端、刷新器、AI 顾问、邮件通知与导出渲染器
// 4. 初始化会话管理器与 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		rdb:     rdb,
		catalog: catalog.NewStore(),
		feed:    goldprice.NewFeed(),
	}
	s.checks = append(s.checks, healthCheck{name: "redis", check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}})

	var (
		store     persist.Store
		customers persist.CustomerStore
	)
	switch strings.ToLower(cfg.Storage.Backend) {
	case "redis":
		rs := persist.NewRedisStore(rdb, redisKeyPrefix)
		store, customers = rs, rs
	case "mysql", "":
		db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		s.db = db
		gs := persist.NewGormStore(db)
		if err := gs.Migrate(ctx); err != nil {
			_ = s.closeStores()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		store, customers = gs, gs
		s.checks = append(s.checks, healthCheck{name: "mysql", check: func(ctx context.Context) error {
			var one int
			return db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
		}})
	default:
		_ = rdb.Close()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	s.cms = cms.NewClient(cfg.CMS, logger)
	s.queue = queue.NewQueue(logger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
	var src refresher.Source
	if s.cms.Configured() {
		src = s.cms
	}
	s.refresher = refresher.New(src, s.catalog, s.feed, s.queue, logger)
	s.status = s.refresher

	var gen advisor.Generator
	if cfg.Advisor.APIKey != "" {
		g, err := advisor.NewGeminiGenerator(ctx, cfg.Advisor.APIKey, cfg.Advisor.Model)
		if err != nil {
			logger.Warn("advisor disabled", slog.String("error", err.Error()))
		} else {
			gen = g
		}
	}
	limiter := ratelimit.NewRedisRateLimiter(rdb, logger, chatLimiterPrefix, cfg.App.ChatRateLimit, cfg.App.ChatRateBurst)
	deduper := dedup.NewDeduplicator(rdb, nudgeDedupPrefix, time.Duration(cfg.App.NudgeWindow)*time.Second)
	adv := advisor.New(gen, limiter, deduper, logger)
	s.advisorOn = adv.Enabled()

	var notifier notify.Notifier
	if email := notify.NewEmailNotifier(&cfg.Email, logger); email.Enabled() {
		consumer, err := outbox.NewConsumer(ctx, rdb, logger, outbox.DefaultStream, outboxGroup, "")
		if err != nil {
			_ = s.closeStores()
			return nil, fmt.Errorf("init notification outbox: %w", err)
		}
		notifier = outbox.NewProducer(rdb, logger, outbox.DefaultStream)
		s.mailer = email
		s.outbox = consumer
	}

	s.sessions = session.NewManager(session.Deps{
		Catalog:     s.catalog,
		Feed:        s.feed,
		Collections: persist.NewBridge(store, logger),
		Customers:   customers,
		Advisor:     adv,
		Notifier:    notifier,
		Units:       cfg.App.UnitsPerPrincipalUnit,
		NudgeDelay:  cfg.App.ChatIdleNudge,
		Logger:      logger,
	}, cfg.App.SessionIdleTimeout)

	s.renderer = export.NewRenderer(cfg.Browser, logger)
	s.exporter = s.renderer

	metrics.InitMetrics(cfg.App.WorkerPoolSize)

	gin.SetMode(gin.ReleaseMode)
	s.initRouter()
	return s, nil
}

func (s *Server) initRouter() {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.logger))
	s.router = r
	s.registerRoutes()
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Start 启动后台任务：刷新队列、目录与金价周期刷新、空闲会话回收。
func (s *Server) Start(ctx context.Context) {
	s.queue.Start(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in catalog refresher", slog.Any("panic", r))
			}
		}()
		s.refresher.Run(ctx, s.cfg.App.RefreshInterval)
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in session evictor", slog.Any("panic", r))
			}
		}()
		s.sessions.Run(ctx, evictInterval)
	}()

	if s.outbox != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("PANIC in notification outbox", slog.Any("panic", r))
				}
			}()
			s.outbox.Run(ctx, s.mailer)
		}()
	}
}

// Close 关闭会话、浏览器、队列以及数据库与缓存连接。
func (s *Server) Close() error {
	var errs []error
	if s.refresher != nil {
		s.refresher.Stop()
	}
	if s.sessions != nil {
		s.sessions.CloseAll()
	}
	if s.queue != nil {
		s.queue.Shutdown()
	}
	if s.renderer != nil {
		if err := s.renderer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if err := s.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) closeStores() error {
	var errs []error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			errs = append(errs, err)
		} else if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mysql: %w", err))
		}
	}
	return errors.Join(errs...)
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/config", s.handleGetConfig)

	s.router.GET("/catalog", s.handleCatalog)
	s.router.GET("/catalog/search", s.handleSearch)
	s.router.GET("/gold-price", s.handleGoldPrice)
	s.router.GET("/status", s.handleStatus)

	s.router.POST("/sessions", s.handleCreateSession)

	authed := s.router.Group("/session")
	authed.Use(middleware.AuthMiddleware(s.cfg.App.JWTSecret))
	authed.Use(middleware.SessionMiddleware(s.sessions))
	authed.DELETE("", s.handleCloseSession)
	authed.GET("/identity", s.handleGetIdentity)
	authed.PUT("/identity", s.handleSetIdentity)
	authed.GET("/canvas", s.handleCanvas)
	authed.GET("/summary", s.handleSummary)
	authed.POST("/items", s.handleAddItem)
	authed.POST("/items/reorder", s.handleReorder)
	authed.DELETE("/items/:instanceId", s.handleRemoveItem)
	authed.PATCH("/items/:instanceId/position", s.handleSetPosition)
	authed.PATCH("/items/:instanceId/width", s.handleSetWidth)
	authed.PATCH("/items/:instanceId/quantity", s.handleSetQuantity)
	authed.POST("/items/:instanceId/drag", s.handleDrag)
	authed.POST("/save", s.handleSave)
	authed.GET("/chat", s.handleGetChat)
	authed.POST("/chat", s.handleSendChat)
	authed.GET("/export", s.handleExport)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	for _, hc := range s.checks {
		if err := hc.check(ctx); err != nil {
			s.logger.Warn("health check failed", slog.String("check", hc.name), slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "check": hc.name})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleGetConfig 返回前端需要的公开配置。
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"env":                      s.cfg.App.Env,
		"units_per_principal_unit": s.cfg.App.UnitsPerPrincipalUnit,
		"cms_configured":           s.cms != nil && s.cms.Configured(),
		"advisor_enabled":          s.advisorOn,
		"chat_idle_nudge":          s.cfg.App.ChatIdleNudge.String(),
	})
}
