package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"quantbt/internal/backtest"
	"quantbt/internal/cache"
	"quantbt/internal/config"
	"quantbt/internal/database"
	"quantbt/internal/errors"
	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/monitor"
	"quantbt/internal/scheduler"
)

// Server is the API server: it owns the strategy catalog, the shared
// dataset and every backing service the handlers touch.
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	log        logger.Logger

	catalog map[string]*config.StrategyConfig
	dataset *market.Dataset

	db      *database.DB
	store   *database.Store
	cache   cache.Cacher
	tokens  *TokenManager
	runs    *Registry
	alerts  *monitor.AlertManager
	audit   *monitor.AuditLogger
	metrics *monitor.MetricsCollector
	checker *monitor.HealthChecker
	stream  *StreamHandler
	cron    *scheduler.Scheduler

	// baseCtx parents every run; Stop cancels it so in-flight runs
	// abort during shutdown.
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewServer creates the API server. Unavailable backing services
// degrade the server instead of failing it: no database means no
// persistence, no Redis means in-memory caching.
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := logger.GetGlobalLogger().WithField("module", "api")
	baseCtx, baseCancel := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		router:     gin.New(),
		log:        log,
		tokens:     NewTokenManager(cfg.JWT),
		runs:       NewRegistry(),
		alerts:     monitor.NewAlertManager(log),
		audit:      monitor.NewAuditLogger(10000, log),
		metrics:    monitor.NewMetricsCollector(nil),
		checker:    monitor.NewHealthChecker(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}

	s.checker.Register("dataset", "行情数据集")
	s.checker.Register("database", "结果仓库")
	s.checker.Register("cache", "结果缓存")

	ds, err := market.NewLoader(cfg.Data).Load(baseCtx)
	if err != nil {
		log.Warn("行情数据集加载失败, 回测功能不可用", "dir", cfg.Data.Dir, "error", err)
		s.checker.Update("dataset", monitor.HealthStatusDegraded, err.Error())
	} else {
		s.dataset = ds
		log.Info("行情数据集已加载",
			"symbols", len(ds.Symbols()),
			"periods", len(ds.Calendar()),
			"excluded", len(ds.Excluded))
	}

	s.catalog = loadCatalog(cfg, log)

	if cfg.Database.Enabled {
		db, err := database.NewConnection(cfg.Database, log)
		if err != nil {
			log.Warn("数据库连接失败, 结果不持久化", "error", err)
			s.checker.Update("database", monitor.HealthStatusDegraded, err.Error())
		} else {
			s.db = db
			s.store = database.NewStore(db)
			s.store.SetQueryTimer(s.metrics.RecordDBQuery)
			go db.MonitorPool(baseCtx, 30*time.Second, func(st database.PoolStats) {
				s.metrics.SetDBConnections(st.OpenConnections)
			})
		}
	} else {
		s.checker.Update("database", monitor.HealthStatusDegraded, "disabled")
	}

	c, err := cache.NewCacher(&cache.Config{
		Enabled:  cfg.Redis.Enabled,
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		log.Warn("Redis连接失败, 改用内存缓存", "addr", cfg.Redis.Addr, "error", err)
		s.checker.Update("cache", monitor.HealthStatusDegraded, "memory fallback")
		c = cache.NewMemoryCache(10000)
	}
	s.cache = c

	s.stream = NewStreamHandler(s.runs, s.metrics, log)

	if cfg.Scheduler.Enabled {
		s.cron = scheduler.New(cfg.Scheduler, s.LaunchRun, s.cache, s.metrics, log)
	}

	s.setupRoutes()
	return s, nil
}

// loadCatalog builds the strategy catalog: the built-in default plus
// every YAML file in the strategies directory.
func loadCatalog(cfg *config.Config, log logger.Logger) map[string]*config.StrategyConfig {
	catalog := make(map[string]*config.StrategyConfig)

	def := config.DefaultStrategyConfig()
	catalog[def.Name] = def

	entries, err := os.ReadDir(cfg.Strategies.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("策略目录读取失败", "dir", cfg.Strategies.Dir, "error", err)
		}
		return catalog
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(cfg.Strategies.Dir, entry.Name())
		sc, err := config.LoadStrategyConfig(path)
		if err != nil {
			log.Warn("策略配置加载失败", "file", path, "error", err)
			continue
		}
		catalog[sc.Name] = sc
	}

	log.Info("策略目录已加载", "dir", cfg.Strategies.Dir, "strategies", len(catalog))
	return catalog
}

// cloneStrategyConfig deep-copies the mutable parts of a strategy
// config, so per-run overrides never touch the shared catalog entry.
func cloneStrategyConfig(src *config.StrategyConfig) *config.StrategyConfig {
	dst := *src

	if src.Scoring.Weights != nil {
		dst.Scoring.Weights = make(map[string]float64, len(src.Scoring.Weights))
		for k, v := range src.Scoring.Weights {
			dst.Scoring.Weights[k] = v
		}
	}

	if src.Regime.Stages != nil {
		dst.Regime.Stages = make(map[string]config.StageConfig, len(src.Regime.Stages))
		for name, stage := range src.Regime.Stages {
			sc := stage
			if stage.FactorBias != nil {
				sc.FactorBias = make(map[string]float64, len(stage.FactorBias))
				for k, v := range stage.FactorBias {
					sc.FactorBias[k] = v
				}
			}
			if stage.PreferredSectors != nil {
				sc.PreferredSectors = append([]string(nil), stage.PreferredSectors...)
			}
			dst.Regime.Stages[name] = sc
		}
	}

	return &dst
}

// LaunchRun starts a backtest asynchronously and returns its run ID.
// Zero start/end bounds mean the dataset calendar edges.
func (s *Server) LaunchRun(cfg *config.StrategyConfig, start, end time.Time) (string, error) {
	if s.dataset == nil {
		return "", errors.NewDataError("", "market dataset is not loaded")
	}
	if len(s.dataset.CalendarBetween(start, end)) == 0 {
		return "", errors.NewInvalidInputError("no trading dates in requested range")
	}

	engine, err := backtest.NewEngine(cfg, s.dataset)
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(s.baseCtx)

	s.runs.Add(runID, cfg.Name, cancel)
	engine.Progress = func(done, total int, date time.Time) {
		s.runs.Progress(runID, done, total, date)
	}

	s.metrics.RecordRunStarted(cfg.Name)
	s.log.Info("回测运行已启动", "run_id", runID, "strategy", cfg.Name)

	go func() {
		defer cancel()
		started := time.Now()

		result, err := engine.RunWithID(runCtx, runID, start, end)
		if err != nil {
			cancelled := stderrors.Is(err, context.Canceled)
			status := monitor.RunStatusFailed
			if cancelled {
				status = monitor.RunStatusCancelled
			}
			s.runs.Fail(runID, err.Error(), cancelled)
			s.metrics.RecordRunCompleted(cfg.Name, status, time.Since(started))
			s.log.Error("回测运行失败", "run_id", runID, "strategy", cfg.Name, "error", err)
			return
		}

		s.finishRun(result, time.Since(started))
	}()

	return runID, nil
}

// finishRun commits a completed run: registry state, metrics, risk
// alerts, then cache and warehouse.
func (s *Server) finishRun(result *backtest.Result, elapsed time.Duration) {
	s.runs.Complete(result.RunID)
	s.metrics.RecordRunCompleted(result.Strategy, monitor.RunStatusCompleted, elapsed)
	s.metrics.SetRunSummary(result.Strategy,
		result.Metrics.TotalReturn, result.Metrics.SharpeRatio, result.Metrics.MaxDrawdown)
	s.metrics.ObserveProgress(result.Strategy,
		result.FinalEquity, result.Metrics.MaxDrawdown, openPositions(result.Trades))

	for _, trade := range result.Trades {
		s.metrics.RecordTrade(result.Strategy, trade.Side, trade.Reason, trade.Notional)
	}
	for _, d := range result.Diagnostics {
		s.metrics.RecordPeriod(result.Strategy, string(d.Stage))
		if len(d.Rejections) > 0 {
			s.metrics.RecordRejections(result.Strategy, len(d.Rejections))
		}
		for _, stop := range d.Stops {
			s.metrics.RecordStop(result.Strategy, stop.Rule)
		}
		for _, alert := range d.Alerts {
			s.metrics.RecordRiskAlert(result.Strategy, alert.Type, alert.Severity)
			s.alerts.Record(result.RunID, result.Strategy, d.Date, alert)
		}
	}

	s.log.Info("回测运行完成",
		"run_id", result.RunID,
		"strategy", result.Strategy,
		"periods", result.Periods,
		"final_equity", result.FinalEquity,
		"elapsed", elapsed)

	// 入库和缓存不在请求路径上, 用独立超时
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.cache.SetResult(ctx, result.RunID, result, resultCacheTTL); err != nil {
		s.log.Warn("缓存运行结果失败", "run_id", result.RunID, "error", err)
	}
	if s.store != nil {
		if err := s.store.SaveResult(ctx, result); err != nil {
			s.log.Error("持久化运行结果失败", "run_id", result.RunID, "error", err)
		}
	}
}

// openPositions counts symbols with residual quantity after replaying
// the trade log.
func openPositions(trades []backtest.Trade) int {
	held := make(map[string]float64)
	for _, t := range trades {
		switch t.Side {
		case "buy":
			held[t.Symbol] += t.Quantity
		case "sell":
			held[t.Symbol] -= t.Quantity
		}
	}
	open := 0
	for _, qty := range held {
		if qty > 1e-9 {
			open++
		}
	}
	return open
}

// setupRoutes wires middleware and all route groups.
func (s *Server) setupRoutes() {
	s.router.Use(RequestLogger(s.log))
	s.router.Use(Recovery(s.log))
	s.router.Use(corsMiddleware())
	if s.config.RateLimit.Enabled {
		s.router.Use(RateLimiter(s.config.RateLimit))
	}
	s.router.Use(MetricsMiddleware(s.metrics))
	s.router.Use(ErrorHandler(s.log))

	if s.config.App.Environment == "development" {
		s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if s.config.Monitoring.PrometheusEnabled {
		s.router.GET(s.config.Monitoring.PrometheusPath, gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/login", s.login)
		}

		protected := v1.Group("")
		protected.Use(s.tokens.AuthMiddleware(s.config.Auth.Enabled))
		protected.Use(AuditMiddleware(s.audit))
		{
			strategies := protected.Group("/strategies")
			{
				strategies.GET("", s.listStrategies)
				strategies.GET("/:name", s.getStrategy)
			}

			runs := protected.Group("/runs")
			{
				runs.POST("", s.createRun)
				runs.GET("", s.listRuns)
				runs.GET("/active", s.activeRuns)
				runs.GET("/:id", s.getRun)
				runs.DELETE("/:id", s.deleteRun)
				runs.GET("/:id/trades", s.getRunTrades)
				runs.GET("/:id/equity", s.getRunEquity)
			}

			alerts := protected.Group("/alerts")
			{
				alerts.GET("", s.listAlerts)
				alerts.POST("/:id/resolve", s.resolveAlert)
			}

			protected.GET("/audit", s.auditLogs)
		}
	}

	ws := s.router.Group("/ws")
	{
		ws.GET("/runs/:id", s.stream.RunProgress)
	}

	s.router.GET("/health", s.health)
}

// Start starts the scheduler and the HTTP server. Blocks until the
// server exits.
func (s *Server) Start() error {
	if s.cron != nil {
		s.cron.Start()
	}

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	s.log.Info("API服务启动", "host", s.config.Server.Host, "port", s.config.Server.Port)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server: scheduler first, then in-flight
// runs, then the HTTP listener and backing connections.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("API服务关闭中")

	if s.cron != nil {
		s.cron.Stop()
	}
	s.baseCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("数据库关闭失败", "error", err)
		}
	}
	if err := s.cache.Close(); err != nil {
		s.log.Error("缓存关闭失败", "error", err)
	}

	s.log.Info("API服务已停止")
	return nil
}
