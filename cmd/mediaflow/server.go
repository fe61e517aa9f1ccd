package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/api/handlers"
	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/internal/cache"
	"github.com/BaSui01/mediaflow/internal/metrics"
	"github.com/BaSui01/mediaflow/internal/server"
	"github.com/BaSui01/mediaflow/internal/telemetry"
	"github.com/BaSui01/mediaflow/providers/ark"
	"github.com/BaSui01/mediaflow/providers/bfl"
	"github.com/BaSui01/mediaflow/providers/fal"
	"github.com/BaSui01/mediaflow/providers/gemini"
	"github.com/BaSui01/mediaflow/providers/googlesearch"
	"github.com/BaSui01/mediaflow/providers/openai"
	"github.com/BaSui01/mediaflow/providers/runway"
	"github.com/BaSui01/mediaflow/providers/tripo"
	"github.com/BaSui01/mediaflow/providers/volcvisual"
	"github.com/BaSui01/mediaflow/rehost"
	"github.com/BaSui01/mediaflow/task"
	"github.com/BaSui01/mediaflow/transport"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 MediaFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector
	cache     *cache.Manager
	rehoster  *rehost.Rehoster
	runner    *task.Runner

	healthHandler *handlers.HealthHandler
	taskHandler   *handlers.TaskHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
	errCh             chan error
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: otelProviders,
		errCh:     make(chan error, 2),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start(ctx context.Context) error {
	if s.collector == nil {
		s.collector = metrics.NewCollector("mediaflow", s.logger)
	}

	if err := s.initComponents(ctx); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("rehost_enabled", s.cfg.Storage.Enabled()),
		zap.Bool("url_cache_enabled", s.cache != nil),
	)
	return nil
}

// Errors 返回任一服务器的异步错误
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// =============================================================================
// 🔧 组件初始化
// =============================================================================

// initComponents 依次构建缓存、转存、任务执行器与 handlers
func (s *Server) initComponents(ctx context.Context) error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	s.initCache()

	runnerOpts := []task.RunnerOption{task.WithRunnerObserver(s.collector)}
	rehoster, err := s.initRehost(ctx)
	if err != nil {
		return err
	}
	if rehoster != nil {
		s.rehoster = rehoster
		runnerOpts = append(runnerOpts, task.WithPostProcessor(rehoster))
	}
	s.runner = task.NewRunner(s.logger, runnerOpts...)

	if err := s.registerProviders(); err != nil {
		return err
	}

	s.taskHandler = handlers.NewTaskHandler(s.runner, s.logger, s.cfg.Server.MaxBodyBytes)
	s.logger.Info("Handlers initialized", zap.Int("providers", len(s.runner.Providers())))
	return nil
}

// initCache 连接 Redis；不可用时降级为无缓存转存
func (s *Server) initCache() {
	rc := s.cfg.Redis
	if !rc.Enabled {
		return
	}
	cc := cache.DefaultConfig()
	cc.Addr = rc.Addr
	cc.Password = rc.Password
	cc.DB = rc.DB
	cc.KeyPrefix = rc.KeyPrefix
	cc.DefaultTTL = rc.URLCacheTTL
	if rc.PoolSize > 0 {
		cc.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		cc.MinIdleConns = rc.MinIdleConns
	}

	mgr, err := cache.NewManager(cc, s.logger)
	if err != nil {
		s.logger.Warn("Redis not available, URL cache disabled", zap.Error(err))
		return
	}
	s.cache = mgr
	s.healthHandler.RegisterCheck(handlers.NewCheck("redis", mgr.Ping))
}

// initRehost 构建对象存储转存；未配置 bucket 时返回 nil
func (s *Server) initRehost(ctx context.Context) (*rehost.Rehoster, error) {
	sc := s.cfg.Storage
	if !sc.Enabled() {
		s.logger.Info("storage bucket not configured, result rehosting disabled")
		return nil, nil
	}

	uploadClient, err := transport.NewClient(s.cfg.Proxy, sc.DownloadTimeout)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	storage, err := rehost.NewS3Storage(ctx, rehost.S3Config{
		Bucket:          sc.Bucket,
		Region:          sc.Region,
		Endpoint:        sc.Endpoint,
		AccessKeyID:     sc.AccessKeyID,
		SecretAccessKey: sc.SecretAccessKey,
		UsePathStyle:    sc.UsePathStyle,
		PublicBaseURL:   sc.PublicBaseURL,
	}, uploadClient)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	downloadClient, err := transport.NewClient(s.cfg.Proxy, sc.DownloadTimeout)
	if err != nil {
		return nil, fmt.Errorf("download client: %w", err)
	}
	opts := []rehost.Option{
		rehost.WithObserver(s.collector),
		rehost.WithConcurrency(sc.Concurrency),
		rehost.WithMaxObjectBytes(sc.MaxObjectBytes),
		rehost.WithKeyPrefix(sc.KeyPrefix),
	}
	if s.cache != nil {
		opts = append(opts, rehost.WithCache(s.cache, s.cfg.Redis.URLCacheTTL))
	}

	s.logger.Info("result rehosting enabled",
		zap.String("bucket", sc.Bucket),
		zap.String("endpoint", sc.Endpoint))
	return rehost.New(storage, downloadClient, s.logger, opts...), nil
}

// registerProviders 注册全部异步与同步 provider，每个 provider 使用独立超时的 client
func (s *Server) registerProviders() error {
	pc := s.cfg.Providers
	clients := make(map[time.Duration]*http.Client)
	client := func(timeout time.Duration) (*http.Client, error) {
		if c, ok := clients[timeout]; ok {
			return c, nil
		}
		c, err := transport.NewClient(s.cfg.Proxy, timeout)
		if err != nil {
			return nil, fmt.Errorf("provider client: %w", err)
		}
		clients[timeout] = c
		return c, nil
	}

	type entry struct {
		timeout time.Duration
		build   func(*http.Client) task.Provider
	}
	entries := []entry{
		{pc.BFL.Timeout, func(c *http.Client) task.Provider { return bfl.New(pc.BFL, c, s.logger) }},
		{pc.Runway.Timeout, func(c *http.Client) task.Provider { return runway.New(pc.Runway, c, s.logger) }},
		{pc.Tripo.Timeout, func(c *http.Client) task.Provider { return tripo.New(pc.Tripo, c, s.logger) }},
		{pc.VolcVisual.Timeout, func(c *http.Client) task.Provider { return volcvisual.New(pc.VolcVisual, c, s.logger) }},
		{pc.Fal.Timeout, func(c *http.Client) task.Provider { return fal.New(pc.Fal, c, s.logger) }},
	}
	for _, e := range entries {
		c, err := client(e.timeout)
		if err != nil {
			return err
		}
		s.runner.Register(e.build(c))
	}

	var geminiOpts []gemini.Option
	if s.rehoster != nil {
		geminiOpts = append(geminiOpts, gemini.WithUploader(s.rehoster))
	}
	callers := []struct {
		timeout time.Duration
		build   func(*http.Client) task.Caller
	}{
		{pc.Ark.Timeout, func(c *http.Client) task.Caller { return ark.New(pc.Ark, c, s.logger) }},
		{pc.GoogleSearch.Timeout, func(c *http.Client) task.Caller { return googlesearch.New(pc.GoogleSearch, c, s.logger) }},
		{pc.OpenAI.Timeout, func(c *http.Client) task.Caller { return openai.New(pc.OpenAI, c, s.logger) }},
		{pc.Gemini.Timeout, func(c *http.Client) task.Caller { return gemini.New(pc.Gemini, c, s.logger, geminiOpts...) }},
	}
	for _, e := range callers {
		c, err := client(e.timeout)
		if err != nil {
			return err
		}
		s.runner.RegisterCaller(e.build(c))
	}
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 构建路由与中间件链
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	s.taskHandler.Register(mux)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	s.httpManager = server.NewManager(s.routes(), server.Config{
		Name:            "http",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}
	go s.forward(s.httpManager)
	return nil
}

// startMetricsServer 启动 Metrics 服务器，端口为 0 时跳过
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	go s.forward(s.metricsManager)
	return nil
}

func (s *Server) forward(m *server.Manager) {
	if err, ok := <-m.Errors(); ok {
		select {
		case s.errCh <- err:
		default:
		}
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 优雅关闭：先停止接收请求，再释放缓存与遥测
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
