package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Ellipog/chat/api/handlers"
	"github.com/Ellipog/chat/auth"
	"github.com/Ellipog/chat/chat"
	"github.com/Ellipog/chat/config"
	"github.com/Ellipog/chat/internal/cache"
	"github.com/Ellipog/chat/internal/database"
	"github.com/Ellipog/chat/internal/metrics"
	"github.com/Ellipog/chat/internal/pool"
	"github.com/Ellipog/chat/internal/server"
	"github.com/Ellipog/chat/internal/telemetry"
	"github.com/Ellipog/chat/internal/tlsutil"
	"github.com/Ellipog/chat/llm/circuitbreaker"
	llmfactory "github.com/Ellipog/chat/llm/factory"
	"github.com/Ellipog/chat/llm/retry"
	"github.com/Ellipog/chat/store"
	"github.com/Ellipog/chat/store/mongostore"
	"github.com/Ellipog/chat/store/sqlstore"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// filesPrefix 是本地上传文件的公开路径前缀
const filesPrefix = "/files/"

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 持有所有依赖，负责 HTTP、Metrics 双端口及优雅关闭
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	otel      *telemetry.Providers
	collector *metrics.Collector
	store     store.Store
	closeDB   func() error
	cache     *cache.Manager
	pool      *pool.GoroutinePool
	service   *chat.Service
	tokens    *auth.TokenManager
	blobs     *handlers.LocalBlobStore

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, otel *telemetry.Providers, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		otel:   otel,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 依次初始化依赖并启动服务器。失败时已打开的资源会被释放
func (s *Server) Start(ctx context.Context) error {
	s.collector = metrics.NewCollector("chat", s.logger)

	if err := s.initStore(ctx); err != nil {
		s.release(ctx)
		return fmt.Errorf("failed to init store: %w", err)
	}
	if err := s.initCache(); err != nil {
		s.release(ctx)
		return fmt.Errorf("failed to init cache: %w", err)
	}
	if err := s.initService(); err != nil {
		s.release(ctx)
		return fmt.Errorf("failed to init chat service: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		s.release(ctx)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			_ = s.httpManager.Shutdown(ctx)
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("Server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("provider", s.cfg.LLM.Provider),
		zap.String("model", s.cfg.LLM.Model),
	)
	return nil
}

// initStore 按驱动打开存储：mongo 走 mongostore，其余走 GORM
func (s *Server) initStore(ctx context.Context) error {
	if s.cfg.Database.Driver == "mongo" {
		st, err := mongostore.Connect(ctx, s.cfg.Database.URI, s.cfg.Database.Name, s.logger)
		if err != nil {
			return err
		}
		s.store = st
		s.closeDB = st.Close
		return nil
	}

	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	pm, err := database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger,
		database.WithStatsRecorder(s.cfg.Database.Driver, s.collector))
	if err != nil {
		return err
	}
	s.closeDB = pm.Close

	st, err := sqlstore.New(pm.DB(), s.logger)
	if err != nil {
		return err
	}
	s.store = st
	return nil
}

// initCache Redis 为可选依赖，未启用时历史直接读库
func (s *Server) initCache() error {
	if !s.cfg.Redis.Enabled {
		return nil
	}
	m, err := cache.NewManager(cache.ConfigFrom(s.cfg.Redis), s.logger)
	if err != nil {
		return err
	}
	s.cache = m
	return nil
}

func (s *Server) initService() error {
	provider, err := llmfactory.NewProviderFromConfig(
		s.cfg.LLM.Provider,
		llmfactory.FromLLMConfig(s.cfg.LLM, tlsutil.StreamingHTTPClient(tlsutil.DefaultClientOptions())),
		s.logger,
	)
	if err != nil {
		return err
	}
	if s.cfg.LLM.Breaker.Enabled {
		bcfg := circuitbreaker.ConfigFrom(s.cfg.LLM.Breaker)
		name := provider.Name()
		bcfg.OnStateChange = func(from, to circuitbreaker.State) {
			s.logger.Warn("upstream circuit state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			s.collector.RecordCircuitState(name, int(to))
		}
		provider = circuitbreaker.Wrap(provider, circuitbreaker.New(bcfg, s.logger))
	}

	poolCfg := pool.DefaultGoroutinePoolConfig()
	if s.cfg.LLM.AnalysisWorkers > 0 {
		poolCfg.MaxWorkers = s.cfg.LLM.AnalysisWorkers
	}
	s.pool = pool.NewGoroutinePool(poolCfg, s.logger)

	opts := []chat.Option{
		chat.WithPool(s.pool),
		chat.WithRetryer(retry.New(chat.RetryPolicyFrom(s.cfg.Retry), s.logger)),
		chat.WithRecorder(s.collector),
	}
	if s.cache != nil {
		opts = append(opts, chat.WithHistoryCache(cache.NewHistoryCache(s.cache, s.collector)))
	}
	s.service = chat.NewService(s.store, provider, chat.ConfigFrom(s.cfg.LLM, s.cfg.Stream), s.logger, opts...)

	s.tokens, err = auth.NewTokenManager(s.cfg.Auth)
	if err != nil {
		return err
	}

	s.blobs, err = handlers.NewLocalBlobStore(s.cfg.Uploads.Dir, s.cfg.Uploads.PublicBaseURL)
	return err
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) routes() http.Handler {
	health := handlers.NewHealthHandler(Version, s.logger)
	health.RegisterCheck(handlers.NewStoreHealthCheck(s.store))
	if s.cache != nil {
		health.RegisterCheck(handlers.NewFuncCheck("redis", s.cache.Ping))
	}

	authHandler := handlers.NewAuthHandler(s.store, s.tokens, s.logger)
	userHandler := handlers.NewUserHandler(s.store, s.logger)
	conversationHandler := handlers.NewConversationHandler(s.service, s.logger)
	messageHandler := handlers.NewMessageHandler(s.service, s.store, s.logger)
	streamHandler := handlers.NewStreamHandler(s.service, originPatterns(s.cfg.Server.CORSAllowedOrigins), s.logger)
	uploadHandler := handlers.NewUploadHandler(s.blobs, s.cfg.Server.MaxUploadBytes, s.logger)

	mux := http.NewServeMux()

	// 运维接口
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	// 认证与用户
	mux.HandleFunc("POST /api/auth/register", authHandler.HandleRegister)
	mux.HandleFunc("POST /api/auth/login", authHandler.HandleLogin)
	mux.HandleFunc("GET /api/auth/validate", authHandler.HandleValidate)
	mux.HandleFunc("PUT /api/user", userHandler.HandleUpdate)

	// 会话与消息
	mux.HandleFunc("GET /api/chat/conversations", conversationHandler.HandleList)
	mux.HandleFunc("PUT /api/chat/conversations/{id}", conversationHandler.HandleRename)
	mux.HandleFunc("DELETE /api/chat/conversations/{id}", conversationHandler.HandleDelete)
	mux.HandleFunc("GET /api/chat/messages", conversationHandler.HandleMessages)
	mux.HandleFunc("POST /api/chat/message", messageHandler.HandleSend)
	mux.HandleFunc("POST /api/chat/analyze", messageHandler.HandleAnalyze)

	// 流式回复
	mux.HandleFunc("POST /api/chat/stream", streamHandler.HandleStream)
	mux.HandleFunc("GET /api/chat/ws", streamHandler.HandleWebSocket)

	// 附件
	mux.HandleFunc("POST /api/chat/upload", uploadHandler.HandleUpload)
	mux.Handle("GET "+filesPrefix, http.StripPrefix(strings.TrimSuffix(filesPrefix, "/"), s.blobs.Handler()))

	return mux
}

func (s *Server) startHTTPServer() error {
	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	handler := Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(s.otel),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		JWTAuth(s.tokens,
			[]string{"/api/auth/register", "/api/auth/login"},
			[]string{"/api/chat/ws"},
			s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Name:            "http",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	// 钩子按注册逆序执行：先排空分析任务，再关闭缓存与存储，最后刷新遥测
	s.httpManager.OnShutdown("telemetry", s.otel.Shutdown)
	s.httpManager.OnShutdown("store", func(context.Context) error { return s.closeDB() })
	if s.cache != nil {
		s.httpManager.OnShutdown("cache", func(context.Context) error { return s.cache.Close() })
	}
	s.httpManager.OnShutdown("analysis_pool", s.pool.Close)
	s.httpManager.OnShutdown("rate_limiter", func(context.Context) error {
		cancel()
		return nil
	})

	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// originPatterns 将 CORS 来源转换为 WebSocket 握手允许的 host 模式
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞直到收到信号或 HTTP 服务器异常退出，然后优雅关闭
func (s *Server) WaitForShutdown() error {
	err := s.httpManager.WaitForShutdown()
	if s.metricsManager != nil {
		if mErr := s.metricsManager.Shutdown(context.Background()); mErr != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(mErr))
		}
	}
	if err != nil {
		s.logger.Error("Graceful shutdown finished with errors", zap.Error(err))
		return err
	}
	s.logger.Info("Graceful shutdown completed")
	return nil
}

// release 在启动失败时关闭已打开的资源
func (s *Server) release(ctx context.Context) {
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.pool != nil {
		_ = s.pool.Close(ctx)
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.closeDB != nil {
		_ = s.closeDB()
	}
}
