package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"XGrowth-Chain/internal/address"
	"XGrowth-Chain/internal/market"
	"XGrowth-Chain/internal/observability/metrics"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/oracle/feed"
	"XGrowth-Chain/internal/platform"
	"XGrowth-Chain/internal/program"
	"XGrowth-Chain/internal/rewards"
	"XGrowth-Chain/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Services 是 API 依赖的业务组件。
type Services struct {
	Deriver  *address.Deriver
	Platform *platform.Service
	Market   *market.Executor
	Oracle   *oracle.Ingestor
	Rewards  *rewards.Ledger
	Runtime  *program.Runtime
	// Feed 为空时预言机上报接口返回 503。
	Feed feed.Producer
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	svc             Services
	metrics         *metrics.Collector
	metricsPath     string
	shutdownTimeout time.Duration
	logger          *slog.Logger
	handler         http.Handler
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithMetrics 为每个路由记录请求指标，并在 path 上暴露 Prometheus 指标。
func WithMetrics(collector *metrics.Collector, path string) Option {
	return func(s *Server) {
		s.metrics = collector
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc Services, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		svc:             svc,
		metricsPath:     "/metrics",
		shutdownTimeout: 5 * time.Second,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.handler = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /healthz", "healthz", s.handleHealth)
	s.handle(mux, "GET /api/v1/platform", "platform", s.handlePlatform)
	s.handle(mux, "GET /api/v1/agents", "agents", s.handleAgents)
	s.handle(mux, "GET /api/v1/agents/{id}", "agent", s.handleAgent)
	s.handle(mux, "GET /api/v1/agents/{id}/quote", "quote", s.handleQuote)
	s.handle(mux, "GET /api/v1/agents/{id}/migration", "migration", s.handleMigration)
	s.handle(mux, "GET /api/v1/agents/{id}/performance", "performance", s.handlePerformance)
	s.handle(mux, "GET /api/v1/agents/{id}/rewards/{user}", "user_rewards", s.handleUserRewards)
	s.handle(mux, "GET /api/v1/accounts/{owner}/balances", "balances", s.handleBalances)
	s.handle(mux, "GET /api/v1/settlements/{period}", "settlement", s.handleSettlement)
	s.handle(mux, "GET /api/v1/blockhash", "blockhash", s.handleBlockhash)
	s.handle(mux, "POST /api/v1/instructions/{name}", "build_instruction", s.handleBuildInstruction)
	s.handle(mux, "POST /api/v1/transactions", "submit_transaction", s.handleSubmitTransaction)
	s.handle(mux, "POST /api/v1/oracle/updates", "oracle_update", s.handleOracleUpdate)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}
	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.metrics != nil {
		h = s.metrics.Middleware(name, h)
	}
	mux.Handle(pattern, h)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
