package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/history"
	"ImageGen-Console/internal/observability/metrics"
	"ImageGen-Console/pkg/logger"
	"ImageGen-Console/sdk/go/imagegen"
)

// Backend 为服务所需的后端能力，*imagegen.Client 满足该接口。
type Backend interface {
	ListHistory(ctx context.Context, query imagegen.HistoryQuery) (*imagegen.HistoryPage, error)
	GetTask(ctx context.Context, taskID string) (*imagegen.TaskStatus, error)
	GetUpscale(ctx context.Context, taskID string) (*imagegen.TaskStatus, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	manager         *history.Manager
	backend         Backend
	pageSize        int
	limiter         *rate.Limiter
	metrics         *metrics.Metrics
	logger          *slog.Logger
	readTimeout     time.Duration
	shutdownTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Server)

// WithRefreshLimit 限制强制刷新的频率。
func WithRefreshLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithMetrics 配置指标，同时挂载 /metrics。
func WithMetrics(mx *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = mx
	}
}

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPageSize 设置首页的条数，只有首页走缓存。
func WithPageSize(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithTimeouts 设置读取与关闭超时。
func WithTimeouts(read, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, manager *history.Manager, backend Backend, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		manager:         manager,
		backend:         backend,
		pageSize:        20,
		limiter:         rate.NewLimiter(rate.Every(5*time.Second), 2),
		logger:          logger.Named("api"),
		readTimeout:     15 * time.Second,
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /api/v1/history", "history", s.handleHistory)
	s.handle(mux, "POST /api/v1/history/refresh", "history_refresh", s.handleRefresh)
	s.handle(mux, "POST /api/v1/history/sync", "history_sync", s.handleSync)
	s.handle(mux, "GET /api/v1/history/cache", "cache_status", s.handleCacheStatus)
	s.handle(mux, "DELETE /api/v1/history/cache", "cache_invalidate", s.handleInvalidate)
	s.handle(mux, "GET /api/v1/tasks/{id}", "task_status", s.handleTaskStatus)
	s.handle(mux, "GET /healthz", "healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

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

func (s *Server) handle(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(name, fn))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 记录每个请求的状态码与耗时。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeTimeout, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// statusOf 将错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	if imagegen.IsNotFound(err) {
		return http.StatusNotFound
	}
	return xerrors.HTTPStatusOf(err)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	if imagegen.IsNotFound(err) {
		code = xerrors.CodeNotFound
	}
	writeJSON(w, statusOf(err), errorBody{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
