package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentFleet/internal/auth"
	"AgentFleet/internal/observability/metrics"
	"AgentFleet/internal/status"
)

// Server 通过 HTTP 暴露账户状态表、健康检查与指标。
type Server struct {
	addr     string
	registry *status.Registry
	auth     *auth.Service
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithAuth 为账户与指标接口启用令牌认证，/healthz 始终开放。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造状态服务实例。
func NewServer(addr string, registry *status.Registry, opts ...Option) *Server {
	if registry == nil {
		registry = status.NewRegistry()
	}
	s := &Server{addr: addr, registry: registry}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	readAccounts := s.auth.Middleware(auth.PermissionAccountsRead)
	mux := http.NewServeMux()
	mux.Handle("/api/v1/accounts", observe("accounts", readAccounts(http.HandlerFunc(s.handleAccounts))))
	mux.Handle("/api/v1/accounts/", observe("account_detail", readAccounts(http.HandlerFunc(s.handleAccountDetail))))
	mux.Handle("/healthz", observe("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", s.auth.Middleware(auth.PermissionMetricsRead)(metrics.Handler()))
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type accountsResponse struct {
	Accounts []status.Snapshot `json:"accounts"`
	Total    int               `json:"total"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	snaps := s.registry.Snapshots()
	writeJSON(w, http.StatusOK, accountsResponse{Accounts: snaps, Total: len(snaps)})
}

// handleAccountDetail 按展示序号查询单个账户。
func (s *Server) handleAccountDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/"), "/")
	index, err := strconv.Atoi(raw)
	if err != nil || index <= 0 {
		http.Error(w, "账户序号无效", http.StatusBadRequest)
		return
	}
	for _, snap := range s.registry.Snapshots() {
		if snap.Index == index {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	http.Error(w, "账户不存在", http.StatusNotFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	running := 0
	for _, snap := range s.registry.Snapshots() {
		if !snap.Stopped {
			running++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"accounts": s.registry.Len(),
		"running":  running,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe 为每个请求记录 Prometheus 指标。
func observe(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
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
