package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"freelance-erp/internal/auth"
	"freelance-erp/internal/config"
	"freelance-erp/internal/log"
	"freelance-erp/internal/middleware/ratelimit"
	"freelance-erp/internal/middleware/security"
	"freelance-erp/internal/middleware/trace"
	"freelance-erp/internal/services"
)

const defaultBodyLimit = 16 << 20

// Options configures the transport.
type Options struct {
	Addr           string
	AllowedOrigins []string
	BodyLimit      int64
	RateLimit      int
	SecureCookies  bool
}

// OptionsFromConfig maps the application config to server options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:           ":" + cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		BodyLimit:      cfg.BodyLimit(),
		RateLimit:      cfg.RateLimit,
		SecureCookies:  cfg.IsProduction(),
	}
}

// Deps are the collaborators of the server. Logger and Registry may be nil.
type Deps struct {
	Documents *services.DocumentService
	Auth      *auth.Service
	APIKeys   *auth.APIKeys
	Logger    *log.Logger
	Registry  *prometheus.Registry
}

type Server struct {
	http.Server
	docs     *services.DocumentService
	auth     *auth.Service
	apiKeys  *auth.APIKeys
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	opts     Options
	now      func() time.Time

	shutdownOnce sync.Once
}

func NewServer(opts Options, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	apiKeys := deps.APIKeys
	if apiKeys == nil {
		apiKeys = auth.NewAPIKeys(nil)
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = defaultBodyLimit
	}

	s := &Server{
		docs:     deps.Documents,
		auth:     deps.Auth,
		apiKeys:  apiKeys,
		logger:   logger.WithComponent(log.ComponentHTTP),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimit}),
		detector: security.NewDetector(),
		opts:     opts,
		now:      time.Now,
	}

	mux := http.NewServeMux()
	s.routes(mux, reg)

	s.Addr = opts.Addr
	s.Handler = s.chain(mux, logger, reg)
	s.ReadHeaderTimeout = 10 * time.Second
	s.ReadTimeout = 30 * time.Second
	s.WriteTimeout = 60 * time.Second
	s.IdleTimeout = 120 * time.Second
	return s
}

// tenantRoutes are served twice: under /api with an API key and under
// /api/web with a session cookie.
func (s *Server) tenantRoutes() []struct {
	pattern string
	handler http.HandlerFunc
} {
	return []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /data", s.handleGetData},
		{"PUT /data", s.handlePutData},
		{"GET /dashboard", s.handleDashboard},
		{"GET /expenses", s.handleExpenses},
		{"GET /ledger/check", s.handleLedgerCheck},
		{"GET /export", s.handleExport},
		{"POST /import", s.handleImport},
		{"GET /invoices/next-number", s.handleNextInvoiceNumber},
	}
}

func (s *Server) routes(mux *http.ServeMux, reg *prometheus.Registry) {
	s.handle(mux, "GET /health", s.handleHealth)
	s.handle(mux, "GET /healthz", s.handleLiveness)
	s.handle(mux, "GET /readyz", s.handleReady)
	s.handle(mux, "GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP)

	s.handle(mux, "POST /api/auth/login", s.handleLogin)
	s.handle(mux, "POST /api/auth/logout", s.handleLogout)
	s.handle(mux, "GET /api/auth/me", s.requireSession(s.handleMe))
	s.handle(mux, "POST /api/auth/change-password", s.requireSession(s.handleChangePassword))

	for _, rt := range s.tenantRoutes() {
		method, path, _ := strings.Cut(rt.pattern, " ")
		s.handle(mux, method+" /api"+path, s.requireAPIKey(rt.handler))
		s.handle(mux, method+" /api/web"+path, s.requireSession(rt.handler))
	}

	s.handle(mux, "/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundError().Write(w)
	})
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		trace.SetRoute(r.Context(), r.Pattern)
		h(w, r)
	})
}

// Shutdown stops the background goroutines and drains the server. Safe to
// call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
