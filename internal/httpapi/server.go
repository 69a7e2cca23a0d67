package httpapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/middleware"
)

// Options configures the HTTP surface. Zero values fall back to the
// defaults noted on each field.
type Options struct {
	// AllowedOrigins for CORS. Empty disables cross-origin access.
	AllowedOrigins []string
	// IPRequestsPerMinute limits each client IP on /auth/*. Zero means 60.
	IPRequestsPerMinute int
	// IPBurst is the token bucket size. Zero means 10.
	IPBurst int
	// TrustProxyHeaders reads the client IP from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server exposes an Engine over JSON HTTP.
type Server struct {
	engine   *identity.Engine
	opts     Options
	log      *zap.Logger
	validate *validator.Validate
	limiter  *ipLimiter
	router   *mux.Router
}

// New wires every route. The returned server is safe for concurrent use.
func New(engine *identity.Engine, opts Options) *Server {
	if opts.IPRequestsPerMinute <= 0 {
		opts.IPRequestsPerMinute = 60
	}
	if opts.IPBurst <= 0 {
		opts.IPBurst = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		engine:   engine,
		opts:     opts,
		log:      logger,
		validate: newValidator(),
		limiter:  newIPLimiter(opts.IPRequestsPerMinute, opts.IPBurst, 10*time.Minute),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.recoveryMiddleware, s.loggingMiddleware, s.clientContextMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}

	auth := r.PathPrefix("/auth").Subrouter()
	auth.Use(s.rateLimitMiddleware)
	auth.HandleFunc("/altcha", s.handleAltcha).Methods(http.MethodGet)
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/mfa/verify", s.handleVerifyMFA).Methods(http.MethodPost)
	auth.HandleFunc("/mfa/resend", s.handleResend).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	bearer := auth.NewRoute().Subrouter()
	bearer.Use(middleware.Guard(s.engine))
	bearer.HandleFunc("/logout-all", s.handleLogoutAll).Methods(http.MethodPost)
	bearer.HandleFunc("/trusted-devices", s.handleListDevices).Methods(http.MethodGet)
	bearer.HandleFunc("/trusted-devices", s.handleRevokeAllDevices).Methods(http.MethodDelete)
	bearer.HandleFunc("/trusted-devices/{id:[0-9]+}", s.handleRevokeDevice).Methods(http.MethodDelete)
	bearer.HandleFunc("/mfa/totp/setup", s.handleTOTPSetup).Methods(http.MethodPost)
	bearer.HandleFunc("/mfa/totp/confirm", s.handleTOTPConfirm).Methods(http.MethodPost)
	bearer.HandleFunc("/mfa/backup-codes", s.handleBackupCodes).Methods(http.MethodPost)
}

// Handler returns the router, wrapped in CORS handling when origins are
// configured.
func (s *Server) Handler() http.Handler {
	if len(s.opts.AllowedOrigins) == 0 {
		return s.router
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
