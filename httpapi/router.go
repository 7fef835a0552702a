package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth"
	"github.com/MrEthical07/kairosauth/middleware"
)

// Options configures NewRouter.
type Options struct {
	// AllowedOrigins for CORS. Empty disables cross-origin access.
	AllowedOrigins []string
	// SecureCookies marks session cookies Secure. Enable behind TLS.
	SecureCookies bool
	// Metrics, if set, is mounted at GET /metrics.
	Metrics http.Handler
	Logger  *zap.Logger
	// RequestTimeout bounds every request. Zero means 30s.
	RequestTimeout time.Duration
}

// Handler holds the dependencies shared by the route handlers.
type Handler struct {
	engine        *kairosauth.Engine
	logger        *zap.Logger
	secureCookies bool
}

// NewRouter builds the HTTP surface for engine.
func NewRouter(engine *kairosauth.Engine, opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	h := &Handler{engine: engine, logger: opts.Logger, secureCookies: opts.SecureCookies}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(opts.RequestTimeout))
	if len(opts.AllowedOrigins) > 0 {
		// cors treats an empty origin list as "allow all".
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(clientContext)

	r.Get("/healthz", h.handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Post("/register", h.handleRegister)
	r.Post("/verify-email", h.handleVerifyEmail)
	r.Post("/resend-verification", h.handleResendVerification)
	r.Post("/password-recovery", h.handlePasswordRecovery)
	r.Post("/reset-password", h.handleResetPassword)
	r.Post("/login", h.handleLogin)
	r.Post("/verify-2fa", h.handleVerifyTwoFactor)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(engine))

		r.Get("/me", h.handleMe)
		r.Post("/logout", h.handleLogout)
		r.Post("/logout-all", h.handleLogoutAll)
		r.Post("/change-password", h.handleChangePassword)
		r.Post("/setup-2fa", h.handleSetupTwoFactor)
		r.Post("/activate-2fa", h.handleActivateTwoFactor)

		// Managing an enrolled second factor needs a session that used it.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSecondFactor)
			r.Post("/deactivate-2fa", h.handleDeactivateTwoFactor)
			r.Get("/backup-codes", h.handleBackupCodesRemaining)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientContext records the caller's address and user agent for audit.
// It runs after RealIP, so RemoteAddr may already be a bare host.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx := kairosauth.WithClientIP(r.Context(), host)
		ctx = kairosauth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", chimw.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
