package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/api"
	"github.com/knoxlock/authcore/internal/approval"
	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/credentials"
	"github.com/knoxlock/authcore/internal/mfa"
	"github.com/knoxlock/authcore/internal/passkey"
	"github.com/knoxlock/authcore/internal/session"
)

type Server struct {
	config     *config.AppConfig
	log        *zap.Logger
	httpServer *http.Server
}

type Params struct {
	fx.In

	Config             *config.AppConfig
	Logger             *zap.Logger
	Sessions           *session.Service
	CredentialsHandler *credentials.Handler
	MFAHandler         *mfa.Handler
	PasskeyHandler     *passkey.Handler
	ApprovalHandler    *approval.Handler
	SessionHandler     *session.Handler
	AuditHandler       *audit.Handler
}

func NewServer(p Params) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(p.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(p.Config),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(authMiddleware(p.Sessions, p.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		p.CredentialsHandler.Routes(r)
		p.MFAHandler.Routes(r)
		p.PasskeyHandler.Routes(r)
		p.ApprovalHandler.Routes(r)
		p.SessionHandler.Routes(r)
		p.AuditHandler.Routes(r)
	})

	addr := fmt.Sprintf("%s:%s", p.Config.Server.Host, p.Config.Server.Port)
	return &Server{
		config: p.Config,
		log:    p.Logger,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func allowedOrigins(cfg *config.AppConfig) []string {
	if len(cfg.Server.AllowedOrigins) > 0 {
		return cfg.Server.AllowedOrigins
	}
	return []string{cfg.Passkey.ExpectedOrigin}
}

// requestLogger logs one line per request after it completes.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// authMiddleware requires a valid access token on everything that is not a
// public login-flow endpoint.
func authMiddleware(sessions *session.Service, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || api.IsPublic(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearer(r)
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := sessions.ValidateAccessToken(token)
			if err != nil {
				log.Warn("authentication failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			ctx := session.WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func (s *Server) Start() error {
	s.log.Info("starting http server",
		zap.String("address", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down http server")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}
