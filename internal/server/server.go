package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sealedmarket/internal/crypto"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/mxe"
	"github.com/alanyoungcy/sealedmarket/internal/server/handler"
	"github.com/alanyoungcy/sealedmarket/internal/server/middleware"
	"github.com/alanyoungcy/sealedmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit requests per RateWindow per client IP. Zero disables it.
	RateLimit  int
	RateWindow time.Duration

	// MXEAuth, when set, is required on POST /api/mxe/resolve.
	MXEAuth    *crypto.HMACAuth
	MXEMaxSkew time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered, which is how a mode exposes only its own
// surface.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Bets       *handler.BetHandler
	Resolution *handler.ResolutionHandler
	MXE        *handler.MXEHandler
}

// Server is the HTTP + WebSocket API of the settlement engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}

	if handlers.Markets != nil {
		mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
		mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
		mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
		mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)
	}

	if handlers.Bets != nil {
		mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Bets.PlaceBet)
		mux.HandleFunc("GET /api/markets/{id}/bets", handlers.Bets.ListBets)
	}

	if handlers.Resolution != nil {
		mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Resolution.Resolve)
		mux.HandleFunc("GET /api/markets/{id}/job", handlers.Resolution.LatestJob)
		mux.HandleFunc("POST /api/markets/{id}/callback", handlers.Resolution.Callback)
		mux.HandleFunc("GET /api/markets/{id}/settlement", handlers.Resolution.Settlement)
		mux.HandleFunc("GET /api/markets/{id}/attestation", handlers.Resolution.Attestation)
	}

	if handlers.MXE != nil {
		skew := cfg.MXEMaxSkew
		if skew <= 0 {
			skew = 30 * time.Second
		}
		mux.Handle("POST "+mxe.ResolvePath,
			middleware.Signed(cfg.MXEAuth, skew)(http.HandlerFunc(handlers.MXE.Resolve)))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Skips if APIKey is empty. Signed MXE calls carry their own credentials.
	exempt := []string{"/api/health"}
	if cfg.MXEAuth != nil {
		exempt = append(exempt, mxe.ResolvePath)
	}
	h = middleware.Auth(cfg.APIKey, exempt...)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
