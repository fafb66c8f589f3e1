// Package server provides the HTTP status API served in daemon mode.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/volbalance/internal/database"
	"github.com/aristath/volbalance/internal/domain"
	ledgerhandlers "github.com/aristath/volbalance/internal/modules/ledger/handlers"
	portfoliohandlers "github.com/aristath/volbalance/internal/modules/portfolio/handlers"
	rebalancinghandlers "github.com/aristath/volbalance/internal/modules/rebalancing/handlers"
)

// DefaultHost keeps the API on loopback unless another host is configured
const DefaultHost = "127.0.0.1"

// Config holds server dependencies
type Config struct {
	Log            zerolog.Logger
	Host           string // DefaultHost when empty
	Port           int
	DevMode        bool
	LiveMode       bool          // refuses POST /api/rebalance/run unless RunToken is set
	RunToken       string        // bearer token for POST /api/rebalance/run
	RunTimeout     time.Duration // bounds a cycle started over HTTP
	AllowedOrigins []string      // CORS is off when empty
	DataDir        string
	Assets         []domain.Asset
	Databases      map[string]*database.DB
	State          domain.StateStore
	Exchange       domain.ExchangeClient
	Ledger         ledgerhandlers.Reader
	Rebalancer     rebalancinghandlers.Runner
	Cycles         CycleStatusSource
	Metrics        http.Handler
	Schedule       ScheduleReporter
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	addr           string
	metrics        http.Handler
	systemHandlers *SystemHandlers
	portfolio      *portfoliohandlers.Handler
	ledger         *ledgerhandlers.Handler
	rebalancing    *rebalancinghandlers.Handler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		addr:           listenAddr(cfg.Host, cfg.Port),
		metrics:        cfg.Metrics,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.DataDir, cfg.Databases, cfg.Schedule),
	}
	s.systemHandlers.cycles = cfg.Cycles

	if cfg.State != nil {
		var balances domain.BalanceSource
		if cfg.Exchange != nil {
			balances = cfg.Exchange
		}
		s.portfolio = portfoliohandlers.NewHandler(cfg.State, marketOf(cfg.Exchange), balances, cfg.Assets, cfg.Log)
	}
	if cfg.Ledger != nil {
		s.ledger = ledgerhandlers.NewHandler(cfg.Ledger, cfg.Log)
	}
	if cfg.Rebalancer != nil {
		s.rebalancing = rebalancinghandlers.NewHandler(cfg.Rebalancer, rebalancinghandlers.RunConfig{
			Timeout: cfg.RunTimeout,
			Token:   cfg.RunToken,
			Live:    cfg.LiveMode,
		}, cfg.Log)
	}

	s.setupMiddleware(cfg.DevMode, cfg.AllowedOrigins)
	s.setupRoutes()

	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = rebalancinghandlers.DefaultRunTimeout
	}
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: runTimeout + time.Minute, // POST /api/rebalance/run waits for fills
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func listenAddr(host string, port int) string {
	if host == "" {
		host = DefaultHost
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func marketOf(ex domain.ExchangeClient) domain.MarketData {
	if ex == nil {
		return nil
	}
	return ex
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool, origins []string) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS, only for listed origins (an empty list would allow all)
	if len(origins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database", s.systemHandlers.HandleDatabaseStats)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
		})

		if s.portfolio != nil {
			s.portfolio.RegisterRoutes(r)
		}
		if s.ledger != nil {
			s.ledger.RegisterRoutes(r)
		}
		if s.rebalancing != nil {
			s.rebalancing.RegisterRoutes(r)
		}
	})
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
