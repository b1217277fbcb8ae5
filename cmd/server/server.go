package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/thenexusengine/tne_bidengine/internal/bidding"
	"github.com/thenexusengine/tne_bidengine/internal/budget"
	"github.com/thenexusengine/tne_bidengine/internal/candidates"
	"github.com/thenexusengine/tne_bidengine/internal/config"
	"github.com/thenexusengine/tne_bidengine/internal/endpoints"
	"github.com/thenexusengine/tne_bidengine/internal/exchange"
	"github.com/thenexusengine/tne_bidengine/internal/filter"
	"github.com/thenexusengine/tne_bidengine/internal/fraud"
	"github.com/thenexusengine/tne_bidengine/internal/metrics"
	"github.com/thenexusengine/tne_bidengine/internal/middleware"
	"github.com/thenexusengine/tne_bidengine/pkg/logger"
	"github.com/thenexusengine/tne_bidengine/pkg/redis"
)

// Server is the top level bid engine server
type Server struct {
	config     *ServerConfig
	httpServer *http.Server

	metrics *metrics.Metrics
	scorer  *fraud.Scorer
	ledger  *budget.Ledger
	engine  *exchange.Engine

	rateLimiter *middleware.RateLimiter
	sizeLimiter *middleware.SizeLimiter

	redisClient *redis.Client
	db          *sql.DB

	cleanupStop chan struct{}
}

// NewServer creates and initializes a new server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	s := &Server{
		config:      cfg,
		cleanupStop: make(chan struct{}),
	}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// initialize sets up all server components in dependency order
func (s *Server) initialize() error {
	s.metrics = metrics.NewMetrics("bidengine")

	s.scorer = fraud.NewScorer(s.config.ToFraudConfig())

	s.ledger = budget.NewLedger(s.config.ToBudgetConfig())
	s.ledger.SetAlertFunc(func(campaignID, kind string, spent, total float64) {
		s.metrics.RecordBudgetAlert(kind)
		lg := logger.Budget()
		lg.Warn().
			Str("campaign_id", campaignID).
			Str("kind", kind).
			Float64("spent", spent).
			Float64("budget", total).
			Msg("campaign budget alert threshold crossed")
	})

	source := s.initCandidateSource()
	s.initRedis()

	pricer := bidding.NewPricer(s.config.ToPricingConfig(), nil)

	s.engine = exchange.New(s.config.ToEngineConfig(), s.scorer, source, filter.New(nil), pricer, s.ledger)
	s.engine.SetMetrics(s.metrics)

	s.initMiddleware()
	s.initHandlers()

	go s.budgetCleanupLoop()

	return nil
}

// initCandidateSource connects to the campaign database when configured and
// seeds campaign budgets from it. Without a database the server runs on the
// built-in demo pool, which is enough for load tests and local development.
func (s *Server) initCandidateSource() candidates.Source {
	if !s.config.Database.Enabled() {
		logger.Log.Info().Msg("no database configured, using built-in campaign pool")
		return candidates.NewStaticSource(candidates.SeedPool())
	}

	db, err := candidates.NewDBConnection(
		s.config.Database.Host,
		s.config.Database.Port,
		s.config.Database.User,
		s.config.Database.Password,
		s.config.Database.Name,
		s.config.Database.SSLMode,
	)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("campaign database unavailable, using built-in campaign pool")
		return candidates.NewStaticSource(candidates.SeedPool())
	}
	s.db = db

	store := candidates.NewCampaignStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rows, err := store.Budgets(ctx)
	if err != nil {
		lg2 := logger.Budget()
		lg2.Warn().Err(err).Msg("failed to load campaign budgets, using defaults")
	} else {
		for _, row := range rows {
			s.ledger.SetCampaignBudget(row.CampaignID, row.DailyBudget, row.TotalBudget)
		}
		lg3 := logger.Budget()
		lg3.Info().Int("campaigns", len(rows)).Msg("campaign budgets loaded")
	}

	return store
}

// initRedis connects to Redis and loads shared fraud lists. Redis is
// optional; failures leave the scorer with its configured lists.
func (s *Server) initRedis() {
	if s.config.RedisURL == "" {
		return
	}

	client, err := redis.New(s.config.RedisURL)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("redis unavailable, fraud lists are local only")
		return
	}
	s.redisClient = client

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.scorer.LoadLists(ctx, client); err != nil {
		lg4 := logger.Fraud()
		lg4.Warn().Err(err).Msg("failed to load shared fraud lists")
	}
}

// initMiddleware sets up the HTTP middleware components
func (s *Server) initMiddleware() {
	s.rateLimiter = middleware.NewRateLimiter(s.config.ToRateLimitConfig())
	s.rateLimiter.SetMetrics(s.metrics)
	s.sizeLimiter = middleware.NewSizeLimiter(middleware.DefaultSizeLimitConfig())
}

// initHandlers builds the router and the HTTP server
func (s *Server) initHandlers() {
	r := chi.NewRouter()

	r.Use(s.sizeLimiter.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.rateLimiter.Middleware)
	r.Use(s.metrics.Middleware)

	r.Method(http.MethodPost, "/openrtb2/auction", endpoints.NewAuctionHandler(s.engine))
	r.Method(http.MethodPost, "/notify/win", endpoints.NewWinHandler(s.engine))
	r.Method(http.MethodPost, "/notify/loss", endpoints.NewLossHandler(s.engine))
	r.Method(http.MethodGet, "/status", endpoints.NewStatusHandler(s.engine))

	campaignHandler := endpoints.NewCampaignHandler(s.ledger)
	r.Put("/campaigns/{campaignID}/budget", campaignHandler.SetBudget)
	r.Get("/campaigns/{campaignID}/budget", campaignHandler.GetBudget)

	r.Get("/health", s.healthHandler)
	r.Get("/health/ready", s.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}
}

// budgetCleanupLoop sweeps expired budget reservations until shutdown
func (s *Server) budgetCleanupLoop() {
	ticker := time.NewTicker(config.ReservationCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.ledger.CleanupExpired(); n > 0 {
				for i := 0; i < n; i++ {
					s.metrics.RecordBudgetEvent("expired")
				}
				lg5 := logger.Budget()
				lg5.Info().Int("expired", n).Msg("released expired reservations")
			}
		case <-s.cleanupStop:
			return
		}
	}
}

// loggingMiddleware attaches a request ID to the context and logs each
// request with its duration
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		lg6 := logger.HTTP()
		lg6.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// statusRecorder captures the response status code for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// healthHandler reports liveness
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// readyHandler reports readiness. Configured dependencies must answer a
// ping; optional dependencies that were never configured do not count
// against readiness.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if s.redisClient != nil {
		if err := s.redisClient.Ping(ctx); err != nil {
			checks["redis"] = "down"
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "down"
			ready = false
		} else {
			checks["database"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{"ready": ready, "checks": checks})
}

// Start begins listening for requests
func (s *Server) Start() error {
	logger.Log.Info().
		Str("port", s.config.Port).
		Str("seat", s.config.Auction.Seat).
		Dur("auction_timeout", s.config.Auction.Timeout).
		Msg("bid engine listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and its background workers
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.cleanupStop)
	s.rateLimiter.Stop()

	err := s.httpServer.Shutdown(ctx)

	if s.redisClient != nil {
		if cerr := s.redisClient.Close(); cerr != nil {
			logger.Log.Warn().Err(cerr).Msg("error closing redis client")
		}
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			logger.Log.Warn().Err(cerr).Msg("error closing database")
		}
	}

	if err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
