package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/optimizer"
	"forex-signal-engine/internal/signal"
)

// RateLimiter caps how many mutating requests a single client may issue
// inside a sliding window. State is in-memory, keyed by client IP.
type RateLimiter struct {
	mu     sync.Mutex
	seen   map[string][]time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter builds a sliding-window limiter of limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		seen:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow records a request for the client and reports whether it fits under
// the limit. Timestamps older than the window are dropped in place.
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	kept := r.seen[client][:0]
	for _, t := range r.seen[client] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= r.limit {
		r.seen[client] = kept
		return false
	}
	r.seen[client] = append(kept, now)
	return true
}

// Evaluator runs the signal pipeline for a symbol on demand.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string) (*signal.Evaluation, error)
}

// SignalReader serves signal queries.
type SignalReader interface {
	ListOpen(ctx context.Context) ([]*signal.Signal, error)
	ListRecent(ctx context.Context, limit int) ([]*signal.Signal, error)
}

// WeightReader resolves the active weight vector for a context.
type WeightReader interface {
	Weights(ctx context.Context, key confluence.Context) (confluence.WeightVector, error)
}

// TrainingLogReader serves the optimizer audit trail.
type TrainingLogReader interface {
	TrainingLog(ctx context.Context, limit int) ([]signal.TrainingLogEntry, error)
}

// WeightTrainer runs one training pass for a context on demand.
type WeightTrainer interface {
	Optimize(ctx context.Context, key confluence.Context) (*optimizer.Result, error)
}

// HealthChecker reports backend availability for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
	Symbols        []string `json:"symbols"`
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	engine      Evaluator
	signals     SignalReader
	weights     WeightReader
	trainingLog TrainingLogReader
	trainer     WeightTrainer
	health      HealthChecker
	hub         *WSHub
	rateLimiter *RateLimiter
	log         zerolog.Logger
	started     time.Time
}

// Deps bundles the server's collaborators. Trainer and Health may be nil;
// their endpoints answer 503 in that case.
type Deps struct {
	Engine      Evaluator
	Signals     SignalReader
	Weights     WeightReader
	TrainingLog TrainingLogReader
	Trainer     WeightTrainer
	Health      HealthChecker
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		engine:      deps.Engine,
		signals:     deps.Signals,
		weights:     deps.Weights,
		trainingLog: deps.TrainingLog,
		trainer:     deps.Trainer,
		health:      deps.Health,
		hub:         NewWSHub(),
		rateLimiter: NewRateLimiter(120, time.Minute),
		log:         logging.Component("api"),
		started:     time.Now(),
	}

	server.setupRoutes()
	go server.hub.Run()

	return server
}

// Hub exposes the WebSocket hub so the pipeline can broadcast emitted and
// closed signals.
func (s *Server) Hub() *WSHub { return s.hub }

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws/signals", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/signals/evaluate", s.rateLimitMiddleware(), s.handleEvaluate)
		v1.GET("/signals/open", s.handleOpenSignals)
		v1.GET("/signals/recent", s.handleRecentSignals)
		v1.GET("/weights", s.handleWeights)
		v1.GET("/training-log", s.handleTrainingLog)
		v1.POST("/weights/train", s.rateLimitMiddleware(), s.handleTrain)
	}
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the WebSocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("api server shutting down")
	s.hub.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
