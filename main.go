package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/api"
	"forex-signal-engine/internal/cache"
	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/database"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/monitor"
	"forex-signal-engine/internal/notification"
	"forex-signal-engine/internal/optimizer"
	"forex-signal-engine/internal/patterns"
	"forex-signal-engine/internal/regime"
	"forex-signal-engine/internal/risk"
	sig "forex-signal-engine/internal/signal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(cfg.Logging)
	logger := logging.Component("main")
	logger.Info().Msg("structured logging initialized")

	// Database
	db, err := database.NewDB(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	signalRepo := database.NewSignalRepository(db)
	weightRepo := database.NewWeightRepository(db)
	locker := database.NewAdvisoryLocker(db)

	// Weight source: Redis read-through cache when enabled, repository
	// directly otherwise.
	var weightSource sig.WeightSource = weightRepo
	var weightStore optimizer.WeightStore = weightRepo
	var weightReader api.WeightReader = weightRepo
	if cfg.Redis.Enabled {
		wc, err := cache.NewWeightCache(cfg.Redis, weightRepo)
		if err != nil {
			logger.Warn().Err(err).Msg("weight cache unavailable, using database directly")
		} else {
			defer wc.Close()
			weightSource = wc
			weightStore = wc
			weightReader = wc
		}
	}

	// Market data providers.
	provider, quotes, stream := buildMarketStack(cfg, logger)
	if stream != nil {
		if err := stream.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("price stream failed to start, quotes fall back to REST")
		} else {
			defer stream.Stop()
		}
	}

	// Evaluation pipeline.
	engine := sig.NewEngine(sig.EngineDeps{
		Provider:   provider,
		Classifier: regime.NewClassifier(cfg.Regime),
		Detector:   patterns.NewDetector(0),
		Scorer:     confluence.NewScorer(cfg.Confluence),
		Risk:       risk.NewManager(cfg.Risk),
		Assembler:  sig.NewAssembler(cfg.Assembler),
		Weights:    weightSource,
		Store:      signalRepo,
		Params:     cfg.Indicators,
	})

	// Optimizer and trainer.
	opt := optimizer.New(signalRepo, weightStore, locker, cfg.Optimizer, cfg.Confluence)
	trainer := optimizer.NewTrainer(opt, cfg.Trainer)

	// HTTP API + websocket hub.
	cfg.Server.Symbols = cfg.Engine.Symbols
	server := api.NewServer(cfg.Server, api.Deps{
		Engine:      engine,
		Signals:     signalRepo,
		Weights:     weightReader,
		TrainingLog: weightRepo,
		Trainer:     opt,
		Health:      db,
	})

	notifier := notification.NewManager(cfg.Notify)
	if notifier.Active() {
		logger.Info().Msg("outbound notifications enabled")
	}

	// Evaluation sweep, broadcasting emitted signals to websocket clients.
	scheduler := sig.NewScheduler(engine, sig.SchedulerConfig{
		Interval:      cfg.Engine.Interval,
		Symbols:       cfg.Engine.Symbols,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
	})
	scheduler.OnSignal = func(s *sig.Signal) {
		server.Hub().BroadcastSignal(s)
		notifier.SignalEmitted(s)
	}

	// Tick monitor, broadcasting lifecycle transitions.
	mon := monitor.New(signalRepo, quotes, cfg.Monitor)
	mon.OnClose = func(s *sig.Signal) {
		server.Hub().BroadcastClose(s)
		notifier.SignalClosed(s)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api server failed")
		}
	}()

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("scheduler failed to start")
	}
	if err := mon.Start(); err != nil {
		logger.Fatal().Err(err).Msg("monitor failed to start")
	}
	if err := trainer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("trainer failed to start")
	}

	logger.Info().
		Strs("symbols", cfg.Engine.Symbols).
		Str("provider", cfg.Market.Provider).
		Int("port", cfg.Server.Port).
		Msg("signal engine running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}
	if err := trainer.Stop(); err != nil {
		logger.Error().Err(err).Msg("trainer stop error")
	}
	if err := mon.Stop(); err != nil {
		logger.Error().Err(err).Msg("monitor stop error")
	}
	if err := scheduler.Stop(); err != nil {
		logger.Error().Err(err).Msg("scheduler stop error")
	}

	logger.Info().Msg("shutdown complete")
}

// buildMarketStack assembles the snapshot provider chain, the quote feed the
// monitor reads from, and the optional price stream.
func buildMarketStack(cfg *config.Config, logger zerolog.Logger) (market.SnapshotProvider, monitor.QuoteSource, *market.PriceStream) {
	simProvider := market.NewSimProvider(cfg.Market.SimSeed)

	if cfg.Market.Provider == "sim" {
		logger.Info().Msg("using simulated market data")
		return simProvider, market.NewQuoteFeed(nil, simProvider, 0), nil
	}

	restProvider := market.NewRESTProvider(market.RESTProviderConfig{
		BaseURL:   cfg.Market.BaseURL,
		APIKey:    cfg.Market.APIKey,
		AccountID: cfg.Market.AccountID,
		BarCount:  cfg.Market.BarCount,
	})

	var provider market.SnapshotProvider = restProvider
	if cfg.Market.SimFallback {
		provider = market.NewFallbackProvider(restProvider, simProvider)
	}

	var stream *market.PriceStream
	if cfg.Market.StreamURL != "" {
		stream = market.NewPriceStream(cfg.Market.StreamURL, cfg.Market.APIKey, cfg.Engine.Symbols)
	}

	return provider, market.NewQuoteFeed(stream, restProvider, 0), stream
}
