package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/castarena/castarena_service/internal/adapters/ai"
	"github.com/castarena/castarena_service/internal/adapters/chain"
	"github.com/castarena/castarena_service/internal/adapters/farcaster"
	"github.com/castarena/castarena_service/internal/api/handlers"
	"github.com/castarena/castarena_service/internal/api/routes"
	"github.com/castarena/castarena_service/internal/domain/services/balance"
	"github.com/castarena/castarena_service/internal/domain/services/coordinator"
	"github.com/castarena/castarena_service/internal/domain/services/dedup"
	"github.com/castarena/castarena_service/internal/domain/services/queue"
	"github.com/castarena/castarena_service/internal/infrastructure/config"
	"github.com/castarena/castarena_service/internal/infrastructure/persistence"
	"github.com/castarena/castarena_service/pkg/graceful"
	"github.com/castarena/castarena_service/pkg/logger"
	"github.com/castarena/castarena_service/pkg/metrics"
)

const version = "1.2.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	log.Info("Starting castarena service",
		"version", version,
		"environment", cfg.Environment)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Durable snapshot store for reservations and dedup state
	store, err := persistence.NewStore(cfg.Persistence.DataDir, cfg.Persistence.DebounceDelayDuration(), log)
	if err != nil {
		log.Fatal("Failed to initialize persistence store", "error", err)
	}

	// Chain gateway client (the only source of ground truth)
	chainClient, err := chain.NewClient(chain.Config{
		RPCURLs:           cfg.Chain.RPCURLs,
		ContractAddress:   cfg.Chain.ContractAddress,
		Timeout:           time.Duration(cfg.Chain.Timeout) * time.Second,
		MaxRetries:        cfg.Chain.MaxRetries,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
	}, log, m)
	if err != nil {
		log.Fatal("Failed to create chain client", "error", err)
	}

	// Coordination layer
	factsCache := balance.NewFactsCache(chainClient, balance.CacheConfig{
		UserTTL:            cfg.Arena.UserFactsTTLDuration(),
		CommonTTL:          cfg.Arena.CommonFactsTTLDuration(),
		SuspicionWindow:    cfg.Arena.TopUpSuspicionDuration(),
		SuspicionThreshold: decimal.NewFromFloat(cfg.Arena.SuspicionThreshold),
	}, log)

	balanceManager := balance.NewManager(factsCache, store, cfg.Arena.ReservationTimeoutDuration(), log, m)

	deduplicator := dedup.New(dedup.Config{
		Window:     cfg.Arena.DedupWindowDuration(),
		SpamWindow: cfg.Arena.SpamWindowDuration(),
	}, store, log, m)

	requestQueue := queue.New(queue.Config{
		MaxQueueSize:      cfg.Arena.MaxQueueSize,
		MaxWaitTime:       cfg.Arena.MaxQueueWaitDuration(),
		InterRequestDelay: cfg.Arena.InterRequestDelayDuration(),
	}, log, m)

	// External collaborators
	farcasterClient := farcaster.NewClient(farcaster.Config{
		APIKey:     cfg.Farcaster.APIKey,
		BaseURL:    cfg.Farcaster.BaseURL,
		BotHandle:  cfg.Farcaster.BotHandle,
		Timeout:    time.Duration(cfg.Farcaster.Timeout) * time.Second,
		MaxRetries: cfg.Farcaster.MaxRetries,
	}, log)

	responder := ai.NewClient(ai.Config{
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		Model:       cfg.AI.Model,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Timeout:     time.Duration(cfg.AI.Timeout) * time.Second,
	}, log)

	coordinatorService := coordinator.NewService(
		deduplicator,
		requestQueue,
		balanceManager,
		factsCache,
		chainClient,
		responder,
		farcasterClient,
		log,
		m,
	)

	// HTTP surface
	webhookHandler := handlers.NewWebhookHandler(coordinatorService, log, cfg.Server.WebhookSecret)
	healthHandler := handlers.NewHealthHandler(requestQueue, balanceManager, deduplicator, version)
	router := routes.SetupRoutes(webhookHandler, healthHandler, log, cfg.Environment)

	// Scheduled maintenance replaces ambient timers: expired reservations
	// and stale dedup entries are also swept opportunistically, this is the
	// backstop for idle periods.
	maintenance := cron.New()
	if _, err := maintenance.AddFunc("@every 1m", func() {
		swept := balanceManager.Sweep()
		cleaned := deduplicator.Cleanup()
		if swept > 0 || cleaned > 0 {
			log.Debug("Maintenance pass", "reservations_swept", swept, "dedup_cleaned", cleaned)
		}
	}); err != nil {
		log.Fatal("Failed to schedule maintenance", "error", err)
	}
	maintenance.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	shutdown := graceful.NewShutdownManager(server, log)
	shutdown.Register(cronShutdowner{maintenance})
	shutdown.Register(requestQueue)
	shutdown.Register(store)
	shutdown.WaitForShutdown()
}

// cronShutdowner adapts cron.Cron to the graceful.Shutdowner interface
type cronShutdowner struct {
	cron *cron.Cron
}

func (c cronShutdowner) Shutdown(timeout time.Duration) error {
	ctx := c.cron.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("maintenance jobs did not stop in time")
	}
}
