package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"offline-sync-service/internal/api"
	"offline-sync-service/internal/config"
	"offline-sync-service/internal/connectivity"
	"offline-sync-service/internal/kv"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/realtime"
	"offline-sync-service/internal/remote"
	syncengine "offline-sync-service/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting offline sync service")

	ctx := context.Background()

	// Init State Store
	stateStore, err := kv.New(cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	// Pending operation queue, loaded from the state store so queued
	// mutations survive restarts.
	pendingStore, err := syncengine.NewPendingOperationStore(ctx, stateStore)
	if err != nil {
		logger.Log.Fatal("Failed to load pending operations", zap.Error(err))
	}

	messageQueue, err := syncengine.NewOfflineMessageQueue(ctx, stateStore, cfg.Sync.MessageMaxRetries)
	if err != nil {
		logger.Log.Fatal("Failed to load message queue", zap.Error(err))
	}

	// Collaborators
	remoteClient := remote.NewClient(cfg.Remote)
	monitor := connectivity.NewMonitor(cfg.Connectivity)
	monitor.Start()
	defer monitor.Stop()

	hub := syncengine.NewHub()
	resolver := syncengine.NewConflictResolver(cfg.Sync.ConflictWindow())

	orchestrator := syncengine.NewOrchestrator(cfg.Sync, pendingStore, remoteClient, resolver, stateStore, monitor, hub)
	orchestrator.Start()
	defer orchestrator.Close()

	// Realtime subscriptions: one channel per watched table, feeding pushed
	// changes into the orchestrator.
	transport := realtime.NewWebsocketTransport(cfg.Realtime)
	subscriptions := realtime.NewManager(transport, cfg.Realtime)
	defer subscriptions.Close()

	for _, table := range cfg.Sync.Tables {
		table := table
		subscriptions.Subscribe(table, table, "",
			func(record map[string]interface{}) {
				orchestrator.HandleRealtimeChange(ctx, table, syncengine.OpCreate, record)
			},
			func(record map[string]interface{}) {
				orchestrator.HandleRealtimeChange(ctx, table, syncengine.OpUpdate, record)
			},
			func(record map[string]interface{}) {
				orchestrator.HandleRealtimeChange(ctx, table, syncengine.OpDelete, record)
			},
		)
	}

	// Returning online re-establishes every channel and the debounced sync
	// the orchestrator schedules drains whatever queued up while offline.
	go func() {
		for online := range monitor.Subscribe() {
			if online {
				subscriptions.ReconnectAll()
				messageQueue.Drain(ctx, remoteClient)
			}
		}
	}()

	// Periodic sync passes
	scheduler := syncengine.NewScheduler(cfg.Scheduler, cfg.Sync, orchestrator)
	scheduler.Start()
	defer scheduler.Stop()

	// Init API
	handler := api.NewHandler(orchestrator, subscriptions, messageQueue, cfg.Server)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Warn("Server shutdown error", zap.Error(err))
	}
}
