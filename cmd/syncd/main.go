package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/platesync/core/cmd/syncd/handlers"
	"github.com/platesync/core/internal/config"
	"github.com/platesync/core/internal/db"
	"github.com/platesync/core/internal/logging"
	platesync "github.com/platesync/core/internal/sync"
	"github.com/platesync/core/internal/sync/connectivity"
	"github.com/platesync/core/internal/sync/rest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "syncd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(&logging.Config{
		Level:   cfg.LogLevel,
		Dir:     cfg.LogDir,
		Console: cfg.LogConsole,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	migrator := db.NewMigrator(store.DB)
	if err := migrator.Initialize(); err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return err
	}

	repo := db.NewRepository(store.DB, logger)
	defer repo.Close()

	remote := rest.NewClient(&rest.Config{
		BaseURL: cfg.RemoteBaseURL,
		APIKey:  cfg.RemoteAPIKey,
		Timeout: cfg.EntryTimeout,
	}, logger)

	hub := NewHub(logger)

	coordinator := platesync.NewCoordinator(repo, remote, hub, logger, &platesync.Config{
		AutoSyncInterval: cfg.SyncInterval,
		EntryTimeout:     cfg.EntryTimeout,
		LeaseTTL:         cfg.LeaseTTL,
		PhotoBucket:      cfg.PhotoBucket,
	})
	defer coordinator.Close()

	// Connectivity probes drive the coordinator's online state. The
	// coordinator broadcasts the transitions itself.
	monitor := connectivity.NewMonitor(remote.TestConnection, cfg.ProbeInterval, logger)
	monitor.Subscribe(coordinator.SetOnline)
	monitor.Start()
	defer monitor.Stop()

	coordinator.StartAutoSync(cfg.SyncInterval)

	api := handlers.New(repo, coordinator, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", api.Health)
	mux.HandleFunc("POST /api/meals", api.QueueMeal)
	mux.HandleFunc("GET /api/meals", api.CachedMeals)
	mux.HandleFunc("POST /api/photos", api.QueuePhoto)
	mux.HandleFunc("POST /api/actions", api.QueueAction)
	mux.HandleFunc("POST /api/sync/now", api.TriggerSync)
	mux.HandleFunc("GET /api/sync/status", api.Status)
	mux.HandleFunc("PUT /api/sync/online", api.SetOnline)
	mux.HandleFunc("GET /api/favorites", api.Favorites)
	mux.HandleFunc("DELETE /api/storage", api.ClearStorage)
	mux.HandleFunc("GET /ws", HandleWebSocket(hub))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sync daemon listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	return nil
}
