package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wfunc/photoguess/blob"
	"github.com/wfunc/photoguess/config"
	"github.com/wfunc/photoguess/identity"
	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/monitor"
	"github.com/wfunc/photoguess/persistence"
	"github.com/wfunc/photoguess/server"
	"github.com/wfunc/photoguess/state"
	"github.com/wfunc/photoguess/timer"
)

func main() {
	// Initialize logger
	logger.Init()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to start change notifier: %v", err)
	}

	// Initialize Database
	store, err := newStore(cfg, notifier)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	logger.Log.Infof("Store ready (%s, notifier %s).", cfg.Database.Driver, cfg.Notifier.Driver)

	blobs, err := blob.NewFileStore(cfg.Blob.Dir, cfg.Blob.BaseURL)
	if err != nil {
		logger.Log.Fatalf("Failed to open blob store: %v", err)
	}

	if cfg.Identity.Secret == "" {
		logger.Log.Warn("identity.secret is empty; tokens are signed with an empty key")
	}
	// Blobs are served by this process only when they live under a local path.
	blobDir := ""
	if strings.HasPrefix(cfg.Blob.BaseURL, "/") {
		blobDir = blobs.Dir()
	}
	scheduler := timer.NewTimerManager()
	defer scheduler.Stop()

	// Initialize Game Server
	gameServer, err := server.NewGameServer(cfg.Server.HTTPAddress, cfg.Server.RPCAddress, server.Options{
		Store:     store,
		Blobs:     blobs,
		BlobDir:   blobDir,
		BlobRoute: cfg.Blob.BaseURL,
		Tokens:    identity.NewTokenProvider(cfg.Identity.Secret, cfg.Identity.TokenTTL, cfg.Identity.AnonymousEnabled),
		Monitor:   monitor.NewMonitor(cfg.Server.MetricsNamespace),
		Scheduler: scheduler,
		Timing: state.Timing{
			BaseSeconds:           cfg.Game.BaseStageSeconds,
			DefaultPerUserSeconds: cfg.Game.DefaultTimerPerUser,
		},
		AllowLocal:       cfg.Identity.AllowLocal,
		PacketsPerSecond: cfg.Server.PacketsPerSecond,
		PacketBurst:      cfg.Server.PacketBurst,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		DefaultMaxPhotos: cfg.Game.DefaultMaxPhotos,
	})
	if err != nil {
		logger.Log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gameServer.Shutdown(ctx); err != nil {
			logger.Log.Errorf("Server forced to shutdown: %v", err)
		}
	}()

	// Start Server
	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
	logger.Log.Info("Server exited")
}

func newNotifier(cfg *config.Config) (persistence.Notifier, error) {
	switch cfg.Notifier.Driver {
	case "", "local":
		return persistence.NewLocalNotifier(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Notifier.Redis.Addr,
			Password: cfg.Notifier.Redis.Password,
			DB:       cfg.Notifier.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return persistence.NewRedisNotifier(context.Background(), client, cfg.Notifier.Redis.Prefix)
	case "postgres":
		return persistence.NewPGNotifier(cfg.Database.Postgres.DSN(), cfg.Notifier.PostgresChannel)
	}
	return nil, fmt.Errorf("unknown notifier driver %q", cfg.Notifier.Driver)
}

func newStore(cfg *config.Config, notifier persistence.Notifier) (persistence.Store, error) {
	switch cfg.Database.Driver {
	case "", "memory":
		return persistence.NewMemoryStore(notifier), nil
	case "postgres":
		db, err := persistence.OpenPostgres(cfg.Database.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		return persistence.NewGormStore(db, notifier), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}
