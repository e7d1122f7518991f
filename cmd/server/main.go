package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akshaypn/healthup/internal/archive"
	"github.com/akshaypn/healthup/internal/config"
	"github.com/akshaypn/healthup/internal/crypto"
	"github.com/akshaypn/healthup/internal/database"
	"github.com/akshaypn/healthup/internal/handlers"
	"github.com/akshaypn/healthup/internal/middleware"
	"github.com/akshaypn/healthup/internal/observability"
	"github.com/akshaypn/healthup/internal/repository"
	"github.com/akshaypn/healthup/internal/router"
	"github.com/akshaypn/healthup/internal/services"
	"github.com/akshaypn/healthup/internal/websocket"
	"github.com/akshaypn/healthup/internal/worker"
)

func main() {
	log.Println("🚀 Starting HealthUp wearable service...")
	ctx := context.Background()

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logger := observability.NewLogger(observability.LogConfig{
		ServiceName: "healthup-wearable",
		Environment: cfg.Env,
		Level:       cfg.LogLevel,
	})
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(ctx, pool, database.Migrations()); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Step 5: Initialize Wearable Clients ────
	box, err := crypto.NewSecretBox(cfg.CredentialsKey)
	if err != nil {
		log.Fatalf("✗ Credentials key invalid: %v", err)
	}
	display, err := services.ParseOffset(cfg.SleepDisplayOffset)
	if err != nil {
		log.Fatalf("✗ SLEEP_DISPLAY_OFFSET invalid: %v", err)
	}
	exchange := services.NewTokenExchangeClient(cfg.HuamiUserAPI, cfg.HuamiAccountAPI, cfg.RemoteTimeout, logger)
	telemetry := services.NewTelemetryClient(services.TelemetryConfig{
		UserAPI:    cfg.HuamiUserAPI,
		MifitAPI:   cfg.HuamiMifitAPI,
		Timeout:    cfg.RemoteTimeout,
		RatePerSec: cfg.RemoteRatePerSec,
	}, logger)
	log.Println("✓ Huami clients initialized")

	// ──── Initialize Services ────
	store := repository.NewWearableStore(pool)
	queue := worker.NewQueue(redisClients.Queue)
	accounts := services.NewAccountService(store, exchange, box, telemetry, logger)
	days := services.NewDaySyncService(store, telemetry, accounts, display, logger)
	if cfg.ArchiveBucket != "" {
		s3Client, err := archive.NewS3Client(ctx, cfg.AWSRegion, cfg.S3EndpointURL)
		if err != nil {
			log.Fatalf("✗ S3 client initialization failed: %v", err)
		}
		archiver, err := archive.NewS3Archiver(s3Client, cfg.ArchiveBucket)
		if err != nil {
			log.Fatalf("✗ S3 archiver initialization failed: %v", err)
		}
		days.WithArchiver(archiver)
		log.Printf("✓ Raw payload archive enabled (bucket %s)", cfg.ArchiveBucket)
	}
	backfill := services.NewBackfillOrchestrator(days, store, services.BackfillConfig{
		Concurrency: cfg.SyncConcurrency,
		DayTimeout:  cfg.SyncDayTimeout,
	}, logger)

	// ──── Step 6: Start Job Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, backfill, queue, cfg.WorkerCount, logger)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	autoSync := services.NewAutoSyncScheduler(store, queue, cfg.AutoSyncInterval, cfg.AutoSyncDaysBack, logger)
	autoSync.Start()
	log.Println("✓ Auto-sync scheduler started")

	// ──── Step 7: Start WebSocket Hub ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	wsHub := websocket.NewHub(worker.NewQueue(redisClients.PubSub), jwtAuth, logger)
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	wearableHandler := handlers.NewWearableHandler(accounts, days, backfill, queue)
	r := router.New(jwtAuth, wearableHandler, wsHub.HandleWebSocket, router.Options{
		FrontendURL:    cfg.FrontendURL,
		SyncRatePerMin: cfg.SyncRatePerMin,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // inline range syncs
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		autoSync.Stop()
		workerPool.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ HealthUp wearable service ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1/wearable", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
