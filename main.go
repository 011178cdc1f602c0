package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"multisvg/config"
	"multisvg/content"
	"multisvg/services"
	"multisvg/web"
	"multisvg/worker"
	"multisvg/workflow"

	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
)

func main() {
	log.Println("Starting MultiSVG web service...")

	// Load configuration
	cfg := config.Load()

	site, err := content.Load()
	if err != nil {
		log.Fatalf("Failed to load site content: %v", err)
	}

	backendURL, err := url.Parse(cfg.BackendURL)
	if err != nil {
		log.Fatalf("Invalid BACKEND_URL %q: %v", cfg.BackendURL, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis client
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		log.Println("Connected to Redis successfully")
	}

	var previews workflow.PreviewStore
	if cfg.PreviewStore == config.PreviewStoreRedis {
		previews = services.NewRedisPreviewStore(redisClient, cfg.PreviewKeyPrefix, cfg.PreviewTTL)
	} else {
		previews = workflow.NewMemoryPreviewStore()
	}
	log.Printf("Preview store: %s", cfg.PreviewStore)

	// Initialize database service
	var dbSvc *services.DatabaseService
	if cfg.HistoryEnabled {
		dbSvc, err = services.NewDatabaseService(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := dbSvc.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare database schema: %v", err)
		}
		log.Println("Connected to database successfully")
	}

	backend := services.NewBackendClient(cfg.BackendURL)

	deps := web.Deps{
		Site:           site,
		Converter:      backend,
		Previews:       previews,
		BackendURL:     backendURL,
		SessionTTL:     cfg.SessionTTL,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		SecureCookies:  cfg.CookieSecure,
	}
	if dbSvc != nil {
		deps.History = dbSvc
	}

	var wg sync.WaitGroup

	if cfg.ArchiveEnabled {
		var status worker.StatusStore
		if dbSvc != nil {
			status = dbSvc
		}
		pool := worker.NewPool(cfg, redisClient, backend, status)
		deps.Archiver = pool

		for i := 0; i < cfg.WorkerCount; i++ {
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				pool.StartWorker(ctx, workerID)
			}(i)
			log.Printf("Started worker %d", i)
		}

		// Start stale job recovery goroutine
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.RecoveryLoop(ctx)
		}()

		log.Printf("Started %d archive workers on queue %s", cfg.WorkerCount, cfg.PendingQueue)
	}

	srv := web.NewServer(deps)

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Maintain(ctx, cfg.SessionSweepInterval)
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Closing the sessions ends open event streams so Shutdown can finish.
	httpServer.RegisterOnShutdown(func() {
		srv.Sessions().CloseAll(context.Background())
	})

	go func() {
		log.Printf("Listening on %s, backend %s", cfg.ListenAddr, cfg.BackendURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	cancel()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All workers stopped gracefully")
	case <-shutdownCtx.Done():
		log.Println("Shutdown timeout, forcing exit")
	}

	if redisClient != nil {
		redisClient.Close()
	}
	if dbSvc != nil {
		dbSvc.Close()
	}
	log.Println("MultiSVG web service stopped")
}
