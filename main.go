package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"stock_sync_backend/config"
	"stock_sync_backend/providers"
	"stock_sync_backend/routes"
	"stock_sync_backend/scheduler"
	"stock_sync_backend/services"
)

func main() {
	log.Println("==============================================")
	log.Println("  Stock Sync Engine - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}
	log.Printf("MongoDB: %s", config.MaskURI(cfg.MongoURI))

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	setupHealthEndpoints(router)

	// Connect storage
	ctx := context.Background()
	store, err := services.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("MongoDB connection failed: %v", err)
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Printf("Warning: index creation failed: %v", err)
	}

	// Build providers: one rate limiter per source, adapters in priority order
	limiters := map[string]*providers.RateLimiter{
		"tushare":   providers.NewRateLimiter(cfg.ProviderTier, cfg.RateLimitSafetyMargin),
		"eastmoney": providers.NewRateLimiter(cfg.ProviderTier, cfg.RateLimitSafetyMargin),
		"sina":      providers.NewRateLimiter(cfg.ProviderTier, cfg.RateLimitSafetyMargin),
	}
	adapters := []providers.DataProvider{
		providers.NewEastmoneyProvider(limiters["eastmoney"]),
		providers.NewSinaProvider(limiters["sina"]),
	}
	if cfg.TushareToken != "" {
		adapters = append(adapters, providers.NewTushareProvider(cfg.TushareToken, limiters["tushare"]))
	} else {
		log.Println("TUSHARE_TOKEN not set, tushare source disabled")
	}

	checker := providers.NewConsistencyChecker(cfg.ConsistencyTolerance)
	manager := providers.NewManager(checker, adapters...)

	// Services and routes
	syncService := services.NewSyncService(manager, store, cfg)
	quoteService := services.NewQuoteService(manager, store, cfg)
	routes.SetupRoutes(router, syncService, quoteService, manager, limiters)

	// Catch up stale quote data in the background before the first tick
	if cfg.BackfillOnStartup {
		go func() {
			backfillCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			quoteService.BackfillIfNeeded(backfillCtx)
		}()
	}

	// Start background scheduler
	jobScheduler := scheduler.NewScheduler(syncService, quoteService, cfg)
	jobScheduler.Start()

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(server, jobScheduler, store)
}

// setupHealthEndpoints sets up liveness endpoints
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Stock Sync Engine",
			"version": "1.0.0",
		})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler, store *services.MongoStore) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop scheduler first so no new sync starts mid-shutdown
	jobScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		log.Printf("Error closing MongoDB connection: %v", err)
	} else {
		log.Println("MongoDB connection closed")
	}

	log.Println("Server shutdown completed")
}
