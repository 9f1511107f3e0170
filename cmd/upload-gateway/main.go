package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chunkvault/chunkvault/internal/common"
	"github.com/chunkvault/chunkvault/internal/coordinator"
	"github.com/chunkvault/chunkvault/internal/storage"
	"github.com/chunkvault/chunkvault/internal/sweeper"
	"github.com/chunkvault/chunkvault/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.LoadFromEnv()

	// Setup logging
	common.SetupLogging(cfg.Logging)

	log.Info().Msg("Starting chunkvault upload gateway")

	// Initialize session store
	sessions, err := common.NewSessionStore(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer sessions.Close()

	// Initialize blob storage
	storageFactory := storage.NewStorageFactory(&cfg.Storage)
	blobs, err := storageFactory.CreateBlobStore(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob storage")
	}

	// Initialize services
	uploadService := coordinator.NewService(sessions, blobs, cfg)

	// Start the cleanup sweeper in the background
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.NewSweeper(sessions, blobs, cfg).Run(sweepCtx)
	}()

	// Setup HTTP server
	router := setupRouter(uploadService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop the sweeper and give outstanding requests 30 seconds to complete
	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}

	<-sweepDone
}

func setupRouter(uploadService *coordinator.Service) *gin.Engine {
	// Set Gin mode based on environment
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "chunkvault-upload-gateway",
			"time":    time.Now().UTC(),
		})
	})

	// Upload routes
	upload := router.Group("/upload")
	{
		upload.POST("/initiate", handleInitiateUpload(uploadService))
		upload.POST("/presigned-url", handlePresignedURL(uploadService))
		upload.POST("/part-complete", handlePartComplete(uploadService))
		upload.POST("/complete", handleCompleteUpload(uploadService))
		upload.POST("/abort", handleAbortUpload(uploadService))
		upload.POST("/pause", handlePauseUpload(uploadService))
		upload.POST("/resume", handleResumeUpload(uploadService))
		upload.POST("/validate", handleValidateSession(uploadService))
		upload.GET("/session/:id", handleGetSession(uploadService))
		upload.GET("/sessions/active", handleListActiveSessions(uploadService))
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
