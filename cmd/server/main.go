package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ipacx/pacs-gateway/internal/cache"
	"github.com/ipacx/pacs-gateway/internal/config"
	"github.com/ipacx/pacs-gateway/internal/database"
	"github.com/ipacx/pacs-gateway/internal/handlers"
	"github.com/ipacx/pacs-gateway/internal/identity"
	"github.com/ipacx/pacs-gateway/internal/middleware"
	"github.com/ipacx/pacs-gateway/internal/mwl"
	"github.com/ipacx/pacs-gateway/internal/repository"
	"github.com/ipacx/pacs-gateway/internal/resolve"
	"github.com/ipacx/pacs-gateway/internal/services"
	"github.com/ipacx/pacs-gateway/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting PACS gateway")

	// Connect to database
	dbConfig := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}

	if err := database.Connect(dbConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	// Initialize cache
	var cacheImpl cache.Cache
	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		cacheImpl, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Redis cache initialized")
	} else {
		cacheImpl = cache.NewMemoryCache()
		log.Info().Msg("Memory cache initialized")
	}
	defer cacheImpl.Close()

	// Initialize repositories
	pacsRepo := repository.NewPACSRepository()
	metaRepo := repository.NewMetadataRepository()
	orderRepo := repository.NewOrderRepository(cfg.MWL.AETitle)

	// Resolution engine and services
	engine := resolve.NewEngine(metaRepo, pacsRepo, cfg.PACS.QueryTimeout)
	pacsService := services.NewPACSService(
		engine, cacheImpl, pacsRepo, metaRepo,
		cfg.Cache.TTL, cfg.PACS.TestTimeout, cfg.PACS.CallingAETitle,
	)
	generator := identity.NewGenerator(database.DB)

	// Worklist SCP
	if cfg.MWL.Enabled {
		mwlServer := mwl.NewServer(cfg.MWL.Port, cfg.MWL.AETitle, orderRepo, cfg.MWL.AETitle)
		if err := mwlServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start worklist SCP")
		}
		defer mwlServer.Stop()
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	studyHandler := handlers.NewStudyHandler(pacsService)
	identifierHandler := handlers.NewIdentifierHandler(generator)
	managementHandler := handlers.NewManagementHandler(pacsService)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no authentication required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Internal API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret))

		r.Get("/studies/{studyUID}/meta", studyHandler.GetStudyMeta)
		r.Get("/studies/{studyUID}/dicom-tags", studyHandler.GetDicomTags)
		r.Post("/studies/{studyUID}/meta", studyHandler.UpdateStudyMeta)

		r.Post("/accessions/reserve", identifierHandler.ReserveAccession)
		r.Get("/accessions/preview", identifierHandler.PreviewAccession)
		r.Post("/uids/reserve", identifierHandler.ReserveUIDs)

		r.Get("/pacs", managementHandler.ListServers)
		r.Get("/pacs/{id}", managementHandler.GetServer)
		r.Post("/pacs/{id}/test", managementHandler.TestServer)
		r.Post("/pacs/test", managementHandler.TestConfig)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
