// Package main initializes and starts the time capsule API server, setting
// up configuration, logging, database connections, file storage,
// repositories, services and handlers.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/atinyakov/timecapsule/internal/config"
	"github.com/atinyakov/timecapsule/internal/db"
	"github.com/atinyakov/timecapsule/internal/logger"
	"github.com/atinyakov/timecapsule/internal/middleware"
	"github.com/atinyakov/timecapsule/internal/repository"
	"github.com/atinyakov/timecapsule/internal/server/handler/http"
	"github.com/atinyakov/timecapsule/internal/service"
	"github.com/atinyakov/timecapsule/internal/storage"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const (
	cleanerInterval = time.Minute
	cleanerBatch    = 100
	shutdownTimeout = 15 * time.Second
)

func main() {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	// Parse config file, command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL connection and schema.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	// Choose where uploaded media is stored.
	var (
		files   storage.Store
		uploads nethttp.Handler
	)
	switch options.UploadBackend {
	case config.UploadS3:
		s3Store, err := storage.NewS3(ctx, storage.S3Options{
			Bucket:    options.S3Bucket,
			Region:    options.S3Region,
			Endpoint:  options.S3Endpoint,
			PublicURL: options.S3PublicURL,
		})
		if err != nil {
			zapLogger.Fatal("cannot init s3 storage", zap.Error(err))
		}
		files = s3Store
	default:
		local, err := storage.NewLocal(options.UploadDir)
		if err != nil {
			zapLogger.Fatal("cannot init upload dir", zap.Error(err))
		}
		files = local
		uploads = nethttp.FileServer(nethttp.Dir(local.Dir()))
	}

	// Remove files of deleted media in the background.
	db.StartFileDeletionCleaner(ctx, postgresDB, files, cleanerInterval, cleanerBatch, zapLogger)

	// Choose how callers are identified.
	var verifier middleware.Verifier = middleware.HeaderVerifier{}
	if options.AuthMode == config.AuthToken {
		verifier = middleware.TokenVerifier{Secret: []byte(options.TokenSecret)}
	} else {
		zapLogger.Warn("trusting X-User-Id headers; run behind a gateway that sets them")
	}

	// Initialize repositories.
	userRepo := repository.NewPostgresUserRepository(postgresDB)
	capsuleRepo := repository.NewPostgresCapsuleRepository(postgresDB)

	// Initialize business-logic services.
	userService := service.NewUserService(userRepo)
	capsuleService := service.NewCapsuleService(capsuleRepo, files)

	// Create HTTP handlers.
	userHandler := &http.UserHandler{UserService: userService, Log: zapLogger}
	capsuleHandler := &http.CapsuleHandler{CapsuleService: capsuleService, Log: zapLogger}

	// Build the router with middleware and routes.
	router := http.NewRouter(userHandler, capsuleHandler, verifier, uploads, postgresDB, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if options.TLSEnabled() {
			zapLogger.Info("starting HTTPS server", zap.String("addr", options.Address))
			serveErr <- server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
			return
		}
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Address))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		zapLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}
