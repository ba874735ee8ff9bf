package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"postforge/internal/ai"
	"postforge/internal/cache"
	"postforge/internal/config"
	"postforge/internal/database"
	"postforge/internal/generation"
	"postforge/internal/handlers"
	"postforge/internal/imaging"
	"postforge/internal/metrics"
	"postforge/internal/middleware"
	"postforge/internal/router"
	"postforge/internal/service"
	"postforge/internal/storage"
	"postforge/internal/store"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		setupLogger(cfg.IsDev())
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
}

func serve(cfg *config.Config) error {
	slog.Info("configuration loaded",
		"env", cfg.Env,
		"addr", cfg.Addr(),
	)

	// Connect to PostgreSQL.
	db, err := database.Connect(cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	if !skipMigrations {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}

	// Valkey backs the public listing cache and the rate limiter.
	valkeyClient, err := cache.ConnectValkey(cfg.ValkeyHost, cfg.ValkeyPort, cfg.ValkeyPassword)
	if err != nil {
		return err
	}
	defer valkeyClient.Close()

	// Every generated image is persisted, so object storage is required.
	storageClient, err := storage.New(
		cfg.S3Endpoint, cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey,
		cfg.S3Bucket, cfg.S3PublicURL,
	)
	if err != nil {
		return fmt.Errorf("initialize S3 storage: %w", err)
	}
	if storageClient == nil {
		return errors.New("s3 storage not configured: set S3_ACCESS_KEY and S3_SECRET_KEY")
	}
	slog.Info("s3 storage connected", "endpoint", cfg.S3Endpoint, "bucket", storageClient.Bucket())

	if cfg.GeminiKey == "" {
		slog.Warn("GEMINI_API_KEY not set, every generation will fail")
	}
	generator := ai.NewGemini(ai.ProviderConfig{
		APIKey:  cfg.GeminiKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	})

	orchestrator := generation.New(generator, storageClient, generation.Options{
		Delay:       cfg.GenerationDelay,
		Concurrency: cfg.GenerationConcurrency,
	})
	resolver := imaging.NewResolver(cfg.ReferenceFetchTimeout)
	listCache := cache.NewTemplateListCache(valkeyClient, cfg.TemplateCacheTTL)
	opts := service.Options{GenerationTimeout: cfg.GenerationTimeout}

	draftService := service.NewDrafts(store.NewDraftStore(db), orchestrator, resolver, storageClient, listCache, opts)
	templateService := service.NewTemplates(store.NewTemplateStore(db), orchestrator, resolver, storageClient, listCache, opts)

	r := router.New(router.Deps{
		Drafts:          handlers.NewDrafts(draftService),
		Templates:       handlers.NewTemplates(templateService),
		Health:          handlers.Health(db),
		Metrics:         metrics.Handler(db),
		GenerationLimit: middleware.NewRateLimiter(valkeyClient, "generation", cfg.RateLimitGeneration, time.Minute),
	})

	// Generation requests block until the whole batch is done, so the
	// write timeout follows the configured request timeout.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown: wait for SIGINT or SIGTERM, then drain connections.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// In-flight batches may take minutes; give them the request timeout
	// to finish.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
