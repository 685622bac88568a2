package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"adflow/internal/adapter/repo"
	"adflow/internal/domain"
	"adflow/internal/generation"
	"adflow/internal/http/handlers"
	"adflow/internal/http/httpapi"
	"adflow/internal/infra"
	"adflow/internal/infra/geoip"
	"adflow/internal/middleware"
	"adflow/internal/providers/comet"
	"adflow/internal/providers/n8n"
	"adflow/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	// Job store: PostgreSQL when configured, in-memory for local development.
	var jobs domain.JobRepository
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		if err := repo.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure database schema")
		}
		jobs = repo.NewJobRepository(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory job store")
		jobs = repo.NewMemoryJobRepository()
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	provider := comet.NewClient(comet.Options{
		APIKey:     cfg.CometAPIKey,
		BaseURL:    cfg.CometBaseURL,
		VideoModel: cfg.CometVideoModel,
		ImageModel: cfg.CometImageModel,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if !provider.HasCredentials() {
		logger.Warn().Msg("COMET_API_KEY missing, generation requests will fail")
	}
	engine := n8n.NewClient(n8n.Options{
		WebhookURL: cfg.N8NWebhookURL,
		HTTPClient: httpClient,
		Logger:     &logger,
	})

	supervisor := generation.NewSupervisor(10, logger)
	worker := generation.NewWorker(generation.WorkerOptions{
		Jobs:         jobs,
		Provider:     provider,
		Store:        store,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxPollAttempts,
		PublicBase:   cfg.StorageBaseURL,
	})
	dispatcher := generation.NewDispatcher(generation.DispatcherOptions{
		Jobs:       jobs,
		Worker:     worker,
		Supervisor: supervisor,
		Logger:     logger,
		MaxVideos:  cfg.MaxBatchVideos,
		MaxSeconds: cfg.MaxVideoSeconds,
	})

	var countryLookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		countryLookup = resolver.CountryCode
	}

	app := &handlers.App{
		Jobs:       jobs,
		Store:      store,
		Engine:     engine,
		Worker:     worker,
		Dispatcher: dispatcher,
		Supervisor: supervisor,
		Logger:     logger,
		PublicBase: cfg.StorageBaseURL,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		CallbackSecret:  cfg.N8NCallbackSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   countryLookup,
		StaticDir:       store.BasePath(),
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	// Let in-flight generation units land their final writes before exit.
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("background generation drained incompletely")
	}
	logger.Info().Msg("server stopped")
}
