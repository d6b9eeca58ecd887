package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"aistudio/internal/adapter/cache"
	"aistudio/internal/adapter/memstore"
	"aistudio/internal/adapter/repo"
	"aistudio/internal/bgremoval"
	"aistudio/internal/domain"
	"aistudio/internal/generation"
	"aistudio/internal/http/handlers"
	httpapi "aistudio/internal/http/httpapi"
	"aistudio/internal/infra"
	"aistudio/internal/infra/credentials"
	"aistudio/internal/infra/geoip"
	"aistudio/internal/materialize"
	"aistudio/internal/middleware"
	"aistudio/internal/providers/photoroom"
	"aistudio/internal/providers/replicate"
	"aistudio/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx := context.Background()
	healthChecks := map[string]handlers.HealthCheck{}

	// Persistence
	var (
		generations domain.GenerationRepository
		counters    domain.CounterRepository
		creds       *credentials.Store
	)
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		logger.Warn().Msg("using in-memory store, records are lost on restart")
		generations = memstore.NewGenerationStore(nil)
		counters = memstore.NewCounterStore()
	default:
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		runner := infra.NewSQLRunner(dbpool, logger)
		generations = repo.NewGenerationRepository(runner)
		counters = repo.NewStatRepository(runner)
		creds = credentials.NewStore(runner)
		healthChecks["postgres"] = dbpool.Ping
	}

	// Result memo cache
	var resultCache domain.ResultCache = cache.NewMemoryResultCache()
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		redisCache := cache.NewRedisResultCache(client, "aistudio:")
		resultCache = redisCache
		healthChecks["redis"] = redisCache.Health
	}

	// Provider credentials fall back to the integration_tokens table.
	replicateToken := resolveToken(ctx, creds, credentials.ProviderReplicate, cfg.ReplicateAPIToken, logger)
	photoroomKey := resolveToken(ctx, creds, credentials.ProviderPhotoroom, cfg.PhotoroomAPIKey, logger)
	if replicateToken == "" {
		logger.Warn().Msg("replicate token missing, prediction tools will report not configured")
	}

	outbound := &http.Client{}
	replicateClient, err := replicate.NewClient(replicate.Options{
		APIToken:       replicateToken,
		BaseURL:        cfg.ReplicateBaseURL,
		HTTPClient:     outbound,
		Logger:         &logger,
		PricePerSecond: cfg.ReplicatePricePerSecond,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("replicate client init failed")
	}
	photoroomClient, err := photoroom.NewClient(photoroom.Options{
		APIKey:     photoroomKey,
		BaseURL:    cfg.PhotoroomBaseURL,
		HTTPClient: outbound,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("photoroom client init failed")
	}

	// Result storage
	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage init failed")
	}
	locator := storage.NewLocator(cfg.AppURL, cfg.StoragePublicPath)
	materializer, err := materialize.New(materialize.Options{
		Store:      fileStore,
		Locator:    locator,
		HTTPClient: outbound,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("materializer init failed")
	}

	background := bgremoval.New(cfg.BackgroundDriver, bgremoval.Deps{
		Replicate:   replicateClient,
		Photoroom:   photoroomClient,
		Store:       materializer,
		Cache:       resultCache,
		CacheTTL:    cfg.ResultCacheTTL,
		RetryDelays: cfg.ResultRetryDelays,
		HTTPClient:  outbound,
		Logger:      &logger,
	})

	service, err := generation.New(generation.Options{
		Repo:            generations,
		Counters:        counters,
		Cache:           resultCache,
		Store:           materializer,
		Replicate:       replicateClient,
		Background:      background,
		Locator:         locator,
		Inliner:         fileStore,
		RetryDelays:     cfg.ResultRetryDelays,
		MemoTTL:         cfg.ResultCacheTTL,
		StrictOwnership: cfg.StrictJobOwnership,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("generation service init failed")
	}

	var countryLookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		countryLookup = resolver.CountryCode
	}

	app := handlers.NewApp(service, counters, &logger)
	app.HealthChecks = healthChecks

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:            logger,
		ShopifySecret:     cfg.ShopifyAPISecret,
		ShopifyAPIKey:     cfg.ShopifyAPIKey,
		AllowShopHeader:   cfg.AppEnv == "development",
		RateLimitPerMin:   cfg.RateLimitPerMin,
		CountryLookup:     countryLookup,
		StorageDir:        fileStore.BasePath(),
		StoragePublicPath: cfg.StoragePublicPath,
	})

	server := infra.NewHTTPServer(cfg, router)

	// Graceful shutdown
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("store", cfg.StoreDriver).
		Str("bg_driver", background.Name()).
		Msgf("API listening on %s", server.Addr())
	if err := server.ListenAndRun(runCtx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}
	logger.Info().Msg("server stopped")
}

func resolveToken(ctx context.Context, store *credentials.Store, provider, configured string, logger infra.Logger) string {
	if store == nil {
		return configured
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	token, err := store.Resolve(ctx, provider, configured)
	if err != nil {
		logger.Warn().Err(err).Str("provider", provider).Msg("stored credential lookup failed")
		return configured
	}
	return token
}
