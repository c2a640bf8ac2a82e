// Command api runs the agent dashboard backend: it resolves configuration
// once, constructs the two backend clients, and serves the data-access
// facade over HTTP.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"agenthub-backend/internal/acl"
	"agenthub-backend/internal/backend"
	dynamoclient "agenthub-backend/internal/backend/dynamo"
	pgclient "agenthub-backend/internal/backend/postgres"
	"agenthub-backend/internal/batch"
	"agenthub-backend/internal/cache"
	"agenthub-backend/internal/config"
	"agenthub-backend/internal/fallback"
	"agenthub-backend/internal/interfaces/rest"
	"agenthub-backend/internal/observability"
	"agenthub-backend/internal/querycache"
	"agenthub-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("FATAL: logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	primary, err := buildPrimary(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build primary backend", zap.Error(err))
	}
	secondary, pool, err := buildSecondary(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build secondary backend", zap.Error(err))
	}
	if pool != nil {
		defer pool.Close()
	}

	metrics := observability.NewCollector("agenthub")
	coordinator := fallback.NewCoordinator(primary, secondary, cfg.DefaultBackend, logger, metrics)

	cacheStore := cache.NewStore(cfg.Cache.Capacity)
	ttl := cache.TTLPolicy{
		ItemTTL:        cfg.Cache.ItemTTL,
		SmallSetTTL:    cfg.Cache.SmallSetTTL,
		MediumSetTTL:   cfg.Cache.MediumSetTTL,
		LargeSetTTL:    cfg.Cache.LargeSetTTL,
		SmallThreshold: cfg.Cache.SmallThreshold,
		LargeThreshold: cfg.Cache.LargeThreshold,
	}
	executor := batch.NewExecutor(cfg.BatchChunkSize, logger)
	facade := store.New(coordinator, cacheStore, ttl, executor, logger, metrics)

	queryCache := buildQueryCache(cfg, pool, logger)

	handler := rest.NewHandler(facade, queryCache, logger)
	server := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           rest.NewRouter(handler, metrics.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("address", cfg.ServerAddress),
			zap.String("defaultBackend", string(cfg.DefaultBackend)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func buildPrimary(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Client, error) {
	if cfg.DynamoDBTable == "" {
		logger.Warn("primary backend not configured, operations will fall back")
		return backend.NewUnconfigured(backend.KindPrimary, dynamoclient.Name), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}
	return dynamoclient.NewClient(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, logger), nil
}

func buildSecondary(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Client, *pgxpool.Pool, error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("secondary backend not configured, no fallback target or transactions")
		return backend.NewUnconfigured(backend.KindSecondary, pgclient.Name), nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return pgclient.NewClient(pool, logger), pool, nil
}

func buildQueryCache(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) *querycache.Cache {
	if cfg.QueryOriginURL == "" || pool == nil {
		logger.Warn("query-result cache disabled",
			zap.Bool("originConfigured", cfg.QueryOriginURL != ""),
			zap.Bool("relationalStoreConfigured", pool != nil))
		return nil
	}
	var semantic querycache.SemanticStore
	if cfg.SemanticStoreURL != "" {
		semantic = acl.NewHTTPSemanticStore(cfg.SemanticStoreURL)
	}
	return querycache.New(
		pgclient.NewQueryStore(pool, logger),
		acl.NewGraphQLOrigin(cfg.QueryOriginURL),
		semantic,
		cfg.QueryCacheTTL,
		logger,
	)
}
