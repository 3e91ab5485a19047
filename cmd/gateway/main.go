// Package main is the gateway's entrypoint: hand-wired dependency
// injection (no DI container) in the manner of the teacher's simpler
// binaries, plus the graceful-shutdown signal handling from its API
// server entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alchemorsel/gateway/internal/application/gateway"
	"github.com/alchemorsel/gateway/internal/domain/object"
	"github.com/alchemorsel/gateway/internal/infrastructure/background"
	"github.com/alchemorsel/gateway/internal/infrastructure/config"
	"github.com/alchemorsel/gateway/internal/infrastructure/edgecache"
	"github.com/alchemorsel/gateway/internal/infrastructure/http/server"
	"github.com/alchemorsel/gateway/internal/infrastructure/kvcache"
	"github.com/alchemorsel/gateway/internal/infrastructure/metrics"
	"github.com/alchemorsel/gateway/internal/infrastructure/origin"
	"github.com/alchemorsel/gateway/internal/infrastructure/purge"
	"github.com/alchemorsel/gateway/internal/infrastructure/routing"
	"github.com/alchemorsel/gateway/internal/ports/outbound"
	"github.com/alchemorsel/gateway/pkg/healthcheck"
	"github.com/alchemorsel/gateway/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(logger.Config{
		LogLevel:    cfg.App.LogLevel,
		LogFormat:   cfg.App.LogFormat,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync()

	redisClient := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.Database,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		PoolSize:        cfg.Redis.PoolSize,
		ConnMaxLifetime: cfg.Redis.ConnMaxLifetime,
	})
	defer redisClient.Close()

	awsSession := session.Must(session.NewSession(&aws.Config{
		Region:   aws.String(cfg.AWS.Region),
		Endpoint: awsEndpoint(cfg.AWS.Endpoint),
	}))

	cacheMetrics := metrics.NewCacheMetrics()
	originMetrics := metrics.NewOriginMetrics()

	originClient := origin.New(awsSession, origin.Config{
		Bucket:             cfg.AWS.S3Bucket,
		MaxRetries:         cfg.Storage.MaxRetries,
		RetryDelay:         cfg.Storage.RetryDelay,
		ExponentialBackoff: cfg.Storage.ExponentialBackoff,
	}, zlog, originMetrics)

	// One S3 bucket backs every routed bucket identifier; routing exists
	// to let several hostnames/prefixes share that single origin binding
	// under distinct logical names (§4.D).
	blobStores := map[string]outbound.BlobStore{cfg.Routes.DefaultBucket: originClient}
	for _, rt := range cfg.Routes.Routes {
		blobStores[rt.Bucket] = originClient
	}

	router := routing.New(toBucketRoutes(cfg.Routes.Routes), cfg.Routes.DefaultBucket)

	redisStore := kvcache.NewRedisStore(redisClient, zlog)
	slowTier := kvcache.New(redisStore, redisStore, kvcache.Limits{
		SingleEntryMax: cfg.Storage.SingleEntryMaxBytes,
		ChunkSize:      cfg.Storage.ChunkSizeBytes,
		TotalMax:       cfg.Storage.TotalMaxBytes,
		MinReadTTL:     cfg.Storage.MinReadTTL,
		MinWriteTTL:    cfg.Storage.MinWriteTTL,
	})

	edge := edgecache.New(cfg.Gateway.FastCacheCapBytes)
	tasks := background.New(32, zlog)

	gatewaySvc := gateway.New(router, blobStores, slowTier, edge, tasks, cfg.Gateway, zlog, cacheMetrics)

	var cdnInvalidator *purge.Invalidator
	if cfg.AWS.CloudFrontDistributionID != "" {
		cf := cloudfront.New(awsSession)
		cdnInvalidator = purge.NewInvalidator(cf, cfg.AWS.CloudFrontDistributionID, zlog)
	}
	_ = purge.New(edge, cdnInvalidator, zlog) // constructed for the ops-invoked purge path; not served over HTTP

	health := healthcheck.New(cfg.App.Version, zlog)
	health.Register("redis", healthcheck.NewRedisChecker(redisClient))
	health.Register("origin", healthcheck.NewOriginChecker(originClient))

	srv := server.New(cfg, zlog, gatewaySvc, health)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			zlog.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		zlog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
	zlog.Info("gateway stopped")
}

func toBucketRoutes(routes []config.RouteConfig) []object.BucketRoute {
	out := make([]object.BucketRoute, len(routes))
	for i, r := range routes {
		out[i] = object.BucketRoute{
			HostPattern:       r.HostPattern,
			PathPrefix:        r.PathPrefix,
			BucketIdentifier:  r.Bucket,
			BucketDisplayName: r.BucketDisplayName,
			StripPrefix:       r.StripPrefix,
		}
	}
	return out
}

func awsEndpoint(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}
