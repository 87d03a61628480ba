// Package main provides the hub binary: the HTTP API, the live websocket
// streams and the media coordinator for tabletop games.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
	"github.com/cory-johannsen/tabletop-hub/internal/game"
	"github.com/cory-johannsen/tabletop-hub/internal/httpapi"
	"github.com/cory-johannsen/tabletop-hub/internal/janus"
	"github.com/cory-johannsen/tabletop-hub/internal/live"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
	"github.com/cory-johannsen/tabletop-hub/internal/observability"
	"github.com/cory-johannsen/tabletop-hub/internal/relay"
	"github.com/cory-johannsen/tabletop-hub/internal/seed"
	"github.com/cory-johannsen/tabletop-hub/internal/server"
	"github.com/cory-johannsen/tabletop-hub/internal/storage/memory"
	"github.com/cory-johannsen/tabletop-hub/internal/storage/postgres"
)

const healthInterval = 30 * time.Second

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	memorySeed := flag.String("memory-seed", "", "serve from an in-memory store loaded from this fixture instead of PostgreSQL")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logging, err := observability.NewLogging(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	logger := logging.Logger
	defer logger.Sync()

	logger.Info("starting hub",
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.String("grpc_addr", cfg.GRPC.Addr()),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	healthSrv := health.NewServer()
	lifecycle := server.NewLifecycle(logger, cfg.HTTP.ShutdownTimeout)

	// Storage
	var store game.Store
	if *memorySeed != "" {
		store, err = memoryStore(ctx, *memorySeed, logger)
		if err != nil {
			logger.Fatal("loading memory store", zap.Error(err))
		}
	} else {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database,
			postgres.WithLogger(logger, tracelog.LogLevelWarn),
			postgres.WithConnectRetry(time.Minute),
		)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		store = postgres.NewRepositories(pool.DB()).Store()

		stop := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(healthInterval)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return nil
					case <-ticker.C:
						status := healthpb.HealthCheckResponse_SERVING
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
							status = healthpb.HealthCheckResponse_NOT_SERVING
						}
						stats := pool.Stats()
						logger.Debug("database pool",
							zap.Int32("total", stats.Total),
							zap.Int32("acquired", stats.Acquired),
							zap.Int32("idle", stats.Idle),
						)
						healthSrv.SetServingStatus("", status)
					}
				}
			},
			StopFn: func(context.Context) error {
				close(stop)
				pool.Close()
				return nil
			},
		})
	}

	// Media
	gateway := janus.NewClient(cfg.Janus, logger, janus.WithEncoder(janus.NewCommandEncoder(cfg.Media, logger)))
	coordinator := media.NewCoordinator(gateway, logger,
		media.WithBitrate(cfg.Media.Bitrate),
		media.WithMetrics(metrics),
	)
	lifecycle.Add("media", &server.FuncService{
		StartFn: func() error { return nil },
		StopFn:  coordinator.Close,
	})

	// Game service and live registry
	svc := game.NewService(store, coordinator, logger, game.WithMetrics(metrics))
	liveOpts := []live.Option{
		live.WithBufferSize(cfg.Live.SendBuffer),
		live.WithMetrics(metrics),
	}
	if cfg.Redis.Enabled {
		client, err := relay.NewClient(cfg.Redis, logger)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		mirror := relay.NewMirror(client, cfg.Redis.Prefix)
		if err := mirror.Health(ctx); err != nil {
			logger.Warn("redis unreachable, events will be mirrored once it recovers", zap.Error(err))
		}
		liveOpts = append(liveOpts, live.WithMirror(mirror))
		lifecycle.Add("redis", &server.FuncService{
			StartFn: func() error { return nil },
			StopFn:  func(context.Context) error { return client.Close() },
		})
	}
	registry := live.NewRegistry(logger, svc, liveOpts...)
	svc.SetBroadcaster(registry)
	lifecycle.Add("live", &server.FuncService{
		StartFn: func() error { return nil },
		StopFn:  stopWith(registry.Close),
	})

	// HTTP
	router := httpapi.NewRouter(httpapi.Config{
		Service:  svc,
		Live:     registry,
		HTTP:     cfg.HTTP,
		Stream:   cfg.Live,
		Logger:   logger,
		Gatherer: reg,
		LogLevel: logging.Level,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: httpServer.Shutdown,
	})

	// gRPC health
	grpcServer := grpc.NewServer(observability.GRPCServerOptions(logger)...)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	lifecycle.Add("grpc", &server.FuncService{
		StartFn: func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr())
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.GRPC.Addr(), err)
			}
			logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
			healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			return grpcServer.Serve(lis)
		},
		StopFn: func(context.Context) error {
			healthSrv.Shutdown()
			grpcServer.GracefulStop()
			return nil
		},
	})

	logger.Info("hub initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// stopWith adapts a plain close function to FuncService.StopFn.
func stopWith(f func()) func(context.Context) error {
	return func(context.Context) error {
		f()
		return nil
	}
}

// memoryStore loads fixture into a fresh in-memory store.
func memoryStore(ctx context.Context, path string, logger *zap.Logger) (game.Store, error) {
	fixture, err := seed.LoadFile(path)
	if err != nil {
		return game.Store{}, err
	}
	store := memory.New(time.Now)
	summary, err := seed.Load(ctx, store, fixture, logger)
	if err != nil {
		return game.Store{}, err
	}
	logger.Info("memory store ready",
		zap.Int("games", summary.Games),
		zap.Int("characters", summary.Characters),
	)
	return store.Store(), nil
}
