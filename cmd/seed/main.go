// Package main loads a YAML fixture of games into PostgreSQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
	"github.com/cory-johannsen/tabletop-hub/internal/observability"
	"github.com/cory-johannsen/tabletop-hub/internal/seed"
	"github.com/cory-johannsen/tabletop-hub/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	fixturePath := flag.String("fixture", "configs/seed.yaml", "path to the game fixture")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	fixture, err := seed.LoadFile(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Database, postgres.WithConnectRetry(30*time.Second))
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()

	summary, err := seed.Load(ctx, postgres.NewRepositories(pool.DB()), fixture, logger)
	if err != nil {
		logger.Fatal("seeding", zap.String("fixture", *fixturePath), zap.Error(err))
	}
	fmt.Printf("seeded %d games, %d characters, %d items, %d assets in %s\n",
		summary.Games, summary.Characters, summary.Items, summary.Assets,
		time.Since(start).Round(time.Millisecond))
}
