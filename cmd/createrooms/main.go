// Package main pre-creates permanent VideoRoom rooms on the media gateway so
// games can be assigned a room_id ahead of play.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
	"github.com/cory-johannsen/tabletop-hub/internal/janus"
	"github.com/cory-johannsen/tabletop-hub/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	count := flag.Int("count", 100, "number of rooms to create")
	first := flag.Int64("start", 1000, "id of the first room")
	publishers := flag.Int("publishers", 10, "maximum publishers per room")
	bitrate := flag.Int("bitrate", 512000, "room bitrate cap in bits per second")
	firFreq := flag.Int("fir-freq", 10, "keyframe request interval in seconds")
	permanent := flag.Bool("permanent", true, "persist rooms in the gateway configuration")
	parallel := flag.Int("parallel", 4, "concurrent create requests")
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

	ctx := context.Background()
	client := janus.NewClient(cfg.Janus, logger)

	session, err := backoff.Retry(ctx, func() (*janus.Session, error) {
		return client.Open(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("gateway not ready", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	if err != nil {
		logger.Fatal("opening gateway session", zap.String("url", cfg.Janus.URL), zap.Error(err))
	}
	defer func() {
		if err := session.Destroy(context.Background()); err != nil {
			logger.Warn("destroying gateway session", zap.Error(err))
		}
	}()

	handle, err := session.AttachHandle(ctx)
	if err != nil {
		logger.Error("attaching videoroom handle", zap.Error(err))
		return
	}

	var created, existing, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i := range *count {
		room := janus.Room{
			ID:          *first + int64(i),
			Description: fmt.Sprintf("Pre-generated Room %d", i+1),
			Publishers:  *publishers,
			Bitrate:     *bitrate,
			FIRFreq:     *firFreq,
			Permanent:   *permanent,
		}
		g.Go(func() error {
			err := handle.CreateRoom(gctx, room)
			switch {
			case err == nil:
				created.Add(1)
				logger.Info("room created", zap.Int64("room", room.ID))
			case janus.IsRoomExists(err):
				existing.Add(1)
				logger.Info("room already exists", zap.Int64("room", room.ID))
			default:
				failed.Add(1)
				logger.Warn("room not created", zap.Int64("room", room.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("room creation finished",
		zap.Int64("created", created.Load()),
		zap.Int64("existing", existing.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
}
