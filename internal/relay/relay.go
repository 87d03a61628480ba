// Package relay mirrors live broadcasts onto Redis pub/sub so processes other
// than the hub can follow a game's event stream.
package relay

import (
	"context"
	"fmt"
	"net"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
)

// NewClient connects to Redis with tracing, metrics and debug logging hooks.
//
// Precondition: cfg.Addrs must be non-empty.
// Postcondition: Returns an instrumented client, or an error when
// instrumentation fails.
func NewClient(cfg config.RedisConfig, logger *zap.Logger) (redis.UniversalClient, error) {
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
	})
	if err := redisotel.InstrumentTracing(rc); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(rc); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("instrument metrics: %w", err)
	}
	rc.AddHook(logHook{logger: logger.Named("redis")})
	return rc, nil
}

// Mirror publishes encoded events to "<prefix>:game:<gameID>".
type Mirror struct {
	client redis.UniversalClient
	prefix string
}

// NewMirror creates a Mirror publishing through client.
//
// Precondition: client must be non-nil; prefix must be non-empty.
func NewMirror(client redis.UniversalClient, prefix string) *Mirror {
	return &Mirror{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel carrying gameID's events.
func (m *Mirror) Channel(gameID string) string {
	return fmt.Sprintf("%s:game:%s", m.prefix, gameID)
}

// Mirror publishes msg on the game's channel.
func (m *Mirror) Mirror(ctx context.Context, gameID string, msg []byte) error {
	if err := m.client.Publish(ctx, m.Channel(gameID), msg).Err(); err != nil {
		return fmt.Errorf("relay: publish %s: %w", gameID, err)
	}
	return nil
}

// Subscribe follows the game's channel until the returned PubSub is closed.
func (m *Mirror) Subscribe(ctx context.Context, gameID string) *redis.PubSub {
	return m.client.Subscribe(ctx, m.Channel(gameID))
}

// Health pings Redis.
func (m *Mirror) Health(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

type logHook struct {
	logger *zap.Logger
}

func (h logHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Warn("dial failed", zap.String("addr", addr), zap.Error(err))
			return nil, err
		}
		h.logger.Debug("dialed", zap.String("network", network), zap.String("addr", addr))
		return conn, nil
	}
}

func (h logHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && err != redis.Nil {
			h.logger.Warn("command failed", zap.String("cmd", cmd.Name()), zap.Error(err))
		}
		return err
	}
}

func (h logHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil {
			h.logger.Warn("pipeline failed", zap.Int("commands", len(cmds)), zap.Error(err))
		}
		return err
	}
}
