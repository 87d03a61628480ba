// Package postgres persists games, maps, characters, items, fog points and
// media assets in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
)

// PoolOption configures NewPool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	logger       *zap.Logger
	queryLevel   tracelog.LogLevel
	connectLimit time.Duration
}

// WithLogger routes pgx query logs at level or above to logger.
func WithLogger(logger *zap.Logger, level tracelog.LogLevel) PoolOption {
	return func(o *poolOptions) {
		o.logger = logger
		o.queryLevel = level
	}
}

// WithConnectRetry keeps retrying the first ping with exponential backoff
// for up to limit. The hub may start before its database accepts connections.
func WithConnectRetry(limit time.Duration) PoolOption {
	return func(o *poolOptions) { o.connectLimit = limit }
}

// Pool owns the hub's connection pool.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to the database described by cfg.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a pool that answered a ping, or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, opts ...PoolOption) (*Pool, error) {
	o := poolOptions{queryLevel: tracelog.LogLevelNone}
	for _, opt := range opts {
		opt(&o)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if o.logger != nil && o.queryLevel != tracelog.LogLevelNone {
		poolCfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   queryLogger(o.logger.Named("pgx")),
			LogLevel: o.queryLevel,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	ping := func() (struct{}, error) { return struct{}{}, pool.Ping(ctx) }
	if o.connectLimit > 0 {
		_, err = backoff.Retry(ctx, ping,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(o.connectLimit),
			backoff.WithNotify(func(err error, next time.Duration) {
				if o.logger != nil {
					o.logger.Warn("database not ready", zap.Error(err), zap.Duration("retry_in", next))
				}
			}),
		)
	} else {
		_, err = ping()
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &Pool{pool: pool}, nil
}

// queryLogger adapts zap to the pgx trace logger.
func queryLogger(l *zap.Logger) tracelog.Logger {
	return tracelog.LoggerFunc(func(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
		fields := make([]zap.Field, 0, len(data))
		for k, v := range data {
			fields = append(fields, zap.Any(k, v))
		}
		switch level {
		case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
			l.Debug(msg, fields...)
		case tracelog.LogLevelInfo:
			l.Info(msg, fields...)
		case tracelog.LogLevelWarn:
			l.Warn(msg, fields...)
		default:
			l.Error(msg, fields...)
		}
	})
}

// Health pings the database, giving up after timeout.
//
// Precondition: The pool must not be closed.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Total    int32
	Acquired int32
	Idle     int32
}

// Stats reports current pool usage.
func (p *Pool) Stats() Stats {
	s := p.pool.Stat()
	return Stats{Total: s.TotalConns(), Acquired: s.AcquiredConns(), Idle: s.IdleConns()}
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the pgx pool the repositories query through.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
