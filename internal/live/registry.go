// Package live tracks open event streams per game and fans domain events out
// to them.
package live

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/event"
	"github.com/cory-johannsen/tabletop-hub/internal/observability"
)

// Snapshotter produces the event a new subscriber receives first.
type Snapshotter interface {
	Snapshot(ctx context.Context, gameID string) (event.Event, error)
}

// Mirror receives every encoded broadcast after local fan-out.
type Mirror interface {
	Mirror(ctx context.Context, gameID string, msg []byte) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithBufferSize sets the per-subscriber queue length.
func WithBufferSize(n int) Option {
	return func(r *Registry) { r.bufferSize = n }
}

// WithMetrics records subscriber and broadcast counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithMirror forwards every broadcast to m.
func WithMirror(m Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

// Registry owns the game channels. All methods are safe for concurrent use.
type Registry struct {
	logger     *zap.Logger
	snapshots  Snapshotter
	mirror     Mirror
	metrics    *observability.Metrics
	bufferSize int

	mu    sync.RWMutex
	games map[string]map[string]*Subscriber // gameID → subscriber id → subscriber
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger and snapshots must be non-nil.
func NewRegistry(logger *zap.Logger, snapshots Snapshotter, opts ...Option) *Registry {
	r := &Registry{
		logger:     logger,
		snapshots:  snapshots,
		bufferSize: 64,
		games:      make(map[string]map[string]*Subscriber),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers stream on the game's channel and prepares the current
// snapshot as its first message. The subscriber is registered before the
// snapshot is loaded, so any mutation newer than the snapshot is queued
// behind it.
//
// Precondition: gameID must be non-empty; stream must be non-nil.
// Postcondition: Returns a registered Subscriber, or an error with nothing registered.
func (r *Registry) Subscribe(ctx context.Context, gameID string, stream Stream) (*Subscriber, error) {
	sub := newSubscriber(uuid.NewString(), gameID, stream, r, r.bufferSize)

	r.mu.Lock()
	subs, ok := r.games[gameID]
	if !ok {
		subs = make(map[string]*Subscriber)
		r.games[gameID] = subs
	}
	subs[sub.id] = sub
	count := len(subs)
	r.mu.Unlock()
	r.metrics.SubscriberAdded()

	ev, err := r.snapshots.Snapshot(ctx, gameID)
	if err != nil {
		r.Unsubscribe(sub)
		return nil, fmt.Errorf("loading snapshot for game %s: %w", gameID, err)
	}
	b, err := ev.Encode()
	if err != nil {
		r.Unsubscribe(sub)
		return nil, err
	}
	sub.snapshot = b

	r.logger.Info("subscriber joined",
		zap.String("game", gameID),
		zap.String("subscriber", sub.id),
		zap.Int("subscribers", count),
	)
	return sub, nil
}

// Unsubscribe removes sub from its game channel and closes it. It is
// idempotent; an emptied channel is dropped.
func (r *Registry) Unsubscribe(sub *Subscriber) {
	r.mu.Lock()
	removed := false
	if subs, ok := r.games[sub.gameID]; ok {
		if cur, ok := subs[sub.id]; ok && cur == sub {
			delete(subs, sub.id)
			removed = true
			if len(subs) == 0 {
				delete(r.games, sub.gameID)
			}
		}
	}
	r.mu.Unlock()

	sub.close()
	if removed {
		r.metrics.SubscriberRemoved()
		r.logger.Debug("subscriber left",
			zap.String("game", sub.gameID),
			zap.String("subscriber", sub.id),
		)
	}
}

// Broadcast encodes ev once and queues it for every subscriber of gameID.
// A subscriber that cannot accept the message is removed; the failure is
// logged and never returned.
//
// Postcondition: Returns the number of subscribers the message was queued for.
func (r *Registry) Broadcast(ctx context.Context, gameID string, ev event.Event) int {
	b, err := ev.Encode()
	if err != nil {
		r.logger.Error("encoding broadcast",
			zap.String("game", gameID),
			zap.String("topic", string(ev.Topic)),
			zap.Error(err),
		)
		return 0
	}

	delivered := 0
	for _, sub := range r.subscribers(gameID) {
		if err := sub.push(b); err != nil {
			r.metrics.DeliveryFailed()
			r.logger.Warn("dropping subscriber",
				zap.String("game", gameID),
				zap.String("subscriber", sub.id),
				zap.String("topic", string(ev.Topic)),
				zap.Error(err),
			)
			r.Unsubscribe(sub)
			continue
		}
		delivered++
	}
	r.metrics.Broadcast(string(ev.Topic))

	if r.mirror != nil {
		if err := r.mirror.Mirror(ctx, gameID, b); err != nil {
			r.logger.Warn("mirroring broadcast",
				zap.String("game", gameID),
				zap.String("topic", string(ev.Topic)),
				zap.Error(err),
			)
		}
	}
	return delivered
}

// subscribers returns a copy of the game's channel so iteration never holds the lock.
func (r *Registry) subscribers(gameID string) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.games[gameID]
	out := make([]*Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// Count returns the number of subscribers for gameID.
func (r *Registry) Count(gameID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games[gameID])
}

// Games returns the ids of games with at least one subscriber, sorted.
func (r *Registry) Games() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.games))
	for id := range r.games {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close removes and closes every subscriber. Forwarders return nil afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	var all []*Subscriber
	for _, subs := range r.games {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	r.games = make(map[string]map[string]*Subscriber)
	r.mu.Unlock()

	for _, s := range all {
		if s.close() {
			r.metrics.SubscriberRemoved()
		}
	}
	r.logger.Info("live registry closed", zap.Int("subscribers", len(all)))
}
