package media

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/errors"
	"github.com/cory-johannsen/tabletop-hub/internal/observability"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBitrate overrides DefaultBitrate.
func WithBitrate(bps int) Option {
	return func(c *Coordinator) { c.bitrate = bps }
}

// WithMetrics records session counts and failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator owns the table of live sessions. Play and Stop for the same
// (game, kind) are serialized; different keys proceed independently.
// All methods are safe for concurrent use.
type Coordinator struct {
	gateway Gateway
	logger  *zap.Logger
	metrics *observability.Metrics
	bitrate int
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[key]*keyLock

	mu       sync.Mutex
	sessions map[key]*Session
	closed   bool

	tasks sync.WaitGroup
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewCoordinator creates a Coordinator publishing through gateway.
//
// Precondition: gateway and logger must be non-nil.
func NewCoordinator(gateway Gateway, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		gateway:  gateway,
		logger:   logger,
		bitrate:  DefaultBitrate,
		now:      time.Now,
		locks:    make(map[key]*keyLock),
		sessions: make(map[key]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lock enters the critical section for k and returns its release.
func (c *Coordinator) lock(k key) func() {
	c.locksMu.Lock()
	l, ok := c.locks[k]
	if !ok {
		l = &keyLock{}
		c.locks[k] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, k)
		}
		c.locksMu.Unlock()
	}
}

// Play starts req as the only session for its game and kind. An existing
// session for that key is stopped and fully released first. The new session
// is returned in the starting state; it becomes observable as playing only
// after the gateway accepted the publish.
//
// Precondition: req must pass Validate.
// Postcondition: Returns the new Session, an InvalidArgument error with no
// gateway calls made, or an error if ctx ended while the previous session drained.
func (c *Coordinator) Play(ctx context.Context, req PlayRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	k := key{gameID: req.GameID, kind: req.Kind}
	unlock := c.lock(k)
	defer unlock()

	if prev := c.current(k); prev != nil {
		c.logger.Info("superseding media session",
			zap.String("game", req.GameID),
			zap.String("kind", string(req.Kind)),
			zap.String("previous", prev.asset.ExternalID),
			zap.String("next", req.Asset.ExternalID),
		)
		if err := c.stopAndWait(ctx, prev); err != nil {
			return nil, err
		}
	}

	// The session outlives the request that started it.
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := newSession(req, cancel, c.now())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, errors.Unavailable(nil, "media coordinator is shut down")
	}
	c.sessions[k] = s
	c.tasks.Add(1)
	c.mu.Unlock()

	go c.run(taskCtx, s, req)
	return s, nil
}

// Stop cancels the session for (gameID, kind) when it plays assetID and
// waits until its resources are released.
//
// Postcondition: Returns false without touching the gateway when no matching
// session exists; otherwise returns true once the session is gone or ctx ends.
func (c *Coordinator) Stop(ctx context.Context, gameID, assetID string, kind Kind) bool {
	k := key{gameID: gameID, kind: kind}
	unlock := c.lock(k)
	defer unlock()

	s := c.current(k)
	if s == nil || s.asset.ExternalID != assetID {
		return false
	}
	if err := c.stopAndWait(ctx, s); err != nil {
		c.logger.Warn("media session still draining",
			zap.String("game", gameID),
			zap.String("kind", string(kind)),
			zap.String("asset", assetID),
			zap.Error(err),
		)
	}
	return true
}

func (c *Coordinator) stopAndWait(ctx context.Context, s *Session) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s session %s to stop: %w", s.key.kind, s.asset.ExternalID, ctx.Err())
	}
}

func (c *Coordinator) current(k key) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[k]
}

// remove deletes s only if it still owns its key.
func (c *Coordinator) remove(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[s.key] == s {
		delete(c.sessions, s.key)
	}
}

// Active returns the playing session for (gameID, kind).
func (c *Coordinator) Active(gameID string, kind Kind) (*Session, bool) {
	s := c.current(key{gameID: gameID, kind: kind})
	if s == nil || s.State() != StatePlaying {
		return nil, false
	}
	return s, true
}

// Sessions returns every registered session ordered by game and kind.
func (c *Coordinator) Sessions() []*Session {
	c.mu.Lock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].key.gameID != out[j].key.gameID {
			return out[i].key.gameID < out[j].key.gameID
		}
		return out[i].key.kind < out[j].key.kind
	})
	return out
}

// Close stops every session and waits for their tasks. Play fails afterwards.
//
// Postcondition: Returns nil once all tasks released their resources, or ctx.Err().
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	all := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		all = append(all, s)
	}
	c.mu.Unlock()

	for _, s := range all {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("media coordinator closed", zap.Int("sessions", len(all)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resources tracks what the task acquired so release undoes exactly that.
type resources struct {
	session   GatewaySession
	publisher Publisher
	joined    bool
}

func (c *Coordinator) run(ctx context.Context, s *Session, req PlayRequest) {
	defer c.tasks.Done()

	log := c.logger.With(
		zap.String("game", req.GameID),
		zap.String("kind", string(req.Kind)),
		zap.String("asset", req.Asset.ExternalID),
		zap.Int64("room", req.RoomID),
	)

	var res resources
	if err := c.setup(ctx, req, &res); err != nil {
		if ctx.Err() != nil {
			s.setState(StateStopping)
			log.Info("media session cancelled during setup", zap.Error(err))
		} else {
			s.setState(StateFailing)
			s.err = errors.Unavailable(err, "starting %s playback", req.Kind)
			c.metrics.MediaFailed(string(req.Kind))
			log.Error("media session failed", zap.Error(err))
		}
		c.finish(ctx, s, &res, log)
		return
	}

	s.setState(StatePlaying)
	c.metrics.MediaStarted(string(req.Kind))
	s.markReady()
	log.Info("media session playing", zap.Bool("indefinite", req.Duration == nil))

	if req.Duration != nil {
		timer := time.NewTimer(*req.Duration)
		select {
		case <-timer.C:
			s.setState(StateCompleting)
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateStopping)
		}
	} else {
		<-ctx.Done()
		s.setState(StateStopping)
	}

	c.metrics.MediaEnded(string(req.Kind))
	log.Info("media session ending", zap.Stringer("state", s.State()))
	c.finish(ctx, s, &res, log)
}

func (c *Coordinator) setup(ctx context.Context, req PlayRequest, res *resources) error {
	sess, err := c.gateway.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("creating gateway session: %w", err)
	}
	res.session = sess

	pub, err := sess.Attach(ctx)
	if err != nil {
		return fmt.Errorf("attaching publisher: %w", err)
	}
	res.publisher = pub

	if err := pub.JoinAsPublisher(ctx, req.RoomID, req.displayName()); err != nil {
		return fmt.Errorf("joining room %d: %w", req.RoomID, err)
	}
	res.joined = true

	opts := PublishOptions{Bitrate: c.bitrate, Trickle: req.trickle()}
	if err := pub.Publish(ctx, req.source(), opts); err != nil {
		return fmt.Errorf("publishing %s: %w", req.Asset.URL, err)
	}
	return ctx.Err()
}

// finish releases resources, removes the session and signals Done.
func (c *Coordinator) finish(ctx context.Context, s *Session, res *resources, log *zap.Logger) {
	c.release(context.WithoutCancel(ctx), res, log)
	c.remove(s)
	s.setState(StateIdle)
	s.markReady()
	close(s.done)
}

// release runs every step even when an earlier one fails.
func (c *Coordinator) release(ctx context.Context, res *resources, log *zap.Logger) {
	if res.publisher != nil {
		if res.joined {
			if err := res.publisher.Leave(ctx); err != nil {
				log.Warn("leaving room", zap.Error(err))
			}
		}
		if err := res.publisher.Destroy(ctx); err != nil {
			log.Warn("destroying publisher", zap.Error(err))
		}
	}
	if res.session != nil {
		if err := res.session.Destroy(ctx); err != nil {
			log.Warn("destroying gateway session", zap.Error(err))
		}
	}
}
