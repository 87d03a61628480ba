package media

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StatePlaying
	StateStopping
	StateCompleting
	StateFailing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateStopping:
		return "stopping"
	case StateCompleting:
		return "completing"
	case StateFailing:
		return "failing"
	default:
		return "unknown"
	}
}

type key struct {
	gameID string
	kind   Kind
}

// Session is one playback in a game's room. Its background task is the only
// owner of the gateway resources.
type Session struct {
	key       key
	roomID    int64
	asset     Asset
	duration  *time.Duration
	startedAt time.Time

	state  atomic.Int32
	cancel func()

	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}
	err       error // set before done is closed
}

func newSession(req PlayRequest, cancel func(), now time.Time) *Session {
	s := &Session{
		key:       key{gameID: req.GameID, kind: req.Kind},
		roomID:    req.RoomID,
		asset:     req.Asset,
		duration:  req.Duration,
		startedAt: now,
		cancel:    cancel,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.state.Store(int32(StateStarting))
	return s
}

func (s *Session) GameID() string { return s.key.gameID }
func (s *Session) Kind() Kind { return s.key.kind }
func (s *Session) RoomID() int64 { return s.roomID }
func (s *Session) Asset() Asset { return s.asset }
func (s *Session) StartedAt() time.Time { return s.startedAt }
func (s *Session) Duration() *time.Duration { return s.duration }

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Ready is closed once the session is playing or has ended without playing.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done is closed after resources are released and the session is removed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the setup failure, if any. It is valid after Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}
