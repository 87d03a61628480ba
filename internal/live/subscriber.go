package live

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Stream is the network side of a subscriber. Write must send the whole
// message or fail; partial writes are reported as errors.
type Stream interface {
	Write(ctx context.Context, msg []byte) error
}

// Subscriber is one open event stream bound to a single game for its
// lifetime. Messages are queued by the registry and written by Forward.
type Subscriber struct {
	id       string
	gameID   string
	stream   Stream
	registry *Registry

	// snapshot is written before anything in queue.
	snapshot []byte

	queue  chan []byte
	mu     sync.Mutex
	closed bool
}

func newSubscriber(id, gameID string, stream Stream, registry *Registry, bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Subscriber{
		id:       id,
		gameID:   gameID,
		stream:   stream,
		registry: registry,
		queue:    make(chan []byte, bufferSize),
	}
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// GameID returns the game this subscriber is bound to.
func (s *Subscriber) GameID() string { return s.gameID }

// push enqueues msg without blocking.
//
// Postcondition: msg is queued, or an error is returned if the subscriber is closed or its queue is full.
func (s *Subscriber) push(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("subscriber %s is closed", s.id)
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return fmt.Errorf("subscriber %s send buffer full", s.id)
	}
}

// close closes the queue exactly once and reports whether this call closed it.
func (s *Subscriber) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.queue)
	return true
}

// Closed reports whether the subscriber has been removed.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Forward writes the snapshot and then every queued message to the stream
// until the subscriber is closed, ctx is done, or a write fails. The
// subscriber is always unsubscribed on return.
//
// Precondition: Forward is called at most once per subscriber.
// Postcondition: Returns nil when the registry closed the subscriber, ctx.Err()
// on cancellation, or the stream write error.
func (s *Subscriber) Forward(ctx context.Context) error {
	defer s.registry.Unsubscribe(s)

	if s.snapshot != nil {
		if err := s.stream.Write(ctx, s.snapshot); err != nil {
			return s.writeFailed(err)
		}
		s.snapshot = nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.queue:
			if !ok {
				return nil
			}
			if err := s.stream.Write(ctx, msg); err != nil {
				return s.writeFailed(err)
			}
		}
	}
}

func (s *Subscriber) writeFailed(err error) error {
	s.registry.metrics.DeliveryFailed()
	s.registry.logger.Info("live stream write failed",
		zap.String("game", s.gameID),
		zap.String("subscriber", s.id),
		zap.Error(err),
	)
	return fmt.Errorf("writing to subscriber %s: %w", s.id, err)
}
