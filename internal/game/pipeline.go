package game

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/cory-johannsen/tabletop-hub/internal/errors"
	"github.com/cory-johannsen/tabletop-hub/internal/event"
)

// Broadcaster delivers an event to every subscriber of a game. Delivery
// failures are absorbed; the return value is the number of subscribers reached.
type Broadcaster interface {
	Broadcast(ctx context.Context, gameID string, ev event.Event) int
}

// Mutation describes one persisted change to an entity of type T.
type Mutation[T any] struct {
	// Load fetches the current record. Lookup misses must wrap ErrNotFound.
	Load func(ctx context.Context) (T, error)
	// Patch applies the fields present in the request. Nil means no patch.
	Patch func(v T) error
	// Save persists v and returns the stored record.
	Save func(ctx context.Context, v T) (T, error)
	// Event builds the broadcast from the stored record.
	Event func(v T) event.Event
}

// ApplyAndBroadcast loads, patches and saves an entity, then broadcasts the
// event built from the saved record to gameID.
//
// Precondition: Load, Save and Event must be non-nil.
// Postcondition: On error nothing was broadcast. On success exactly one event
// was broadcast and the saved record is returned; delivery failures never
// undo the write.
func ApplyAndBroadcast[T any](ctx context.Context, bc Broadcaster, gameID string, m Mutation[T]) (T, error) {
	var zero T

	v, err := m.Load(ctx)
	if err != nil {
		return zero, lookupError(err)
	}
	if m.Patch != nil {
		if err := m.Patch(v); err != nil {
			return zero, err
		}
	}
	saved, err := m.Save(ctx, v)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return zero, apperrors.NotFound("%s", err)
		}
		return zero, apperrors.Internal(fmt.Errorf("saving: %w", err))
	}

	bc.Broadcast(ctx, gameID, m.Event(saved))
	return saved, nil
}

// Announce broadcasts a stateless event after checking that gameID exists.
//
// Postcondition: Returns NotFound without broadcasting when the game is unknown.
func Announce(ctx context.Context, bc Broadcaster, games GameStore, gameID string, ev event.Event) error {
	if _, err := games.GameByExternalID(ctx, gameID); err != nil {
		return lookupError(err)
	}
	bc.Broadcast(ctx, gameID, ev)
	return nil
}

// lookupError maps a store lookup failure to a coded error. Coded errors pass through.
func lookupError(err error) error {
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return apperrors.NotFound("%s", err)
	}
	return apperrors.Internal(err)
}
