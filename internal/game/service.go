package game

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/cory-johannsen/tabletop-hub/internal/errors"
	"github.com/cory-johannsen/tabletop-hub/internal/event"
	"github.com/cory-johannsen/tabletop-hub/internal/observability"
)

// Service implements the game operations on top of the store, the live
// broadcaster and the media coordinator. It is safe for concurrent use.
// Racing mutations of the same record resolve last write wins.
type Service struct {
	store   Store
	bc      Broadcaster
	media   MediaCoordinator
	logger  *zap.Logger
	metrics *observability.Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics records mutation outcomes.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithBroadcaster sets the live broadcaster. Without one events are dropped.
func WithBroadcaster(bc Broadcaster) ServiceOption {
	return func(s *Service) { s.bc = bc }
}

// NewService creates a Service.
//
// Precondition: every Store field and logger must be non-nil. mc may be nil,
// in which case play and stop requests fail with Unavailable.
func NewService(store Store, mc MediaCoordinator, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		bc:     discard{},
		media:  mc,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBroadcaster replaces the broadcaster. The registry takes the service as
// its snapshot source, so cmd/hub wires the two in this order.
//
// Precondition: Must be called before the service handles requests.
func (s *Service) SetBroadcaster(bc Broadcaster) {
	s.bc = bc
}

type discard struct{}

func (discard) Broadcast(context.Context, string, event.Event) int { return 0 }

func (s *Service) record(topic event.Topic, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.Mutation(string(topic), result)
}

// game loads the game addressed by a request path.
func (s *Service) game(ctx context.Context, gameID string) (*Game, error) {
	g, err := s.store.Games.GameByExternalID(ctx, gameID)
	if err != nil {
		return nil, lookupError(err)
	}
	return g, nil
}

func (s *Service) gameMap(ctx context.Context, gameID string) (*Map, error) {
	g, err := s.game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	m, err := s.store.Maps.MapByGameID(ctx, g.ID)
	if err != nil {
		return nil, lookupError(err)
	}
	return m, nil
}

// MapPatch carries the viewport fields of a map update. Nil fields are left unchanged.
type MapPatch struct {
	XCenter *float64
	YCenter *float64
	Zoom    *float64
}

func (p MapPatch) apply(m *Map) error {
	for _, f := range []*float64{p.XCenter, p.YCenter, p.Zoom} {
		if f != nil && (math.IsNaN(*f) || math.IsInf(*f, 0)) {
			return apperrors.InvalidArgument("map coordinates must be finite")
		}
	}
	if p.XCenter != nil {
		m.XCenter = *p.XCenter
	}
	if p.YCenter != nil {
		m.YCenter = *p.YCenter
	}
	if p.Zoom != nil {
		m.Zoom = *p.Zoom
	}
	return nil
}

// UpdateMap applies patch to the game's map and broadcasts the full map.
//
// Postcondition: Returns the saved map, or NotFound when the game or its map is unknown.
func (s *Service) UpdateMap(ctx context.Context, gameID string, patch MapPatch) (*Map, error) {
	m, err := ApplyAndBroadcast(ctx, s.bc, gameID, Mutation[*Map]{
		Load:  func(ctx context.Context) (*Map, error) { return s.gameMap(ctx, gameID) },
		Patch: patch.apply,
		Save:  s.store.Maps.SaveMap,
		Event: func(m *Map) event.Event { return event.MapUpdate(m.State()) },
	})
	s.record(event.TopicMapUpdate, err)
	return m, err
}

// PositionPatch moves a token. Nil fields are left unchanged.
type PositionPatch struct {
	X *float64
	Y *float64
}

func (p PositionPatch) apply(x, y **float64) error {
	for _, f := range []*float64{p.X, p.Y} {
		if f != nil && (math.IsNaN(*f) || math.IsInf(*f, 0)) {
			return apperrors.InvalidArgument("position must be finite")
		}
	}
	if p.X != nil {
		v := *p.X
		*x = &v
	}
	if p.Y != nil {
		v := *p.Y
		*y = &v
	}
	return nil
}

// MoveCharacter repositions a character of gameID and broadcasts character.update.
//
// Postcondition: Returns NotFound when the character does not exist or belongs to another game.
func (s *Service) MoveCharacter(ctx context.Context, gameID, characterID string, patch PositionPatch) (*Character, error) {
	c, err := ApplyAndBroadcast(ctx, s.bc, gameID, Mutation[*Character]{
		Load: func(ctx context.Context) (*Character, error) {
			g, err := s.game(ctx, gameID)
			if err != nil {
				return nil, err
			}
			c, err := s.store.Characters.CharacterByExternalID(ctx, characterID)
			if err != nil {
				return nil, lookupError(err)
			}
			if c.GameID != g.ID {
				return nil, apperrors.NotFound("character %q not found in game %q", characterID, gameID)
			}
			return c, nil
		},
		Patch: func(c *Character) error { return patch.apply(&c.X, &c.Y) },
		Save:  s.store.Characters.SaveCharacterPosition,
		Event: func(c *Character) event.Event { return event.CharacterUpdate(c.Position()) },
	})
	s.record(event.TopicCharacterUpdate, err)
	return c, err
}

// MoveItem repositions an item of gameID and broadcasts item.update.
//
// Postcondition: Returns NotFound when the item does not exist or belongs to another game.
func (s *Service) MoveItem(ctx context.Context, gameID, itemID string, patch PositionPatch) (*Item, error) {
	i, err := ApplyAndBroadcast(ctx, s.bc, gameID, Mutation[*Item]{
		Load: func(ctx context.Context) (*Item, error) {
			g, err := s.game(ctx, gameID)
			if err != nil {
				return nil, err
			}
			i, err := s.store.Items.ItemByExternalID(ctx, itemID)
			if err != nil {
				return nil, lookupError(err)
			}
			if i.GameID != g.ID {
				return nil, apperrors.NotFound("item %q not found in game %q", itemID, gameID)
			}
			return i, nil
		},
		Patch: func(i *Item) error { return patch.apply(&i.X, &i.Y) },
		Save:  s.store.Items.SaveItemPosition,
		Event: func(i *Item) event.Event { return event.ItemUpdate(i.Position()) },
	})
	s.record(event.TopicItemUpdate, err)
	return i, err
}

// FogPointInput is a new reveal circle.
type FogPointInput struct {
	X      float64
	Y      float64
	Radius int
}

// RevealedPoint is a stored fog point together with the map it belongs to.
type RevealedPoint struct {
	Point         *FogPoint
	MapExternalID string
}

func (r *RevealedPoint) toEvent() event.Event {
	created := r.Point.CreatedAt
	return event.FogPointAdded(event.FogPoint{
		X:             r.Point.X,
		Y:             r.Point.Y,
		MapExternalID: r.MapExternalID,
		Radius:        r.Point.Radius,
		CreatedAt:     &created,
	})
}

// AddFogPoint appends a reveal circle to the game's map and broadcasts fog_erace_point.add.
//
// Postcondition: Returns InvalidArgument when the radius is not positive.
func (s *Service) AddFogPoint(ctx context.Context, gameID string, in FogPointInput) (*RevealedPoint, error) {
	r, err := ApplyAndBroadcast(ctx, s.bc, gameID, Mutation[*RevealedPoint]{
		Load: func(ctx context.Context) (*RevealedPoint, error) {
			if in.Radius <= 0 {
				return nil, apperrors.InvalidArgument("radius must be positive, got %d", in.Radius)
			}
			if math.IsNaN(in.X) || math.IsNaN(in.Y) || math.IsInf(in.X, 0) || math.IsInf(in.Y, 0) {
				return nil, apperrors.InvalidArgument("fog point must be finite")
			}
			m, err := s.gameMap(ctx, gameID)
			if err != nil {
				return nil, err
			}
			return &RevealedPoint{
				Point:         &FogPoint{MapID: m.ID, X: in.X, Y: in.Y, Radius: in.Radius},
				MapExternalID: m.ExternalID,
			}, nil
		},
		Save: func(ctx context.Context, r *RevealedPoint) (*RevealedPoint, error) {
			p, err := s.store.Fog.AddFogPoint(ctx, r.Point)
			if err != nil {
				return nil, err
			}
			return &RevealedPoint{Point: p, MapExternalID: r.MapExternalID}, nil
		},
		Event: (*RevealedPoint).toEvent,
	})
	s.record(event.TopicFogPointAdd, err)
	return r, err
}

// DiceStarted announces that a die started rolling.
func (s *Service) DiceStarted(ctx context.Context, gameID, diceID string) error {
	if strings.TrimSpace(diceID) == "" {
		return apperrors.InvalidArgument("dice_id must not be empty")
	}
	err := Announce(ctx, s.bc, s.store.Games, gameID, event.DiceStarted(event.DiceStart{DiceID: diceID}))
	s.record(event.TopicDiceStart, err)
	return err
}

// DiceChanged announces that the active die was swapped.
func (s *Service) DiceChanged(ctx context.Context, gameID, newDiceID string) error {
	if strings.TrimSpace(newDiceID) == "" {
		return apperrors.InvalidArgument("new_dice_id must not be empty")
	}
	err := Announce(ctx, s.bc, s.store.Games, gameID, event.DiceChanged(event.DiceChange{NewDiceID: newDiceID}))
	s.record(event.TopicDiceChange, err)
	return err
}

// DiceResulted announces the outcome of a roll.
func (s *Service) DiceResulted(ctx context.Context, gameID, diceID string, result int) error {
	if strings.TrimSpace(diceID) == "" {
		return apperrors.InvalidArgument("dice_id must not be empty")
	}
	err := Announce(ctx, s.bc, s.store.Games, gameID, event.DiceResulted(event.DiceResult{DiceID: diceID, Result: result}))
	s.record(event.TopicDiceResult, err)
	return err
}

// MapSnapshot returns the map.update event a new subscriber starts from.
func (s *Service) MapSnapshot(ctx context.Context, gameID string) (event.Event, error) {
	m, err := s.gameMap(ctx, gameID)
	if err != nil {
		return event.Event{}, err
	}
	return event.MapUpdate(m.State()), nil
}

// Snapshot implements live.Snapshotter.
func (s *Service) Snapshot(ctx context.Context, gameID string) (event.Event, error) {
	return s.MapSnapshot(ctx, gameID)
}
