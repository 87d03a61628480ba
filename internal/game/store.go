package game

import (
	"context"
	"errors"

	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// ErrNotFound is wrapped by every store lookup that matches no row.
var ErrNotFound = errors.New("not found")

// GameStore loads games.
type GameStore interface {
	GameByExternalID(ctx context.Context, externalID string) (*Game, error)
	GameByID(ctx context.Context, id int64) (*Game, error)
	GameByMasterLink(ctx context.Context, link string) (*Game, error)
}

// MapStore loads and saves game maps. A game has exactly one map.
type MapStore interface {
	MapByGameID(ctx context.Context, gameID int64) (*Map, error)
	SaveMap(ctx context.Context, m *Map) (*Map, error)
}

// CharacterStore loads characters and saves their positions.
type CharacterStore interface {
	CharacterByExternalID(ctx context.Context, externalID string) (*Character, error)
	CharacterByJoinLink(ctx context.Context, link string) (*Character, error)
	CharactersByGame(ctx context.Context, gameID int64) ([]*Character, error)
	SaveCharacterPosition(ctx context.Context, c *Character) (*Character, error)
}

// ItemStore loads items and saves their positions.
type ItemStore interface {
	ItemByExternalID(ctx context.Context, externalID string) (*Item, error)
	ItemsByGame(ctx context.Context, gameID int64) ([]*Item, error)
	SaveItemPosition(ctx context.Context, i *Item) (*Item, error)
}

// FogStore appends and lists fog points.
type FogStore interface {
	AddFogPoint(ctx context.Context, p *FogPoint) (*FogPoint, error)
	FogPointsByMap(ctx context.Context, mapID int64) ([]*FogPoint, error)
}

// AssetStore loads audio and video files.
type AssetStore interface {
	AssetByExternalID(ctx context.Context, kind media.Kind, externalID string) (*Asset, error)
	AssetsByGame(ctx context.Context, kind media.Kind, gameID int64) ([]*Asset, error)
}

// Store bundles the repositories the service depends on.
type Store struct {
	Games      GameStore
	Maps       MapStore
	Characters CharacterStore
	Items      ItemStore
	Fog        FogStore
	Assets     AssetStore
}
