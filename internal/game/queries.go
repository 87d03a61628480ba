package game

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/cory-johannsen/tabletop-hub/internal/errors"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// JoinResult identifies who a join link admits to which game.
type JoinResult struct {
	GameID   string `json:"game_id"`
	RoomID   *int64 `json:"room_id"`
	UserID   string `json:"user_id"`
	IsMaster bool   `json:"is_master"`
}

// Join resolves a join link. Links with MasterLinkPrefix admit the game
// master; any other link must match a character.
//
// Postcondition: Returns NotFound when no game or character matches link.
func (s *Service) Join(ctx context.Context, link string) (*JoinResult, error) {
	if link == "" {
		return nil, apperrors.InvalidArgument("join link must not be empty")
	}

	if strings.HasPrefix(link, MasterLinkPrefix) {
		g, err := s.store.Games.GameByMasterLink(ctx, link)
		if err != nil {
			return nil, lookupError(err)
		}
		return &JoinResult{GameID: g.ExternalID, RoomID: g.RoomID, UserID: MasterUserID, IsMaster: true}, nil
	}

	c, err := s.store.Characters.CharacterByJoinLink(ctx, link)
	if err != nil {
		return nil, lookupError(err)
	}
	g, err := s.store.Games.GameByID(ctx, c.GameID)
	if err != nil {
		return nil, lookupError(err)
	}
	return &JoinResult{GameID: g.ExternalID, RoomID: g.RoomID, UserID: c.ExternalID}, nil
}

// Map returns the game's map.
func (s *Service) Map(ctx context.Context, gameID string) (*Map, error) {
	return s.gameMap(ctx, gameID)
}

// Items returns every item of the game.
func (s *Service) Items(ctx context.Context, gameID string) ([]*Item, error) {
	g, err := s.game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.Items.ItemsByGame(ctx, g.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return items, nil
}

// CharacterView is a character as given to clients, including the master pseudo-character.
type CharacterView struct {
	ExternalID string          `json:"external_id"`
	AvatarURL  string          `json:"avatar_url"`
	IsMaster   bool            `json:"is_master"`
	Name       string          `json:"name"`
	Color      string          `json:"color"`
	Inventory  []InventoryItem `json:"inventory"`
	X          *float64        `json:"x"`
	Y          *float64        `json:"y"`
}

func viewOf(c *Character) CharacterView {
	color := c.Color
	if color == "" {
		color = DefaultColor
	}
	inventory := c.Inventory
	if inventory == nil {
		inventory = []InventoryItem{}
	}
	return CharacterView{
		ExternalID: c.ExternalID,
		AvatarURL:  c.AvatarURL,
		Name:       c.Name,
		Color:      color,
		Inventory:  inventory,
		X:          c.X,
		Y:          c.Y,
	}
}

func masterView(g *Game) CharacterView {
	return CharacterView{
		ExternalID: MasterUserID,
		AvatarURL:  g.MasterAvatarURL,
		IsMaster:   true,
		Name:       MasterDisplayName,
		Color:      DefaultColor,
		Inventory:  []InventoryItem{},
	}
}

// Characters returns the game's characters followed by the master pseudo-character.
func (s *Service) Characters(ctx context.Context, gameID string) ([]CharacterView, error) {
	g, err := s.game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	chars, err := s.store.Characters.CharactersByGame(ctx, g.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	out := make([]CharacterView, 0, len(chars)+1)
	for _, c := range chars {
		out = append(out, viewOf(c))
	}
	return append(out, masterView(g)), nil
}

// Character returns one character of the game. MasterUserID yields the master pseudo-character.
//
// Postcondition: Returns NotFound when the character belongs to another game.
func (s *Service) Character(ctx context.Context, gameID, characterID string) (*CharacterView, error) {
	g, err := s.game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if characterID == MasterUserID {
		v := masterView(g)
		return &v, nil
	}
	c, err := s.store.Characters.CharacterByExternalID(ctx, characterID)
	if err != nil {
		return nil, lookupError(err)
	}
	if c.GameID != g.ID {
		return nil, apperrors.NotFound("character %q not found in game %q", characterID, gameID)
	}
	v := viewOf(c)
	return &v, nil
}

// FogPoints returns the reveal history of the game's map, oldest first.
func (s *Service) FogPoints(ctx context.Context, gameID string) ([]*RevealedPoint, error) {
	m, err := s.gameMap(ctx, gameID)
	if err != nil {
		return nil, err
	}
	points, err := s.store.Fog.FogPointsByMap(ctx, m.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	out := make([]*RevealedPoint, 0, len(points))
	for _, p := range points {
		out = append(out, &RevealedPoint{Point: p, MapExternalID: m.ExternalID})
	}
	return out, nil
}

// Assets returns the game's audio or video files.
func (s *Service) Assets(ctx context.Context, gameID string, kind media.Kind) ([]*Asset, error) {
	if !kind.Valid() {
		return nil, apperrors.InvalidArgument("media kind must be audio or video, got %q", kind)
	}
	g, err := s.game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	assets, err := s.store.Assets.AssetsByGame(ctx, kind, g.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return assets, nil
}

// asset loads an asset and checks that it belongs to g.
func (s *Service) asset(ctx context.Context, g *Game, kind media.Kind, assetID string) (*Asset, error) {
	a, err := s.store.Assets.AssetByExternalID(ctx, kind, assetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NotFound("%s file with external_id %s not found", kind, assetID)
		}
		return nil, apperrors.Internal(err)
	}
	if a.GameID != g.ID {
		return nil, apperrors.NotFound("%s file with external_id %s not found in game %s", kind, assetID, g.ExternalID)
	}
	return a, nil
}
