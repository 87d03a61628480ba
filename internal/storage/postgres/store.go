package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
)

// Repositories groups every repository over one pool.
type Repositories struct {
	Games      *GameRepository
	Maps       *MapRepository
	Characters *CharacterRepository
	Items      *ItemRepository
	Fog        *FogPointRepository
	Assets     *AssetRepository
}

// NewRepositories creates all repositories backed by db.
//
// Precondition: db must be a valid, open connection pool.
func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		Games:      NewGameRepository(db),
		Maps:       NewMapRepository(db),
		Characters: NewCharacterRepository(db),
		Items:      NewItemRepository(db),
		Fog:        NewFogPointRepository(db),
		Assets:     NewAssetRepository(db),
	}
}

// Store returns the repositories as the domain store.
func (r *Repositories) Store() game.Store {
	return game.Store{
		Games:      r.Games,
		Maps:       r.Maps,
		Characters: r.Characters,
		Items:      r.Items,
		Fog:        r.Fog,
		Assets:     r.Assets,
	}
}

// UpsertMaster delegates to the game repository.
func (r *Repositories) UpsertMaster(ctx context.Context, externalID string) (*game.Master, error) {
	return r.Games.UpsertMaster(ctx, externalID)
}

// UpsertGame delegates to the game repository.
func (r *Repositories) UpsertGame(ctx context.Context, g *game.Game) (*game.Game, error) {
	return r.Games.UpsertGame(ctx, g)
}

// UpsertMap delegates to the map repository.
func (r *Repositories) UpsertMap(ctx context.Context, m *game.Map) (*game.Map, error) {
	return r.Maps.UpsertMap(ctx, m)
}

// UpsertCharacter delegates to the character repository.
func (r *Repositories) UpsertCharacter(ctx context.Context, c *game.Character) (*game.Character, error) {
	return r.Characters.UpsertCharacter(ctx, c)
}

// UpsertItem delegates to the item repository.
func (r *Repositories) UpsertItem(ctx context.Context, i *game.Item) (*game.Item, error) {
	return r.Items.UpsertItem(ctx, i)
}

// UpsertAsset delegates to the asset repository.
func (r *Repositories) UpsertAsset(ctx context.Context, a *game.Asset) (*game.Asset, error) {
	return r.Assets.UpsertAsset(ctx, a)
}
