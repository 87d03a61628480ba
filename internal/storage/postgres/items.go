package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
)

// ItemRepository persists map items.
type ItemRepository struct {
	db *pgxpool.Pool
}

// NewItemRepository creates an ItemRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewItemRepository(db *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, external_id, game_id, name, icon_url, x, y`

func scanItem(row scanner) (*game.Item, error) {
	var i game.Item
	if err := row.Scan(&i.ID, &i.ExternalID, &i.GameID, &i.Name, &i.IconURL, &i.X, &i.Y); err != nil {
		return nil, err
	}
	return &i, nil
}

// UpsertItem inserts i or overwrites the item with the same external id.
//
// Postcondition: Returns the stored item or ErrGameNotFound.
func (r *ItemRepository) UpsertItem(ctx context.Context, i *game.Item) (*game.Item, error) {
	out, err := scanItem(r.db.QueryRow(ctx, `
		INSERT INTO items (external_id, game_id, name, icon_url, x, y)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO UPDATE SET
			game_id = EXCLUDED.game_id,
			name = EXCLUDED.name,
			icon_url = EXCLUDED.icon_url,
			x = EXCLUDED.x,
			y = EXCLUDED.y
		RETURNING `+itemColumns,
		i.ExternalID, i.GameID, i.Name, i.IconURL, i.X, i.Y,
	))
	if err != nil {
		if isMissingParentError(err) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("upserting item: %w", err)
	}
	return out, nil
}

// ItemByExternalID returns the item with the given external id.
//
// Postcondition: Returns ErrItemNotFound when no item matches.
func (r *ItemRepository) ItemByExternalID(ctx context.Context, externalID string) (*game.Item, error) {
	return r.one(ctx, `SELECT `+itemColumns+` FROM items WHERE external_id = $1`, externalID)
}

// ItemsByGame returns the items of the game ordered by id.
func (r *ItemRepository) ItemsByGame(ctx context.Context, gameID int64) ([]*game.Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE game_id = $1 ORDER BY id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var out []*game.Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// SaveItemPosition writes the coordinates of i.
//
// Postcondition: Returns the item as stored, or ErrItemNotFound.
func (r *ItemRepository) SaveItemPosition(ctx context.Context, i *game.Item) (*game.Item, error) {
	return r.one(ctx, `UPDATE items SET x = $2, y = $3 WHERE id = $1 RETURNING `+itemColumns, i.ID, i.X, i.Y)
}

func (r *ItemRepository) one(ctx context.Context, query string, args ...any) (*game.Item, error) {
	i, err := scanItem(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("querying item: %w", err)
	}
	return i, nil
}
