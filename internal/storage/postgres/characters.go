package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
)

// CharacterRepository persists characters. Inventory is stored as JSONB.
type CharacterRepository struct {
	db *pgxpool.Pool
}

// NewCharacterRepository creates a CharacterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCharacterRepository(db *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db: db}
}

const characterColumns = `id, external_id, game_id, name, join_link, avatar_url, race, color, inventory, x, y`

func scanCharacter(row scanner) (*game.Character, error) {
	var c game.Character
	if err := row.Scan(&c.ID, &c.ExternalID, &c.GameID, &c.Name, &c.JoinLink, &c.AvatarURL,
		&c.Race, &c.Color, &c.Inventory, &c.X, &c.Y); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCharacter inserts c or overwrites the character with the same external id.
//
// Precondition: c.GameID must reference an existing game.
// Postcondition: Returns the stored character, ErrJoinLinkTaken when the
// join link belongs to another character, or ErrGameNotFound.
func (r *CharacterRepository) UpsertCharacter(ctx context.Context, c *game.Character) (*game.Character, error) {
	color := c.Color
	if color == "" {
		color = game.DefaultColor
	}
	inventory := c.Inventory
	if inventory == nil {
		inventory = []game.InventoryItem{}
	}
	out, err := scanCharacter(r.db.QueryRow(ctx, `
		INSERT INTO characters (external_id, game_id, name, join_link, avatar_url, race, color, inventory, x, y)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_id) DO UPDATE SET
			game_id = EXCLUDED.game_id,
			name = EXCLUDED.name,
			join_link = EXCLUDED.join_link,
			avatar_url = EXCLUDED.avatar_url,
			race = EXCLUDED.race,
			color = EXCLUDED.color,
			inventory = EXCLUDED.inventory,
			x = EXCLUDED.x,
			y = EXCLUDED.y
		RETURNING `+characterColumns,
		c.ExternalID, c.GameID, c.Name, c.JoinLink, c.AvatarURL, c.Race, color, inventory, c.X, c.Y,
	))
	if err != nil {
		switch {
		case isDuplicateKeyError(err):
			return nil, ErrJoinLinkTaken
		case isMissingParentError(err):
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("upserting character: %w", err)
	}
	return out, nil
}

// CharacterByExternalID returns the character with the given external id.
//
// Postcondition: Returns ErrCharacterNotFound when no character matches.
func (r *CharacterRepository) CharacterByExternalID(ctx context.Context, externalID string) (*game.Character, error) {
	return r.one(ctx, `SELECT `+characterColumns+` FROM characters WHERE external_id = $1`, externalID)
}

// CharacterByJoinLink returns the character whose join link is link.
//
// Postcondition: Returns ErrCharacterNotFound when no character matches.
func (r *CharacterRepository) CharacterByJoinLink(ctx context.Context, link string) (*game.Character, error) {
	return r.one(ctx, `SELECT `+characterColumns+` FROM characters WHERE join_link = $1`, link)
}

// CharactersByGame returns the characters of the game ordered by id.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *CharacterRepository) CharactersByGame(ctx context.Context, gameID int64) ([]*game.Character, error) {
	rows, err := r.db.Query(ctx, `SELECT `+characterColumns+` FROM characters WHERE game_id = $1 ORDER BY id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	defer rows.Close()

	var out []*game.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning character: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveCharacterPosition writes the coordinates of c. Nil coordinates unplace the token.
//
// Postcondition: Returns the character as stored, or ErrCharacterNotFound.
func (r *CharacterRepository) SaveCharacterPosition(ctx context.Context, c *game.Character) (*game.Character, error) {
	return r.one(ctx, `UPDATE characters SET x = $2, y = $3 WHERE id = $1 RETURNING `+characterColumns, c.ID, c.X, c.Y)
}

func (r *CharacterRepository) one(ctx context.Context, query string, args ...any) (*game.Character, error) {
	c, err := scanCharacter(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("querying character: %w", err)
	}
	return c, nil
}
