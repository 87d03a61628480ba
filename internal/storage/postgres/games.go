package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
)

// GameRepository provides master and game persistence operations.
type GameRepository struct {
	db *pgxpool.Pool
}

// NewGameRepository creates a GameRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewGameRepository(db *pgxpool.Pool) *GameRepository {
	return &GameRepository{db: db}
}

const gameColumns = `id, external_id, name, master_id, master_join_link, master_avatar_url, room_id`

func scanGame(row scanner) (*game.Game, error) {
	var g game.Game
	if err := row.Scan(&g.ID, &g.ExternalID, &g.Name, &g.MasterID, &g.MasterJoinLink, &g.MasterAvatarURL, &g.RoomID); err != nil {
		return nil, err
	}
	return &g, nil
}

// UpsertMaster inserts a master or returns the existing one with the same external id.
//
// Precondition: externalID must be non-empty.
// Postcondition: Returns the master with ID set.
func (r *GameRepository) UpsertMaster(ctx context.Context, externalID string) (*game.Master, error) {
	var m game.Master
	err := r.db.QueryRow(ctx, `
		INSERT INTO masters (external_id) VALUES ($1)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id, external_id`,
		externalID,
	).Scan(&m.ID, &m.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("upserting master: %w", err)
	}
	return &m, nil
}

// UpsertGame inserts g or overwrites the game with the same external id.
//
// Precondition: g.MasterID must reference an existing master.
// Postcondition: Returns the stored game, ErrJoinLinkTaken when the master
// link belongs to another game, or ErrMasterNotFound.
func (r *GameRepository) UpsertGame(ctx context.Context, g *game.Game) (*game.Game, error) {
	out, err := scanGame(r.db.QueryRow(ctx, `
		INSERT INTO games (external_id, name, master_id, master_join_link, master_avatar_url, room_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			master_id = EXCLUDED.master_id,
			master_join_link = EXCLUDED.master_join_link,
			master_avatar_url = EXCLUDED.master_avatar_url,
			room_id = EXCLUDED.room_id
		RETURNING `+gameColumns,
		g.ExternalID, g.Name, g.MasterID, g.MasterJoinLink, g.MasterAvatarURL, g.RoomID,
	))
	if err != nil {
		switch {
		case isDuplicateKeyError(err):
			return nil, ErrJoinLinkTaken
		case isMissingParentError(err):
			return nil, ErrMasterNotFound
		}
		return nil, fmt.Errorf("upserting game: %w", err)
	}
	return out, nil
}

// GameByExternalID returns the game with the given external id.
//
// Postcondition: Returns ErrGameNotFound when no game matches.
func (r *GameRepository) GameByExternalID(ctx context.Context, externalID string) (*game.Game, error) {
	return r.one(ctx, `SELECT `+gameColumns+` FROM games WHERE external_id = $1`, externalID)
}

// GameByID returns the game with the given primary key.
//
// Postcondition: Returns ErrGameNotFound when no game matches.
func (r *GameRepository) GameByID(ctx context.Context, id int64) (*game.Game, error) {
	return r.one(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
}

// GameByMasterLink returns the game whose master join link is link.
//
// Postcondition: Returns ErrGameNotFound when no game matches.
func (r *GameRepository) GameByMasterLink(ctx context.Context, link string) (*game.Game, error) {
	return r.one(ctx, `SELECT `+gameColumns+` FROM games WHERE master_join_link = $1`, link)
}

// AssignRoom sets the media room of the game.
//
// Postcondition: Returns ErrGameNotFound when no game matches externalID.
func (r *GameRepository) AssignRoom(ctx context.Context, externalID string, roomID int64) (*game.Game, error) {
	return r.one(ctx, `UPDATE games SET room_id = $2 WHERE external_id = $1 RETURNING `+gameColumns, externalID, roomID)
}

func (r *GameRepository) one(ctx context.Context, query string, args ...any) (*game.Game, error) {
	g, err := scanGame(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("querying game: %w", err)
	}
	return g, nil
}
