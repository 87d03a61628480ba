package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
)

// MapRepository persists game maps.
type MapRepository struct {
	db *pgxpool.Pool
}

// NewMapRepository creates a MapRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMapRepository(db *pgxpool.Pool) *MapRepository {
	return &MapRepository{db: db}
}

const mapColumns = `id, external_id, game_id, url, x_center, y_center, zoom`

func scanMap(row scanner) (*game.Map, error) {
	var m game.Map
	if err := row.Scan(&m.ID, &m.ExternalID, &m.GameID, &m.URL, &m.XCenter, &m.YCenter, &m.Zoom); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMap inserts the map of m.GameID or replaces it.
//
// Postcondition: Returns the stored map or ErrGameNotFound.
func (r *MapRepository) UpsertMap(ctx context.Context, m *game.Map) (*game.Map, error) {
	out, err := scanMap(r.db.QueryRow(ctx, `
		INSERT INTO maps (external_id, game_id, url, x_center, y_center, zoom)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (game_id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			url = EXCLUDED.url,
			x_center = EXCLUDED.x_center,
			y_center = EXCLUDED.y_center,
			zoom = EXCLUDED.zoom
		RETURNING `+mapColumns,
		m.ExternalID, m.GameID, m.URL, m.XCenter, m.YCenter, m.Zoom,
	))
	if err != nil {
		if isMissingParentError(err) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("upserting map: %w", err)
	}
	return out, nil
}

// MapByGameID returns the map of the game.
//
// Postcondition: Returns ErrMapNotFound when the game has no map.
func (r *MapRepository) MapByGameID(ctx context.Context, gameID int64) (*game.Map, error) {
	m, err := scanMap(r.db.QueryRow(ctx, `SELECT `+mapColumns+` FROM maps WHERE game_id = $1`, gameID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMapNotFound
		}
		return nil, fmt.Errorf("querying map: %w", err)
	}
	return m, nil
}

// SaveMap writes the viewport fields of m.
//
// Precondition: m.ID must reference an existing map.
// Postcondition: Returns the map as stored, or ErrMapNotFound.
func (r *MapRepository) SaveMap(ctx context.Context, m *game.Map) (*game.Map, error) {
	out, err := scanMap(r.db.QueryRow(ctx, `
		UPDATE maps SET url = $2, x_center = $3, y_center = $4, zoom = $5
		WHERE id = $1
		RETURNING `+mapColumns,
		m.ID, m.URL, m.XCenter, m.YCenter, m.Zoom,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMapNotFound
		}
		return nil, fmt.Errorf("updating map: %w", err)
	}
	return out, nil
}
