package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
)

// FogPointRepository appends and lists fog-of-war reveal points.
type FogPointRepository struct {
	db *pgxpool.Pool
}

// NewFogPointRepository creates a FogPointRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewFogPointRepository(db *pgxpool.Pool) *FogPointRepository {
	return &FogPointRepository{db: db}
}

const fogColumns = `id, map_id, x, y, radius, created_at`

func scanFogPoint(row scanner) (*game.FogPoint, error) {
	var p game.FogPoint
	if err := row.Scan(&p.ID, &p.MapID, &p.X, &p.Y, &p.Radius, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// AddFogPoint appends p to its map's reveal history.
//
// Precondition: p.Radius must be > 0.
// Postcondition: Returns the point with ID and CreatedAt set, or ErrMapNotFound.
func (r *FogPointRepository) AddFogPoint(ctx context.Context, p *game.FogPoint) (*game.FogPoint, error) {
	out, err := scanFogPoint(r.db.QueryRow(ctx, `
		INSERT INTO fog_erace_points (map_id, x, y, radius)
		VALUES ($1, $2, $3, $4)
		RETURNING `+fogColumns,
		p.MapID, p.X, p.Y, p.Radius,
	))
	if err != nil {
		if isMissingParentError(err) {
			return nil, ErrMapNotFound
		}
		return nil, fmt.Errorf("inserting fog point: %w", err)
	}
	return out, nil
}

// FogPointsByMap returns the map's reveal history in insertion order.
func (r *FogPointRepository) FogPointsByMap(ctx context.Context, mapID int64) ([]*game.FogPoint, error) {
	rows, err := r.db.Query(ctx, `SELECT `+fogColumns+` FROM fog_erace_points WHERE map_id = $1 ORDER BY id`, mapID)
	if err != nil {
		return nil, fmt.Errorf("listing fog points: %w", err)
	}
	defer rows.Close()

	var out []*game.FogPoint
	for rows.Next() {
		p, err := scanFogPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fog point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
