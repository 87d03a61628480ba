package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// AssetRepository persists audio and video files, one table per kind.
type AssetRepository struct {
	db *pgxpool.Pool
}

// NewAssetRepository creates an AssetRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAssetRepository(db *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{db: db}
}

const assetColumns = `id, external_id, game_id, name, url, duration_seconds`

func assetTable(kind media.Kind) (string, error) {
	switch kind {
	case media.KindAudio:
		return "audio_files", nil
	case media.KindVideo:
		return "video_files", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func scanAsset(row scanner, kind media.Kind) (*game.Asset, error) {
	a := game.Asset{Kind: kind}
	if err := row.Scan(&a.ID, &a.ExternalID, &a.GameID, &a.Name, &a.URL, &a.DurationSeconds); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertAsset inserts a into the table of a.Kind or overwrites the row with the same external id.
//
// Postcondition: Returns the stored asset, ErrGameNotFound, or ErrUnknownKind.
func (r *AssetRepository) UpsertAsset(ctx context.Context, a *game.Asset) (*game.Asset, error) {
	table, err := assetTable(a.Kind)
	if err != nil {
		return nil, err
	}
	out, err := scanAsset(r.db.QueryRow(ctx, `
		INSERT INTO `+table+` (external_id, game_id, name, url, duration_seconds)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE SET
			game_id = EXCLUDED.game_id,
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			duration_seconds = EXCLUDED.duration_seconds
		RETURNING `+assetColumns,
		a.ExternalID, a.GameID, a.Name, a.URL, a.DurationSeconds,
	), a.Kind)
	if err != nil {
		if isMissingParentError(err) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("upserting %s file: %w", a.Kind, err)
	}
	return out, nil
}

// AssetByExternalID returns the file of the given kind and external id.
//
// Postcondition: Returns ErrAssetNotFound when no file matches.
func (r *AssetRepository) AssetByExternalID(ctx context.Context, kind media.Kind, externalID string) (*game.Asset, error) {
	table, err := assetTable(kind)
	if err != nil {
		return nil, err
	}
	a, err := scanAsset(r.db.QueryRow(ctx, `SELECT `+assetColumns+` FROM `+table+` WHERE external_id = $1`, externalID), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("querying %s file: %w", kind, err)
	}
	return a, nil
}

// AssetsByGame returns the game's files of the given kind ordered by id.
func (r *AssetRepository) AssetsByGame(ctx context.Context, kind media.Kind, gameID int64) ([]*game.Asset, error) {
	table, err := assetTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+assetColumns+` FROM `+table+` WHERE game_id = $1 ORDER BY id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing %s files: %w", kind, err)
	}
	defer rows.Close()

	var out []*game.Asset
	for rows.Next() {
		a, err := scanAsset(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scanning %s file: %w", kind, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
