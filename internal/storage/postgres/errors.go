package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
)

// Lookup sentinels. Each wraps game.ErrNotFound so the domain layer can
// classify a miss without importing this package.
var (
	ErrMasterNotFound    = fmt.Errorf("master %w", game.ErrNotFound)
	ErrGameNotFound      = fmt.Errorf("game %w", game.ErrNotFound)
	ErrMapNotFound       = fmt.Errorf("map %w", game.ErrNotFound)
	ErrCharacterNotFound = fmt.Errorf("character %w", game.ErrNotFound)
	ErrItemNotFound      = fmt.Errorf("item %w", game.ErrNotFound)
	ErrAssetNotFound     = fmt.Errorf("asset %w", game.ErrNotFound)
)

// ErrJoinLinkTaken is returned when a join link is already used by another game or character.
var ErrJoinLinkTaken = errors.New("join link already taken")

// ErrUnknownKind is returned for an asset kind with no backing table.
var ErrUnknownKind = errors.New("unknown asset kind")

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

type scanner interface {
	Scan(dest ...any) error
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	return sqlState(err) == sqlStateUniqueViolation
}

// isMissingParentError checks if a pgx error is a foreign key violation.
func isMissingParentError(err error) bool {
	return sqlState(err) == sqlStateForeignKeyViolation
}
