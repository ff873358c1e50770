package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"atlas-game-engine/internal/domain"
)

// ManifestLoader loads raw manifest JSONB from Postgres. Parsing and
// validation stay with the caching layer in front of it.
type ManifestLoader struct {
	pool *pgxpool.Pool
}

func NewManifestLoader(pool *pgxpool.Pool) *ManifestLoader {
	return &ManifestLoader{pool: pool}
}

func (l *ManifestLoader) LoadManifest(ctx context.Context, gameID string) ([]byte, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM manifests WHERE id=$1`, gameID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrManifestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return raw, nil
}
