package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contramind/internal/anchor/models"
	"contramind/internal/platform/postgres"
	"contramind/pkg/platform/sentinel"
	txcontext "contramind/pkg/platform/tx"
)

// PostgresStore persists anchors in the insert-only anchors table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const anchorColumns = `id, created_at, from_id, to_id, merkle_root, leaf_count, kid, signature`

// Insert is a compare-and-set on the latest to_id: the row is written only
// while the newest anchor still ends at prevToID.
func (s *PostgresStore) Insert(ctx context.Context, a models.Anchor, prevToID int64) (*models.Anchor, error) {
	if a.FromID <= prevToID || a.ToID < a.FromID {
		return nil, sentinel.ErrConflict
	}
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO anchors (from_id, to_id, merkle_root, leaf_count, kid, signature)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE (SELECT COALESCE(MAX(to_id), 0) FROM anchors) = $7
		RETURNING `+anchorColumns,
		a.FromID, a.ToID, a.MerkleRoot, a.LeafCount, a.KID, a.Signature, prevToID)
	out, err := scanAnchor(row)
	if errors.Is(err, sql.ErrNoRows) || postgres.IsUniqueViolation(err) {
		return nil, fmt.Errorf("insert anchor [%d, %d]: %w", a.FromID, a.ToID, sentinel.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("insert anchor: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Latest(ctx context.Context) (*models.Anchor, error) {
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM anchors ORDER BY to_id DESC LIMIT 1`)
	return s.one(row, "latest anchor")
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*models.Anchor, error) {
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM anchors WHERE id = $1`, id)
	return s.one(row, "get anchor")
}

func (s *PostgresStore) one(row *sql.Row, op string) (*models.Anchor, error) {
	a, err := scanAnchor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

func scanAnchor(row *sql.Row) (*models.Anchor, error) {
	var a models.Anchor
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.FromID, &a.ToID, &a.MerkleRoot, &a.LeafCount, &a.KID, &a.Signature); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
