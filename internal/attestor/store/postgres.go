package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"contramind/internal/attestor/models"
	"contramind/pkg/platform/sentinel"
	txcontext "contramind/pkg/platform/tx"
)

// PostgresStore persists public key records in attestor_keys.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Register(ctx context.Context, rec models.KeyRecord) error {
	q := txcontext.Use(ctx, s.db)
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO attestor_keys (kid, public_key, active, created_at)
		VALUES ($1, $2, false, $3)
		ON CONFLICT (kid) DO NOTHING
	`, rec.KID, rec.PublicKey, createdAt); err != nil {
		return fmt.Errorf("register key %s: %w", rec.KID, err)
	}
	var stored string
	if err := q.QueryRowContext(ctx, `SELECT public_key FROM attestor_keys WHERE kid = $1`, rec.KID).Scan(&stored); err != nil {
		return fmt.Errorf("read key %s: %w", rec.KID, err)
	}
	if stored != rec.PublicKey {
		return sentinel.ErrConflict
	}
	return nil
}

// Activate clears the previous active flag and sets the new one in a single
// transaction; the partial unique index keeps at most one active row.
func (s *PostgresStore) Activate(ctx context.Context, kid string, at time.Time) error {
	return txcontext.Run(ctx, s.db, nil, func(ctx context.Context) error {
		q := txcontext.Use(ctx, s.db)
		if _, err := q.ExecContext(ctx, `SELECT kid FROM attestor_keys WHERE kid = $1 FOR UPDATE`, kid); err != nil {
			return fmt.Errorf("lock key %s: %w", kid, err)
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE attestor_keys SET active = false WHERE active AND kid <> $1`, kid); err != nil {
			return fmt.Errorf("deactivate keys: %w", err)
		}
		res, err := q.ExecContext(ctx, `
			UPDATE attestor_keys
			SET active = true, activated_at = COALESCE(CASE WHEN active THEN activated_at END, $2)
			WHERE kid = $1
		`, kid, at)
		if err != nil {
			return fmt.Errorf("activate key %s: %w", kid, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return sentinel.ErrNotFound
		}
		return nil
	})
}

func (s *PostgresStore) List(ctx context.Context) ([]models.KeyRecord, error) {
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, `
		SELECT kid, public_key, active, created_at, activated_at
		FROM attestor_keys
		ORDER BY created_at, kid
	`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []models.KeyRecord
	for rows.Next() {
		var (
			rec         models.KeyRecord
			activatedAt sql.NullTime
		)
		if err := rows.Scan(&rec.KID, &rec.PublicKey, &rec.Active, &rec.CreatedAt, &activatedAt); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		if activatedAt.Valid {
			t := activatedAt.Time
			rec.ActivatedAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return out, nil
}
