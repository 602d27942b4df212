package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"contramind/internal/ledger/models"
	"contramind/internal/platform/postgres"
	"contramind/pkg/platform/sentinel"
	txcontext "contramind/pkg/platform/tx"
)

// PostgresStore persists entries in decision_ledger. Reads and writes join a
// transaction carried by the context when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, idempotency_key, ts, status, decision, kernel_id, param_hash, bundle,
	COALESCE(bundle_sig, ''), COALESCE(kid, ''), COALESCE(proof_id, ''), COALESCE(certificate, ''),
	created_at, finalized_at`

func (s *PostgresStore) Reserve(ctx context.Context, entry *models.Entry) (int64, error) {
	var id int64
	err := txcontext.Use(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO decision_ledger (idempotency_key, ts, status, decision, kernel_id, param_hash, bundle)
		VALUES ($1, $2, 'pending', $3, $4, $5, $6)
		RETURNING id
	`, entry.IdempotencyKey, entry.TS, entry.Decision, entry.KernelID, entry.ParamHash, string(entry.Bundle)).Scan(&id)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return 0, sentinel.ErrConflict
		}
		return 0, fmt.Errorf("reserve ledger entry: %w", err)
	}
	entry.ID = id
	return id, nil
}

// Attach moves a pending row to final. The status predicate makes a second
// attach a no-op that reports sentinel.ErrConflict.
func (s *PostgresStore) Attach(ctx context.Context, key string, a models.Attachment) (*models.Entry, error) {
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx, `
		UPDATE decision_ledger
		SET status = 'final', bundle_sig = $2, kid = $3, proof_id = $4, certificate = $5, finalized_at = $6
		WHERE idempotency_key = $1 AND status = 'pending'
		RETURNING `+entryColumns,
		key, a.BundleSig, a.KID, a.ProofID, a.Certificate, a.FinalizedAt)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.Get(ctx, key); getErr != nil {
			return nil, getErr
		}
		return nil, sentinel.ErrConflict
	}
	if err != nil {
		if postgres.IsImmutableRow(err) {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("attach certificate: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*models.Entry, error) {
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM decision_ledger WHERE idempotency_key = $1`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Range(ctx context.Context, from, to int64) ([]*models.Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM decision_ledger
		WHERE id BETWEEN $1 AND $2 ORDER BY id`, from, to)
}

// Since reads up to limit entries after afterID. Callers that need a stable view
// of the id space (the anchor builder) call it inside a transaction that holds
// LockForAnchoring.
func (s *PostgresStore) Since(ctx context.Context, afterID int64, limit int) ([]*models.Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM decision_ledger
		WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
}

func (s *PostgresStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM decision_ledger
		WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`, olderThan, limit)
}

func (s *PostgresStore) MaxID(ctx context.Context) (int64, error) {
	var id int64
	if err := txcontext.Use(ctx, s.db).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM decision_ledger`).Scan(&id); err != nil {
		return 0, fmt.Errorf("max ledger id: %w", err)
	}
	return id, nil
}

// LockForAnchoring takes a SHARE lock on decision_ledger in the context's
// transaction. It waits for in-flight inserts to commit, so no id below the
// current maximum can still appear, and holds new inserts until the
// transaction ends. The builder's transaction covers only the range read, so
// inserts stall for the length of one Latest and one Since query.
func (s *PostgresStore) LockForAnchoring(ctx context.Context) error {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return errors.New("lock for anchoring requires a transaction")
	}
	if _, err := tx.ExecContext(ctx, `LOCK TABLE decision_ledger IN SHARE MODE`); err != nil {
		return fmt.Errorf("lock decision_ledger: %w", err)
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Entry, error) {
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.Entry, error) {
	var (
		e           models.Entry
		status      string
		bundle      string
		finalizedAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.IdempotencyKey, &e.TS, &status, &e.Decision, &e.KernelID, &e.ParamHash, &bundle,
		&e.BundleSig, &e.KID, &e.ProofID, &e.Certificate, &e.CreatedAt, &finalizedAt); err != nil {
		return nil, err
	}
	e.Status = models.Status(status)
	e.Bundle = []byte(bundle)
	e.TS = e.TS.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if finalizedAt.Valid {
		t := finalizedAt.Time.UTC()
		e.FinalizedAt = &t
	}
	return &e, nil
}
