package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"contramind/pkg/platform/sentinel"
	txcontext "contramind/pkg/platform/tx"
)

// PostgresStore reads policy_thresholds and policy_allowlist.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Load reads both tables in one read-only REPEATABLE READ transaction so a
// concurrent admin change cannot produce a mixed view.
func (s *PostgresStore) Load(ctx context.Context) (Contents, error) {
	var contents Contents
	err := txcontext.Run(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(ctx context.Context) error {
		q := txcontext.Use(ctx, s.db)

		thresholds, err := loadThresholds(ctx, q)
		if err != nil {
			return err
		}
		var allowlist []string
		if err := q.QueryRowContext(ctx,
			`SELECT COALESCE(array_agg(country ORDER BY country), '{}') FROM policy_allowlist`,
		).Scan(pq.Array(&allowlist)); err != nil {
			return fmt.Errorf("load allowlist: %w", err)
		}
		contents = Contents{Thresholds: thresholds, Allowlist: allowlist}
		return nil
	})
	if err != nil {
		return Contents{}, err
	}
	return contents, nil
}

func loadThresholds(ctx context.Context, q txcontext.Querier) (map[string]decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM policy_thresholds`)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	defer rows.Close()

	thresholds := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			key   string
			value decimal.Decimal
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		thresholds[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thresholds: %w", err)
	}
	return thresholds, nil
}

func (s *PostgresStore) SetThreshold(ctx context.Context, key string, value decimal.Decimal) error {
	_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, `
		INSERT INTO policy_thresholds (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value.String())
	if err != nil {
		return fmt.Errorf("set threshold %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) DeleteThreshold(ctx context.Context, key string) error {
	res, err := txcontext.Use(ctx, s.db).ExecContext(ctx, `DELETE FROM policy_thresholds WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete threshold %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddCountry(ctx context.Context, country string) error {
	_, err := txcontext.Use(ctx, s.db).ExecContext(ctx,
		`INSERT INTO policy_allowlist (country) VALUES ($1) ON CONFLICT (country) DO NOTHING`, country)
	if err != nil {
		return fmt.Errorf("add country %s: %w", country, err)
	}
	return nil
}

func (s *PostgresStore) RemoveCountry(ctx context.Context, country string) error {
	_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, `DELETE FROM policy_allowlist WHERE country = $1`, country)
	if err != nil {
		return fmt.Errorf("remove country %s: %w", country, err)
	}
	return nil
}

// SeedIfEmpty writes contents when both tables are empty. The table lock keeps
// two starting instances from seeding twice.
func (s *PostgresStore) SeedIfEmpty(ctx context.Context, contents Contents) (bool, error) {
	seeded := false
	err := txcontext.Run(ctx, s.db, nil, func(ctx context.Context) error {
		q := txcontext.Use(ctx, s.db)
		if _, err := q.ExecContext(ctx, `LOCK TABLE policy_thresholds, policy_allowlist IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock parameter tables: %w", err)
		}
		var existing int
		if err := q.QueryRowContext(ctx,
			`SELECT (SELECT count(*) FROM policy_thresholds) + (SELECT count(*) FROM policy_allowlist)`,
		).Scan(&existing); err != nil {
			return fmt.Errorf("count parameters: %w", err)
		}
		if existing > 0 {
			return nil
		}
		for key, value := range contents.Thresholds {
			if err := s.SetThreshold(ctx, key, value); err != nil {
				return err
			}
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO policy_allowlist (country) SELECT unnest($1::text[]) ON CONFLICT DO NOTHING`,
			pq.Array(contents.Allowlist),
		); err != nil {
			return fmt.Errorf("seed allowlist: %w", err)
		}
		seeded = true
		return nil
	})
	return seeded, err
}
