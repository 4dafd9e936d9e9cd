// Package pgstate keeps the dedup state in Postgres, one row per tracking
// number. Suited for installations where the tool runs from several hosts
// against one database.
package pgstate

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Store struct {
	db *pgxpool.Pool
}

func New(connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS shipment_state (
  track_number TEXT PRIMARY KEY,
  last_date TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`)
	return errors.Wrap(err, "init schema")
}

func (s *Store) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT track_number, last_date FROM shipment_state`)
	if err != nil {
		return nil, errors.Wrap(err, "select state")
	}
	defer rows.Close()

	state := map[string]string{}
	for rows.Next() {
		var number, date string
		if err := rows.Scan(&number, &date); err != nil {
			return nil, errors.Wrap(err, "scan state row")
		}
		state[number] = date
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return state, nil
}

// Save upserts every entry in one transaction. Numbers never leave the state,
// so rows are only ever added or refreshed.
func (s *Store) Save(ctx context.Context, state map[string]string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for number, date := range state {
		_, err := tx.Exec(ctx, `
INSERT INTO shipment_state (track_number, last_date, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (track_number)
DO UPDATE SET last_date = EXCLUDED.last_date, updated_at = EXCLUDED.updated_at
`, number, date, now)
		if err != nil {
			return errors.Wrap(err, "upsert state row")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
