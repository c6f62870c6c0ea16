// Package postgres implements the session, proximity and realtime
// contracts directly on PostgreSQL, for deployments without Supabase.
package postgres

import (
	"context"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the stores use. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// dbError keeps connection failures classified as network errors and
// everything else as database errors.
func dbError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Categorize(err) == errors.CategoryNetwork {
		return errors.Wrap(err, errors.NetworkError, operation)
	}
	return errors.Wrap(err, errors.DatabaseError, operation)
}
