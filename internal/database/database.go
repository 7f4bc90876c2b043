// Package database is the hand-written pgx store for the Tably API. It keeps
// the Queries-over-DBTX shape so services can run the same methods against a
// pool or inside a transaction.
package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries exposes all store methods over a DBTX.
type Queries struct {
	db DBTX
}

// New creates a Queries over the given pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}
