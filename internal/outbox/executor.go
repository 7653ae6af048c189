package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor abstracts the subset of pgx operations shared by *pgxpool.Pool
// and pgx.Tx, so repositories can run unchanged whether they're bound to the
// pool or to a transaction handed out by a UnitOfWork.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
