package pgx

import (
	"context"
	"errors"
	"fmt"

	"lattice/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphReader and store.IndexAdmin using
// PostgreSQL with pgvector for vector similarity search. The graph is
// written by the indexing job; query serving only reads it.
type GraphDBStorage struct {
	conn pgxIConn
}

// NewGraphDBStorage creates a GraphDBStorage using an existing database
// connection or pool.
func NewGraphDBStorage(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

// wrapStoreErr maps connectivity-class failures to store.ErrUnavailable so
// callers can treat them as hard, retryable request failures. Row-level
// errors pass through wrapped.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || errors.Is(err, pgxv5.ErrTxClosed) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ store.GraphReader = (*GraphDBStorage)(nil)
var _ store.IndexAdmin = (*GraphDBStorage)(nil)
