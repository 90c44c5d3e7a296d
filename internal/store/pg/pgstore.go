package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"veridia.org/internal/catalog"
	"veridia.org/internal/compliance"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store is the Postgres implementation of the compliance graph. Status is
// never persisted; it is derived on read through the rollup functions so
// there is exactly one definition of every status.
type Store struct {
	db  *sql.DB
	cat *catalog.Catalog
}

var _ compliance.Service = (*Store)(nil)

// Open connects to Postgres and binds the store to a template catalog.
func Open(dsn string, cat *catalog.Catalog) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, cat: cat}, nil
}

// NewWithDB wraps an existing connection (tests, shared pools).
func NewWithDB(db *sql.DB, cat *catalog.Catalog) *Store {
	return &Store{db: db, cat: cat}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// querier is satisfied by both *sql.DB and *sql.Tx so the derivation
// helpers can run inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func txFailed(err error) error {
	return fmt.Errorf("%w: %v", compliance.ErrTransactionFailed, err)
}
