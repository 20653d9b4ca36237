package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Execer, Getter and Selecter are the slices of *sqlx.DB and *sqlx.Tx the
// stores depend on. Write methods take the narrowest one so callers can pass
// the transaction that owns the row locks.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is a pool or a transaction.
type DB interface {
	Execer
	Getter
	Selecter
}

// Tx is what code running inside a db.TxRunner callback may use.
type Tx interface {
	Execer
	Getter
}

var (
	_ DB = (*sqlx.DB)(nil)
	_ DB = (*sqlx.Tx)(nil)
	_ Tx = (*sqlx.Tx)(nil)
)
