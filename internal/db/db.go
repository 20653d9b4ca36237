package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

var ErrRetryLimitExceeded = errors.New("transaction retry limit exceeded")

// TxRunner runs fn inside one database transaction. fn may be invoked more
// than once and must not have side effects outside tx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

// RetryPolicy bounds how often a conflicting serializable transaction is
// replayed. The n-th wait is n*n*Backoff plus up to Jitter.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Jitter   time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 5, Backoff: 20 * time.Millisecond, Jitter: 10 * time.Millisecond}

func (p RetryPolicy) wait(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * p.Backoff
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

type SQLXTxRunner struct {
	db     *sqlx.DB
	policy RetryPolicy
}

func NewTxRunner(db *sqlx.DB) SQLXTxRunner {
	return SQLXTxRunner{db: db, policy: DefaultRetry}
}

// WithPolicy returns a copy of r using policy.
func (r SQLXTxRunner) WithPolicy(policy RetryPolicy) SQLXTxRunner {
	r.policy = policy
	return r
}

func (r SQLXTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return runSerializable(ctx, r.db, r.policy, fn)
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

var DefaultPool = PoolConfig{MaxOpen: 30, MaxIdle: 5, MaxLifetime: 30 * time.Minute, MaxIdleTime: 5 * time.Minute}

// Connect opens a postgres pool sized by DefaultPool and pings it.
func Connect(databaseURL string) (*sqlx.DB, error) {
	return ConnectWithPool(context.Background(), databaseURL, DefaultPool)
}

func ConnectWithPool(ctx context.Context, databaseURL string, pool PoolConfig) (*sqlx.DB, error) {
	database, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	database.SetMaxOpenConns(pool.MaxOpen)
	database.SetMaxIdleConns(pool.MaxIdle)
	database.SetConnMaxLifetime(pool.MaxLifetime)
	database.SetConnMaxIdleTime(pool.MaxIdleTime)
	return database, nil
}

// WithTx runs fn in a serializable transaction under DefaultRetry.
func WithTx(ctx context.Context, database *sqlx.DB, fn func(*sqlx.Tx) error) error {
	return runSerializable(ctx, database, DefaultRetry, fn)
}

func runSerializable(ctx context.Context, database *sqlx.DB, policy RetryPolicy, fn func(*sqlx.Tx) error) error {
	attempts := max(policy.Attempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := attemptTx(ctx, database, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		log.WithFields(log.Fields{
			"attempt": attempt,
			"code":    errorCode(err),
		}).Debug("Replaying serializable transaction")

		timer := time.NewTimer(policy.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryLimitExceeded, attempts, lastErr)
}

func attemptTx(ctx context.Context, database *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := database.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func errorCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// IsRetryable reports serialization failures and deadlocks.
func IsRetryable(err error) bool {
	switch errorCode(err).Name() {
	case "serialization_failure", "deadlock_detected":
		return true
	}
	return false
}

func IsUniqueViolation(err error) bool {
	return errorCode(err).Name() == "unique_violation"
}
