package store

import (
	"context"

	"github.com/shopspring/decimal"
)

// ReconcileStore compares stored balances with the sum of the transaction log.
type ReconcileStore struct {
	db DB
}

func NewReconcileStore(db DB) *ReconcileStore {
	return &ReconcileStore{db: db}
}

type BalanceReconciliation struct {
	UserID            string          `db:"user_id"`
	Username          string          `db:"username"`
	StoredBalance     decimal.Decimal `db:"stored_balance"`
	CalculatedBalance decimal.Decimal `db:"calculated_balance"`
	Difference        decimal.Decimal `db:"difference"`
}

// Mismatches lists users whose balance differs from completed credits minus
// pending or completed withdrawals.
func (s *ReconcileStore) Mismatches(ctx context.Context) ([]BalanceReconciliation, error) {
	rows := []BalanceReconciliation{}
	err := s.db.SelectContext(ctx, &rows, `
		WITH ledger AS (
			SELECT user_id,
			       COALESCE(SUM(CASE
			           WHEN type IN ('deposit', 'referral_bonus', 'admin_credit') AND status = 'completed' THEN amount
			           WHEN type = 'withdrawal' AND status IN ('pending', 'completed') THEN -amount
			           ELSE 0
			       END), 0) AS calculated
			FROM transactions
			GROUP BY user_id
		)
		SELECT u.id AS user_id,
		       u.username,
		       u.balance AS stored_balance,
		       COALESCE(l.calculated, 0) AS calculated_balance,
		       u.balance - COALESCE(l.calculated, 0) AS difference
		FROM users u
		LEFT JOIN ledger l ON l.user_id = u.id
		WHERE u.balance <> COALESCE(l.calculated, 0)
		ORDER BY u.username
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
