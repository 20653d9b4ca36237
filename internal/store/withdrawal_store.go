package store

import (
	"context"

	"referralpay/internal/models"
)

type WithdrawalStore struct {
	db DB
}

func NewWithdrawalStore(db DB) *WithdrawalStore {
	return &WithdrawalStore{db: db}
}

const withdrawalColumns = `
	id, user_id, transaction_id, amount, fee, currency, destination, status,
	payout_id, processed_by, reason, requested_at, processed_at
`

func (s *WithdrawalStore) Create(ctx context.Context, tx Execer, w models.Withdrawal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO withdrawals (id, user_id, transaction_id, amount, fee, currency, destination, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.UserID, w.TransactionID, w.Amount, w.Fee, w.Currency, w.Destination, w.Status)
	return err
}

func (s *WithdrawalStore) GetByID(ctx context.Context, id string) (models.Withdrawal, error) {
	var row models.Withdrawal
	err := s.db.GetContext(ctx, &row, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	return row, err
}

func (s *WithdrawalStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.Withdrawal, error) {
	var row models.Withdrawal
	err := tx.GetContext(ctx, &row, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id)
	return row, err
}

// Claim moves a pending withdrawal to approved before its payout is sent,
// so a concurrent denial no longer matches it. Zero rows affected means the
// withdrawal was not pending.
func (s *WithdrawalStore) Claim(ctx context.Context, tx Execer, id, adminID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = 'approved', processed_by = $2
		WHERE id = $1 AND status = 'pending'
	`, id, adminID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// WithdrawalDecision moves a withdrawal from From to Status.
type WithdrawalDecision struct {
	ID          string
	From        string
	Status      string
	ProcessedBy string
	PayoutID    *string
	Reason      *string
}

// Resolve applies d only while the row is still in d.From.
func (s *WithdrawalStore) Resolve(ctx context.Context, tx Execer, d WithdrawalDecision) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = $1, processed_by = $2, payout_id = $3, reason = $4, processed_at = NOW()
		WHERE id = $5 AND status = $6
	`, d.Status, d.ProcessedBy, d.PayoutID, d.Reason, d.ID, d.From)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *WithdrawalStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error) {
	rows := []models.Withdrawal{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *WithdrawalStore) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Withdrawal, error) {
	rows := []models.Withdrawal{}
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY requested_at DESC LIMIT $2 OFFSET $3`
		args = append(args, status, limit, offset)
	} else {
		query += ` ORDER BY requested_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
