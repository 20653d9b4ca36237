package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"referralpay/internal/models"
)

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

type TransactionInput struct {
	ID        string
	UserID    string
	Type      string
	Status    string
	Amount    decimal.Decimal
	Currency  string
	Reference string
	RefereeID *string
	Tier      *int
	Note      *string
}

const transactionColumns = `id, user_id, type, amount, currency, status, reference, referee_id, tier, note, created_at`

func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	query := `
		INSERT INTO transactions (id, user_id, type, amount, currency, status, reference, referee_id, tier, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.UserID, input.Type, input.Amount, input.Currency, input.Status,
		input.Reference, input.RefereeID, input.Tier, input.Note,
	)
	return err
}

// TransitionStatus moves a transaction from one status to another and
// reports how many rows changed; zero means it was not in the from status.
func (s *TransactionStore) TransitionStatus(ctx context.Context, tx Execer, transactionID, from, to string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3
	`, to, transactionID, from)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *TransactionStore) GetForUpdate(ctx context.Context, tx Getter, transactionID string) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, transactionID)
	return row, err
}

func (s *TransactionStore) GetForUser(ctx context.Context, userID, transactionID string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2`, transactionID, userID)
	return row, err
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID, txType string, limit, offset int) ([]models.Transaction, error) {
	rows := []models.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{userID}
	param := 2
	if txType != "" {
		query += " AND type = $2"
		args = append(args, txType)
		param = 3
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", param, param+1)
	args = append(args, limit, offset)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) ListAll(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	rows := []models.Transaction{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) ListByReferee(ctx context.Context, refereeID string) ([]models.Transaction, error) {
	rows := []models.Transaction{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE referee_id = $1
		ORDER BY tier NULLS LAST, created_at
	`, refereeID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
