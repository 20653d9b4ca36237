package store

import (
	"context"
	"database/sql"
	"errors"

	"referralpay/internal/models"
)

type KYCStore struct {
	db DB
}

func NewKYCStore(db DB) *KYCStore {
	return &KYCStore{db: db}
}

const kycColumns = `
	id, user_id, document_type, address, city, postal_code, country,
	document_front_url, document_back_url, selfie_url, status, notes,
	reviewed_by, submitted_at, reviewed_at
`

func (s *KYCStore) Create(ctx context.Context, tx Execer, k models.KYCSubmission) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO kyc_submissions (id, user_id, document_type, address, city, postal_code, country,
			document_front_url, document_back_url, selfie_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, k.ID, k.UserID, k.DocumentType, k.Address, k.City, k.PostalCode, k.Country,
		k.DocumentFrontURL, k.DocumentBackURL, k.SelfieURL, k.Status)
	return err
}

// LatestStatus returns the status of the newest submission, or
// KYCNotSubmitted when the user has none.
func (s *KYCStore) LatestStatus(ctx context.Context, userID string) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `
		SELECT status FROM kyc_submissions
		WHERE user_id = $1
		ORDER BY submitted_at DESC
		LIMIT 1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.KYCNotSubmitted, nil
	}
	return status, err
}

func (s *KYCStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.KYCSubmission, error) {
	var row models.KYCSubmission
	err := tx.GetContext(ctx, &row, `SELECT `+kycColumns+` FROM kyc_submissions WHERE id = $1 FOR UPDATE`, id)
	return row, err
}

func (s *KYCStore) Review(ctx context.Context, tx Execer, id, status, reviewerID string, notes *string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE kyc_submissions
		SET status = $1, reviewed_by = $2, notes = $3, reviewed_at = NOW()
		WHERE id = $4 AND status = 'pending'
	`, status, reviewerID, notes, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *KYCStore) ListPending(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error) {
	rows := []models.KYCSubmission{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+kycColumns+`
		FROM kyc_submissions
		WHERE status = 'pending'
		ORDER BY submitted_at
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
