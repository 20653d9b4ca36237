package store

import (
	"context"
	"time"

	"referralpay/internal/models"
)

type PendingRegistrationStore struct {
	db DB
}

func NewPendingRegistrationStore(db DB) *PendingRegistrationStore {
	return &PendingRegistrationStore{db: db}
}

const pendingColumns = `
	id, email, username, password_hash, first_name, last_name, referred_by_code,
	payment_intent_id, created_at, expires_at
`

func (s *PendingRegistrationStore) Create(ctx context.Context, tx Execer, p models.PendingRegistration) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_registrations (id, email, username, password_hash, first_name, last_name, referred_by_code, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Email, p.Username, p.PasswordHash, p.FirstName, p.LastName, p.ReferredByCode, p.ExpiresAt)
	return err
}

func (s *PendingRegistrationStore) AttachPaymentIntent(ctx context.Context, tx Execer, id, intentID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE pending_registrations SET payment_intent_id = $1 WHERE id = $2
	`, intentID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExistsLive reports an unexpired pending registration holding the email or username.
func (s *PendingRegistrationStore) ExistsLive(ctx context.Context, email, username string, now time.Time) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM pending_registrations
			WHERE (LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($2)) AND expires_at > $3
		)
	`, email, username, now)
	return exists, err
}

// GetForUpdate locks the row so concurrent deliveries of the same event serialize.
func (s *PendingRegistrationStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.PendingRegistration, error) {
	var row models.PendingRegistration
	err := tx.GetContext(ctx, &row, `SELECT `+pendingColumns+` FROM pending_registrations WHERE id = $1 FOR UPDATE`, id)
	return row, err
}

func (s *PendingRegistrationStore) Delete(ctx context.Context, tx Execer, id string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM pending_registrations WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired purges rows that expired before cutoff and returns how many went.
// Rows are skipped while another transaction holds them.
func (s *PendingRegistrationStore) DeleteExpired(ctx context.Context, tx Execer, cutoff time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM pending_registrations
		WHERE id IN (
			SELECT id FROM pending_registrations
			WHERE expires_at < $1
			FOR UPDATE SKIP LOCKED
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
