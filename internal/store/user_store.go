package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"referralpay/internal/models"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

// Upline is the slice of a user the referral chain walk needs.
type Upline struct {
	UserID       string  `db:"id"`
	ReferrerCode *string `db:"referred_by_code"`
	Status       string  `db:"status"`
}

type UserInput struct {
	ID             string
	Email          string
	Username       string
	PasswordHash   string
	FirstName      string
	LastName       string
	ReferralCode   string
	ReferredByCode *string
	Role           string
}

const userColumns = `
	id, email, username, password_hash, first_name, last_name, referral_code,
	referred_by_code, role, status, withdrawal_status, balance, is_kyc_verified,
	withdrawal_pin_hash, created_at, updated_at
`

func (s *UserStore) Create(ctx context.Context, tx Execer, input UserInput) error {
	role := input.Role
	if role == "" {
		role = models.RoleUser
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, username, password_hash, first_name, last_name, referral_code, referred_by_code, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, input.ID, input.Email, input.Username, input.PasswordHash, input.FirstName, input.LastName, input.ReferralCode, input.ReferredByCode, role)
	return err
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return user, err
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return user, err
}

func (s *UserStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.User, error) {
	var user models.User
	err := tx.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	return user, err
}

func (s *UserStore) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($2)
		)
	`, email, username)
	return exists, err
}

func (s *UserStore) ReferralCodeExists(ctx context.Context, q Getter, code string) (bool, error) {
	var exists bool
	err := q.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE referral_code = $1)`, code)
	return exists, err
}

// FindUpline resolves a referral code to its owner and the owner's own
// referrer code. An unowned code returns sql.ErrNoRows.
func (s *UserStore) FindUpline(ctx context.Context, q Getter, code string) (Upline, error) {
	var row Upline
	err := q.GetContext(ctx, &row, `
		SELECT id, referred_by_code, status
		FROM users
		WHERE referral_code = $1
	`, code)
	if err != nil {
		return Upline{}, err
	}
	return row, nil
}

// AdjustBalance adds delta in place and returns the resulting balance.
func (s *UserStore) AdjustBalance(ctx context.Context, tx Getter, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance, `
		UPDATE users
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance
	`, delta, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

var ErrInsufficientBalance = errors.New("insufficient balance")

// DebitBalance subtracts amount only when the balance covers it.
func (s *UserStore) DebitBalance(ctx context.Context, tx Getter, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance, `
		UPDATE users
		SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`, amount, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrInsufficientBalance
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *UserStore) SetPinHash(ctx context.Context, tx Execer, userID, pinHash string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET withdrawal_pin_hash = $1, updated_at = NOW() WHERE id = $2
	`, pinHash, userID)
	return err
}

func (s *UserStore) SetPasswordHash(ctx context.Context, tx Execer, userID, passwordHash string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2
	`, passwordHash, userID)
	return err
}

// UpdateProfile overwrites the display names and returns the updated row.
func (s *UserStore) UpdateProfile(ctx context.Context, tx Getter, userID, firstName, lastName string) (models.User, error) {
	var user models.User
	err := tx.GetContext(ctx, &user, `
		UPDATE users SET first_name = $1, last_name = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING `+userColumns, firstName, lastName, userID)
	return user, err
}

func (s *UserStore) SetStatus(ctx context.Context, tx Execer, userID, status string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE users SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *UserStore) SetWithdrawalStatus(ctx context.Context, tx Execer, userID, status string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE users SET withdrawal_status = $1, updated_at = NOW() WHERE id = $2
	`, status, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *UserStore) MarkKYCVerified(ctx context.Context, tx Execer, userID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET is_kyc_verified = TRUE, updated_at = NOW() WHERE id = $1
	`, userID)
	return err
}

func (s *UserStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == models.RoleAdmin, nil
}

func (s *UserStore) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	err := s.db.SelectContext(ctx, &users, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// DownlineMember is one user below a referral code. ReferredByCode is never
// nil for a member.
type DownlineMember struct {
	UserID         string    `db:"id"`
	Username       string    `db:"username"`
	ReferralCode   string    `db:"referral_code"`
	ReferredByCode string    `db:"referred_by_code"`
	Status         string    `db:"status"`
	Level          int       `db:"level"`
	JoinedAt       time.Time `db:"created_at"`
}

// Downline returns everyone referred, directly or transitively, by code, at
// most maxDepth levels down, ordered by level then username. A code already
// on the current path is not expanded again, so malformed cyclic data ends
// the branch instead of looping.
func (s *UserStore) Downline(ctx context.Context, code string, maxDepth int) ([]DownlineMember, error) {
	rows := []DownlineMember{}
	if maxDepth < 1 {
		return rows, nil
	}
	err := s.db.SelectContext(ctx, &rows, `
		WITH RECURSIVE downline AS (
			SELECT id, username, referral_code, referred_by_code, status, created_at,
				1 AS level, ARRAY[$1::text, referral_code::text] AS path
			FROM users
			WHERE referred_by_code = $1 AND referral_code <> $1
			UNION ALL
			SELECT u.id, u.username, u.referral_code, u.referred_by_code, u.status, u.created_at,
				d.level + 1, d.path || u.referral_code::text
			FROM users u
			JOIN downline d ON u.referred_by_code = d.referral_code
			WHERE d.level < $2 AND NOT (u.referral_code::text = ANY(d.path))
		)
		SELECT id, username, referral_code, referred_by_code, status, created_at, level
		FROM downline
		ORDER BY level, username
	`, code, maxDepth)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
