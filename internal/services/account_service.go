package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"referralpay/internal/auth"
	"referralpay/internal/codes"
	"referralpay/internal/db"
	"referralpay/internal/events"
	"referralpay/internal/models"
	"referralpay/internal/money"
	"referralpay/internal/store"
	"referralpay/internal/validator"
)

var (
	ErrCurrentPinRequired = errors.New("current pin required")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

type AccountUserStore interface {
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.User, error)
	AdjustBalance(ctx context.Context, tx store.Getter, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	SetPinHash(ctx context.Context, tx store.Execer, userID, pinHash string) error
	SetPasswordHash(ctx context.Context, tx store.Execer, userID, passwordHash string) error
	UpdateProfile(ctx context.Context, tx store.Getter, userID, firstName, lastName string) (models.User, error)
	SetStatus(ctx context.Context, tx store.Execer, userID, status string) (int64, error)
	SetWithdrawalStatus(ctx context.Context, tx store.Execer, userID, status string) (int64, error)
}

// AccountService covers the self-service password, profile and PIN flows
// and the admin account controls.
type AccountService struct {
	txRunner     db.TxRunner
	users        AccountUserStore
	transactions TransactionStore
	audit        AuditStore
	hub          BalanceHub
	publisher    events.Publisher
	currency     string
}

func NewAccountService(txRunner db.TxRunner, users AccountUserStore, transactions TransactionStore, audit AuditStore, hub BalanceHub, publisher events.Publisher, currency string) *AccountService {
	return &AccountService{
		txRunner:     txRunner,
		users:        users,
		transactions: transactions,
		audit:        audit,
		hub:          hub,
		publisher:    publisher,
		currency:     currency,
	}
}

// SetPin sets the withdrawal PIN. Changing an existing PIN requires the
// current one.
func (s *AccountService) SetPin(ctx context.Context, userID, currentPin, newPin string) error {
	if err := validator.ValidatePin(newPin); err != nil {
		return err
	}
	hash, err := auth.HashPin(newPin)
	if err != nil {
		return err
	}
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		user, err := s.users.GetForUpdate(ctx, tx, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		action := "pin_set"
		if user.HasPin() {
			if currentPin == "" {
				return ErrCurrentPinRequired
			}
			if !auth.CheckPin(*user.PinHash, currentPin) {
				return ErrInvalidPin
			}
			action = "pin_changed"
		}
		if err := s.users.SetPinHash(ctx, tx, userID, hash); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, userID, action, "user", userID, "{}")
	})
}

// ChangePassword replaces the login password after checking the current
// one.
func (s *AccountService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := validator.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		user, err := s.users.GetForUpdate(ctx, tx, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if !auth.CheckPassword(user.PasswordHash, currentPassword) {
			return ErrWrongPassword
		}
		if err := s.users.SetPasswordHash(ctx, tx, userID, hash); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, userID, "password_changed", "user", userID, "{}")
	})
	if err != nil {
		return err
	}
	log.WithField("user_id", userID).Info("Password changed")
	return nil
}

// UpdateProfile sets the caller's first and last name.
func (s *AccountService) UpdateProfile(ctx context.Context, userID, firstName, lastName string) (models.User, error) {
	firstName, lastName = strings.TrimSpace(firstName), strings.TrimSpace(lastName)
	if err := validator.ValidateName(firstName); err != nil {
		return models.User{}, err
	}
	if err := validator.ValidateName(lastName); err != nil {
		return models.User{}, err
	}
	var user models.User
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		user, err = s.users.UpdateProfile(ctx, tx, userID, firstName, lastName)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, userID, "profile_updated", "user", userID, auditData(map[string]any{
			"first_name": firstName,
			"last_name":  lastName,
		}))
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// SetStatus freezes or reactivates an account.
func (s *AccountService) SetStatus(ctx context.Context, adminID, userID, status string) error {
	if status != models.UserStatusActive && status != models.UserStatusFrozen {
		return ErrInvalidStatus
	}
	return s.update(ctx, adminID, userID, "user_status_changed", status, s.users.SetStatus)
}

// SetWithdrawalStatus pauses or resumes withdrawals for an account.
func (s *AccountService) SetWithdrawalStatus(ctx context.Context, adminID, userID, status string) error {
	if status != models.WithdrawalsActive && status != models.WithdrawalsPaused {
		return ErrInvalidStatus
	}
	return s.update(ctx, adminID, userID, "withdrawal_status_changed", status, s.users.SetWithdrawalStatus)
}

func (s *AccountService) update(ctx context.Context, adminID, userID, action, status string, set func(context.Context, store.Execer, string, string) (int64, error)) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := set(ctx, tx, userID, status)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrUserNotFound
		}
		return s.audit.Log(ctx, tx, adminID, action, "user", userID, auditData(map[string]any{"status": status}))
	})
}

type CreditResult struct {
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Balance       decimal.Decimal `json:"balance"`
}

// Credit adds a manual admin_credit to a user's balance.
func (s *AccountService) Credit(ctx context.Context, adminID, userID string, amount decimal.Decimal, note string) (CreditResult, error) {
	if !amount.IsPositive() || !money.HasMinorPrecision(amount) {
		return CreditResult{}, ErrInvalidAmount
	}
	note = strings.TrimSpace(note)
	if note == "" {
		note = fmt.Sprintf("Admin credit by %s", adminID)
	}

	effects := newSideEffects()
	var result CreditResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		effects.reset()
		if _, err := s.users.GetForUpdate(ctx, tx, userID); errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		} else if err != nil {
			return err
		}
		balance, err := s.users.AdjustBalance(ctx, tx, userID, amount)
		if err != nil {
			return err
		}
		reference, err := codes.TransactionReference(models.TxTypeAdminCredit)
		if err != nil {
			return err
		}
		input := store.TransactionInput{
			ID:        uuid.NewString(),
			UserID:    userID,
			Type:      models.TxTypeAdminCredit,
			Status:    models.TxStatusCompleted,
			Amount:    amount,
			Currency:  s.currency,
			Reference: reference,
			Note:      &note,
		}
		if err := s.transactions.Create(ctx, tx, input); err != nil {
			return err
		}
		if err := s.audit.Log(ctx, tx, adminID, "admin_credit", "user", userID, auditData(map[string]any{
			"amount":         amount.StringFixed(2),
			"transaction_id": input.ID,
		})); err != nil {
			return err
		}
		effects.balance(userID, balance, amount, models.TxTypeAdminCredit)
		result = CreditResult{TransactionID: input.ID, Reference: reference, Balance: balance}
		return nil
	})
	if err != nil {
		effects.discard()
		return CreditResult{}, err
	}
	effects.publish(ctx, s.hub, s.publisher)
	log.WithFields(log.Fields{"user_id": userID, "admin_id": adminID, "amount": money.Format(amount)}).Info("Admin credit applied")
	return result, nil
}
