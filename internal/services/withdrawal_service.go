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
	"referralpay/internal/payment"
	"referralpay/internal/store"
	"referralpay/internal/validator"
)

type WithdrawalUserStore interface {
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.User, error)
	AdjustBalance(ctx context.Context, tx store.Getter, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	DebitBalance(ctx context.Context, tx store.Getter, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

type WithdrawalTransactionStore interface {
	TransactionStore
	TransitionStatus(ctx context.Context, tx store.Execer, transactionID, from, to string) (int64, error)
}

type WithdrawalStore interface {
	Create(ctx context.Context, tx store.Execer, w models.Withdrawal) error
	GetByID(ctx context.Context, id string) (models.Withdrawal, error)
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.Withdrawal, error)
	Claim(ctx context.Context, tx store.Execer, id, adminID string) (int64, error)
	Resolve(ctx context.Context, tx store.Execer, d store.WithdrawalDecision) (int64, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Withdrawal, error)
}

type WithdrawalConfig struct {
	Fee      decimal.Decimal
	Minimum  decimal.Decimal
	Currency string
}

type WithdrawalService struct {
	txRunner     db.TxRunner
	users        WithdrawalUserStore
	transactions WithdrawalTransactionStore
	withdrawals  WithdrawalStore
	gateway      payment.Gateway
	audit        AuditStore
	hub          BalanceHub
	publisher    events.Publisher
	cfg          WithdrawalConfig
}

func NewWithdrawalService(txRunner db.TxRunner, users WithdrawalUserStore, transactions WithdrawalTransactionStore, withdrawals WithdrawalStore, gateway payment.Gateway, audit AuditStore, hub BalanceHub, publisher events.Publisher, cfg WithdrawalConfig) *WithdrawalService {
	return &WithdrawalService{
		txRunner:     txRunner,
		users:        users,
		transactions: transactions,
		withdrawals:  withdrawals,
		gateway:      gateway,
		audit:        audit,
		hub:          hub,
		publisher:    publisher,
		cfg:          cfg,
	}
}

type WithdrawalRequest struct {
	UserID      string
	Amount      decimal.Decimal
	Destination string
	Pin         string
}

// Request debits amount plus fee and queues the withdrawal for review.
func (s *WithdrawalService) Request(ctx context.Context, req WithdrawalRequest) (models.Withdrawal, error) {
	if !req.Amount.IsPositive() || !money.HasMinorPrecision(req.Amount) {
		return models.Withdrawal{}, ErrInvalidAmount
	}
	if req.Amount.LessThan(s.cfg.Minimum) {
		return models.Withdrawal{}, ErrBelowMinimum
	}
	destination := strings.TrimSpace(req.Destination)
	if err := validator.ValidateDestination(destination); err != nil {
		return models.Withdrawal{}, err
	}
	total := req.Amount.Add(s.cfg.Fee)

	effects := newSideEffects()
	var withdrawal models.Withdrawal
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		effects.reset()
		user, err := s.users.GetForUpdate(ctx, tx, req.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		switch {
		case user.Status != models.UserStatusActive:
			return ErrAccountFrozen
		case user.WithdrawalStatus != models.WithdrawalsActive:
			return ErrWithdrawalsPaused
		case !user.IsKYCVerified:
			return ErrKYCRequired
		case !user.HasPin():
			return ErrPinNotSet
		case !auth.CheckPin(*user.PinHash, req.Pin):
			return ErrInvalidPin
		}

		balance, err := s.users.DebitBalance(ctx, tx, user.ID, total)
		if errors.Is(err, store.ErrInsufficientBalance) {
			return ErrInsufficientFunds
		}
		if err != nil {
			return err
		}

		reference, err := codes.TransactionReference(models.TxTypeWithdrawal)
		if err != nil {
			return err
		}
		txInput := store.TransactionInput{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Type:      models.TxTypeWithdrawal,
			Status:    models.TxStatusPending,
			Amount:    total,
			Currency:  s.cfg.Currency,
			Reference: reference,
		}
		if err := s.transactions.Create(ctx, tx, txInput); err != nil {
			return err
		}
		withdrawal = models.Withdrawal{
			ID:            uuid.NewString(),
			UserID:        user.ID,
			TransactionID: txInput.ID,
			Amount:        req.Amount,
			Fee:           s.cfg.Fee,
			Currency:      s.cfg.Currency,
			Destination:   destination,
			Status:        models.WithdrawalPending,
		}
		if err := s.withdrawals.Create(ctx, tx, withdrawal); err != nil {
			return err
		}
		if err := s.audit.Log(ctx, tx, user.ID, "withdrawal_requested", "withdrawal", withdrawal.ID, auditData(map[string]any{
			"amount": req.Amount.StringFixed(2),
			"fee":    s.cfg.Fee.StringFixed(2),
		})); err != nil {
			return err
		}
		effects.balance(user.ID, balance, total.Neg(), models.TxTypeWithdrawal)
		return nil
	})
	if err != nil {
		effects.discard()
		return models.Withdrawal{}, err
	}
	effects.publish(ctx, s.hub, s.publisher)
	log.WithFields(log.Fields{"withdrawal_id": withdrawal.ID, "user_id": req.UserID, "total": money.Format(total)}).Info("Withdrawal requested")
	return withdrawal, nil
}

// Approve claims the withdrawal (pending -> approved), pays it out and
// completes it. A claimed withdrawal can no longer be denied. When the payout
// fails the row stays approved and Approve may be called again; the payout
// uses the withdrawal id as its idempotency key, so a retry cannot pay twice.
func (s *WithdrawalService) Approve(ctx context.Context, adminID, withdrawalID string) (models.Withdrawal, error) {
	w, err := s.claim(ctx, adminID, withdrawalID)
	if err != nil {
		return models.Withdrawal{}, err
	}

	payout, err := s.gateway.CreatePayout(ctx, payment.PayoutRequest{
		Amount:         w.Amount,
		Currency:       w.Currency,
		Destination:    w.Destination,
		IdempotencyKey: w.ID,
		Description:    "Withdrawal " + w.ID,
	})
	if err != nil {
		log.WithError(err).WithField("withdrawal_id", w.ID).Error("Payout failed, withdrawal stays approved for retry")
		return models.Withdrawal{}, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}

	return s.resolve(ctx, adminID, withdrawalID, models.WithdrawalApproved, func(ctx context.Context, tx *sqlx.Tx, w models.Withdrawal, _ *sideEffects) (store.WithdrawalDecision, string, error) {
		return store.WithdrawalDecision{
			ID:          w.ID,
			Status:      models.WithdrawalCompleted,
			ProcessedBy: adminID,
			PayoutID:    &payout.ID,
		}, models.TxStatusCompleted, nil
	})
}

// claim locks the withdrawal and marks it approved. An already approved
// withdrawal is returned as is so a failed payout can be retried.
func (s *WithdrawalService) claim(ctx context.Context, adminID, withdrawalID string) (models.Withdrawal, error) {
	var claimed models.Withdrawal
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		w, err := s.withdrawals.GetForUpdate(ctx, tx, withdrawalID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrWithdrawalNotFound
		}
		if err != nil {
			return err
		}
		switch w.Status {
		case models.WithdrawalApproved:
			claimed = w
			return nil
		case models.WithdrawalPending:
		default:
			return ErrWithdrawalNotPending
		}
		n, err := s.withdrawals.Claim(ctx, tx, w.ID, adminID)
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrWithdrawalNotPending
		}
		if err := s.audit.Log(ctx, tx, adminID, "withdrawal_approved", "withdrawal", w.ID, auditData(map[string]any{
			"user_id": w.UserID,
			"amount":  w.Amount.StringFixed(2),
		})); err != nil {
			return err
		}
		w.Status = models.WithdrawalApproved
		w.ProcessedBy = &adminID
		claimed = w
		return nil
	})
	if err != nil {
		return models.Withdrawal{}, err
	}
	return claimed, nil
}

// Deny refunds amount plus fee and fails the withdrawal transaction. Only a
// pending withdrawal can be denied; once claimed by Approve it is paid out.
func (s *WithdrawalService) Deny(ctx context.Context, adminID, withdrawalID, reason string) (models.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	return s.resolve(ctx, adminID, withdrawalID, models.WithdrawalPending, func(ctx context.Context, tx *sqlx.Tx, w models.Withdrawal, effects *sideEffects) (store.WithdrawalDecision, string, error) {
		balance, err := s.users.AdjustBalance(ctx, tx, w.UserID, w.Total())
		if err != nil {
			return store.WithdrawalDecision{}, "", fmt.Errorf("refund withdrawal: %w", err)
		}
		effects.balance(w.UserID, balance, w.Total(), "withdrawal_refund")
		var reasonPtr *string
		if reason != "" {
			reasonPtr = &reason
		}
		return store.WithdrawalDecision{
			ID:          w.ID,
			Status:      models.WithdrawalDenied,
			ProcessedBy: adminID,
			Reason:      reasonPtr,
		}, models.TxStatusFailed, nil
	})
}

type decideFunc func(ctx context.Context, tx *sqlx.Tx, w models.Withdrawal, effects *sideEffects) (store.WithdrawalDecision, string, error)

// resolve finishes a withdrawal that is still in from.
func (s *WithdrawalService) resolve(ctx context.Context, adminID, withdrawalID, from string, decide decideFunc) (models.Withdrawal, error) {
	effects := newSideEffects()
	var resolved models.Withdrawal
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		effects.reset()
		w, err := s.withdrawals.GetForUpdate(ctx, tx, withdrawalID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrWithdrawalNotFound
		}
		if err != nil {
			return err
		}
		if w.Status != from {
			return ErrWithdrawalNotPending
		}

		decision, txStatus, err := decide(ctx, tx, w, effects)
		if err != nil {
			return err
		}
		decision.From = from
		n, err := s.withdrawals.Resolve(ctx, tx, decision)
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrWithdrawalNotPending
		}
		n, err = s.transactions.TransitionStatus(ctx, tx, w.TransactionID, models.TxStatusPending, txStatus)
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrTransactionNotPending
		}
		if err := s.audit.Log(ctx, tx, adminID, "withdrawal_"+decision.Status, "withdrawal", w.ID, auditData(map[string]any{
			"user_id":   w.UserID,
			"amount":    w.Amount.StringFixed(2),
			"fee":       w.Fee.StringFixed(2),
			"payout_id": decision.PayoutID,
			"reason":    decision.Reason,
		})); err != nil {
			return err
		}

		w.Status = decision.Status
		w.ProcessedBy = &adminID
		w.PayoutID = decision.PayoutID
		w.Reason = decision.Reason
		resolved = w
		effects.events.Add(events.WithdrawalProcessed{
			WithdrawalID: w.ID,
			UserID:       w.UserID,
			Status:       w.Status,
			Amount:       w.Amount,
			Fee:          w.Fee,
			ProcessedBy:  adminID,
		})
		return nil
	})
	if err != nil {
		effects.discard()
		return models.Withdrawal{}, err
	}
	effects.publish(ctx, s.hub, s.publisher)
	log.WithFields(log.Fields{"withdrawal_id": resolved.ID, "status": resolved.Status, "admin_id": adminID}).Info("Withdrawal processed")
	return resolved, nil
}

func (s *WithdrawalService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error) {
	return s.withdrawals.ListByUser(ctx, userID, limit, offset)
}

func (s *WithdrawalService) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Withdrawal, error) {
	switch status {
	case "", models.WithdrawalPending, models.WithdrawalApproved, models.WithdrawalDenied, models.WithdrawalCompleted:
	default:
		return nil, ErrInvalidStatus
	}
	return s.withdrawals.ListByStatus(ctx, status, limit, offset)
}
