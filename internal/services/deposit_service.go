package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"referralpay/internal/codes"
	"referralpay/internal/db"
	"referralpay/internal/events"
	"referralpay/internal/models"
	"referralpay/internal/money"
	"referralpay/internal/payment"
	"referralpay/internal/store"
)

type DepositUserStore interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
	AdjustBalance(ctx context.Context, tx store.Getter, userID string, delta decimal.Decimal) (decimal.Decimal, error)
}

type DepositTransactionStore interface {
	TransactionStore
	GetForUpdate(ctx context.Context, tx store.Getter, transactionID string) (models.Transaction, error)
	TransitionStatus(ctx context.Context, tx store.Execer, transactionID, from, to string) (int64, error)
}

type DepositService struct {
	txRunner     db.TxRunner
	users        DepositUserStore
	transactions DepositTransactionStore
	gateway      payment.Gateway
	audit        AuditStore
	hub          BalanceHub
	publisher    events.Publisher
	currency     string
}

func NewDepositService(txRunner db.TxRunner, users DepositUserStore, transactions DepositTransactionStore, gateway payment.Gateway, audit AuditStore, hub BalanceHub, publisher events.Publisher, currency string) *DepositService {
	return &DepositService{
		txRunner:     txRunner,
		users:        users,
		transactions: transactions,
		gateway:      gateway,
		audit:        audit,
		hub:          hub,
		publisher:    publisher,
		currency:     currency,
	}
}

type DepositIntent struct {
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	ClientSecret  string          `json:"client_secret"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// Create records a pending deposit and the payment intent that will fund it.
func (s *DepositService) Create(ctx context.Context, userID string, amount decimal.Decimal) (DepositIntent, error) {
	if !amount.IsPositive() || !money.HasMinorPrecision(amount) {
		return DepositIntent{}, ErrInvalidAmount
	}
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return DepositIntent{}, ErrUserNotFound
	}
	if err != nil {
		return DepositIntent{}, err
	}
	if user.Status != models.UserStatusActive {
		return DepositIntent{}, ErrAccountFrozen
	}

	reference, err := codes.TransactionReference(models.TxTypeDeposit)
	if err != nil {
		return DepositIntent{}, err
	}
	input := store.TransactionInput{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      models.TxTypeDeposit,
		Status:    models.TxStatusPending,
		Amount:    amount,
		Currency:  s.currency,
		Reference: reference,
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.transactions.Create(ctx, tx, input)
	})
	if db.IsUniqueViolation(err) {
		return DepositIntent{}, ErrDuplicateTransaction
	}
	if err != nil {
		return DepositIntent{}, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, payment.IntentRequest{
		Amount:   amount,
		Currency: s.currency,
		Metadata: map[string]string{
			payment.MetadataType:          payment.PurposeDeposit,
			payment.MetadataTransactionID: input.ID,
		},
		IdempotencyKey: input.ID,
	})
	if err != nil {
		s.fail(ctx, input.ID)
		return DepositIntent{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	return DepositIntent{
		TransactionID: input.ID,
		Reference:     reference,
		ClientSecret:  intent.ClientSecret,
		Amount:        amount,
		Currency:      s.currency,
	}, nil
}

func (s *DepositService) fail(ctx context.Context, transactionID string) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := s.transactions.TransitionStatus(ctx, tx, transactionID, models.TxStatusPending, models.TxStatusFailed)
		return err
	})
	if err != nil {
		log.WithError(err).WithField("transaction_id", transactionID).Warn("Failed to mark deposit failed")
	}
}

// Complete credits a pending deposit once its payment succeeds. Any other
// state is left alone, so redelivered events are harmless.
func (s *DepositService) Complete(ctx context.Context, event payment.Event) (Outcome, error) {
	transactionID := event.TransactionID()
	if transactionID == "" {
		return OutcomeIgnored, nil
	}
	logger := log.WithFields(log.Fields{"transaction_id": transactionID, "event_id": event.ID})

	effects := newSideEffects()
	outcome := OutcomeIgnored
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		effects.reset()
		outcome = OutcomeIgnored

		deposit, err := s.transactions.GetForUpdate(ctx, tx, transactionID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if deposit.Type != models.TxTypeDeposit {
			return nil
		}
		if deposit.Status != models.TxStatusPending {
			outcome = OutcomeAlreadyProcessed
			return nil
		}
		if !event.Amount.IsZero() && !event.Amount.Equal(deposit.Amount) {
			logger.WithFields(log.Fields{
				"paid":     event.Amount.StringFixed(2),
				"recorded": deposit.Amount.StringFixed(2),
			}).Warn("Paid amount differs from recorded deposit, crediting the recorded amount")
		}

		balance, err := s.users.AdjustBalance(ctx, tx, deposit.UserID, deposit.Amount)
		if err != nil {
			return fmt.Errorf("credit deposit: %w", err)
		}
		n, err := s.transactions.TransitionStatus(ctx, tx, deposit.ID, models.TxStatusPending, models.TxStatusCompleted)
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrTransactionNotPending
		}
		if err := s.audit.Log(ctx, tx, deposit.UserID, "deposit_completed", "transaction", deposit.ID, auditData(map[string]any{
			"amount":            deposit.Amount.StringFixed(2),
			"payment_intent_id": event.IntentID,
		})); err != nil {
			return err
		}
		effects.balance(deposit.UserID, balance, deposit.Amount, models.TxTypeDeposit)
		effects.events.Add(events.DepositCompleted{TransactionID: deposit.ID, UserID: deposit.UserID, Amount: deposit.Amount})
		outcome = OutcomeCompleted
		return nil
	})
	if err != nil {
		effects.discard()
		return "", err
	}
	if outcome == OutcomeCompleted {
		effects.publish(ctx, s.hub, s.publisher)
		logger.Info("Deposit completed")
	}
	return outcome, nil
}
