// Package services holds the money-moving use cases. Each one runs its
// writes in a single db.TxRunner transaction and publishes side effects
// only after commit.
package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"referralpay/internal/events"
	"referralpay/internal/money"
	"referralpay/internal/store"
	"referralpay/internal/websocket"
)

var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrBelowMinimum          = errors.New("amount below minimum withdrawal")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrUserNotFound          = errors.New("user not found")
	ErrAccountFrozen         = errors.New("account is frozen")
	ErrWithdrawalsPaused     = errors.New("withdrawals are paused for this account")
	ErrKYCRequired           = errors.New("identity verification required")
	ErrPinNotSet             = errors.New("withdrawal pin not set")
	ErrInvalidPin            = errors.New("invalid withdrawal pin")
	ErrWithdrawalNotFound    = errors.New("withdrawal not found")
	ErrWithdrawalNotPending  = errors.New("withdrawal already processed")
	ErrPayoutFailed          = errors.New("payout failed")
	ErrPaymentUnavailable    = errors.New("payment provider unavailable")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrDuplicateTransaction  = errors.New("transaction reference collision")
	ErrTransactionNotPending = errors.New("transaction is not pending")
)

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type BalanceHub interface {
	BroadcastBalance(update websocket.BalanceUpdate)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
}

// sideEffects collects what a unit of work wants to announce once it has
// committed. reset is called at the start of every attempt because WithTx
// may run the callback more than once.
type sideEffects struct {
	balances []websocket.BalanceUpdate
	events   *events.Buffer
}

func newSideEffects() *sideEffects {
	return &sideEffects{events: events.NewBuffer()}
}

func (s *sideEffects) reset() {
	s.balances = s.balances[:0]
	s.events.Discard()
}

func (s *sideEffects) balance(userID string, balance, delta decimal.Decimal, reason string) {
	s.balances = append(s.balances, websocket.BalanceUpdate{
		UserID:  userID,
		Balance: money.Format(balance),
		Delta:   money.Format(delta),
		Reason:  reason,
	})
}

func (s *sideEffects) publish(ctx context.Context, hub BalanceHub, publisher events.Publisher) {
	if hub != nil {
		for _, update := range s.balances {
			hub.BroadcastBalance(update)
		}
	}
	if publisher != nil {
		s.events.Flush(ctx, publisher)
	}
}

func (s *sideEffects) discard() {
	s.balances = nil
	s.events.Discard()
}

func auditData(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		log.WithError(err).Warn("Failed to encode audit data")
		return "{}"
	}
	return string(data)
}
