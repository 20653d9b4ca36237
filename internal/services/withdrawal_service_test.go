package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referralpay/internal/auth"
	"referralpay/internal/events"
	"referralpay/internal/models"
	"referralpay/internal/payment"
	"referralpay/internal/testutil"
)

type withdrawalFixture struct {
	ledger      *testutil.Ledger
	withdrawals *memWithdrawals
	gateway     *fakeGateway
	hub         *recordingHub
	publisher   *recordingPublisher
	svc         *WithdrawalService
}

func newWithdrawalFixture(t *testing.T) *withdrawalFixture {
	t.Helper()
	ledger := testutil.NewLedger()
	ledger.AddUser("u1", "USERONE1", "")
	pinHash, err := auth.HashPin("1234")
	require.NoError(t, err)
	ledger.UpdateUser("u1", func(u *models.User) {
		u.Balance = decimal.RequireFromString("50.00")
		u.IsKYCVerified = true
		u.PinHash = &pinHash
	})
	f := &withdrawalFixture{
		ledger:      ledger,
		withdrawals: newMemWithdrawals(),
		gateway:     &fakeGateway{},
		hub:         &recordingHub{},
		publisher:   &recordingPublisher{},
	}
	f.svc = NewWithdrawalService(ledger, ledger.Users(), ledger.Log(), f.withdrawals, f.gateway, &testutil.AuditRecorder{}, f.hub, f.publisher, WithdrawalConfig{
		Fee:      decimal.RequireFromString("1.00"),
		Minimum:  decimal.RequireFromString("10.00"),
		Currency: "gbp",
	})
	return f
}

func (f *withdrawalFixture) request(t *testing.T, amount string) models.Withdrawal {
	t.Helper()
	w, err := f.svc.Request(context.Background(), WithdrawalRequest{
		UserID:      "u1",
		Amount:      decimal.RequireFromString(amount),
		Destination: "acct_123",
		Pin:         "1234",
	})
	require.NoError(t, err)
	return w
}

func TestWithdrawalRequestDebitsAmountPlusFee(t *testing.T) {
	f := newWithdrawalFixture(t)

	w := f.request(t, "20.00")

	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.Equal(t, "21.00", w.Total().StringFixed(2))
	assert.Equal(t, "29.00", f.ledger.Balance("u1").StringFixed(2))

	logged := f.ledger.TransactionsOfType(models.TxTypeWithdrawal)
	require.Len(t, logged, 1)
	assert.Equal(t, w.TransactionID, logged[0].ID)
	assert.Equal(t, "21.00", logged[0].Amount.StringFixed(2))
	assert.Equal(t, models.TxStatusPending, logged[0].Status)

	require.Len(t, f.hub.updates, 1)
	assert.Equal(t, "-21.00", f.hub.updates[0].Delta)
}

func TestWithdrawalRequestGuards(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(*models.User)
		amount string
		pin    string
		want   error
	}{
		{name: "below minimum", amount: "9.99", pin: "1234", want: ErrBelowMinimum},
		{name: "too many decimals", amount: "10.001", pin: "1234", want: ErrInvalidAmount},
		{name: "insufficient", amount: "49.50", pin: "1234", want: ErrInsufficientFunds},
		{name: "wrong pin", amount: "10.00", pin: "9999", want: ErrInvalidPin},
		{name: "frozen", amount: "10.00", pin: "1234", want: ErrAccountFrozen, setup: func(u *models.User) { u.Status = models.UserStatusFrozen }},
		{name: "paused", amount: "10.00", pin: "1234", want: ErrWithdrawalsPaused, setup: func(u *models.User) { u.WithdrawalStatus = models.WithdrawalsPaused }},
		{name: "no kyc", amount: "10.00", pin: "1234", want: ErrKYCRequired, setup: func(u *models.User) { u.IsKYCVerified = false }},
		{name: "no pin", amount: "10.00", pin: "1234", want: ErrPinNotSet, setup: func(u *models.User) { u.PinHash = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newWithdrawalFixture(t)
			if tc.setup != nil {
				f.ledger.UpdateUser("u1", tc.setup)
			}
			_, err := f.svc.Request(context.Background(), WithdrawalRequest{
				UserID:      "u1",
				Amount:      decimal.RequireFromString(tc.amount),
				Destination: "acct_123",
				Pin:         tc.pin,
			})
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, "50.00", f.ledger.Balance("u1").StringFixed(2))
			assert.Empty(t, f.ledger.Transactions())
		})
	}
}

func TestWithdrawalApprovePaysOutAndCompletes(t *testing.T) {
	f := newWithdrawalFixture(t)
	w := f.request(t, "20.00")

	approved, err := f.svc.Approve(context.Background(), "admin", w.ID)
	require.NoError(t, err)

	assert.Equal(t, models.WithdrawalCompleted, approved.Status)
	require.NotNil(t, approved.PayoutID)
	assert.Equal(t, "tr_"+w.ID, *approved.PayoutID)
	require.Len(t, f.gateway.payouts, 1)
	assert.Equal(t, w.ID, f.gateway.payouts[0].IdempotencyKey)
	assert.Equal(t, "20.00", f.gateway.payouts[0].Amount.StringFixed(2))
	assert.Equal(t, models.TxStatusCompleted, f.ledger.TransactionsOfType(models.TxTypeWithdrawal)[0].Status)
	assert.Equal(t, "29.00", f.ledger.Balance("u1").StringFixed(2))
	assert.Contains(t, f.publisher.subjects(), events.SubjectWithdrawalProcessed)

	_, err = f.svc.Approve(context.Background(), "admin", w.ID)
	assert.ErrorIs(t, err, ErrWithdrawalNotPending)
	assert.Len(t, f.gateway.payouts, 1)
}

func TestWithdrawalApproveRetriesAfterPayoutFailure(t *testing.T) {
	f := newWithdrawalFixture(t)
	w := f.request(t, "20.00")
	f.gateway.payoutFn = func(payment.PayoutRequest) (payment.Payout, error) {
		return payment.Payout{}, errors.New("insufficient platform balance")
	}

	_, err := f.svc.Approve(context.Background(), "admin", w.ID)
	require.ErrorIs(t, err, ErrPayoutFailed)

	stored, err := f.withdrawals.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalApproved, stored.Status)
	assert.Equal(t, models.TxStatusPending, f.ledger.TransactionsOfType(models.TxTypeWithdrawal)[0].Status)

	_, err = f.svc.Deny(context.Background(), "admin", w.ID, "too late")
	assert.ErrorIs(t, err, ErrWithdrawalNotPending)
	assert.Equal(t, "29.00", f.ledger.Balance("u1").StringFixed(2))

	f.gateway.payoutFn = nil
	completed, err := f.svc.Approve(context.Background(), "admin", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, completed.Status)
	require.Len(t, f.gateway.payouts, 2)
	assert.Equal(t, f.gateway.payouts[0].IdempotencyKey, f.gateway.payouts[1].IdempotencyKey)
}

func TestWithdrawalDenyDuringPayoutIsRefused(t *testing.T) {
	f := newWithdrawalFixture(t)
	w := f.request(t, "20.00")

	var denyErr error
	f.gateway.payoutFn = func(req payment.PayoutRequest) (payment.Payout, error) {
		_, denyErr = f.svc.Deny(context.Background(), "admin-2", w.ID, "changed my mind")
		return payment.Payout{ID: "tr_" + req.IdempotencyKey}, nil
	}

	approved, err := f.svc.Approve(context.Background(), "admin", w.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, denyErr, ErrWithdrawalNotPending)

	assert.Equal(t, models.WithdrawalCompleted, approved.Status)
	assert.Len(t, f.gateway.payouts, 1)
	assert.Equal(t, "29.00", f.ledger.Balance("u1").StringFixed(2))
	assert.Equal(t, models.TxStatusCompleted, f.ledger.TransactionsOfType(models.TxTypeWithdrawal)[0].Status)
}

func TestWithdrawalDenyRefundsAmountPlusFee(t *testing.T) {
	f := newWithdrawalFixture(t)
	w := f.request(t, "20.00")

	denied, err := f.svc.Deny(context.Background(), "admin", w.ID, "suspicious destination")
	require.NoError(t, err)

	assert.Equal(t, models.WithdrawalDenied, denied.Status)
	require.NotNil(t, denied.Reason)
	assert.Equal(t, "suspicious destination", *denied.Reason)
	assert.Equal(t, "50.00", f.ledger.Balance("u1").StringFixed(2))
	assert.Equal(t, models.TxStatusFailed, f.ledger.TransactionsOfType(models.TxTypeWithdrawal)[0].Status)
	assert.Empty(t, f.gateway.payouts)

	_, err = f.svc.Deny(context.Background(), "admin", w.ID, "again")
	assert.ErrorIs(t, err, ErrWithdrawalNotPending)
	assert.Equal(t, "50.00", f.ledger.Balance("u1").StringFixed(2))
}

func TestWithdrawalUnknownID(t *testing.T) {
	f := newWithdrawalFixture(t)
	_, err := f.svc.Approve(context.Background(), "admin", "missing")
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
	_, err = f.svc.Deny(context.Background(), "admin", "missing", "")
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
}

func TestWithdrawalListByStatusValidatesFilter(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.request(t, "10.00")

	rows, err := f.svc.ListByStatus(context.Background(), models.WithdrawalPending, 50, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = f.svc.ListByStatus(context.Background(), "bogus", 50, 0)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
