package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referralpay/internal/auth"
	"referralpay/internal/models"
	"referralpay/internal/testutil"
	"referralpay/internal/validator"
)

func newAccountFixture(t *testing.T) (*testutil.Ledger, *testutil.AuditRecorder, *recordingHub, *AccountService) {
	t.Helper()
	ledger := testutil.NewLedger()
	ledger.AddUser("u1", "USERONE1", "")
	audit := &testutil.AuditRecorder{}
	hub := &recordingHub{}
	svc := NewAccountService(ledger, ledger.Users(), ledger.Log(), audit, hub, &recordingPublisher{}, "gbp")
	return ledger, audit, hub, svc
}

func TestSetPinFirstTimeAndChange(t *testing.T) {
	ledger, audit, _, svc := newAccountFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.SetPin(ctx, "u1", "", "1234"))
	user, _ := ledger.User("u1")
	require.True(t, user.HasPin())
	assert.True(t, auth.CheckPin(*user.PinHash, "1234"))

	assert.ErrorIs(t, svc.SetPin(ctx, "u1", "", "5678"), ErrCurrentPinRequired)
	assert.ErrorIs(t, svc.SetPin(ctx, "u1", "0000", "5678"), ErrInvalidPin)
	require.NoError(t, svc.SetPin(ctx, "u1", "1234", "567890"))

	user, _ = ledger.User("u1")
	assert.True(t, auth.CheckPin(*user.PinHash, "567890"))
	assert.Equal(t, []string{"pin_set", "pin_changed"}, audit.Actions())
}

func TestSetPinValidatesFormat(t *testing.T) {
	_, _, _, svc := newAccountFixture(t)
	assert.ErrorIs(t, svc.SetPin(context.Background(), "u1", "", "12a4"), validator.ErrInvalidPin)
	assert.ErrorIs(t, svc.SetPin(context.Background(), "ghost", "", "1234"), ErrUserNotFound)
}

func TestAdminStatusControls(t *testing.T) {
	ledger, audit, _, svc := newAccountFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.SetStatus(ctx, "admin", "u1", models.UserStatusFrozen))
	require.NoError(t, svc.SetWithdrawalStatus(ctx, "admin", "u1", models.WithdrawalsPaused))
	user, _ := ledger.User("u1")
	assert.Equal(t, models.UserStatusFrozen, user.Status)
	assert.Equal(t, models.WithdrawalsPaused, user.WithdrawalStatus)

	assert.ErrorIs(t, svc.SetStatus(ctx, "admin", "u1", "deleted"), ErrInvalidStatus)
	assert.ErrorIs(t, svc.SetStatus(ctx, "admin", "ghost", models.UserStatusActive), ErrUserNotFound)
	assert.Equal(t, []string{"user_status_changed", "withdrawal_status_changed"}, audit.Actions())
}

func TestAdminCredit(t *testing.T) {
	ledger, _, hub, svc := newAccountFixture(t)

	res, err := svc.Credit(context.Background(), "admin", "u1", decimal.RequireFromString("12.34"), "")
	require.NoError(t, err)

	assert.Equal(t, "12.34", res.Balance.StringFixed(2))
	assert.Regexp(t, `^ADM-[A-Z0-9]{10}$`, res.Reference)
	credits := ledger.TransactionsOfType(models.TxTypeAdminCredit)
	require.Len(t, credits, 1)
	require.NotNil(t, credits[0].Note)
	assert.Equal(t, "Admin credit by admin", *credits[0].Note)
	require.Len(t, hub.updates, 1)

	_, err = svc.Credit(context.Background(), "admin", "u1", decimal.RequireFromString("-1"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Credit(context.Background(), "admin", "ghost", decimal.RequireFromString("1"), "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestChangePassword(t *testing.T) {
	ledger, audit, _, svc := newAccountFixture(t)
	ctx := context.Background()
	hash, err := auth.HashPassword("old-secret")
	require.NoError(t, err)
	ledger.UpdateUser("u1", func(u *models.User) { u.PasswordHash = hash })

	assert.ErrorIs(t, svc.ChangePassword(ctx, "u1", "wrong-secret", "new-secret"), ErrWrongPassword)
	assert.ErrorIs(t, svc.ChangePassword(ctx, "u1", "old-secret", "short"), validator.ErrInvalidPassword)
	assert.ErrorIs(t, svc.ChangePassword(ctx, "ghost", "old-secret", "new-secret"), ErrUserNotFound)

	require.NoError(t, svc.ChangePassword(ctx, "u1", "old-secret", "new-secret"))
	user, _ := ledger.User("u1")
	assert.True(t, auth.CheckPassword(user.PasswordHash, "new-secret"))
	assert.False(t, auth.CheckPassword(user.PasswordHash, "old-secret"))
	assert.Equal(t, []string{"password_changed"}, audit.Actions())
}

func TestUpdateProfile(t *testing.T) {
	ledger, audit, _, svc := newAccountFixture(t)
	ctx := context.Background()

	user, err := svc.UpdateProfile(ctx, "u1", "  Ada ", "Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "Lovelace", user.LastName)
	stored, _ := ledger.User("u1")
	assert.Equal(t, "Ada", stored.FirstName)

	_, err = svc.UpdateProfile(ctx, "u1", " ", "Lovelace")
	assert.ErrorIs(t, err, validator.ErrInvalidName)
	_, err = svc.UpdateProfile(ctx, "ghost", "Ada", "Lovelace")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, []string{"profile_updated"}, audit.Actions())
}
