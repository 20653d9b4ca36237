package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referralpay/internal/models"
	"referralpay/internal/store"
	"referralpay/internal/testutil"
)

const houseCode = "MASTERKEY"

var fee = decimal.RequireFromString("50.00")

func newFixture(t *testing.T) (*testutil.Ledger, *Distributor) {
	t.Helper()
	ledger := testutil.NewLedger()
	ledger.AddUser("house", houseCode, "")
	d := NewDistributor(ledger.Users(), ledger.Log(), Config{FallbackCode: houseCode, Currency: "gbp"})
	return ledger, d
}

func ptr(s string) *string { return &s }

func distribute(t *testing.T, ledger *testutil.Ledger, d *Distributor, newUserID string, code *string) (Distribution, error) {
	t.Helper()
	var dist Distribution
	err := ledger.WithTx(context.Background(), func(*sqlx.Tx) error {
		var err error
		dist, err = d.Distribute(context.Background(), nil, newUserID, code, fee)
		return err
	})
	return dist, err
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

func TestDistributeTwoLevelChain(t *testing.T) {
	ledger, d := newFixture(t)
	ledger.AddUser("A", "AAAAAAAA", "")
	ledger.AddUser("B", "BBBBBBBB", "AAAAAAAA")
	ledger.AddUser("new", "NEWNEWNE", "BBBBBBBB")

	dist, err := distribute(t, ledger, d, "new", ptr("BBBBBBBB"))
	require.NoError(t, err)

	assertMoney(t, "5.00", ledger.Balance("B"))
	assertMoney(t, "4.25", ledger.Balance("A"))
	assertMoney(t, "40.75", ledger.Balance("house"))
	assertMoney(t, "9.25", dist.Distributed)
	assertMoney(t, "40.75", dist.Leftover)

	bonuses := ledger.TransactionsOfType(models.TxTypeReferralBonus)
	require.Len(t, bonuses, 2)
	assert.Equal(t, []int{1, 2}, testutil.SortedTiers(bonuses))
	for _, b := range bonuses {
		require.NotNil(t, b.RefereeID)
		assert.Equal(t, "new", *b.RefereeID)
		assert.Equal(t, models.TxStatusCompleted, b.Status)
		assert.Regexp(t, `^REF-[A-Z0-9]{10}$`, b.Reference)
	}

	credits := ledger.TransactionsOfType(models.TxTypeAdminCredit)
	require.Len(t, credits, 1)
	assert.Equal(t, "house", credits[0].UserID)
	require.NotNil(t, credits[0].Note)
	assert.Equal(t, "Leftover from signup of new", *credits[0].Note)
	assert.Nil(t, credits[0].Tier)
}

func TestDistributeFullChainStopsAtSixTiers(t *testing.T) {
	ledger, d := newFixture(t)
	codes := []string{"T7", "T6", "T5", "T4", "T3", "T2", "T1"}
	prev := ""
	for _, c := range codes {
		ledger.AddUser("u"+c, "CODE"+c, prev)
		prev = "CODE" + c
	}

	dist, err := distribute(t, ledger, d, "new", ptr("CODET1"))
	require.NoError(t, err)

	want := map[string]string{
		"uT1": "5.00", "uT2": "4.25", "uT3": "3.61",
		"uT4": "3.07", "uT5": "2.61", "uT6": "2.20", "uT7": "0.00",
	}
	for id, amount := range want {
		assertMoney(t, amount, ledger.Balance(id), "user %s", id)
	}
	assertMoney(t, "20.74", dist.Distributed)
	assertMoney(t, "29.26", ledger.Balance("house"))
	assert.True(t, dist.Distributed.Add(dist.Leftover).Equal(fee))
}

func TestDistributeNoReferrerRoutesFullFeeToHouse(t *testing.T) {
	ledger, d := newFixture(t)

	dist, err := distribute(t, ledger, d, "new", nil)
	require.NoError(t, err)

	assert.Empty(t, ledger.TransactionsOfType(models.TxTypeReferralBonus))
	assertMoney(t, "50.00", ledger.Balance("house"))
	require.NotNil(t, dist.Fallback)
	assertMoney(t, "50.00", dist.Fallback.Amount)

	_, err = distribute(t, ledger, d, "other", ptr("   "))
	require.NoError(t, err)
	assertMoney(t, "100.00", ledger.Balance("house"))
}

func TestDistributeUnresolvedFirstTier(t *testing.T) {
	ledger, d := newFixture(t)

	dist, err := distribute(t, ledger, d, "new", ptr("NOBODY01"))
	require.NoError(t, err)

	assert.Empty(t, dist.TierCredits())
	assertMoney(t, "0.00", dist.Distributed)
	assertMoney(t, "50.00", ledger.Balance("house"))
}

func TestDistributeNormalizesCodeCase(t *testing.T) {
	ledger, d := newFixture(t)
	ledger.AddUser("B", "BBBBBBBB", "")

	_, err := distribute(t, ledger, d, "new", ptr(" bbbbbbbb "))
	require.NoError(t, err)
	assertMoney(t, "5.00", ledger.Balance("B"))
}

func TestDistributeCycleTerminates(t *testing.T) {
	ledger, d := newFixture(t)
	ledger.AddUser("A", "AAAAAAAA", "BBBBBBBB")
	ledger.AddUser("B", "BBBBBBBB", "AAAAAAAA")

	dist, err := distribute(t, ledger, d, "new", ptr("BBBBBBBB"))
	require.NoError(t, err)

	assert.Len(t, dist.TierCredits(), 2)
	assertMoney(t, "5.00", ledger.Balance("B"))
	assertMoney(t, "4.25", ledger.Balance("A"))
	assertMoney(t, "40.75", ledger.Balance("house"))
}

func TestDistributeSelfReferenceTerminates(t *testing.T) {
	ledger, d := newFixture(t)
	ledger.AddUser("new", "NEWNEWNE", "NEWNEWNE")

	dist, err := distribute(t, ledger, d, "new", ptr("NEWNEWNE"))
	require.NoError(t, err)
	assert.Empty(t, dist.TierCredits())
	assertMoney(t, "0.00", ledger.Balance("new"))
	assertMoney(t, "50.00", ledger.Balance("house"))
}

func TestDistributeSkipsFrozenUplineButKeepsWalking(t *testing.T) {
	ledger, d := newFixture(t)
	ledger.AddUser("A", "AAAAAAAA", "")
	ledger.AddUserWithStatus("B", "BBBBBBBB", "AAAAAAAA", models.UserStatusFrozen)

	dist, err := distribute(t, ledger, d, "new", ptr("BBBBBBBB"))
	require.NoError(t, err)

	assertMoney(t, "0.00", ledger.Balance("B"))
	assertMoney(t, "4.25", ledger.Balance("A"), "A keeps its tier 2 position")
	assertMoney(t, "45.75", ledger.Balance("house"))
	require.Len(t, dist.Skipped, 1)
	assert.Equal(t, Skip{UserID: "B", Tier: 1, Reason: models.UserStatusFrozen}, dist.Skipped[0])
}

func TestDistributeMissingFallbackRollsBack(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.AddUser("B", "BBBBBBBB", "")
	d := NewDistributor(ledger.Users(), ledger.Log(), Config{FallbackCode: houseCode, Currency: "gbp"})

	_, err := distribute(t, ledger, d, "new", ptr("BBBBBBBB"))
	require.ErrorIs(t, err, ErrFallbackAccountMissing)

	assertMoney(t, "0.00", ledger.Balance("B"))
	assert.Empty(t, ledger.Transactions())
	assert.Equal(t, 1, ledger.Rollbacks)
}

func TestDistributeFailureAtTierTwoRollsBackEverything(t *testing.T) {
	ledger, d := newFixture(t)
	ledger.AddUser("A", "AAAAAAAA", "")
	ledger.AddUser("B", "BBBBBBBB", "AAAAAAAA")
	ledger.AddUser("C", "CCCCCCCC", "BBBBBBBB")
	injected := errors.New("connection reset")
	ledger.FailAdjust = func(userID string, _ decimal.Decimal) error {
		if userID == "B" {
			return injected
		}
		return nil
	}

	_, err := distribute(t, ledger, d, "new", ptr("CCCCCCCC"))
	require.ErrorIs(t, err, injected)

	for _, id := range []string{"A", "B", "C", "house"} {
		assertMoney(t, "0.00", ledger.Balance(id), "user %s", id)
	}
	assert.Empty(t, ledger.Transactions())
}

func TestDistributeTransactionInsertFailurePropagates(t *testing.T) {
	ledger, d := newFixture(t)
	ledger.AddUser("B", "BBBBBBBB", "")
	ledger.FailTransaction = func(in store.TransactionInput) error {
		if in.Type == models.TxTypeAdminCredit {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := distribute(t, ledger, d, "new", ptr("BBBBBBBB"))
	require.Error(t, err)
	assertMoney(t, "0.00", ledger.Balance("B"))
	assertMoney(t, "0.00", ledger.Balance("house"))
}

func TestDistributeRejectsInvalidFee(t *testing.T) {
	ledger, d := newFixture(t)
	for _, raw := range []string{"0", "-5", "10.005"} {
		_, err := d.Distribute(context.Background(), nil, "new", nil, decimal.RequireFromString(raw))
		assert.ErrorIs(t, err, ErrInvalidSignupFee, raw)
	}
	assert.Empty(t, ledger.Transactions())
}

func TestDistributeResolverErrorIsNotChainEnd(t *testing.T) {
	users := failingUsers{err: errors.New("timeout")}
	d := NewDistributor(users, testutil.NewLedger().Log(), Config{FallbackCode: houseCode, Currency: "gbp"})
	_, err := d.Distribute(context.Background(), nil, "new", ptr("BBBBBBBB"), fee)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve tier 1 referrer")
}

type failingUsers struct{ err error }

func (f failingUsers) FindUpline(context.Context, store.Getter, string) (store.Upline, error) {
	return store.Upline{}, f.err
}

func (f failingUsers) AdjustBalance(context.Context, store.Getter, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, f.err
}
