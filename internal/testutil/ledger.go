// Package testutil provides an in-memory ledger with transactional rollback
// and a Postgres container helper for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"referralpay/internal/models"
	"referralpay/internal/store"
)

// Ledger is an in-memory stand-in for the users, pending_registrations and
// transactions tables. Ledger.WithTx snapshots state and restores it when
// the callback fails, so tests can assert all-or-nothing behaviour.
type Ledger struct {
	mu           sync.Mutex
	users        map[string]models.User
	pending      map[string]models.PendingRegistration
	transactions []store.TransactionInput

	// FailAdjust, when set, is consulted before every balance change.
	FailAdjust func(userID string, delta decimal.Decimal) error
	// FailTransaction, when set, is consulted before every transaction insert.
	FailTransaction func(input store.TransactionInput) error

	Commits   int
	Rollbacks int
}

func NewLedger() *Ledger {
	return &Ledger{
		users:   make(map[string]models.User),
		pending: make(map[string]models.PendingRegistration),
	}
}

// AddUser seeds an active user. referrer may be empty.
func (l *Ledger) AddUser(id, code, referrer string) {
	l.AddUserWithStatus(id, code, referrer, models.UserStatusActive)
}

func (l *Ledger) AddUserWithStatus(id, code, referrer, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ref *string
	if referrer != "" {
		ref = &referrer
	}
	l.users[id] = models.User{
		ID:               id,
		Email:            id + "@example.com",
		Username:         id,
		ReferralCode:     code,
		ReferredByCode:   ref,
		Role:             models.RoleUser,
		Status:           status,
		WithdrawalStatus: models.WithdrawalsActive,
		Balance:          decimal.Zero,
	}
}

// UpdateUser applies fn to a seeded user, e.g. to set a PIN or KYC flag.
func (l *Ledger) UpdateUser(id string, fn func(*models.User)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u := l.users[id]
	fn(&u)
	l.users[id] = u
}

func (l *Ledger) AddPending(p models.PendingRegistration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[p.ID] = p
}

func (l *Ledger) Balance(userID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users[userID].Balance
}

func (l *Ledger) User(userID string) (models.User, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	return u, ok
}

func (l *Ledger) UserCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

func (l *Ledger) HasPending(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[id]
	return ok
}

func (l *Ledger) Transactions() []store.TransactionInput {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.TransactionInput, len(l.transactions))
	copy(out, l.transactions)
	return out
}

func (l *Ledger) TransactionsOfType(txType string) []store.TransactionInput {
	var out []store.TransactionInput
	for _, t := range l.Transactions() {
		if t.Type == txType {
			out = append(out, t)
		}
	}
	return out
}

// WithTx implements db.TxRunner. The callback receives a nil *sqlx.Tx.
func (l *Ledger) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	snap := l.snapshot()
	if err := fn(nil); err != nil {
		l.restore(snap)
		l.mu.Lock()
		l.Rollbacks++
		l.mu.Unlock()
		return err
	}
	l.mu.Lock()
	l.Commits++
	l.mu.Unlock()
	return nil
}

type ledgerSnapshot struct {
	users        map[string]models.User
	pending      map[string]models.PendingRegistration
	transactions []store.TransactionInput
}

func (l *Ledger) snapshot() ledgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := ledgerSnapshot{
		users:        make(map[string]models.User, len(l.users)),
		pending:      make(map[string]models.PendingRegistration, len(l.pending)),
		transactions: make([]store.TransactionInput, len(l.transactions)),
	}
	for k, v := range l.users {
		snap.users[k] = v
	}
	for k, v := range l.pending {
		snap.pending[k] = v
	}
	copy(snap.transactions, l.transactions)
	return snap
}

func (l *Ledger) restore(snap ledgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users = snap.users
	l.pending = snap.pending
	l.transactions = snap.transactions
}

// Users returns the ledger viewed as a user store.
func (l *Ledger) Users() *LedgerUsers { return &LedgerUsers{l: l} }

// Pending returns the ledger viewed as a pending registration store.
func (l *Ledger) Pending() *LedgerPending { return &LedgerPending{l: l} }

// Log returns the ledger viewed as a transaction store.
func (l *Ledger) Log() *LedgerTransactions { return &LedgerTransactions{l: l} }

type LedgerUsers struct{ l *Ledger }

func (u *LedgerUsers) FindUpline(_ context.Context, _ store.Getter, code string) (store.Upline, error) {
	u.l.mu.Lock()
	defer u.l.mu.Unlock()
	for _, user := range u.l.users {
		if user.ReferralCode == code {
			return store.Upline{UserID: user.ID, ReferrerCode: user.ReferredByCode, Status: user.Status}, nil
		}
	}
	return store.Upline{}, sql.ErrNoRows
}

func (u *LedgerUsers) AdjustBalance(_ context.Context, _ store.Getter, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if u.l.FailAdjust != nil {
		if err := u.l.FailAdjust(userID, delta); err != nil {
			return decimal.Zero, err
		}
	}
	u.l.mu.Lock()
	defer u.l.mu.Unlock()
	user, ok := u.l.users[userID]
	if !ok {
		return decimal.Zero, sql.ErrNoRows
	}
	user.Balance = user.Balance.Add(delta)
	u.l.users[userID] = user
	return user.Balance, nil
}

func (u *LedgerUsers) GetByID(_ context.Context, userID string) (models.User, error) {
	u.l.mu.Lock()
	defer u.l.mu.Unlock()
	user, ok := u.l.users[userID]
	if !ok {
		return models.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (u *LedgerUsers) GetForUpdate(ctx context.Context, _ store.Getter, userID string) (models.User, error) {
	return u.GetByID(ctx, userID)
}

func (u *LedgerUsers) SetPinHash(_ context.Context, _ store.Execer, userID, pinHash string) error {
	u.l.UpdateUser(userID, func(user *models.User) { user.PinHash = &pinHash })
	return nil
}

func (u *LedgerUsers) SetPasswordHash(_ context.Context, _ store.Execer, userID, passwordHash string) error {
	u.update(userID, func(user *models.User) { user.PasswordHash = passwordHash })
	return nil
}

func (u *LedgerUsers) UpdateProfile(ctx context.Context, _ store.Getter, userID, firstName, lastName string) (models.User, error) {
	if u.update(userID, func(user *models.User) { user.FirstName, user.LastName = firstName, lastName }) == 0 {
		return models.User{}, sql.ErrNoRows
	}
	return u.GetByID(ctx, userID)
}

func (u *LedgerUsers) SetStatus(_ context.Context, _ store.Execer, userID, status string) (int64, error) {
	return u.update(userID, func(user *models.User) { user.Status = status }), nil
}

func (u *LedgerUsers) SetWithdrawalStatus(_ context.Context, _ store.Execer, userID, status string) (int64, error) {
	return u.update(userID, func(user *models.User) { user.WithdrawalStatus = status }), nil
}

func (u *LedgerUsers) MarkKYCVerified(_ context.Context, _ store.Execer, userID string) error {
	u.update(userID, func(user *models.User) { user.IsKYCVerified = true })
	return nil
}

func (u *LedgerUsers) update(userID string, fn func(*models.User)) int64 {
	u.l.mu.Lock()
	defer u.l.mu.Unlock()
	user, ok := u.l.users[userID]
	if !ok {
		return 0
	}
	fn(&user)
	u.l.users[userID] = user
	return 1
}

func (u *LedgerUsers) DebitBalance(_ context.Context, _ store.Getter, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	u.l.mu.Lock()
	defer u.l.mu.Unlock()
	user, ok := u.l.users[userID]
	if !ok || user.Balance.LessThan(amount) {
		return decimal.Zero, store.ErrInsufficientBalance
	}
	user.Balance = user.Balance.Sub(amount)
	u.l.users[userID] = user
	return user.Balance, nil
}

func (u *LedgerUsers) Create(_ context.Context, _ store.Execer, input store.UserInput) error {
	u.l.mu.Lock()
	defer u.l.mu.Unlock()
	for _, existing := range u.l.users {
		if strings.EqualFold(existing.Email, input.Email) || existing.ReferralCode == input.ReferralCode {
			return &pq.Error{Code: "23505", Message: fmt.Sprintf("duplicate user %s", input.Email)}
		}
	}
	role := input.Role
	if role == "" {
		role = models.RoleUser
	}
	now := time.Now()
	u.l.users[input.ID] = models.User{
		ID:               input.ID,
		Email:            input.Email,
		Username:         input.Username,
		PasswordHash:     input.PasswordHash,
		FirstName:        input.FirstName,
		LastName:         input.LastName,
		ReferralCode:     input.ReferralCode,
		ReferredByCode:   input.ReferredByCode,
		Role:             role,
		Status:           models.UserStatusActive,
		WithdrawalStatus: models.WithdrawalsActive,
		Balance:          decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return nil
}

func (u *LedgerUsers) ReferralCodeExists(_ context.Context, _ store.Getter, code string) (bool, error) {
	u.l.mu.Lock()
	defer u.l.mu.Unlock()
	for _, user := range u.l.users {
		if user.ReferralCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (u *LedgerUsers) ExistsByEmailOrUsername(_ context.Context, email, username string) (bool, error) {
	u.l.mu.Lock()
	defer u.l.mu.Unlock()
	for _, user := range u.l.users {
		if strings.EqualFold(user.Email, email) || strings.EqualFold(user.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

type LedgerPending struct{ l *Ledger }

func (p *LedgerPending) Create(_ context.Context, _ store.Execer, reg models.PendingRegistration) error {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	p.l.pending[reg.ID] = reg
	return nil
}

func (p *LedgerPending) AttachPaymentIntent(_ context.Context, _ store.Execer, id, intentID string) (int64, error) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	reg, ok := p.l.pending[id]
	if !ok {
		return 0, nil
	}
	reg.PaymentIntentID = &intentID
	p.l.pending[id] = reg
	return 1, nil
}

func (p *LedgerPending) ExistsLive(_ context.Context, email, username string, now time.Time) (bool, error) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	for _, reg := range p.l.pending {
		if (strings.EqualFold(reg.Email, email) || strings.EqualFold(reg.Username, username)) && reg.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (p *LedgerPending) GetForUpdate(_ context.Context, _ store.Getter, id string) (models.PendingRegistration, error) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	reg, ok := p.l.pending[id]
	if !ok {
		return models.PendingRegistration{}, sql.ErrNoRows
	}
	return reg, nil
}

func (p *LedgerPending) Delete(_ context.Context, _ store.Execer, id string) (int64, error) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	if _, ok := p.l.pending[id]; !ok {
		return 0, nil
	}
	delete(p.l.pending, id)
	return 1, nil
}

func (p *LedgerPending) DeleteExpired(_ context.Context, _ store.Execer, cutoff time.Time) (int64, error) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	var n int64
	for id, reg := range p.l.pending {
		if reg.ExpiresAt.Before(cutoff) {
			delete(p.l.pending, id)
			n++
		}
	}
	return n, nil
}

type LedgerTransactions struct{ l *Ledger }

func (t *LedgerTransactions) Create(_ context.Context, _ store.Execer, input store.TransactionInput) error {
	if t.l.FailTransaction != nil {
		if err := t.l.FailTransaction(input); err != nil {
			return err
		}
	}
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	t.l.transactions = append(t.l.transactions, input)
	return nil
}

func (t *LedgerTransactions) GetForUpdate(_ context.Context, _ store.Getter, transactionID string) (models.Transaction, error) {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	for _, in := range t.l.transactions {
		if in.ID == transactionID {
			return models.Transaction{
				ID:        in.ID,
				UserID:    in.UserID,
				Type:      in.Type,
				Amount:    in.Amount,
				Currency:  in.Currency,
				Status:    in.Status,
				Reference: in.Reference,
				RefereeID: in.RefereeID,
				Tier:      in.Tier,
				Note:      in.Note,
			}, nil
		}
	}
	return models.Transaction{}, sql.ErrNoRows
}

func (t *LedgerTransactions) TransitionStatus(_ context.Context, _ store.Execer, transactionID, from, to string) (int64, error) {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	for i, in := range t.l.transactions {
		if in.ID == transactionID && in.Status == from {
			t.l.transactions[i].Status = to
			return 1, nil
		}
	}
	return 0, nil
}

// SortedTiers returns the tier numbers of the logged referral bonuses.
func SortedTiers(inputs []store.TransactionInput) []int {
	var tiers []int
	for _, in := range inputs {
		if in.Tier != nil {
			tiers = append(tiers, *in.Tier)
		}
	}
	sort.Ints(tiers)
	return tiers
}

type AuditEntry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Data       string
}

// AuditRecorder captures audit log writes.
type AuditRecorder struct {
	mu      sync.Mutex
	Entries []AuditEntry
}

func (a *AuditRecorder) Log(_ context.Context, _ store.Execer, actorID, action, entityType, entityID, data string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Entries = append(a.Entries, AuditEntry{actorID, action, entityType, entityID, data})
	return nil
}

func (a *AuditRecorder) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.Entries))
	for _, e := range a.Entries {
		out = append(out, e.Action)
	}
	return out
}
