package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"referralpay/internal/auth"
	"referralpay/internal/config"
	"referralpay/internal/models"
	"referralpay/internal/payment"
	"referralpay/internal/services"
	"referralpay/internal/store"
	"referralpay/internal/websocket"
)

const testSecret = "test-secret"

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	getByIDFn    func(ctx context.Context, userID string) (models.User, error)
	getByEmailFn func(ctx context.Context, email string) (models.User, error)
	isAdminFn    func(ctx context.Context, userID string) (bool, error)
	listFn       func(ctx context.Context, limit, offset int) ([]models.User, error)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{ID: userID}, nil
	}
	return s.getByIDFn(ctx, userID)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if s.isAdminFn == nil {
		return false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubUserStore) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubTransactionStore struct {
	getForUserFn func(ctx context.Context, userID, transactionID string) (models.Transaction, error)
	listByUserFn func(ctx context.Context, userID, txType string, limit, offset int) ([]models.Transaction, error)
	listAllFn    func(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

func (s stubTransactionStore) GetForUser(ctx context.Context, userID, transactionID string) (models.Transaction, error) {
	if s.getForUserFn == nil {
		return models.Transaction{}, nil
	}
	return s.getForUserFn(ctx, userID, transactionID)
}

func (s stubTransactionStore) ListByUser(ctx context.Context, userID, txType string, limit, offset int) ([]models.Transaction, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, txType, limit, offset)
}

func (s stubTransactionStore) ListAll(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	if s.listAllFn == nil {
		return nil, nil
	}
	return s.listAllFn(ctx, limit, offset)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, filter store.AuditFilter, limit, offset int) ([]models.AuditLog, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, filter store.AuditFilter, limit, offset int) ([]models.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter, limit, offset)
}

type stubReconciler struct {
	mismatchesFn func(ctx context.Context) ([]store.BalanceReconciliation, error)
}

func (s stubReconciler) Mismatches(ctx context.Context) ([]store.BalanceReconciliation, error) {
	if s.mismatchesFn == nil {
		return nil, nil
	}
	return s.mismatchesFn(ctx)
}

type stubVerifier struct {
	verifyFn func(payload []byte, signature string) (payment.Event, error)
}

func (s stubVerifier) VerifyWebhook(payload []byte, signature string) (payment.Event, error) {
	if s.verifyFn == nil {
		return payment.Event{}, payment.ErrInvalidSignature
	}
	return s.verifyFn(payload, signature)
}

type stubRegistration struct {
	initiateFn    func(ctx context.Context, req services.RegisterRequest) (services.RegisterResult, error)
	materializeFn func(ctx context.Context, event payment.Event) (services.MaterializeResult, error)
}

func (s stubRegistration) Initiate(ctx context.Context, req services.RegisterRequest) (services.RegisterResult, error) {
	if s.initiateFn == nil {
		return services.RegisterResult{}, nil
	}
	return s.initiateFn(ctx, req)
}

func (s stubRegistration) Materialize(ctx context.Context, event payment.Event) (services.MaterializeResult, error) {
	if s.materializeFn == nil {
		return services.MaterializeResult{Outcome: services.OutcomeMaterialized}, nil
	}
	return s.materializeFn(ctx, event)
}

type stubDeposits struct {
	createFn   func(ctx context.Context, userID string, amount decimal.Decimal) (services.DepositIntent, error)
	completeFn func(ctx context.Context, event payment.Event) (services.Outcome, error)
}

func (s stubDeposits) Create(ctx context.Context, userID string, amount decimal.Decimal) (services.DepositIntent, error) {
	if s.createFn == nil {
		return services.DepositIntent{}, nil
	}
	return s.createFn(ctx, userID, amount)
}

func (s stubDeposits) Complete(ctx context.Context, event payment.Event) (services.Outcome, error) {
	if s.completeFn == nil {
		return services.OutcomeCompleted, nil
	}
	return s.completeFn(ctx, event)
}

type stubWithdrawals struct {
	requestFn      func(ctx context.Context, req services.WithdrawalRequest) (models.Withdrawal, error)
	approveFn      func(ctx context.Context, adminID, withdrawalID string) (models.Withdrawal, error)
	denyFn         func(ctx context.Context, adminID, withdrawalID, reason string) (models.Withdrawal, error)
	listForUserFn  func(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error)
	listByStatusFn func(ctx context.Context, status string, limit, offset int) ([]models.Withdrawal, error)
}

func (s stubWithdrawals) Request(ctx context.Context, req services.WithdrawalRequest) (models.Withdrawal, error) {
	if s.requestFn == nil {
		return models.Withdrawal{}, nil
	}
	return s.requestFn(ctx, req)
}

func (s stubWithdrawals) Approve(ctx context.Context, adminID, withdrawalID string) (models.Withdrawal, error) {
	if s.approveFn == nil {
		return models.Withdrawal{}, nil
	}
	return s.approveFn(ctx, adminID, withdrawalID)
}

func (s stubWithdrawals) Deny(ctx context.Context, adminID, withdrawalID, reason string) (models.Withdrawal, error) {
	if s.denyFn == nil {
		return models.Withdrawal{}, nil
	}
	return s.denyFn(ctx, adminID, withdrawalID, reason)
}

func (s stubWithdrawals) ListForUser(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error) {
	if s.listForUserFn == nil {
		return nil, nil
	}
	return s.listForUserFn(ctx, userID, limit, offset)
}

func (s stubWithdrawals) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Withdrawal, error) {
	if s.listByStatusFn == nil {
		return nil, nil
	}
	return s.listByStatusFn(ctx, status, limit, offset)
}

type stubKYC struct {
	submitFn      func(ctx context.Context, req services.KYCRequest) (models.KYCSubmission, error)
	statusFn      func(ctx context.Context, userID string) (string, error)
	listPendingFn func(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error)
	reviewFn      func(ctx context.Context, adminID, submissionID string, approve bool, notes string) (models.KYCSubmission, error)
}

func (s stubKYC) Submit(ctx context.Context, req services.KYCRequest) (models.KYCSubmission, error) {
	if s.submitFn == nil {
		return models.KYCSubmission{}, nil
	}
	return s.submitFn(ctx, req)
}

func (s stubKYC) Status(ctx context.Context, userID string) (string, error) {
	if s.statusFn == nil {
		return models.KYCNotSubmitted, nil
	}
	return s.statusFn(ctx, userID)
}

func (s stubKYC) ListPending(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error) {
	if s.listPendingFn == nil {
		return nil, nil
	}
	return s.listPendingFn(ctx, limit, offset)
}

func (s stubKYC) Review(ctx context.Context, adminID, submissionID string, approve bool, notes string) (models.KYCSubmission, error) {
	if s.reviewFn == nil {
		return models.KYCSubmission{}, nil
	}
	return s.reviewFn(ctx, adminID, submissionID, approve, notes)
}

type stubAccounts struct {
	changePasswordFn      func(ctx context.Context, userID, currentPassword, newPassword string) error
	updateProfileFn       func(ctx context.Context, userID, firstName, lastName string) (models.User, error)
	setPinFn              func(ctx context.Context, userID, currentPin, newPin string) error
	setStatusFn           func(ctx context.Context, adminID, userID, status string) error
	setWithdrawalStatusFn func(ctx context.Context, adminID, userID, status string) error
	creditFn              func(ctx context.Context, adminID, userID string, amount decimal.Decimal, note string) (services.CreditResult, error)
}

func (s stubAccounts) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if s.changePasswordFn == nil {
		return nil
	}
	return s.changePasswordFn(ctx, userID, currentPassword, newPassword)
}

func (s stubAccounts) UpdateProfile(ctx context.Context, userID, firstName, lastName string) (models.User, error) {
	if s.updateProfileFn == nil {
		return models.User{ID: userID, FirstName: firstName, LastName: lastName}, nil
	}
	return s.updateProfileFn(ctx, userID, firstName, lastName)
}

func (s stubAccounts) SetPin(ctx context.Context, userID, currentPin, newPin string) error {
	if s.setPinFn == nil {
		return nil
	}
	return s.setPinFn(ctx, userID, currentPin, newPin)
}

func (s stubAccounts) SetStatus(ctx context.Context, adminID, userID, status string) error {
	if s.setStatusFn == nil {
		return nil
	}
	return s.setStatusFn(ctx, adminID, userID, status)
}

func (s stubAccounts) SetWithdrawalStatus(ctx context.Context, adminID, userID, status string) error {
	if s.setWithdrawalStatusFn == nil {
		return nil
	}
	return s.setWithdrawalStatusFn(ctx, adminID, userID, status)
}

func (s stubAccounts) Credit(ctx context.Context, adminID, userID string, amount decimal.Decimal, note string) (services.CreditResult, error) {
	if s.creditFn == nil {
		return services.CreditResult{}, nil
	}
	return s.creditFn(ctx, adminID, userID, amount, note)
}

type stubTeam struct {
	treeFn func(ctx context.Context, userID string, depth int) (services.TeamTree, error)
}

func (s stubTeam) Tree(ctx context.Context, userID string, depth int) (services.TeamTree, error) {
	if s.treeFn == nil {
		return services.TeamTree{Members: []*services.TeamNode{}}, nil
	}
	return s.treeFn(ctx, userID, depth)
}

// newTestHandler fills every dependency the caller leaves zero with an
// empty stub.
func newTestHandler(deps Deps) *Handler {
	if deps.TxRunner == nil {
		deps.TxRunner = fakeTxRunner{}
	}
	if deps.Users == nil {
		deps.Users = stubUserStore{}
	}
	if deps.Transactions == nil {
		deps.Transactions = stubTransactionStore{}
	}
	if deps.Audit == nil {
		deps.Audit = stubAuditStore{}
	}
	if deps.Reconciler == nil {
		deps.Reconciler = stubReconciler{}
	}
	if deps.Webhooks == nil {
		deps.Webhooks = stubVerifier{}
	}
	if deps.Registration == nil {
		deps.Registration = stubRegistration{}
	}
	if deps.Deposits == nil {
		deps.Deposits = stubDeposits{}
	}
	if deps.Withdrawals == nil {
		deps.Withdrawals = stubWithdrawals{}
	}
	if deps.KYC == nil {
		deps.KYC = stubKYC{}
	}
	if deps.Accounts == nil {
		deps.Accounts = stubAccounts{}
	}
	if deps.Team == nil {
		deps.Team = stubTeam{}
	}
	if deps.Hub == nil {
		deps.Hub = websocket.NewHub()
	}
	return New(config.Config{
		JWTSecret:      testSecret,
		TokenTTL:       time.Hour,
		AllowedOrigins: "*",
	}, deps)
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, userID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return "Bearer " + token
}

// serve runs a request through the full router. userID may be empty for
// unauthenticated calls.
func serve(t *testing.T, h *Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		payload.WriteString(v)
	default:
		if err := json.NewEncoder(&payload).Encode(v); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}
