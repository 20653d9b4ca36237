package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"referralpay/internal/models"
	"referralpay/internal/payment"
	"referralpay/internal/services"
	"referralpay/internal/store"
)

type UserStore interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]models.User, error)
}

type TransactionStore interface {
	GetForUser(ctx context.Context, userID, transactionID string) (models.Transaction, error)
	ListByUser(ctx context.Context, userID, txType string, limit, offset int) ([]models.Transaction, error)
	ListAll(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, filter store.AuditFilter, limit, offset int) ([]models.AuditLog, error)
}

type Reconciler interface {
	Mismatches(ctx context.Context) ([]store.BalanceReconciliation, error)
}

type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (payment.Event, error)
}

type RegistrationService interface {
	Initiate(ctx context.Context, req services.RegisterRequest) (services.RegisterResult, error)
	Materialize(ctx context.Context, event payment.Event) (services.MaterializeResult, error)
}

type DepositService interface {
	Create(ctx context.Context, userID string, amount decimal.Decimal) (services.DepositIntent, error)
	Complete(ctx context.Context, event payment.Event) (services.Outcome, error)
}

type WithdrawalService interface {
	Request(ctx context.Context, req services.WithdrawalRequest) (models.Withdrawal, error)
	Approve(ctx context.Context, adminID, withdrawalID string) (models.Withdrawal, error)
	Deny(ctx context.Context, adminID, withdrawalID, reason string) (models.Withdrawal, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Withdrawal, error)
}

type KYCService interface {
	Submit(ctx context.Context, req services.KYCRequest) (models.KYCSubmission, error)
	Status(ctx context.Context, userID string) (string, error)
	ListPending(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error)
	Review(ctx context.Context, adminID, submissionID string, approve bool, notes string) (models.KYCSubmission, error)
}

type AccountService interface {
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	UpdateProfile(ctx context.Context, userID, firstName, lastName string) (models.User, error)
	SetPin(ctx context.Context, userID, currentPin, newPin string) error
	SetStatus(ctx context.Context, adminID, userID, status string) error
	SetWithdrawalStatus(ctx context.Context, adminID, userID, status string) error
	Credit(ctx context.Context, adminID, userID string, amount decimal.Decimal, note string) (services.CreditResult, error)
}

type TeamService interface {
	Tree(ctx context.Context, userID string, depth int) (services.TeamTree, error)
}
