package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	UserStatusActive = "active"
	UserStatusFrozen = "frozen"

	WithdrawalsActive = "active"
	WithdrawalsPaused = "paused"
)

const (
	TxTypeDeposit       = "deposit"
	TxTypeWithdrawal    = "withdrawal"
	TxTypeReferralBonus = "referral_bonus"
	TxTypeAdminCredit   = "admin_credit"

	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

const (
	WithdrawalPending   = "pending"
	WithdrawalApproved  = "approved"
	WithdrawalDenied    = "denied"
	WithdrawalCompleted = "completed"
)

const (
	KYCNotSubmitted = "not_submitted"
	KYCPending      = "pending"
	KYCApproved     = "approved"
	KYCRejected     = "rejected"
)

type User struct {
	ID               string          `db:"id" json:"id"`
	Email            string          `db:"email" json:"email"`
	Username         string          `db:"username" json:"username"`
	PasswordHash     string          `db:"password_hash" json:"-"`
	FirstName        string          `db:"first_name" json:"first_name"`
	LastName         string          `db:"last_name" json:"last_name"`
	ReferralCode     string          `db:"referral_code" json:"referral_code"`
	ReferredByCode   *string         `db:"referred_by_code" json:"referred_by_code,omitempty"`
	Role             string          `db:"role" json:"role"`
	Status           string          `db:"status" json:"status"`
	WithdrawalStatus string          `db:"withdrawal_status" json:"withdrawal_status"`
	Balance          decimal.Decimal `db:"balance" json:"balance"`
	IsKYCVerified    bool            `db:"is_kyc_verified" json:"is_kyc_verified"`
	PinHash          *string         `db:"withdrawal_pin_hash" json:"-"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

func (u User) HasPin() bool {
	return u.PinHash != nil && *u.PinHash != ""
}

type PendingRegistration struct {
	ID              string    `db:"id" json:"id"`
	Email           string    `db:"email" json:"email"`
	Username        string    `db:"username" json:"username"`
	PasswordHash    string    `db:"password_hash" json:"-"`
	FirstName       string    `db:"first_name" json:"first_name"`
	LastName        string    `db:"last_name" json:"last_name"`
	ReferredByCode  *string   `db:"referred_by_code" json:"referred_by_code,omitempty"`
	PaymentIntentID *string   `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	ExpiresAt       time.Time `db:"expires_at" json:"expires_at"`
}

func (p PendingRegistration) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

type Transaction struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Type      string          `db:"type" json:"type"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	Status    string          `db:"status" json:"status"`
	Reference string          `db:"reference" json:"reference"`
	RefereeID *string         `db:"referee_id" json:"referee_id,omitempty"`
	Tier      *int            `db:"tier" json:"tier,omitempty"`
	Note      *string         `db:"note" json:"note,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

type Withdrawal struct {
	ID            string          `db:"id" json:"id"`
	UserID        string          `db:"user_id" json:"user_id"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Fee           decimal.Decimal `db:"fee" json:"fee"`
	Currency      string          `db:"currency" json:"currency"`
	Destination   string          `db:"destination" json:"destination"`
	Status        string          `db:"status" json:"status"`
	PayoutID      *string         `db:"payout_id" json:"payout_id,omitempty"`
	ProcessedBy   *string         `db:"processed_by" json:"processed_by,omitempty"`
	Reason        *string         `db:"reason" json:"reason,omitempty"`
	RequestedAt   time.Time       `db:"requested_at" json:"requested_at"`
	ProcessedAt   *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

func (w Withdrawal) Total() decimal.Decimal {
	return w.Amount.Add(w.Fee)
}

type KYCSubmission struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	DocumentType     string     `db:"document_type" json:"document_type"`
	Address          string     `db:"address" json:"address"`
	City             string     `db:"city" json:"city"`
	PostalCode       string     `db:"postal_code" json:"postal_code"`
	Country          string     `db:"country" json:"country"`
	DocumentFrontURL string     `db:"document_front_url" json:"document_front_url"`
	DocumentBackURL  *string    `db:"document_back_url" json:"document_back_url,omitempty"`
	SelfieURL        string     `db:"selfie_url" json:"selfie_url"`
	Status           string     `db:"status" json:"status"`
	Notes            *string    `db:"notes" json:"notes,omitempty"`
	ReviewedBy       *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	SubmittedAt      time.Time  `db:"submitted_at" json:"submitted_at"`
	ReviewedAt       *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

type AuditLog struct {
	ID          string    `db:"id" json:"id"`
	ActorUserID *string   `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Action      string    `db:"action" json:"action"`
	EntityType  string    `db:"entity_type" json:"entity_type"`
	EntityID    string    `db:"entity_id" json:"entity_id"`
	Data        string    `db:"data" json:"data"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
