// Package events publishes domain events about money movement to NATS.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubjectRegistrationMaterialized = "referralpay.registration.materialized"
	SubjectReferralCredited         = "referralpay.referral.credited"
	SubjectWithdrawalProcessed      = "referralpay.withdrawal.processed"
	SubjectDepositCompleted         = "referralpay.deposit.completed"
)

type Event interface {
	Subject() string
}

type RegistrationMaterialized struct {
	UserID         string          `json:"user_id"`
	ReferralCode   string          `json:"referral_code"`
	ReferredByCode *string         `json:"referred_by_code,omitempty"`
	SignupFee      decimal.Decimal `json:"signup_fee"`
	Distributed    decimal.Decimal `json:"distributed"`
	Leftover       decimal.Decimal `json:"leftover"`
	PaymentIntent  string          `json:"payment_intent_id"`
}

func (RegistrationMaterialized) Subject() string { return SubjectRegistrationMaterialized }

type ReferralCredited struct {
	UserID        string          `json:"user_id"`
	RefereeID     string          `json:"referee_id"`
	TransactionID string          `json:"transaction_id"`
	Tier          int             `json:"tier,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Fallback      bool            `json:"fallback"`
}

func (ReferralCredited) Subject() string { return SubjectReferralCredited }

type WithdrawalProcessed struct {
	WithdrawalID string          `json:"withdrawal_id"`
	UserID       string          `json:"user_id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	ProcessedBy  string          `json:"processed_by"`
}

func (WithdrawalProcessed) Subject() string { return SubjectWithdrawalProcessed }

type DepositCompleted struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
}

func (DepositCompleted) Subject() string { return SubjectDepositCompleted }

// Envelope is the wire format of every published event.
type Envelope struct {
	EventID   string    `json:"event_id"`
	Subject   string    `json:"subject"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Event     `json:"payload"`
}
