// Package payment talks to the card processor: payment intents for signup
// fees and deposits, payouts for withdrawals, and webhook verification.
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"

	MetadataType                  = "type"
	MetadataPendingRegistrationID = "pending_registration_id"
	MetadataTransactionID         = "transaction_id"

	PurposeRegistration = "registration"
	PurposeDeposit      = "deposit"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (Payout, error)
	VerifyWebhook(payload []byte, signature string) (Event, error)
}

type IntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
	// IdempotencyKey is optional.
	IdempotencyKey string
}

type Intent struct {
	ID           string
	ClientSecret string
}

type PayoutRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Destination string
	// IdempotencyKey must be stable across retries of the same withdrawal.
	IdempotencyKey string
	Description    string
}

type Payout struct {
	ID string
}

// Event is a verified webhook event reduced to what the services need.
type Event struct {
	ID       string
	Type     string
	IntentID string
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

func (e Event) Succeeded() bool {
	return e.Type == EventPaymentSucceeded
}

func (e Event) Purpose() string {
	if e.Metadata[MetadataType] == PurposeDeposit {
		return PurposeDeposit
	}
	return PurposeRegistration
}

func (e Event) PendingRegistrationID() string {
	return e.Metadata[MetadataPendingRegistrationID]
}

func (e Event) TransactionID() string {
	return e.Metadata[MetadataTransactionID]
}
