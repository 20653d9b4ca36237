package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"referralpay/internal/money"
)

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

type StripeOption func(*stripeOptions)

type stripeOptions struct {
	baseURL string
}

// WithBaseURL points the client at another API host, e.g. stripe-mock.
func WithBaseURL(url string) StripeOption {
	return func(o *stripeOptions) { o.baseURL = url }
}

func NewStripeGateway(secretKey, webhookSecret string, opts ...StripeOption) *StripeGateway {
	var o stripeOptions
	for _, opt := range opts {
		opt(&o)
	}
	var backends *stripe.Backends
	if o.baseURL != "" {
		noRetries := int64(0)
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(strings.TrimRight(o.baseURL, "/")),
			MaxNetworkRetries: &noRetries,
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	return &StripeGateway{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	amount, err := money.ToMinor(req.Amount)
	if err != nil {
		return Intent{}, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// CreatePayout moves funds to a connected account with a transfer.
func (g *StripeGateway) CreatePayout(ctx context.Context, req PayoutRequest) (Payout, error) {
	amount, err := money.ToMinor(req.Amount)
	if err != nil {
		return Payout{}, err
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	transfer, err := g.api.Transfers.New(params)
	if err != nil {
		return Payout{}, fmt.Errorf("create transfer: %w", err)
	}
	return Payout{ID: transfer.ID}, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (Event, error) {
	if g.webhookSecret == "" {
		return Event{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || evt.Data == nil {
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return Event{}, fmt.Errorf("%w: decode payment intent %s: %v", ErrMalformedEvent, evt.ID, err)
	}
	out.IntentID = pi.ID
	out.Amount = money.FromMinor(pi.Amount)
	out.Currency = string(pi.Currency)
	out.Metadata = pi.Metadata
	log.WithFields(log.Fields{"event_id": out.ID, "type": out.Type, "intent_id": out.IntentID}).Debug("Webhook verified")
	return out, nil
}
