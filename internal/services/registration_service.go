package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"referralpay/internal/auth"
	"referralpay/internal/codes"
	"referralpay/internal/db"
	"referralpay/internal/events"
	"referralpay/internal/models"
	"referralpay/internal/payment"
	"referralpay/internal/referral"
	"referralpay/internal/store"
	"referralpay/internal/validator"
)

const referralCodeAttempts = 10

var (
	ErrAlreadyRegistered      = errors.New("email or username already registered")
	ErrUnknownReferralCode    = errors.New("referral code does not exist")
	ErrReferralCodeExhausted  = errors.New("could not generate a unique referral code")
	ErrPendingDeleteConflict  = errors.New("pending registration removed concurrently")
	ErrMissingPendingMetadata = errors.New("payment has no pending registration id")

	errIdentityTaken = errors.New("email or username taken before payment settled")
)

type Outcome string

const (
	OutcomeMaterialized     Outcome = "materialized"
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeConflict         Outcome = "conflict"
)

type RegistrationUserStore interface {
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
	ReferralCodeExists(ctx context.Context, q store.Getter, code string) (bool, error)
	Create(ctx context.Context, tx store.Execer, input store.UserInput) error
}

type PendingRegistrationStore interface {
	Create(ctx context.Context, tx store.Execer, p models.PendingRegistration) error
	AttachPaymentIntent(ctx context.Context, tx store.Execer, id, intentID string) (int64, error)
	ExistsLive(ctx context.Context, email, username string, now time.Time) (bool, error)
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.PendingRegistration, error)
	Delete(ctx context.Context, tx store.Execer, id string) (int64, error)
}

type SignupDistributor interface {
	Distribute(ctx context.Context, tx store.Tx, newUserID string, referrerCode *string, signupFee decimal.Decimal) (referral.Distribution, error)
}

type RegistrationConfig struct {
	SignupFee  decimal.Decimal
	Currency   string
	PendingTTL time.Duration
}

type RegistrationService struct {
	txRunner    db.TxRunner
	users       RegistrationUserStore
	pending     PendingRegistrationStore
	distributor SignupDistributor
	gateway     payment.Gateway
	audit       AuditStore
	hub         BalanceHub
	publisher   events.Publisher
	cfg         RegistrationConfig
	now         func() time.Time
}

func NewRegistrationService(txRunner db.TxRunner, users RegistrationUserStore, pending PendingRegistrationStore, distributor SignupDistributor, gateway payment.Gateway, audit AuditStore, hub BalanceHub, publisher events.Publisher, cfg RegistrationConfig) *RegistrationService {
	return &RegistrationService{
		txRunner:    txRunner,
		users:       users,
		pending:     pending,
		distributor: distributor,
		gateway:     gateway,
		audit:       audit,
		hub:         hub,
		publisher:   publisher,
		cfg:         cfg,
		now:         time.Now,
	}
}

type RegisterRequest struct {
	Email        string
	Username     string
	Password     string
	FirstName    string
	LastName     string
	ReferralCode string
}

type RegisterResult struct {
	PendingRegistrationID string          `json:"pending_registration_id"`
	ClientSecret          string          `json:"client_secret"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	ExpiresAt             time.Time       `json:"expires_at"`
}

// Initiate records a pending registration and opens a payment intent for the
// signup fee. No user exists until the payment succeeds.
func (s *RegistrationService) Initiate(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	for _, err := range []error{
		validator.ValidateEmail(email),
		validator.ValidateUsername(username),
		validator.ValidatePassword(req.Password),
		validator.ValidateName(firstName),
		validator.ValidateName(lastName),
	} {
		if err != nil {
			return RegisterResult{}, err
		}
	}
	var referrerCode *string
	if strings.TrimSpace(req.ReferralCode) != "" {
		code, err := validator.NormalizeReferralCode(req.ReferralCode)
		if err != nil {
			return RegisterResult{}, err
		}
		referrerCode = &code
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return RegisterResult{}, err
	}

	now := s.now()
	reg := models.PendingRegistration{
		ID:             uuid.NewString(),
		Email:          email,
		Username:       username,
		PasswordHash:   passwordHash,
		FirstName:      firstName,
		LastName:       lastName,
		ReferredByCode: referrerCode,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.PendingTTL),
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		taken, err := s.users.ExistsByEmailOrUsername(ctx, email, username)
		if err != nil {
			return err
		}
		if !taken {
			taken, err = s.pending.ExistsLive(ctx, email, username, now)
			if err != nil {
				return err
			}
		}
		if taken {
			return ErrAlreadyRegistered
		}
		if referrerCode != nil {
			exists, err := s.users.ReferralCodeExists(ctx, tx, *referrerCode)
			if err != nil {
				return err
			}
			if !exists {
				return ErrUnknownReferralCode
			}
		}
		return s.pending.Create(ctx, tx, reg)
	})
	if err != nil {
		return RegisterResult{}, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, payment.IntentRequest{
		Amount:   s.cfg.SignupFee,
		Currency: s.cfg.Currency,
		Metadata: map[string]string{
			payment.MetadataType:                  payment.PurposeRegistration,
			payment.MetadataPendingRegistrationID: reg.ID,
		},
		IdempotencyKey: reg.ID,
	})
	if err != nil {
		s.abandon(ctx, reg.ID)
		log.WithError(err).WithField("pending_registration_id", reg.ID).Error("Failed to create signup payment intent")
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := s.pending.AttachPaymentIntent(ctx, tx, reg.ID, intent.ID)
		return err
	})
	if err != nil {
		return RegisterResult{}, err
	}

	log.WithFields(log.Fields{
		"pending_registration_id": reg.ID,
		"payment_intent_id":       intent.ID,
		"referred":                referrerCode != nil,
	}).Info("Registration pending payment")
	return RegisterResult{
		PendingRegistrationID: reg.ID,
		ClientSecret:          intent.ClientSecret,
		Amount:                s.cfg.SignupFee,
		Currency:              s.cfg.Currency,
		ExpiresAt:             reg.ExpiresAt,
	}, nil
}

func (s *RegistrationService) abandon(ctx context.Context, pendingID string) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := s.pending.Delete(ctx, tx, pendingID)
		return err
	})
	if err != nil {
		log.WithError(err).WithField("pending_registration_id", pendingID).Warn("Failed to remove abandoned pending registration")
	}
}

type MaterializeResult struct {
	Outcome      Outcome                `json:"outcome"`
	UserID       string                 `json:"user_id,omitempty"`
	ReferralCode string                 `json:"referral_code,omitempty"`
	Distribution *referral.Distribution `json:"distribution,omitempty"`
}

// Materialize turns the pending registration named by a succeeded payment
// into a user and distributes the signup fee, all in one transaction.
// Delivering the same event again finds no pending row and changes nothing.
func (s *RegistrationService) Materialize(ctx context.Context, event payment.Event) (MaterializeResult, error) {
	pendingID := event.PendingRegistrationID()
	if pendingID == "" {
		return MaterializeResult{Outcome: OutcomeIgnored}, ErrMissingPendingMetadata
	}
	logger := log.WithFields(log.Fields{
		"pending_registration_id": pendingID,
		"event_id":                event.ID,
		"payment_intent_id":       event.IntentID,
	})

	effects := newSideEffects()
	var result MaterializeResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		effects.reset()
		result = MaterializeResult{}

		reg, err := s.pending.GetForUpdate(ctx, tx, pendingID)
		if errors.Is(err, sql.ErrNoRows) {
			result.Outcome = OutcomeAlreadyProcessed
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock pending registration: %w", err)
		}
		s.checkPayment(logger, reg, event)

		code, err := s.uniqueReferralCode(ctx, tx)
		if err != nil {
			return err
		}
		userID := uuid.NewString()
		err = s.users.Create(ctx, tx, store.UserInput{
			ID:             userID,
			Email:          reg.Email,
			Username:       reg.Username,
			PasswordHash:   reg.PasswordHash,
			FirstName:      reg.FirstName,
			LastName:       reg.LastName,
			ReferralCode:   code,
			ReferredByCode: reg.ReferredByCode,
			Role:           models.RoleUser,
		})
		if db.IsUniqueViolation(err) {
			taken, lookupErr := s.users.ExistsByEmailOrUsername(ctx, reg.Email, reg.Username)
			if lookupErr == nil && taken {
				return fmt.Errorf("%w: %s", errIdentityTaken, reg.Email)
			}
		}
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		dist, err := s.distributor.Distribute(ctx, tx, userID, reg.ReferredByCode, s.cfg.SignupFee)
		if err != nil {
			return err
		}

		deleted, err := s.pending.Delete(ctx, tx, reg.ID)
		if err != nil {
			return fmt.Errorf("delete pending registration: %w", err)
		}
		if deleted != 1 {
			return ErrPendingDeleteConflict
		}

		if err := s.audit.Log(ctx, tx, userID, "registration_materialized", "user", userID, auditData(map[string]any{
			"pending_registration_id": reg.ID,
			"payment_intent_id":       event.IntentID,
			"distributed":             dist.Distributed.StringFixed(2),
			"leftover":                dist.Leftover.StringFixed(2),
		})); err != nil {
			return err
		}

		for _, credit := range dist.Credits {
			effects.balance(credit.UserID, credit.Balance, credit.Amount, credit.Type)
			effects.events.Add(events.ReferralCredited{
				UserID:        credit.UserID,
				RefereeID:     userID,
				TransactionID: credit.TransactionID,
				Tier:          credit.Tier,
				Amount:        credit.Amount,
				Fallback:      credit.Type == models.TxTypeAdminCredit,
			})
		}
		effects.events.Add(events.RegistrationMaterialized{
			UserID:         userID,
			ReferralCode:   code,
			ReferredByCode: reg.ReferredByCode,
			SignupFee:      dist.SignupFee,
			Distributed:    dist.Distributed,
			Leftover:       dist.Leftover,
			PaymentIntent:  event.IntentID,
		})
		result = MaterializeResult{
			Outcome:      OutcomeMaterialized,
			UserID:       userID,
			ReferralCode: code,
			Distribution: &dist,
		}
		return nil
	})
	if errors.Is(err, errIdentityTaken) {
		effects.discard()
		return s.conflict(ctx, logger, pendingID, err), nil
	}
	if err != nil {
		effects.discard()
		logger.WithError(err).Error("Registration materialization rolled back")
		return MaterializeResult{}, err
	}

	if result.Outcome == OutcomeAlreadyProcessed {
		logger.Info("Pending registration already processed, nothing to do")
		return result, nil
	}
	effects.publish(ctx, s.hub, s.publisher)
	logger.WithField("user_id", result.UserID).Info("Registration materialized")
	return result, nil
}

// conflict settles a paid registration whose email or username was claimed
// by another account first. Redelivery cannot fix that, so the pending row
// is dropped and the payment is left for a manual refund.
func (s *RegistrationService) conflict(ctx context.Context, logger *log.Entry, pendingID string, cause error) MaterializeResult {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.pending.Delete(ctx, tx, pendingID); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, "", "registration_conflict", "pending_registration", pendingID, auditData(map[string]any{
			"reason": cause.Error(),
		}))
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to remove conflicting pending registration, the reaper will")
	}
	logger.WithError(cause).Error("Paid registration collides with an existing account, refund required")
	return MaterializeResult{Outcome: OutcomeConflict}
}

func (s *RegistrationService) checkPayment(logger *log.Entry, reg models.PendingRegistration, event payment.Event) {
	if reg.PaymentIntentID != nil && event.IntentID != "" && *reg.PaymentIntentID != event.IntentID {
		logger.WithField("expected_intent", *reg.PaymentIntentID).Warn("Payment intent differs from the one attached to the registration")
	}
	if !event.Amount.IsZero() && !event.Amount.Equal(s.cfg.SignupFee) {
		logger.WithFields(log.Fields{
			"paid":       event.Amount.StringFixed(2),
			"signup_fee": s.cfg.SignupFee.StringFixed(2),
		}).Warn("Paid amount differs from configured signup fee, distributing the configured fee")
	}
	if reg.Expired(s.now()) {
		logger.WithField("expired_at", reg.ExpiresAt).Info("Materializing expired registration, payment was captured")
	}
}

func (s *RegistrationService) uniqueReferralCode(ctx context.Context, tx store.Getter) (string, error) {
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := codes.ReferralCode()
		if err != nil {
			return "", err
		}
		taken, err := s.users.ReferralCodeExists(ctx, tx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrReferralCodeExhausted
}
