// Package referral pays signup commissions up the referrer chain.
package referral

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"referralpay/internal/codes"
	"referralpay/internal/commission"
	"referralpay/internal/models"
	"referralpay/internal/money"
	"referralpay/internal/store"
)

var (
	ErrInvalidSignupFee = errors.New("signup fee must be positive with at most 2 decimals")
	// ErrFallbackAccountMissing means the leftover has nowhere to go. The
	// enclosing registration must roll back.
	ErrFallbackAccountMissing = errors.New("fallback account not found")
)

type UserLedger interface {
	FindUpline(ctx context.Context, q store.Getter, code string) (store.Upline, error)
	AdjustBalance(ctx context.Context, tx store.Getter, userID string, delta decimal.Decimal) (decimal.Decimal, error)
}

type TransactionLog interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
}

type Config struct {
	FallbackCode string
	Currency     string
}

type Distributor struct {
	users        UserLedger
	transactions TransactionLog
	fallbackCode string
	currency     string
}

func NewDistributor(users UserLedger, transactions TransactionLog, cfg Config) *Distributor {
	return &Distributor{
		users:        users,
		transactions: transactions,
		fallbackCode: strings.ToUpper(strings.TrimSpace(cfg.FallbackCode)),
		currency:     cfg.Currency,
	}
}

type Credit struct {
	UserID        string          `json:"user_id"`
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	Tier          int             `json:"tier,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
}

type Skip struct {
	UserID string `json:"user_id"`
	Tier   int    `json:"tier"`
	Reason string `json:"reason"`
}

type Distribution struct {
	NewUserID   string          `json:"new_user_id"`
	SignupFee   decimal.Decimal `json:"signup_fee"`
	Credits     []Credit        `json:"credits"`
	Skipped     []Skip          `json:"skipped,omitempty"`
	Distributed decimal.Decimal `json:"distributed"`
	Leftover    decimal.Decimal `json:"leftover"`
	Fallback    *Credit         `json:"fallback,omitempty"`
}

// TierCredits returns only the referral_bonus credits.
func (d Distribution) TierCredits() []Credit {
	out := make([]Credit, 0, len(d.Credits))
	for _, c := range d.Credits {
		if c.Type == models.TxTypeReferralBonus {
			out = append(out, c)
		}
	}
	return out
}

// Distribute walks at most commission.MaxTier referrers starting at
// referrerCode, credits each active one its tier commission and sends the
// remainder to the fallback account. Every write goes through tx; the caller
// owns commit and rollback.
//
// The walk stops at the first code that does not resolve, at a code already
// visited, or at the new user. A frozen referrer keeps its tier position but
// is not paid; its share joins the leftover.
func (d *Distributor) Distribute(ctx context.Context, tx store.Tx, newUserID string, referrerCode *string, signupFee decimal.Decimal) (Distribution, error) {
	if !signupFee.IsPositive() || !money.HasMinorPrecision(signupFee) {
		return Distribution{}, ErrInvalidSignupFee
	}
	dist := Distribution{
		NewUserID:   newUserID,
		SignupFee:   signupFee,
		Distributed: decimal.Zero,
	}
	logger := log.WithField("new_user_id", newUserID)

	visited := make(map[string]struct{}, commission.MaxTier)
	current := normalize(referrerCode)
	for tier := 1; tier <= commission.MaxTier && current != ""; tier++ {
		if _, seen := visited[current]; seen {
			logger.WithFields(log.Fields{"code": current, "tier": tier}).Warn("Referral chain cycles, stopping walk")
			break
		}
		visited[current] = struct{}{}

		upline, err := d.users.FindUpline(ctx, tx, current)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return Distribution{}, fmt.Errorf("resolve tier %d referrer: %w", tier, err)
		}
		if upline.UserID == newUserID {
			logger.WithField("tier", tier).Warn("Referral chain reaches the new user, stopping walk")
			break
		}
		next := normalize(upline.ReferrerCode)

		if upline.Status != models.UserStatusActive {
			dist.Skipped = append(dist.Skipped, Skip{UserID: upline.UserID, Tier: tier, Reason: upline.Status})
			current = next
			continue
		}

		bonus, err := commission.Commission(signupFee, tier)
		if err != nil {
			return Distribution{}, err
		}
		if bonus.IsPositive() {
			credit, err := d.credit(ctx, tx, upline.UserID, bonus, models.TxTypeReferralBonus, tier, newUserID, nil)
			if err != nil {
				return Distribution{}, fmt.Errorf("credit tier %d: %w", tier, err)
			}
			dist.Credits = append(dist.Credits, credit)
			dist.Distributed = dist.Distributed.Add(bonus)
		}
		current = next
	}

	dist.Leftover = commission.Leftover(signupFee, dist.Distributed)
	if dist.Leftover.IsPositive() {
		house, err := d.users.FindUpline(ctx, tx, d.fallbackCode)
		if errors.Is(err, sql.ErrNoRows) {
			logger.WithField("fallback_code", d.fallbackCode).Error("Fallback account missing, aborting distribution")
			return Distribution{}, fmt.Errorf("%w: code %q", ErrFallbackAccountMissing, d.fallbackCode)
		}
		if err != nil {
			return Distribution{}, fmt.Errorf("resolve fallback account: %w", err)
		}
		note := "Leftover from signup of " + newUserID
		credit, err := d.credit(ctx, tx, house.UserID, dist.Leftover, models.TxTypeAdminCredit, 0, newUserID, &note)
		if err != nil {
			return Distribution{}, fmt.Errorf("credit fallback account: %w", err)
		}
		dist.Credits = append(dist.Credits, credit)
		dist.Fallback = &credit
	}

	logger.WithFields(log.Fields{
		"tiers_paid":  len(dist.TierCredits()),
		"distributed": money.Format(dist.Distributed),
		"leftover":    money.Format(dist.Leftover),
	}).Info("Signup bonus distributed")
	return dist, nil
}

func (d *Distributor) credit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal, txType string, tier int, refereeID string, note *string) (Credit, error) {
	balance, err := d.users.AdjustBalance(ctx, tx, userID, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return Credit{}, fmt.Errorf("user %s vanished during distribution", userID)
	}
	if err != nil {
		return Credit{}, err
	}
	reference, err := codes.TransactionReference(txType)
	if err != nil {
		return Credit{}, err
	}
	input := store.TransactionInput{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      txType,
		Status:    models.TxStatusCompleted,
		Amount:    amount,
		Currency:  d.currency,
		Reference: reference,
		RefereeID: &refereeID,
		Note:      note,
	}
	if tier > 0 {
		t := tier
		input.Tier = &t
	}
	if err := d.transactions.Create(ctx, tx, input); err != nil {
		return Credit{}, err
	}
	return Credit{
		UserID:        userID,
		TransactionID: input.ID,
		Type:          txType,
		Tier:          tier,
		Amount:        amount,
		Balance:       balance,
	}, nil
}

func normalize(code *string) string {
	if code == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(*code))
}
