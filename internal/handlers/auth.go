package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"

	"referralpay/internal/auth"
	"referralpay/internal/db"
	"referralpay/internal/services"
	"referralpay/internal/validator"
)

type registerRequest struct {
	Email        string `json:"email"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	ReferralCode string `json:"referral_code"`
}

// Register opens a pending registration. The account itself is created by
// the payment webhook once the signup fee is paid.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.registration.Initiate(r.Context(), services.RegisterRequest{
		Email:        req.Email,
		Username:     req.Username,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		switch {
		case isValidationError(err), errors.Is(err, services.ErrUnknownReferralCode):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrAlreadyRegistered), db.IsUniqueViolation(err):
			respondError(w, http.StatusConflict, "username or email already exists")
		case errors.Is(err, services.ErrPaymentUnavailable):
			respondError(w, http.StatusBadGateway, "payment provider unavailable")
		default:
			respondInternal(w, r, err, "registration failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func isValidationError(err error) bool {
	for _, target := range []error{
		validator.ErrInvalidEmail,
		validator.ErrInvalidUsername,
		validator.ErrInvalidPassword,
		validator.ErrInvalidName,
		validator.ErrInvalidPin,
		validator.ErrInvalidReferralCode,
		validator.ErrInvalidDestination,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.users.GetByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respondInternal(w, r, err, "login failed")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		data, _ := json.Marshal(map[string]string{
			"ip":         r.RemoteAddr,
			"user_agent": r.UserAgent(),
		})
		return h.audit.Log(r.Context(), tx, user.ID, "login", "user", user.ID, string(data))
	}); err != nil {
		respondInternal(w, r, err, "login failed")
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenTTL)
	if err != nil {
		respondInternal(w, r, err, "failed to generate token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"token": token,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondInternal(w, r, err, "unable to load user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":                user.ID,
		"email":             user.Email,
		"username":          user.Username,
		"first_name":        user.FirstName,
		"last_name":         user.LastName,
		"referral_code":     user.ReferralCode,
		"referred_by_code":  user.ReferredByCode,
		"role":              user.Role,
		"status":            user.Status,
		"withdrawal_status": user.WithdrawalStatus,
		"balance":           user.Balance.StringFixed(2),
		"is_kyc_verified":   user.IsKYCVerified,
		"has_pin":           user.HasPin(),
		"created_at":        user.CreatedAt,
	})
}
