package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"referralpay/internal/services"
	"referralpay/internal/validator"
)

type withdrawalRequest struct {
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
	Pin         string `json:"pin"`
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	withdrawal, err := h.withdrawals.Request(r.Context(), services.WithdrawalRequest{
		UserID:      userID,
		Amount:      amount,
		Destination: req.Destination,
		Pin:         req.Pin,
	})
	if err != nil {
		respondWithdrawalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, withdrawal)
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r, 20)
	rows, err := h.withdrawals.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		respondInternal(w, r, err, "unable to load withdrawals")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func respondWithdrawalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, services.ErrBelowMinimum):
		respondError(w, http.StatusBadRequest, "below_minimum")
	case errors.Is(err, validator.ErrInvalidDestination):
		respondError(w, http.StatusBadRequest, "invalid_destination")
	case errors.Is(err, services.ErrInsufficientFunds):
		respondError(w, http.StatusBadRequest, "insufficient_funds")
	case errors.Is(err, services.ErrAccountFrozen):
		respondError(w, http.StatusForbidden, "account_frozen")
	case errors.Is(err, services.ErrWithdrawalsPaused):
		respondError(w, http.StatusForbidden, "withdrawals_paused")
	case errors.Is(err, services.ErrKYCRequired):
		respondError(w, http.StatusForbidden, "kyc_required")
	case errors.Is(err, services.ErrPinNotSet):
		respondError(w, http.StatusForbidden, "pin_not_set")
	case errors.Is(err, services.ErrInvalidPin):
		respondError(w, http.StatusForbidden, "invalid_pin")
	case errors.Is(err, services.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, services.ErrWithdrawalNotFound):
		respondError(w, http.StatusNotFound, "withdrawal not found")
	case errors.Is(err, services.ErrWithdrawalNotPending):
		respondError(w, http.StatusConflict, "withdrawal_already_processed")
	case errors.Is(err, services.ErrPayoutFailed):
		respondError(w, http.StatusBadGateway, "payout_failed")
	default:
		respondInternal(w, r, err, "withdrawal_failed")
	}
}
