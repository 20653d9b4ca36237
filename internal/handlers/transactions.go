package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"referralpay/internal/models"
	"referralpay/internal/services"
)

var transactionTypes = map[string]bool{
	models.TxTypeDeposit:       true,
	models.TxTypeWithdrawal:    true,
	models.TxTypeReferralBonus: true,
	models.TxTypeAdminCredit:   true,
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	txType := r.URL.Query().Get("type")
	if txType != "" && !transactionTypes[txType] {
		respondError(w, http.StatusBadRequest, "invalid transaction type")
		return
	}
	limit, offset := pagination(r, 20)
	rows, err := h.transactions.ListByUser(r.Context(), userID, txType, limit, offset)
	if err != nil {
		respondInternal(w, r, err, "unable to load transactions")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	row, err := h.transactions.GetForUser(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		respondInternal(w, r, err, "unable to load transaction")
		return
	}
	respondJSON(w, http.StatusOK, row)
}

type depositRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	intent, err := h.deposits.Create(r.Context(), userID, amount)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount):
			respondError(w, http.StatusBadRequest, "invalid_amount")
		case errors.Is(err, services.ErrAccountFrozen):
			respondError(w, http.StatusForbidden, "account_frozen")
		case errors.Is(err, services.ErrUserNotFound):
			respondError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, services.ErrPaymentUnavailable):
			respondError(w, http.StatusBadGateway, "payment provider unavailable")
		case errors.Is(err, services.ErrDuplicateTransaction):
			respondError(w, http.StatusConflict, "duplicate_request")
		default:
			respondInternal(w, r, err, "deposit_failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, intent)
}
