package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"referralpay/internal/auth"
	"referralpay/internal/middleware"
	"referralpay/internal/services"
	"referralpay/internal/store"
	"referralpay/internal/websocket"
)

func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	rows, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		respondInternal(w, r, err, "unable to load users")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"id":                row.ID,
			"email":             row.Email,
			"username":          row.Username,
			"referral_code":     row.ReferralCode,
			"referred_by_code":  row.ReferredByCode,
			"role":              row.Role,
			"status":            row.Status,
			"withdrawal_status": row.WithdrawalStatus,
			"balance":           row.Balance.StringFixed(2),
			"is_kyc_verified":   row.IsKYCVerified,
			"created_at":        row.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) AdminSetUserStatus(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.accounts.SetStatus)
}

func (h *Handler) AdminSetWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.accounts.SetWithdrawalStatus)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, adminID, userID, status string) error) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := set(r.Context(), adminID, chi.URLParam(r, "id"), strings.TrimSpace(req.Status))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": req.Status})
	case errors.Is(err, services.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, "invalid status")
	case errors.Is(err, services.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	default:
		respondInternal(w, r, err, "unable to update status")
	}
}

type creditRequest struct {
	Amount string `json:"amount"`
	Note   string `json:"note"`
}

func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	result, err := h.accounts.Credit(r.Context(), adminID, chi.URLParam(r, "id"), amount, req.Note)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, result)
	case errors.Is(err, services.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, services.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	default:
		respondInternal(w, r, err, "unable to credit user")
	}
}

func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	rows, err := h.transactions.ListAll(r.Context(), limit, offset)
	if err != nil {
		respondInternal(w, r, err, "unable to load transactions")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) AdminListWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	rows, err := h.withdrawals.ListByStatus(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		if errors.Is(err, services.ErrInvalidStatus) {
			respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
		respondInternal(w, r, err, "unable to load withdrawals")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) AdminApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	withdrawal, err := h.withdrawals.Approve(r.Context(), adminID, chi.URLParam(r, "id"))
	if err != nil {
		respondWithdrawalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, withdrawal)
}

type denyRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) AdminDenyWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req denyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}
	withdrawal, err := h.withdrawals.Deny(r.Context(), adminID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		respondWithdrawalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, withdrawal)
}

func (h *Handler) AdminListKYC(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	rows, err := h.kyc.ListPending(r.Context(), limit, offset)
	if err != nil {
		respondInternal(w, r, err, "unable to load kyc submissions")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

func (h *Handler) AdminReviewKYC(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	submission, err := h.kyc.Review(r.Context(), adminID, chi.URLParam(r, "id"), req.Approve, req.Notes)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, submission)
	case errors.Is(err, services.ErrKYCNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrKYCNotPending):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondInternal(w, r, err, "unable to review kyc submission")
	}
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	h.listAudit(w, r, store.AuditFilter{})
}

// AdminUserAudit lists the actions a single user performed.
func (h *Handler) AdminUserAudit(w http.ResponseWriter, r *http.Request) {
	h.listAudit(w, r, store.AuditFilter{ActorID: chi.URLParam(r, "id")})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request, filter store.AuditFilter) {
	limit, offset := pagination(r, 50)
	rows, err := h.audit.List(r.Context(), filter, limit, offset)
	if err != nil {
		respondInternal(w, r, err, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// Reconcile lists users whose stored balance disagrees with their
// transaction log.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reconciler.Mismatches(r.Context())
	if err != nil {
		respondInternal(w, r, err, "unable to reconcile balances")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"user_id":            row.UserID,
			"username":           row.Username,
			"stored_balance":     row.StoredBalance.StringFixed(2),
			"calculated_balance": row.CalculatedBalance.StringFixed(2),
			"difference":         row.Difference.StringFixed(2),
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

// WSBalances opens a balance stream. Browsers cannot set headers on a
// websocket handshake, so the token may also arrive as ?token=.
func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if err != nil {
		respondInternal(w, r, err, "unable to load balance")
		return
	}
	h.hub.ServeWS(w, r, user.ID, &websocket.BalanceUpdate{
		UserID:  user.ID,
		Balance: user.Balance.StringFixed(2),
		Delta:   "0.00",
		Reason:  "snapshot",
	})
}
