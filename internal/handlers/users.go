package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"referralpay/internal/services"
	"referralpay/internal/validator"
)

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := h.accounts.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "password_updated"})
	case errors.Is(err, validator.ErrInvalidPassword), errors.Is(err, services.ErrWrongPassword):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondInternal(w, r, err, "unable to change password")
	}
}

type updateProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.accounts.UpdateProfile(r.Context(), userID, req.FirstName, req.LastName)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, user)
	case errors.Is(err, validator.ErrInvalidName):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondInternal(w, r, err, "unable to update profile")
	}
}

type setPinRequest struct {
	CurrentPin string `json:"current_pin"`
	Pin        string `json:"pin"`
}

func (h *Handler) SetPin(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req setPinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := h.accounts.SetPin(r.Context(), userID, req.CurrentPin, req.Pin)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "pin_updated"})
	case errors.Is(err, validator.ErrInvalidPin), errors.Is(err, services.ErrCurrentPinRequired):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidPin):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondInternal(w, r, err, "unable to set pin")
	}
}

// TeamTree returns the caller's downline. ?depth= overrides the default
// number of levels.
func (h *Handler) TeamTree(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 {
			respondError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		depth = value
	}
	tree, err := h.team.Tree(r.Context(), userID, depth)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, tree)
	case errors.Is(err, services.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondInternal(w, r, err, "unable to load team")
	}
}
