package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"referralpay/internal/middleware"
)

const maxListLimit = 200

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondInternal logs err and hides it from the client.
func respondInternal(w http.ResponseWriter, r *http.Request, err error, message string) {
	log.WithError(err).WithField("path", r.URL.Path).Error(message)
	respondError(w, http.StatusInternalServerError, message)
}

func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// pagination reads ?limit=&page= with a default limit.
func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	query := r.URL.Query()
	limit = parseInt(query.Get("limit"), defaultLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	page := parseInt(query.Get("page"), 1)
	return limit, (page - 1) * limit
}
