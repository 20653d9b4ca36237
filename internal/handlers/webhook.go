package handlers

import (
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"referralpay/internal/payment"
	"referralpay/internal/services"
)

const maxWebhookBody = 64 << 10

// StripeWebhook verifies a processor event and dispatches succeeded payments
// to registration materialization or deposit completion. Any failure after
// verification answers 500 so the processor redelivers.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	if len(payload) > maxWebhookBody {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	event, err := h.webhooks.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, payment.ErrMalformedEvent) {
		log.WithError(err).Error("Signed webhook could not be decoded")
		respondError(w, http.StatusUnprocessableEntity, "malformed event")
		return
	}
	if err != nil {
		log.WithError(err).Warn("Rejected webhook")
		respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	logger := log.WithFields(log.Fields{"event_id": event.ID, "event_type": event.Type})
	if !event.Succeeded() {
		respondJSON(w, http.StatusOK, map[string]string{"status": string(services.OutcomeIgnored)})
		return
	}

	var outcome services.Outcome
	switch event.Purpose() {
	case payment.PurposeDeposit:
		outcome, err = h.deposits.Complete(r.Context(), event)
	default:
		var result services.MaterializeResult
		result, err = h.registration.Materialize(r.Context(), event)
		outcome = result.Outcome
		if errors.Is(err, services.ErrMissingPendingMetadata) {
			logger.Warn("Succeeded payment without registration metadata")
			err = nil
		}
	}
	if err != nil {
		logger.WithError(err).Error("Webhook processing failed")
		respondError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	logger.WithField("outcome", outcome).Info("Webhook processed")
	respondJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
