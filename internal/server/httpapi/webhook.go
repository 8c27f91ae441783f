package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/dmitrijs2005/shashinpass/internal/server/payments"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "Stripe-Signature"
)

// handleStripeWebhook feeds settled checkout sessions into the same
// reconciliation path as the return page. Only failures worth a redelivery
// answer with a non-2xx status.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{"invalid_request", "payload too large"})
		return
	}

	event, err := s.webhooks.VerifyWebhook(payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			s.logger.Warn(r.Context(), "webhook signature rejected")
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_signature", "signature verification failed"})
			return
		}
		s.fail(w, r, "webhook verification failed", err)
		return
	}

	switch event.Type {
	case payments.EventCheckoutCompleted, payments.EventAsyncPaymentSucceeded:
	default:
		s.logger.Debug(r.Context(), "webhook event ignored", "event_id", event.ID, "type", event.Type)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if event.Session == nil || event.Session.ID == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	c, err := s.reconciler.ConfirmSession(r.Context(), event.Session.ID)
	switch {
	case err == nil:
	case common.KindOf(err) == common.KindNotFound:
		s.logger.Warn(r.Context(), "webhook session has no matching record", "event_id", event.ID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	default:
		s.fail(w, r, "webhook reconcile failed", err)
		return
	}

	s.logger.Info(r.Context(), "webhook reconciled",
		"event_id", event.ID, "record_id", c.RecordID, "state", string(c.State))
	status := "ok"
	if c.State == models.StateDegraded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "state": string(c.State)})
}
