package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/shashinpass/internal/common"
)

// retryAfterSeconds is advertised with every transient failure.
const retryAfterSeconds = "5"

var errNotFound = common.ErrorNotFound

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps err to a status and a client-safe body. Not-found bodies are
// identical whatever the cause so tokens and records cannot be enumerated.
func classify(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest, errorResponse{"invalid_request", err.Error()}
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, errorResponse{"unauthorized", "missing or invalid record token"}
	case errors.Is(err, common.ErrAlreadyPaid):
		return http.StatusConflict, errorResponse{"already_paid", "this photo has already been paid for"}
	case errors.Is(err, common.ErrCheckoutPending):
		return http.StatusConflict, errorResponse{"checkout_pending", "a checkout for this photo is already in progress"}
	}

	switch common.KindOf(err) {
	case common.KindPaymentRequired:
		return http.StatusForbidden, errorResponse{"payment_required", "please complete payment"}
	case common.KindNotFound:
		return http.StatusNotFound, errorResponse{"not_found", "not found"}
	case common.KindTransient:
		return http.StatusServiceUnavailable, errorResponse{"temporarily_unavailable", "try again shortly"}
	case common.KindConfiguration:
		return http.StatusInternalServerError, errorResponse{"configuration_error", "service is not configured"}
	default:
		return http.StatusInternalServerError, errorResponse{"internal_error", "internal error"}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, body)
}

// fail writes the mapped error response and logs anything the server is
// responsible for.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), msg, "error", err, "kind", common.KindOf(err).String())
	}
	writeError(w, err)
}
