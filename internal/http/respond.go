package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/splax/creditledger/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends a plain failure message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

// writeFailure renders a tagged domain error. Untagged errors never leak
// their text.
func writeFailure(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusForKind(kind), map[string]any{
		"success": false,
		"message": domain.Message(err),
		"kind":    kind,
	})
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindMissingParameters:
		return http.StatusBadRequest
	case domain.KindPlanNotFound, domain.KindAccountNotFound, domain.KindTransactionNotFound:
		return http.StatusNotFound
	case domain.KindInvalidCredentials:
		return http.StatusUnauthorized
	case domain.KindEmailTaken, domain.KindAlreadySettled:
		return http.StatusConflict
	case domain.KindPaymentNotCompleted:
		return http.StatusPaymentRequired
	case domain.KindProcessorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
