package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/splax/creditledger/internal/domain"
)

type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var payload credentialsRequest
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.auth.Signup(req.Context(), payload.Name, payload.Email, payload.Password)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"token":   session.Token,
		"user":    map[string]any{"name": session.Account.Name},
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload credentialsRequest
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   session.Token,
		"user":    map[string]any{"name": session.Account.Name},
	})
}

func (r *Router) handleCredits(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for credits", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	account, err := r.billing.Balance(req.Context(), info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"credits": account.CreditBalance,
		"user":    map[string]any{"name": account.Name},
	})
}

func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	return json.NewDecoder(req.Body).Decode(dst)
}

// fail writes err as a structured failure. Expected kinds are logged quietly;
// untagged errors are logged in full and reported generically.
func (r *Router) fail(w http.ResponseWriter, req *http.Request, err error) {
	switch domain.KindOf(err) {
	case domain.KindInternal:
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
	case domain.KindProcessorUnavailable:
		r.logger.Warn("payment processor unavailable", "path", req.URL.Path, "error", err)
	default:
		r.logger.Debug("request rejected", "path", req.URL.Path, "kind", domain.KindOf(err))
	}
	writeFailure(w, err)
}
