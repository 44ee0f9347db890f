package httpx

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/splax/creditledger/internal/catalog"
	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/service/billing"
	"github.com/splax/creditledger/internal/service/webhook"
	"github.com/splax/creditledger/internal/ws"
)

func (r *Router) handlePlans(w http.ResponseWriter, _ *http.Request) {
	plans := catalog.All()
	items := make([]map[string]any, 0, len(plans))
	for _, plan := range plans {
		items = append(items, map[string]any{
			"id":      plan.ID,
			"credits": plan.Credits,
			"amount":  plan.PriceAmount,
			"price":   plan.DisplayPrice(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "plans": items})
}

func (r *Router) handlePay(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for pay", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		AccountID string `json:"accountId"`
		UserID    string `json:"userId"`
		PlanID    string `json:"planId"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	requested := strings.TrimSpace(payload.AccountID)
	if requested == "" {
		requested = strings.TrimSpace(payload.UserID)
	}
	if requested != "" && requested != info.UserID {
		writeError(w, http.StatusForbidden, "Not Authorized. Login Again")
		return
	}
	purchase, err := r.billing.InitiatePurchase(req.Context(), info.UserID, payload.PlanID)
	if err != nil {
		r.recordPurchase(payload.PlanID, string(domain.KindOf(err)))
		r.fail(w, req, err)
		return
	}
	r.recordPurchase(string(purchase.Plan.ID), "initiated")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"clientSecret":    purchase.ClientSecret,
		"transactionId":   purchase.EntryID,
		"paymentIntentId": purchase.PaymentIntentID,
	})
}

func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		PaymentIntentID string `json:"paymentIntentId"`
		ID              string `json:"id"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	intentID := payload.PaymentIntentID
	if strings.TrimSpace(intentID) == "" {
		intentID = payload.ID
	}
	settlement, err := r.billing.Settle(req.Context(), intentID)
	if err != nil {
		r.recordSettlement("verify", string(domain.KindOf(err)))
		r.fail(w, req, err)
		return
	}
	r.recordSettlement("verify", string(settlement.Outcome))
	writeJSON(w, http.StatusOK, settlementResponse(settlement))
}

func settlementResponse(s billing.Settlement) map[string]any {
	switch s.Outcome {
	case billing.OutcomeCredited:
		return map[string]any{
			"success":       true,
			"message":       "Credits Added",
			"credited":      true,
			"credits":       s.Balance,
			"transactionId": s.EntryID,
		}
	case billing.OutcomeAlreadySettled:
		return map[string]any{
			"success":       true,
			"message":       domain.ErrAlreadySettled.Msg,
			"credited":      false,
			"kind":          domain.KindAlreadySettled,
			"credits":       s.Balance,
			"transactionId": s.EntryID,
		}
	default:
		return map[string]any{
			"success":  false,
			"message":  domain.ErrPaymentNotCompleted.Msg,
			"credited": false,
			"kind":     domain.KindPaymentNotCompleted,
			"status":   s.Status,
		}
	}
}

func (r *Router) handleTransactions(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for transactions", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	entries, err := r.billing.History(req.Context(), info.UserID, limit)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": marshalLedgerEntries(entries),
	})
}

func marshalLedgerEntries(entries []domain.LedgerEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"id":              entry.ID,
			"planId":          entry.PlanID,
			"credits":         entry.Credits,
			"amount":          entry.PriceAmount,
			"price":           domain.Plan{PriceAmount: entry.PriceAmount}.DisplayPrice(),
			"currency":        entry.Currency,
			"status":          entry.State(),
			"payment":         entry.Settled,
			"createdAt":       entry.CreatedAt.UTC().Format(time.RFC3339Nano),
			"paymentIntentId": entry.ExternalRef,
		}
		if entry.SettledAt != nil {
			item["settledAt"] = entry.SettledAt.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, item)
	}
	return out
}

func (r *Router) handleStripeWebhook(w http.ResponseWriter, req *http.Request) {
	if !r.webhook.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "webhooks not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	result, err := r.webhook.Handle(req.Context(), body, req.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
	case errors.Is(err, webhook.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	default:
		kind := domain.KindOf(err)
		r.recordSettlement("webhook", string(kind))
		if kind == domain.KindInternal || kind == domain.KindProcessorUnavailable {
			r.fail(w, req, err)
			return
		}
		// Permanent mismatches are acknowledged so the processor stops retrying.
		r.logger.Error("webhook settlement rejected", "event_id", result.EventID, "kind", kind, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "handled": false, "kind": kind})
		return
	}
	if result.Handled {
		r.recordSettlement("webhook", string(result.Settlement.Outcome))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"handled":  result.Handled,
		"outcome":  result.Settlement.Outcome,
	})
}

func (r *Router) handleCreditsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for credits websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime updates disabled")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(info.UserID, client)
	go func() {
		defer r.hub.Unregister(info.UserID, client)
		client.Serve()
	}()
}
