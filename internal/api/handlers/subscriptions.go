// subscriptions.go — HTTP handlers подписок и оформления оплаты.
// Тарифные планы, активная подписка, история, отмена,
// card intent/complete и mobile money initiate.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/golexstore/internal/api/errors"
	"github.com/bigkaa/golexstore/internal/domain/model"
	"github.com/bigkaa/golexstore/internal/service"
)

// ListPlans обрабатывает GET /api/v1/subscriptions/plans.
func (h *APIHandler) ListPlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": h.subs.Plans()})
}

// ActiveSubscription обрабатывает GET /api/v1/subscriptions/active.
// 404 — действующей подписки нет.
func (h *APIHandler) ActiveSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.Active(r.Context(), actorFromContext(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// ListSubscriptions обрабатывает GET /api/v1/subscriptions.
// Историю произвольного пользователя (?user_id=) видит только admin.
func (h *APIHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r)

	var (
		subs []*model.Subscription
		err  error
	)
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		subs, err = h.subs.ListForUser(r.Context(), actor, userID)
	} else {
		subs, err = h.subs.List(r.Context(), actor)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": subs})
}

// CancelSubscription обрабатывает POST /api/v1/subscriptions/{id}/cancel.
func (h *APIHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.Cancel(r.Context(), actorFromContext(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// CreateCardIntent обрабатывает POST /api/v1/subscriptions/card/intent.
// Тело: {"plan": "silver"}. Сумма берётся из серверной таблицы планов.
func (h *APIHandler) CreateCardIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	intent, err := h.payments.CreateIntent(r.Context(), actorFromContext(r), req.Plan)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, intent)
}

// CompleteCardPayment обрабатывает POST /api/v1/subscriptions/card/complete.
// Тело: {"plan", "payment_intent_id", "card_last4", "auto_renew"}.
// Активирует подписку и обновляет tier в одной транзакции.
func (h *APIHandler) CompleteCardPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan            string `json:"plan"`
		PaymentIntentID string `json:"payment_intent_id"`
		CardLast4       string `json:"card_last4"`
		AutoRenew       bool   `json:"auto_renew"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	sub, err := h.payments.CompleteCardPayment(r.Context(), actorFromContext(r), service.CompleteCardInput{
		Plan:            req.Plan,
		PaymentIntentID: req.PaymentIntentID,
		CardLast4:       req.CardLast4,
		AutoRenew:       req.AutoRenew,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// InitiateMobileMoney обрабатывает POST /api/v1/subscriptions/mobile-money.
// Тело: {"plan", "phone_number", "provider", "auto_renew"}.
// Подписка создаётся в статусе pending до подтверждения оплаты.
func (h *APIHandler) InitiateMobileMoney(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan        string `json:"plan"`
		PhoneNumber string `json:"phone_number"`
		Provider    string `json:"provider"`
		AutoRenew   bool   `json:"auto_renew"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	outcome, err := h.payments.InitiateMobileMoney(r.Context(), actorFromContext(r), service.MobileMoneyInput{
		Plan:        req.Plan,
		PhoneNumber: req.PhoneNumber,
		Provider:    req.Provider,
		AutoRenew:   req.AutoRenew,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, outcome)
}
