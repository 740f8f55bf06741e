// payments.go — HTTP handlers платёжной отчётности.
// Список платежей, карточка платежа, возврат и корректировка статуса.
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

// ListPayments обрабатывает GET /api/v1/payments.
// Фильтры: user_id, status, method, after, before; пагинация limit/offset.
// Admin видит все платежи, обычный пользователь — только свои.
func (h *APIHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	in := service.PaymentListInput{
		UserID: q.Get("user_id"),
		Status: q.Get("status"),
		Method: q.Get("method"),
	}
	in.Limit, in.Offset = paginationParams(r)

	var err error
	if in.After, err = timeQuery(q.Get("after")); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное значение after: %s", err.Error()))
		return
	}
	if in.Before, err = timeQuery(q.Get("before")); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное значение before: %s", err.Error()))
		return
	}

	list, err := h.payments.List(r.Context(), actorFromContext(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// GetPayment обрабатывает GET /api/v1/payments/{id}.
// Доступно владельцу платежа и администратору.
func (h *APIHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.payments.Get(r.Context(), actorFromContext(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, payment)
}

// RefundPayment обрабатывает POST /api/v1/payments/{id}/refund.
// Возврат завершённого платежа: платёж и подписка переводятся
// в refunded, tier пересчитывается. Только admin.
func (h *APIHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.payments.Refund(r.Context(), actorFromContext(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, payment)
}

// UpdatePaymentStatus обрабатывает PATCH /api/v1/payments/{id}/status.
// Тело: {"status": "completed"|"pending"|"failed"}. Перевод в completed
// подтверждает pending-подписку mobile money. Только admin.
func (h *APIHandler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	payment, err := h.payments.UpdateStatus(r.Context(), actorFromContext(r), chi.URLParam(r, "id"), model.PaymentStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, payment)
}
