// handler.go — основной обработчик API LexStore.
// Объединяет health и бизнес-обработчики, регистрирует маршруты,
// транслирует ошибки сервисного слоя в HTTP-ответы единого формата.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/golexstore/internal/api/errors"
	"github.com/bigkaa/golexstore/internal/api/middleware"
	"github.com/bigkaa/golexstore/internal/repository"
	"github.com/bigkaa/golexstore/internal/service"
)

// APIHandler — основной обработчик API LexStore.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	docs      *service.DocumentService
	downloads *service.DownloadService
	payments  *service.PaymentService
	subs      *service.SubscriptionService
	health    *HealthHandler
	auth      *middleware.JWTAuth

	// maxUploadBytes — лимит размера multipart-запроса загрузки
	maxUploadBytes int64
	// bucketsDir — корень bucket-хранилища для публичной раздачи файлов
	bucketsDir string

	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	docs *service.DocumentService,
	downloads *service.DownloadService,
	payments *service.PaymentService,
	subs *service.SubscriptionService,
	health *HealthHandler,
	auth *middleware.JWTAuth,
	maxUploadBytes int64,
	bucketsDir string,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		docs:           docs,
		downloads:      downloads,
		payments:       payments,
		subs:           subs,
		health:         health,
		auth:           auth,
		maxUploadBytes: maxUploadBytes,
		bucketsDir:     bucketsDir,
		logger:         logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует маршруты API на chi-роутере.
//
// Аутентификация по группам:
//   - health и metrics — без аутентификации
//   - чтение каталога (поиск, метаданные, проверка доступа, скачивание)
//     и тарифные планы — опциональный JWT: анонимы видят каталог
//     и public-документы
//   - мутации документов, proxy, подписки и платежи — обязательный JWT
func (h *APIHandler) Routes(r chi.Router) {
	// Health endpoints — вне аутентификации
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	// Публичная раздача файлов по file_url документов.
	// Закрытые документы скачиваются через /documents/{id}/download;
	// прямой URL выдаётся клиенту только после проверки доступа.
	r.Get("/buckets/*", h.serveBucketFile)

	r.Route("/api/v1", func(r chi.Router) {
		// Чтение каталога — опциональный JWT
		r.Group(func(r chi.Router) {
			r.Use(h.auth.OptionalMiddleware())

			r.Get("/documents", h.SearchDocuments)
			r.Get("/documents/{id}", h.GetDocument)
			r.Get("/documents/{id}/access", h.CheckDocumentAccess)
			r.Get("/documents/{id}/download", h.DownloadDocument)

			r.Get("/subscriptions/plans", h.ListPlans)
		})

		// Остальные операции — обязательный JWT
		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware())

			r.Post("/documents", h.UploadDocument)
			r.Patch("/documents/{id}", h.UpdateDocument)
			r.Delete("/documents/{id}", h.DeleteDocument)
			r.Post("/documents/{id}/archive", h.ArchiveDocument)
			r.Post("/documents/{id}/restore", h.RestoreDocument)

			r.Get("/proxy/download", h.ProxyDownload)

			r.Get("/subscriptions/active", h.ActiveSubscription)
			r.Get("/subscriptions", h.ListSubscriptions)
			r.Post("/subscriptions/{id}/cancel", h.CancelSubscription)
			r.Post("/subscriptions/card/intent", h.CreateCardIntent)
			r.Post("/subscriptions/card/complete", h.CompleteCardPayment)
			r.Post("/subscriptions/mobile-money", h.InitiateMobileMoney)

			r.Get("/payments", h.ListPayments)
			r.Get("/payments/{id}", h.GetPayment)
			r.Post("/payments/{id}/refund", h.RefundPayment)
			r.Patch("/payments/{id}/status", h.UpdatePaymentStatus)
		})
	})
}

// serveBucketFile раздаёт файл из bucket-хранилища.
// Листинг директорий и temp-файлы (.tmp) не отдаются.
func (h *APIHandler) serveBucketFile(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/buckets/")
	if rel == "" || strings.HasSuffix(rel, "/") || strings.HasSuffix(rel, ".tmp") {
		apierrors.NotFound(w, "Объект не найден")
		return
	}
	http.StripPrefix("/buckets/", http.FileServer(http.Dir(h.bucketsDir))).ServeHTTP(w, r)
}

// --- Вспомогательные функции ---

// actorFromContext извлекает субъекта запроса из JWT-claims.
// nil — анонимный запрос (opt-in маршруты).
func actorFromContext(r *http.Request) *service.Actor {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return nil
	}
	return &service.Actor{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError транслирует ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и возвращаются как 500 без деталей.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		apierrors.Unauthorized(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrSubscriptionRequired):
		apierrors.SubscriptionRequired(w, err.Error())
	case errors.Is(err, service.ErrGatewayUnavailable):
		apierrors.GatewayUnavailable(w, err.Error())
	case errors.Is(err, repository.ErrConflict):
		apierrors.Conflict(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// paginationParams разбирает limit/offset из query string.
// Пустые и некорректные значения — нули (сервис подставит значения
// по умолчанию и проверит границы).
func paginationParams(r *http.Request) (limit, offset int) {
	limit = intQuery(r, "limit")
	offset = intQuery(r, "offset")
	return limit, offset
}

// intQuery возвращает целочисленный query-параметр или 0.
func intQuery(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
