// documents.go — HTTP handlers для операций с документами.
// Upload, Search, Get, Update, Archive/Restore, Delete,
// проверка доступа, скачивание и проксирование внешних URL.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/golexstore/internal/api/errors"
	"github.com/bigkaa/golexstore/internal/service"
)

// UploadDocument обрабатывает POST /api/v1/documents.
// Multipart form: file (обязательно), category (обязательно),
// subcategory, access_level, last_modified (epoch ms), description,
// keywords (через запятую), attendees, case_number, judge,
// act_number, notice_type. Только для администраторов.
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	// Жёсткий лимит на размер тела; превышение прерывает чтение
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB буфер в памяти
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер запроса превышает лимит %d байт", maxErr.Limit))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	var lastModified int64
	if raw := r.FormValue("last_modified"); raw != "" {
		lastModified, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректное значение last_modified: %q", raw))
			return
		}
	}

	doc, err := h.docs.Upload(r.Context(), actorFromContext(r), service.UploadInput{
		Filename:     header.Filename,
		Category:     r.FormValue("category"),
		Subcategory:  r.FormValue("subcategory"),
		AccessLevel:  r.FormValue("access_level"),
		LastModified: lastModified,
		Keywords:     splitCSV(r.FormValue("keywords")),
		Description:  r.FormValue("description"),
		Attendees:    r.FormValue("attendees"),
		CaseNumber:   r.FormValue("case_number"),
		Judge:        r.FormValue("judge"),
		ActNumber:    r.FormValue("act_number"),
		NoticeType:   r.FormValue("notice_type"),
		Reader:       file,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// SearchDocuments обрабатывает GET /api/v1/documents.
// Фильтры: category, subcategory, status, keywords, content_type,
// created_after, created_before. Сортировка: sort, order=desc.
// Пагинация: limit, offset.
func (h *APIHandler) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	in := service.SearchInput{
		Category:     q.Get("category"),
		Subcategory:  q.Get("subcategory"),
		Status:       q.Get("status"),
		Keywords:     splitCSV(q.Get("keywords")),
		ContentTypes: splitCSV(q.Get("content_type")),
		SortField:    q.Get("sort"),
		SortDesc:     q.Get("order") == "desc",
	}
	in.Limit, in.Offset = paginationParams(r)

	var err error
	if in.CreatedAfter, err = timeQuery(q.Get("created_after")); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное значение created_after: %s", err.Error()))
		return
	}
	if in.CreatedBefore, err = timeQuery(q.Get("created_before")); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное значение created_before: %s", err.Error()))
		return
	}

	result, err := h.docs.Search(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetDocument обрабатывает GET /api/v1/documents/{id}.
func (h *APIHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// UpdateDocument обрабатывает PATCH /api/v1/documents/{id}.
// Тело: {"title": ..., "metadata": {...}} — частичное обновление,
// metadata объединяется с сохранённым значением. Только admin.
func (h *APIHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title *string        `json:"title"`
		Meta  map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	doc, err := h.docs.Update(r.Context(), actorFromContext(r), chi.URLParam(r, "id"), service.UpdateInput{
		Title: req.Title,
		Meta:  req.Meta,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// ArchiveDocument обрабатывает POST /api/v1/documents/{id}/archive.
func (h *APIHandler) ArchiveDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Archive(r.Context(), actorFromContext(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// RestoreDocument обрабатывает POST /api/v1/documents/{id}/restore.
func (h *APIHandler) RestoreDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Restore(r.Context(), actorFromContext(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument обрабатывает DELETE /api/v1/documents/{id}.
// Необратимо удаляет файл и запись. Только admin.
func (h *APIHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.Delete(r.Context(), actorFromContext(r), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CheckDocumentAccess обрабатывает GET /api/v1/documents/{id}/access.
// Возвращает {"allowed": bool}: допускает ли уровень подписки
// текущего субъекта скачивание документа.
func (h *APIHandler) CheckDocumentAccess(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	allowed := true
	if err := h.docs.CheckAccess(r.Context(), actorFromContext(r), doc); err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrSubscriptionRequired):
			allowed = false
		default:
			h.writeServiceError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// DownloadDocument обрабатывает GET /api/v1/documents/{id}/download.
// Стримит файл из bucket-хранилища с проверкой уровня доступа.
func (h *APIHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	err := h.downloads.Download(r.Context(), w, actorFromContext(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
	}
}

// ProxyDownload обрабатывает GET /api/v1/proxy/download?url=&name=.
// Ретранслирует внешний URL аутентифицированному клиенту; name
// задаёт имя сохраняемого файла (Content-Disposition).
func (h *APIHandler) ProxyDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawURL := q.Get("url")
	if rawURL == "" {
		apierrors.ValidationError(w, "Параметр 'url' обязателен")
		return
	}

	if err := h.downloads.Proxy(r.Context(), w, rawURL, q.Get("name")); err != nil {
		h.writeServiceError(w, r, err)
	}
}

// splitCSV разбирает список значений через запятую, отбрасывая пустые.
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// timeQuery разбирает временной query-параметр в формате RFC3339.
func timeQuery(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("ожидается формат RFC3339: %q", raw)
	}
	return &t, nil
}
