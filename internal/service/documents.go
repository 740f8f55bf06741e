// documents.go — сервис управления документами библиотеки.
// Полный pipeline загрузки: валидация → bucket по категории →
// streaming запись файла → регистрация в БД (с компенсацией при ошибке).
// Мутации (update/archive/restore/delete) доступны только администраторам.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/golexstore/internal/domain/access"
	"github.com/bigkaa/golexstore/internal/domain/model"
	"github.com/bigkaa/golexstore/internal/repository"
	"github.com/bigkaa/golexstore/internal/storage/bucketstore"
)

// Ошибки сервисного слоя.
var (
	// ErrNotFound — документ не найден.
	ErrNotFound = errors.New("документ не найден")
	// ErrUnauthorized — операция требует аутентификации.
	ErrUnauthorized = errors.New("требуется аутентификация")
	// ErrForbidden — недостаточно прав (операция только для администраторов).
	ErrForbidden = errors.New("недостаточно прав")
	// ErrSubscriptionRequired — уровень подписки не даёт доступа к документу.
	ErrSubscriptionRequired = errors.New("требуется подписка более высокого уровня")
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("некорректные входные данные")
)

// allowedExtensions — допустимые расширения файлов и их MIME-типы.
var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".rtf":  "application/rtf",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Prometheus-метрики документов.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ls_uploads_total",
		Help: "Общее количество загрузок документов (по статусу).",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ls_upload_bytes_total",
		Help: "Общее количество записанных байт при загрузке.",
	})

	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ls_search_total",
		Help: "Общее количество поисковых запросов.",
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ls_search_duration_seconds",
		Help:    "Длительность поисковых запросов.",
		Buckets: prometheus.DefBuckets,
	})
)

// Actor — аутентифицированный субъект запроса.
// nil *Actor означает анонимный запрос.
type Actor struct {
	// ID — идентификатор пользователя (sub из JWT)
	ID string
	// Email, Name — профиль из JWT
	Email string
	Name  string
}

// UploadInput — входные данные загрузки документа.
type UploadInput struct {
	// Filename — исходное имя файла (становится Title)
	Filename string
	// Category — категория документа (определяет bucket)
	Category string
	// Subcategory — свободная группировка внутри категории
	Subcategory string
	// AccessLevel — уровень доступа (пустой — public)
	AccessLevel string
	// LastModified — mtime исходного файла, epoch ms (0 — неизвестно)
	LastModified int64

	// Опциональные доменные метаданные
	Keywords    []string
	Description string
	Attendees   string
	CaseNumber  string
	Judge       string
	ActNumber   string
	NoticeType  string

	// Reader — содержимое файла
	Reader io.Reader
}

// SearchInput — параметры поиска документов.
type SearchInput struct {
	Category      string
	Subcategory   string
	Status        string
	Keywords      []string
	ContentTypes  []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	SortField     string
	SortDesc      bool
	Limit         int
	Offset        int
}

// SearchResult — результат поиска с пагинацией.
type SearchResult struct {
	// Items — найденные документы
	Items []*model.Document
	// Total — общее количество совпадений
	Total int
	// Limit — запрошенный лимит
	Limit int
	// Offset — текущее смещение
	Offset int
	// HasMore — есть ли ещё результаты
	HasMore bool
}

// UpdateInput — частичное обновление документа.
type UpdateInput struct {
	// Title — новый заголовок (nil — не менять)
	Title *string
	// Meta — патч метаданных (merge с сохранённым значением)
	Meta map[string]any
}

// DocumentService — сервис управления документами.
type DocumentService struct {
	docRepo  repository.DocumentRepository
	userRepo repository.UserRepository
	store    *bucketstore.Store
	cache    *CacheService
	baseURL  string
	logger   *slog.Logger
}

// NewDocumentService создаёт сервис документов.
func NewDocumentService(
	docRepo repository.DocumentRepository,
	userRepo repository.UserRepository,
	store *bucketstore.Store,
	cache *CacheService,
	baseURL string,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		docRepo:  docRepo,
		userRepo: userRepo,
		store:    store,
		cache:    cache,
		baseURL:  baseURL,
		logger:   logger.With(slog.String("component", "document_service")),
	}
}

// requireAdmin проверяет, что actor аутентифицирован и имеет роль admin.
// Роль читается из БД на каждый вызов: отзыв прав действует сразу.
func requireAdmin(ctx context.Context, users repository.UserRepository, actor *Actor) error {
	if actor == nil {
		return ErrUnauthorized
	}
	role, err := users.GetRole(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrForbidden
		}
		return fmt.Errorf("проверка роли пользователя: %w", err)
	}
	if role != model.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// Upload загружает документ: файл в bucket категории, запись в БД.
//
// Pipeline:
//  1. Проверка прав (только admin)
//  2. Валидация: категория, расширение, уровень доступа
//  3. Streaming запись файла в bucket (temp + SHA-256 + atomic rename)
//  4. Регистрация записи в БД
//  5. При ошибке БД — компенсация: удаление записанного объекта
func (s *DocumentService) Upload(ctx context.Context, actor *Actor, in UploadInput) (*model.Document, error) {
	if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
		uploadsTotal.WithLabelValues("denied").Inc()
		return nil, err
	}

	// Валидация категории → bucket
	category := model.DocumentCategory(in.Category)
	bucket, ok := category.Bucket()
	if !ok {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: неизвестная категория %q", ErrValidation, in.Category)
	}

	// Валидация расширения
	ext := strings.ToLower(filepath.Ext(in.Filename))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: недопустимое расширение файла %q", ErrValidation, ext)
	}

	// Валидация уровня доступа (пустой — public)
	accessLevel := in.AccessLevel
	if accessLevel != "" && !access.IsValidLevel(accessLevel) {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: неизвестный уровень доступа %q", ErrValidation, accessLevel)
	}

	// Streaming запись файла в bucket
	objectPath := bucketstore.GenerateObjectPath(in.Subcategory, in.Filename)
	saved, err := s.store.Save(bucket, objectPath, in.Reader)
	if err != nil {
		uploadsTotal.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("запись файла в хранилище: %w", err)
	}

	now := time.Now().UTC()
	doc := &model.Document{
		ID:          uuid.New().String(),
		Title:       in.Filename,
		Category:    category,
		Subcategory: in.Subcategory,
		FileURL:     bucketstore.PublicURL(s.baseURL, bucket, objectPath),
		UserID:      actor.ID,
		Meta: model.DocumentMeta{
			Size:         saved.Size,
			ContentType:  contentType,
			LastModified: in.LastModified,
			Status:       model.DocumentActive,
			Version:      1,
			UploadedBy:   actor.ID,
			UploadDate:   now,
			AccessLevel:  accessLevel,
			Keywords:     in.Keywords,
			Description:  in.Description,
			Attendees:    in.Attendees,
			CaseNumber:   in.CaseNumber,
			Judge:        in.Judge,
			ActNumber:    in.ActNumber,
			NoticeType:   in.NoticeType,
		},
	}

	// Регистрация в БД с компенсацией: при ошибке вставки удаляем
	// записанный объект, чтобы не копить сирот в хранилище.
	if err := s.docRepo.Create(ctx, doc); err != nil {
		uploadsTotal.WithLabelValues("db_error").Inc()
		if delErr := s.store.Delete(bucket, objectPath); delErr != nil {
			s.logger.Error("Компенсация загрузки не удалась: объект-сирота остался в хранилище",
				slog.String("bucket", bucket),
				slog.String("object_path", objectPath),
				slog.String("error", delErr.Error()),
			)
			return nil, errors.Join(
				fmt.Errorf("регистрация документа: %w", err),
				fmt.Errorf("компенсация (удаление объекта): %w", delErr),
			)
		}
		return nil, fmt.Errorf("регистрация документа: %w", err)
	}

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(saved.Size))

	s.logger.Info("Документ загружен",
		slog.String("doc_id", doc.ID),
		slog.String("category", string(category)),
		slog.String("bucket", bucket),
		slog.Int64("size", saved.Size),
		slog.String("checksum", saved.Checksum),
		slog.String("uploaded_by", actor.ID),
	)

	return doc, nil
}

// Search выполняет поиск документов с фильтрами и пагинацией.
// Фильтрация и сортировка выполняются в БД.
func (s *DocumentService) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	start := time.Now()
	searchTotal.Inc()

	limit := in.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}

	filters := repository.SearchFilters{
		Category:      in.Category,
		Subcategory:   in.Subcategory,
		Status:        in.Status,
		Keywords:      in.Keywords,
		ContentTypes:  in.ContentTypes,
		CreatedAfter:  in.CreatedAfter,
		CreatedBefore: in.CreatedBefore,
	}
	sort := repository.SortSpec{Field: in.SortField, Desc: in.SortDesc}

	items, total, err := s.docRepo.Search(ctx, filters, sort, limit, offset)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidSortField) {
			return nil, fmt.Errorf("%w: недопустимое поле сортировки %q", ErrValidation, in.SortField)
		}
		return nil, fmt.Errorf("поиск документов: %w", err)
	}

	searchDuration.Observe(time.Since(start).Seconds())

	return &SearchResult{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	}, nil
}

// Get возвращает документ по ID (из кэша или БД).
func (s *DocumentService) Get(ctx context.Context, docID string) (*model.Document, error) {
	if doc, ok := s.cache.Get(docID); ok {
		return doc, nil
	}

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение документа: %w", err)
	}

	s.cache.Set(docID, doc)
	return doc, nil
}

// Update выполняет частичное обновление документа (только admin).
// Метаданные сливаются с сохранённым значением в БД: нетронутые
// ключи, включая неизвестные, сохраняются.
func (s *DocumentService) Update(ctx context.Context, actor *Actor, docID string, in UpdateInput) (*model.Document, error) {
	if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
		return nil, err
	}

	if in.Title == nil && len(in.Meta) == 0 {
		return nil, fmt.Errorf("%w: нечего обновлять", ErrValidation)
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, fmt.Errorf("%w: заголовок не может быть пустым", ErrValidation)
	}
	if level, ok := in.Meta["accessLevel"].(string); ok && level != "" && !access.IsValidLevel(level) {
		return nil, fmt.Errorf("%w: неизвестный уровень доступа %q", ErrValidation, level)
	}

	// Служебные метки мутации
	patch := make(map[string]any, len(in.Meta)+2)
	for k, v := range in.Meta {
		patch[k] = v
	}
	patch["lastModifiedBy"] = actor.ID
	patch["lastModifiedAt"] = time.Now().UTC().Format(time.RFC3339)

	if err := s.docRepo.Update(ctx, docID, in.Title, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("обновление документа: %w", err)
	}

	s.cache.Delete(docID)

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("чтение обновлённого документа: %w", err)
	}
	s.cache.Set(docID, doc)

	s.logger.Info("Документ обновлён",
		slog.String("doc_id", docID),
		slog.String("modified_by", actor.ID),
	)
	return doc, nil
}

// Archive переводит документ в архив (soft delete, только admin).
// Файл остаётся в хранилище, операция обратима через Restore.
func (s *DocumentService) Archive(ctx context.Context, actor *Actor, docID string) (*model.Document, error) {
	return s.setStatus(ctx, actor, docID, model.DocumentArchived, "archivedAt")
}

// Restore возвращает документ из архива (только admin).
func (s *DocumentService) Restore(ctx context.Context, actor *Actor, docID string) (*model.Document, error) {
	return s.setStatus(ctx, actor, docID, model.DocumentActive, "restoredAt")
}

// setStatus обновляет статус документа с отметкой времени операции.
func (s *DocumentService) setStatus(ctx context.Context, actor *Actor, docID string, status model.DocumentStatus, stampKey string) (*model.Document, error) {
	if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
		return nil, err
	}

	patch := map[string]any{
		"status":         string(status),
		stampKey:         time.Now().UTC().Format(time.RFC3339),
		"lastModifiedBy": actor.ID,
		"lastModifiedAt": time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.docRepo.Update(ctx, docID, nil, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("смена статуса документа: %w", err)
	}

	s.cache.Delete(docID)

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("чтение документа после смены статуса: %w", err)
	}
	s.cache.Set(docID, doc)

	s.logger.Info("Статус документа изменён",
		slog.String("doc_id", docID),
		slog.String("status", string(status)),
		slog.String("modified_by", actor.ID),
	)
	return doc, nil
}

// Delete безвозвратно удаляет документ: сначала файл из хранилища,
// затем запись из БД (только admin). Удаление файла идемпотентно,
// поэтому повтор операции после сбоя на шаге БД безопасен. Сбой
// между шагами оставляет запись с битой ссылкой — она видна в поиске
// и удаляется повтором.
func (s *DocumentService) Delete(ctx context.Context, actor *Actor, docID string) error {
	if err := requireAdmin(ctx, s.userRepo, actor); err != nil {
		return err
	}

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("получение документа перед удалением: %w", err)
	}

	bucket, objectPath, err := bucketstore.ParseObjectURL(doc.FileURL)
	if err != nil {
		return fmt.Errorf("разбор URL файла при удалении: %w", err)
	}
	if err := s.store.Delete(bucket, objectPath); err != nil {
		return fmt.Errorf("удаление файла документа: %w", err)
	}

	if err := s.docRepo.Delete(ctx, docID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление записи документа: %w", err)
	}

	s.cache.Delete(docID)

	s.logger.Info("Документ удалён",
		slog.String("doc_id", docID),
		slog.String("deleted_by", actor.ID),
	)
	return nil
}

// CheckAccess проверяет, может ли actor скачать документ.
// Анонимный пользователь имеет доступ только к public документам.
// При любой ошибке чтения подписки доступ закрыт (fail closed).
func (s *DocumentService) CheckAccess(ctx context.Context, actor *Actor, doc *model.Document) error {
	level := doc.Meta.EffectiveAccessLevel()
	if level == access.LevelPublic {
		return nil
	}

	if actor == nil {
		return ErrUnauthorized
	}

	tier, err := s.userRepo.GetTier(ctx, actor.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			// Fail closed: без подтверждённой подписки доступа нет,
			// в том числе при сбое чтения подписки
			s.logger.Warn("Ошибка чтения подписки, доступ закрыт",
				slog.String("user_id", actor.ID),
				slog.String("error", err.Error()),
			)
		}
		return ErrSubscriptionRequired
	}
	if tier == nil {
		return ErrSubscriptionRequired
	}

	if !access.HasAccess(string(*tier), level) {
		return ErrSubscriptionRequired
	}
	return nil
}
