package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/golexstore/internal/domain/model"
)

// documentColumns — список столбцов таблицы documents для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const documentColumns = `id, title, category, subcategory, file_url, user_id,
	metadata, created_at, updated_at`

// SearchFilters — фильтры поиска документов.
// Нулевые значения — фильтр не применяется.
type SearchFilters struct {
	// Category — точное совпадение категории
	Category string
	// Subcategory — точное совпадение субкатегории
	Subcategory string
	// Status — статус из metadata (active/archived/draft)
	Status string
	// CreatedAfter / CreatedBefore — включающие границы по created_at
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// ContentTypes — членство metadata.type в множестве
	ContentTypes []string
	// Keywords — case-insensitive подстрока в title
	// ИЛИ совпадение с элементом metadata.keywords
	Keywords []string
}

// SortSpec — сортировка результатов поиска.
type SortSpec struct {
	// Field — имя столбца или "metadata.<поле>"
	Field string
	// Desc — направление (по умолчанию ASC)
	Desc bool
}

// DocumentRepository — интерфейс CRUD для таблицы documents.
type DocumentRepository interface {
	// Create создаёт запись документа.
	Create(ctx context.Context, d *model.Document) error
	// GetByID возвращает документ по UUID.
	GetByID(ctx context.Context, id string) (*model.Document, error)
	// Search выполняет поиск документов по фильтрам.
	// limit <= 0 — вернуть все совпадения (без LIMIT).
	// Возвращает: список, общее количество, ошибка.
	Search(ctx context.Context, filters SearchFilters, sort SortSpec, limit, offset int) ([]*model.Document, int, error)
	// Update обновляет title (если non-nil) и выполняет shallow merge
	// metaPatch в ХРАНИМОЕ metadata (jsonb ||): ключи вне patch не теряются.
	Update(ctx context.Context, id string, title *string, metaPatch map[string]any) error
	// Delete выполняет hard delete записи.
	Delete(ctx context.Context, id string) error
}

// documentRepo — реализация DocumentRepository через pgx.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) Create(ctx context.Context, d *model.Document) error {
	metaJSON, err := json.Marshal(d.Meta)
	if err != nil {
		return fmt.Errorf("ошибка сериализации metadata: %w", err)
	}

	query := `
		INSERT INTO documents (id, title, category, subcategory, file_url, user_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		d.ID, d.Title, string(d.Category), d.Subcategory, d.FileURL, d.UserID, metaJSON,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)

	d, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

func (r *documentRepo) Search(ctx context.Context, filters SearchFilters, sort SortSpec, limit, offset int) ([]*model.Document, int, error) {
	where, args := buildDocumentWhere(filters, 1)

	orderBy, err := buildDocumentOrderBy(sort)
	if err != nil {
		return nil, 0, err
	}

	// Пагинация: limit <= 0 — все совпадения, только OFFSET
	argNum := len(args) + 1
	pagination := ""
	if limit > 0 {
		pagination = fmt.Sprintf("LIMIT $%d OFFSET $%d", argNum, argNum+1)
		args = append(args, limit, offset)
	} else if offset > 0 {
		pagination = fmt.Sprintf("OFFSET $%d", argNum)
		args = append(args, offset)
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM documents %s %s %s`,
		documentColumns, where, orderBy, pagination,
	)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска документов: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования документа: %w", scanErr)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	// Общее количество — те же фильтры, без сортировки и пагинации
	countWhere, countArgs := buildDocumentWhere(filters, 1)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM documents %s`, countWhere)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта документов: %w", err)
	}

	return result, total, nil
}

// Update обновляет title и метаданные документа.
// metaPatch применяется оператором jsonb || — shallow merge в хранимое
// значение, так что ключи, отсутствующие в patch, сохраняются.
func (r *documentRepo) Update(ctx context.Context, id string, title *string, metaPatch map[string]any) error {
	patchJSON, err := json.Marshal(metaPatch)
	if err != nil {
		return fmt.Errorf("ошибка сериализации patch: %w", err)
	}

	query := `
		UPDATE documents
		SET title = COALESCE($2, title),
			metadata = metadata || $3::jsonb,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	var updatedAt time.Time
	err = r.db.QueryRow(ctx, query, id, title, patchJSON).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления документа: %w", err)
	}
	return nil
}

func (r *documentRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanDocument сканирует строку documents, разбирая metadata jsonb.
func scanDocument(row pgx.Row) (*model.Document, error) {
	d := &model.Document{}
	var category string
	var metaJSON []byte

	if err := row.Scan(
		&d.ID, &d.Title, &category, &d.Subcategory, &d.FileURL, &d.UserID,
		&metaJSON, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}

	d.Category = model.DocumentCategory(category)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &d.Meta); err != nil {
			return nil, fmt.Errorf("ошибка разбора metadata: %w", err)
		}
	}
	return d, nil
}

// buildDocumentWhere строит WHERE-условие и аргументы для поиска документов.
// startArg — номер первого $-параметра (для корректной нумерации).
func buildDocumentWhere(filters SearchFilters, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	// Точное совпадение категории
	if filters.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argNum))
		args = append(args, filters.Category)
		argNum++
	}

	// Точное совпадение субкатегории
	if filters.Subcategory != "" {
		conditions = append(conditions, fmt.Sprintf("subcategory = $%d", argNum))
		args = append(args, filters.Subcategory)
		argNum++
	}

	// Статус хранится в metadata
	if filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf("metadata->>'status' = $%d", argNum))
		args = append(args, filters.Status)
		argNum++
	}

	// Включающие границы по created_at
	if filters.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *filters.CreatedAfter)
		argNum++
	}
	if filters.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argNum))
		args = append(args, *filters.CreatedBefore)
		argNum++
	}

	// Членство MIME-типа в множестве
	if len(filters.ContentTypes) > 0 {
		conditions = append(conditions, fmt.Sprintf("metadata->>'type' = ANY($%d)", argNum))
		args = append(args, filters.ContentTypes)
		argNum++
	}

	// Ключевые слова: подстрока в title ИЛИ элемент metadata.keywords,
	// case-insensitive; достаточно совпадения любого из ключевых слов
	if len(filters.Keywords) > 0 {
		var kwConditions []string
		for _, kw := range filters.Keywords {
			kwConditions = append(kwConditions, fmt.Sprintf(
				`(title ILIKE $%d OR EXISTS (
					SELECT 1 FROM jsonb_array_elements_text(COALESCE(metadata->'keywords', '[]'::jsonb)) AS kw
					WHERE kw ILIKE $%d))`, argNum, argNum))
			args = append(args, "%"+kw+"%")
			argNum++
		}
		conditions = append(conditions, "("+strings.Join(kwConditions, " OR ")+")")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// metaSortFields — поля metadata, допустимые для сортировки,
// с выражением упорядочивания (числовые — с приведением типа).
var metaSortFields = map[string]string{
	"size":         "(metadata->>'size')::bigint",
	"type":         "metadata->>'type'",
	"status":       "metadata->>'status'",
	"version":      "(metadata->>'version')::int",
	"uploadDate":   "metadata->>'uploadDate'",
	"accessLevel":  "metadata->>'accessLevel'",
	"lastModified": "(metadata->>'lastModified')::bigint",
}

// topSortFields — столбцы documents, допустимые для сортировки.
var topSortFields = map[string]bool{
	"title": true, "category": true, "subcategory": true,
	"created_at": true, "updated_at": true,
}

// buildDocumentOrderBy строит ORDER BY. Поля с префиксом "metadata."
// маршрутизируются в jsonb-выражения. Поле вне whitelist —
// ErrInvalidSortField: ошибка отдаётся вызывающему вместо
// неявного неопределённого порядка.
func buildDocumentOrderBy(sort SortSpec) (string, error) {
	field := sort.Field
	if field == "" {
		field = "created_at"
	}

	var expr string
	if metaField, ok := strings.CutPrefix(field, "metadata."); ok {
		expr, ok = metaSortFields[metaField]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrInvalidSortField, field)
		}
	} else {
		if !topSortFields[field] {
			return "", fmt.Errorf("%w: %s", ErrInvalidSortField, field)
		}
		expr = field
	}

	direction := "ASC"
	if sort.Desc {
		direction = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s", expr, direction), nil
}
