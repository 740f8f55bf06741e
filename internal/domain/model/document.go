// Пакет model — доменные модели Lexstore.
// Document — запись документа в библиотеке: метаданные в PostgreSQL,
// файл — в bucket-хранилище (одна директория на категорию).
package model

import (
	"encoding/json"
	"time"
)

// DocumentCategory — категория документа. Определяет bucket хранения.
type DocumentCategory string

// Категории документов библиотеки.
const (
	CategoryHansards     DocumentCategory = "Hansards"
	CategoryCourtRecords DocumentCategory = "Courts of Record"
	CategoryActs         DocumentCategory = "Acts of Parliament"
	CategoryStatutory    DocumentCategory = "Statutory Instruments"
	CategoryGazettes     DocumentCategory = "Gazettes"
	CategoryRevised      DocumentCategory = "7th Revised Edition"
	CategoryArchival     DocumentCategory = "Archival Materials"
	CategoryLegalNotices DocumentCategory = "Legal Notices"
)

// categoryBuckets — фиксированная карта категория → bucket.
// Категории вне карты отклоняются при загрузке.
var categoryBuckets = map[DocumentCategory]string{
	CategoryHansards:     "hansards",
	CategoryCourtRecords: "judgements",
	CategoryActs:         "acts",
	CategoryStatutory:    "statutory",
	CategoryGazettes:     "gazettes",
	CategoryRevised:      "revised",
	CategoryArchival:     "archival_materials",
	CategoryLegalNotices: "legal_notices",
}

// Bucket возвращает имя bucket для категории.
// ok == false для категорий вне фиксированной карты.
func (c DocumentCategory) Bucket() (bucket string, ok bool) {
	bucket, ok = categoryBuckets[c]
	return bucket, ok
}

// Buckets возвращает полный список bucket-ов хранилища.
func Buckets() []string {
	result := make([]string, 0, len(categoryBuckets))
	for _, b := range categoryBuckets {
		result = append(result, b)
	}
	return result
}

// DocumentStatus — статус документа в жизненном цикле.
type DocumentStatus string

const (
	// DocumentActive — документ доступен для поиска и скачивания
	DocumentActive DocumentStatus = "active"
	// DocumentArchived — документ в архиве (soft delete, обратимо)
	DocumentArchived DocumentStatus = "archived"
	// DocumentDraft — черновик, не опубликован
	DocumentDraft DocumentStatus = "draft"
)

// Document — запись документа в таблице documents.
// Meta хранится в колонке metadata (jsonb).
type Document struct {
	// ID — уникальный идентификатор документа (UUID v4)
	ID string `json:"id"`
	// Title — отображаемое имя, при загрузке = имя файла
	Title string `json:"title"`
	// Category — категория (определяет bucket)
	Category DocumentCategory `json:"category"`
	// Subcategory — свободная группировка (например, "Hansards 2024")
	Subcategory string `json:"subcategory"`
	// FileURL — публичный URL файла в bucket-хранилище
	FileURL string `json:"file_url"`
	// UserID — идентификатор загрузившего пользователя
	UserID string `json:"user_id"`
	// Meta — структурированные метаданные (jsonb)
	Meta DocumentMeta `json:"metadata"`
	// CreatedAt / UpdatedAt — временные метки, назначаются БД
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentMeta — метаданные документа. Вместо открытого map —
// явная структура с опциональными полями; неизвестные ключи
// сохраняются в Extra и переживают merge при обновлениях.
type DocumentMeta struct {
	// Size — размер файла в байтах
	Size int64 `json:"size"`
	// ContentType — MIME-тип, определяется по расширению
	ContentType string `json:"type"`
	// LastModified — mtime исходного файла (epoch ms)
	LastModified int64 `json:"lastModified,omitempty"`
	// Status — active | archived | draft
	Status DocumentStatus `json:"status"`
	// Version — версия документа
	Version int `json:"version"`
	// UploadedBy — идентификатор пользователя (sub из JWT)
	UploadedBy string `json:"uploadedBy"`
	// UploadDate — дата загрузки (ISO)
	UploadDate time.Time `json:"uploadDate"`
	// AccessLevel — уровень доступа; пустое значение трактуется как public
	AccessLevel string `json:"accessLevel,omitempty"`

	// --- Опциональные доменные поля ---

	Keywords    []string `json:"keywords,omitempty"`
	Description string   `json:"description,omitempty"`
	// Attendees — участники заседания (Hansards)
	Attendees string `json:"attendees,omitempty"`
	// CaseNumber, Judge — реквизиты судебного решения (Courts of Record)
	CaseNumber string `json:"caseNumber,omitempty"`
	Judge      string `json:"judge,omitempty"`
	// ActNumber — номер акта (Acts of Parliament)
	ActNumber string `json:"actNumber,omitempty"`
	// NoticeType — тип уведомления (Legal Notices)
	NoticeType string `json:"noticeType,omitempty"`

	// --- Служебные метки, проставляются при мутациях ---

	LastModifiedBy string     `json:"lastModifiedBy,omitempty"`
	LastModifiedAt *time.Time `json:"lastModifiedAt,omitempty"`
	ArchivedAt     *time.Time `json:"archivedAt,omitempty"`
	RestoredAt     *time.Time `json:"restoredAt,omitempty"`

	// Extra — неизвестные ключи metadata. Сохраняются при merge,
	// чтобы частичное обновление не теряло чужие поля.
	Extra map[string]json.RawMessage `json:"-"`
}

// metaAlias — алиас без методов для (un)marshal внутри DocumentMeta.
type metaAlias DocumentMeta

// knownMetaKeys — ключи, которые сериализуются явными полями структуры.
var knownMetaKeys = map[string]bool{
	"size": true, "type": true, "lastModified": true, "status": true,
	"version": true, "uploadedBy": true, "uploadDate": true,
	"accessLevel": true, "keywords": true, "description": true,
	"attendees": true, "caseNumber": true, "judge": true,
	"actNumber": true, "noticeType": true,
	"lastModifiedBy": true, "lastModifiedAt": true,
	"archivedAt": true, "restoredAt": true,
}

// MarshalJSON сериализует известные поля + ключи из Extra.
func (m DocumentMeta) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(metaAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if !knownMetaKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON десериализует известные поля и складывает
// неизвестные ключи в Extra.
func (m *DocumentMeta) UnmarshalJSON(data []byte) error {
	var alias metaAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = DocumentMeta(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if !knownMetaKeys[k] {
			if m.Extra == nil {
				m.Extra = make(map[string]json.RawMessage)
			}
			m.Extra[k] = v
		}
	}
	return nil
}

// EffectiveAccessLevel возвращает уровень доступа документа.
// Пустое значение — public.
func (m *DocumentMeta) EffectiveAccessLevel() string {
	if m.AccessLevel == "" {
		return "public"
	}
	return m.AccessLevel
}

// IsArchived проверяет, что документ в архиве.
func (m *DocumentMeta) IsArchived() bool {
	return m.Status == DocumentArchived
}
