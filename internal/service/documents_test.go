package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/golexstore/internal/domain/model"
	"github.com/bigkaa/golexstore/internal/repository"
	"github.com/bigkaa/golexstore/internal/storage/bucketstore"
)

// --- Mock repositories ---

// mockDocRepo — мок DocumentRepository для unit-тестов.
type mockDocRepo struct {
	createFn  func(ctx context.Context, d *model.Document) error
	getByIDFn func(ctx context.Context, id string) (*model.Document, error)
	searchFn  func(ctx context.Context, filters repository.SearchFilters, sort repository.SortSpec, limit, offset int) ([]*model.Document, int, error)
	updateFn  func(ctx context.Context, id string, title *string, metaPatch map[string]any) error
	deleteFn  func(ctx context.Context, id string) error
}

func (m *mockDocRepo) Create(ctx context.Context, d *model.Document) error {
	if m.createFn != nil {
		return m.createFn(ctx, d)
	}
	return nil
}

func (m *mockDocRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDocRepo) Search(ctx context.Context, filters repository.SearchFilters, sort repository.SortSpec, limit, offset int) ([]*model.Document, int, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, filters, sort, limit, offset)
	}
	return nil, 0, nil
}

func (m *mockDocRepo) Update(ctx context.Context, id string, title *string, metaPatch map[string]any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, title, metaPatch)
	}
	return nil
}

func (m *mockDocRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockUserRepo — мок UserRepository для unit-тестов.
type mockUserRepo struct {
	getRoleFn func(ctx context.Context, id string) (model.Role, error)
	getTierFn func(ctx context.Context, id string) (*model.Tier, error)
	upsertFn  func(ctx context.Context, u *model.User) error
}

func (m *mockUserRepo) Create(ctx context.Context, u *model.User) error { return nil }

func (m *mockUserRepo) Upsert(ctx context.Context, u *model.User) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, u)
	}
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return nil, repository.ErrNotFound
}

func (m *mockUserRepo) GetRole(ctx context.Context, id string) (model.Role, error) {
	if m.getRoleFn != nil {
		return m.getRoleFn(ctx, id)
	}
	return "", repository.ErrNotFound
}

func (m *mockUserRepo) GetTier(ctx context.Context, id string) (*model.Tier, error) {
	if m.getTierFn != nil {
		return m.getTierFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockUserRepo) UpdateTier(ctx context.Context, id string, tier model.Tier) error { return nil }
func (m *mockUserRepo) ClearTier(ctx context.Context, id string) error                   { return nil }
func (m *mockUserRepo) ClearTierStale(ctx context.Context, userIDs []string) (int64, error) {
	return 0, nil
}

// adminRepo возвращает mockUserRepo, считающий указанного пользователя админом.
func adminRepo(adminID string) *mockUserRepo {
	return &mockUserRepo{
		getRoleFn: func(_ context.Context, id string) (model.Role, error) {
			if id == adminID {
				return model.RoleAdmin, nil
			}
			return model.RoleUser, nil
		},
	}
}

// newTestStore создаёт bucketstore во временном каталоге.
func newTestStore(t *testing.T) *bucketstore.Store {
	t.Helper()
	store, err := bucketstore.New(t.TempDir(), model.Buckets())
	if err != nil {
		t.Fatalf("bucketstore.New() ошибка: %v", err)
	}
	return store
}

func newDocService(t *testing.T, docRepo repository.DocumentRepository, userRepo repository.UserRepository, store *bucketstore.Store) *DocumentService {
	t.Helper()
	cache := NewCacheService(100, 5*time.Minute)
	return NewDocumentService(docRepo, userRepo, store, cache,
		"http://localhost:8080", slog.Default())
}

// --- Тесты Upload ---

// TestDocumentService_Upload проверяет полный pipeline загрузки.
func TestDocumentService_Upload(t *testing.T) {
	store := newTestStore(t)
	var created *model.Document
	docRepo := &mockDocRepo{
		createFn: func(_ context.Context, d *model.Document) error {
			created = d
			return nil
		},
	}
	svc := newDocService(t, docRepo, adminRepo("admin-1"), store)

	content := []byte("judgment text")
	doc, err := svc.Upload(context.Background(), &Actor{ID: "admin-1"}, UploadInput{
		Filename:    "ruling.pdf",
		Category:    "Courts of Record",
		Subcategory: "Civil Division",
		AccessLevel: "premium",
		Keywords:    []string{"appeal"},
		Reader:      bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}

	if created == nil {
		t.Fatal("документ не передан в repository.Create")
	}
	if doc.Title != "ruling.pdf" {
		t.Errorf("Title = %q, ожидался ruling.pdf", doc.Title)
	}
	if doc.Meta.Size != int64(len(content)) {
		t.Errorf("Meta.Size = %d, ожидался %d", doc.Meta.Size, len(content))
	}
	if doc.Meta.ContentType != "application/pdf" {
		t.Errorf("Meta.ContentType = %q, ожидался application/pdf", doc.Meta.ContentType)
	}
	if doc.Meta.Status != model.DocumentActive {
		t.Errorf("Meta.Status = %q, ожидался active", doc.Meta.Status)
	}
	if doc.Meta.Version != 1 {
		t.Errorf("Meta.Version = %d, ожидался 1", doc.Meta.Version)
	}
	if doc.Meta.UploadedBy != "admin-1" {
		t.Errorf("Meta.UploadedBy = %q, ожидался admin-1", doc.Meta.UploadedBy)
	}

	// Файл реально записан в bucket
	bucket, objectPath, err := bucketstore.ParseObjectURL(doc.FileURL)
	if err != nil {
		t.Fatalf("ParseObjectURL(%q) ошибка: %v", doc.FileURL, err)
	}
	if !store.Exists(bucket, objectPath) {
		t.Errorf("файл %s/%s отсутствует в хранилище", bucket, objectPath)
	}
}

// TestDocumentService_Upload_AccessControl проверяет права на загрузку.
func TestDocumentService_Upload_AccessControl(t *testing.T) {
	svc := newDocService(t, &mockDocRepo{}, adminRepo("admin-1"), newTestStore(t))

	in := UploadInput{
		Filename: "doc.pdf",
		Category: "Acts of Parliament",
		Reader:   strings.NewReader("x"),
	}

	if _, err := svc.Upload(context.Background(), nil, in); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("анонимная загрузка: err = %v, ожидался ErrUnauthorized", err)
	}
	if _, err := svc.Upload(context.Background(), &Actor{ID: "user-1"}, in); !errors.Is(err, ErrForbidden) {
		t.Errorf("загрузка не-админом: err = %v, ожидался ErrForbidden", err)
	}
}

// TestDocumentService_Upload_Validation проверяет отклонение
// некорректных входных данных до записи файла.
func TestDocumentService_Upload_Validation(t *testing.T) {
	svc := newDocService(t, &mockDocRepo{}, adminRepo("admin-1"), newTestStore(t))
	actor := &Actor{ID: "admin-1"}

	tests := []struct {
		name string
		in   UploadInput
	}{
		{"неизвестная категория", UploadInput{
			Filename: "doc.pdf", Category: "UNKNOWN", Reader: strings.NewReader("x"),
		}},
		{"недопустимое расширение", UploadInput{
			Filename: "doc.exe", Category: "Acts of Parliament", Reader: strings.NewReader("x"),
		}},
		{"неизвестный уровень доступа", UploadInput{
			Filename: "doc.pdf", Category: "Acts of Parliament",
			AccessLevel: "secret", Reader: strings.NewReader("x"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Upload(context.Background(), actor, tt.in)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, ожидался ErrValidation", err)
			}
		})
	}
}

// TestDocumentService_Upload_Compensation проверяет удаление файла
// при ошибке регистрации в БД.
func TestDocumentService_Upload_Compensation(t *testing.T) {
	store := newTestStore(t)
	docRepo := &mockDocRepo{
		createFn: func(_ context.Context, _ *model.Document) error {
			return errors.New("db down")
		},
	}
	svc := newDocService(t, docRepo, adminRepo("admin-1"), store)

	_, err := svc.Upload(context.Background(), &Actor{ID: "admin-1"}, UploadInput{
		Filename: "doc.pdf",
		Category: "Acts of Parliament",
		Reader:   strings.NewReader("content"),
	})
	if err == nil {
		t.Fatal("Upload() должен вернуть ошибку при недоступной БД")
	}

	// Объектов-сирот в хранилище не осталось
	var files int
	_ = filepath.WalkDir(store.DataDir(), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files++
		}
		return nil
	})
	if files != 0 {
		t.Errorf("в хранилище осталось %d файлов, ожидался 0 (компенсация)", files)
	}
}

// --- Тесты Get / Search ---

// TestDocumentService_Get_CacheHit проверяет, что повторное чтение
// не обращается к repository.
func TestDocumentService_Get_CacheHit(t *testing.T) {
	callCount := 0
	docRepo := &mockDocRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Document, error) {
			callCount++
			return &model.Document{ID: id, Title: "cached.pdf"}, nil
		},
	}
	svc := newDocService(t, docRepo, &mockUserRepo{}, newTestStore(t))

	for range 3 {
		if _, err := svc.Get(context.Background(), "doc-1"); err != nil {
			t.Fatalf("Get() ошибка: %v", err)
		}
	}
	if callCount != 1 {
		t.Errorf("repository.GetByID вызван %d раз, ожидался 1 (кэш)", callCount)
	}
}

// TestDocumentService_Search_Pagination проверяет нормализацию
// limit/offset и флаг HasMore.
func TestDocumentService_Search_Pagination(t *testing.T) {
	docRepo := &mockDocRepo{
		searchFn: func(_ context.Context, _ repository.SearchFilters, _ repository.SortSpec, limit, offset int) ([]*model.Document, int, error) {
			if limit != 50 {
				t.Errorf("limit = %d, ожидался 50 (значение по умолчанию)", limit)
			}
			return []*model.Document{{ID: "d1"}}, 5, nil
		},
	}
	svc := newDocService(t, docRepo, &mockUserRepo{}, newTestStore(t))

	result, err := svc.Search(context.Background(), SearchInput{Limit: -1})
	if err != nil {
		t.Fatalf("Search() ошибка: %v", err)
	}
	if result.Total != 5 {
		t.Errorf("Total = %d, ожидался 5", result.Total)
	}
	if !result.HasMore {
		t.Error("HasMore = false, ожидался true (total=5, получен 1)")
	}
}

// TestDocumentService_Search_InvalidSort проверяет трансляцию ошибки
// недопустимого поля сортировки.
func TestDocumentService_Search_InvalidSort(t *testing.T) {
	docRepo := &mockDocRepo{
		searchFn: func(_ context.Context, _ repository.SearchFilters, _ repository.SortSpec, _, _ int) ([]*model.Document, int, error) {
			return nil, 0, repository.ErrInvalidSortField
		},
	}
	svc := newDocService(t, docRepo, &mockUserRepo{}, newTestStore(t))

	_, err := svc.Search(context.Background(), SearchInput{SortField: "metadata.evil"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, ожидался ErrValidation", err)
	}
}

// --- Тесты мутаций ---

// TestDocumentService_Update проверяет служебные метки в патче метаданных.
func TestDocumentService_Update(t *testing.T) {
	var gotPatch map[string]any
	docRepo := &mockDocRepo{
		updateFn: func(_ context.Context, _ string, _ *string, metaPatch map[string]any) error {
			gotPatch = metaPatch
			return nil
		},
		getByIDFn: func(_ context.Context, id string) (*model.Document, error) {
			return &model.Document{ID: id}, nil
		},
	}
	svc := newDocService(t, docRepo, adminRepo("admin-1"), newTestStore(t))

	_, err := svc.Update(context.Background(), &Actor{ID: "admin-1"}, "doc-1", UpdateInput{
		Meta: map[string]any{"description": "обновлено"},
	})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}

	if gotPatch["description"] != "обновлено" {
		t.Errorf("patch[description] = %v", gotPatch["description"])
	}
	if gotPatch["lastModifiedBy"] != "admin-1" {
		t.Errorf("patch[lastModifiedBy] = %v, ожидался admin-1", gotPatch["lastModifiedBy"])
	}
	if _, ok := gotPatch["lastModifiedAt"]; !ok {
		t.Error("patch не содержит lastModifiedAt")
	}
}

// TestDocumentService_Update_Empty проверяет отклонение пустого обновления.
func TestDocumentService_Update_Empty(t *testing.T) {
	svc := newDocService(t, &mockDocRepo{}, adminRepo("admin-1"), newTestStore(t))

	_, err := svc.Update(context.Background(), &Actor{ID: "admin-1"}, "doc-1", UpdateInput{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, ожидался ErrValidation", err)
	}
}

// TestDocumentService_ArchiveRestore проверяет смену статуса с отметками времени.
func TestDocumentService_ArchiveRestore(t *testing.T) {
	patches := make([]map[string]any, 0, 2)
	docRepo := &mockDocRepo{
		updateFn: func(_ context.Context, _ string, _ *string, metaPatch map[string]any) error {
			patches = append(patches, metaPatch)
			return nil
		},
		getByIDFn: func(_ context.Context, id string) (*model.Document, error) {
			return &model.Document{ID: id}, nil
		},
	}
	svc := newDocService(t, docRepo, adminRepo("admin-1"), newTestStore(t))
	actor := &Actor{ID: "admin-1"}

	if _, err := svc.Archive(context.Background(), actor, "doc-1"); err != nil {
		t.Fatalf("Archive() ошибка: %v", err)
	}
	if _, err := svc.Restore(context.Background(), actor, "doc-1"); err != nil {
		t.Fatalf("Restore() ошибка: %v", err)
	}

	if len(patches) != 2 {
		t.Fatalf("patches = %d, ожидалось 2", len(patches))
	}
	if patches[0]["status"] != "archived" {
		t.Errorf("Archive: status = %v, ожидался archived", patches[0]["status"])
	}
	if _, ok := patches[0]["archivedAt"]; !ok {
		t.Error("Archive: patch не содержит archivedAt")
	}
	if patches[1]["status"] != "active" {
		t.Errorf("Restore: status = %v, ожидался active", patches[1]["status"])
	}
	if _, ok := patches[1]["restoredAt"]; !ok {
		t.Error("Restore: patch не содержит restoredAt")
	}
}

// TestDocumentService_Delete проверяет удаление файла и записи БД.
func TestDocumentService_Delete(t *testing.T) {
	store := newTestStore(t)
	saved, err := store.Save("acts", "2024/doc.pdf", strings.NewReader("content"))
	if err != nil {
		t.Fatalf("Save() ошибка: %v", err)
	}

	fileURL := bucketstore.PublicURL("http://localhost:8080", saved.Bucket, saved.ObjectPath)
	dbDeleted := false
	docRepo := &mockDocRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Document, error) {
			return &model.Document{ID: id, FileURL: fileURL}, nil
		},
		deleteFn: func(_ context.Context, _ string) error {
			dbDeleted = true
			return nil
		},
	}
	svc := newDocService(t, docRepo, adminRepo("admin-1"), store)

	if err := svc.Delete(context.Background(), &Actor{ID: "admin-1"}, "doc-1"); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if !dbDeleted {
		t.Error("запись БД не удалена")
	}
	if store.Exists(saved.Bucket, saved.ObjectPath) {
		t.Error("файл остался в хранилище после удаления")
	}
}

// --- Тесты CheckAccess ---

// TestDocumentService_CheckAccess проверяет политику доступа по подписке.
func TestDocumentService_CheckAccess(t *testing.T) {
	gold := model.TierGold
	userRepo := &mockUserRepo{
		getTierFn: func(_ context.Context, id string) (*model.Tier, error) {
			switch id {
			case "gold-user":
				return &gold, nil
			case "free-user":
				return nil, nil
			case "flaky-user":
				return nil, fmt.Errorf("connection reset by peer")
			default:
				return nil, repository.ErrNotFound
			}
		},
	}
	svc := newDocService(t, &mockDocRepo{}, userRepo, newTestStore(t))

	docWith := func(level string) *model.Document {
		return &model.Document{ID: "d", Meta: model.DocumentMeta{AccessLevel: level}}
	}

	tests := []struct {
		name    string
		actor   *Actor
		doc     *model.Document
		wantErr error
	}{
		{"public анонимно", nil, docWith(""), nil},
		{"premium анонимно", nil, docWith("premium"), ErrUnauthorized},
		{"premium без подписки", &Actor{ID: "free-user"}, docWith("premium"), ErrSubscriptionRequired},
		{"premium с gold", &Actor{ID: "gold-user"}, docWith("premium"), nil},
		{"exclusive с gold", &Actor{ID: "gold-user"}, docWith("exclusive"), ErrSubscriptionRequired},
		{"неизвестный пользователь", &Actor{ID: "ghost"}, docWith("basic"), ErrSubscriptionRequired},
		// Сбой чтения подписки — отказ в доступе, а не ошибка наружу
		{"ошибка БД — доступ закрыт", &Actor{ID: "flaky-user"}, docWith("premium"), ErrSubscriptionRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckAccess(context.Background(), tt.actor, tt.doc)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckAccess() = %v, ожидался %v", err, tt.wantErr)
			}
		})
	}
}
