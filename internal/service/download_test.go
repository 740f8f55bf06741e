package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigkaa/golexstore/internal/domain/model"
	"github.com/bigkaa/golexstore/internal/storage/bucketstore"
)

// seedDocument записывает файл в хранилище и возвращает документ,
// ссылающийся на него.
func seedDocument(t *testing.T, store *bucketstore.Store, accessLevel string, status model.DocumentStatus) (*model.Document, string) {
	t.Helper()

	content := "содержимое документа"
	saved, err := store.Save("gazettes", "2024/gazette.pdf", strings.NewReader(content))
	if err != nil {
		t.Fatalf("Save() ошибка: %v", err)
	}

	doc := &model.Document{
		ID:       "doc-1",
		Title:    "gazette.pdf",
		Category: model.CategoryGazettes,
		FileURL:  bucketstore.PublicURL("http://localhost:8080", saved.Bucket, saved.ObjectPath),
		Meta: model.DocumentMeta{
			Size:        saved.Size,
			ContentType: "application/pdf",
			Status:      status,
			AccessLevel: accessLevel,
		},
	}
	return doc, content
}

func newDownloadService(t *testing.T, doc *model.Document, userRepo *mockUserRepo, store *bucketstore.Store) *DownloadService {
	t.Helper()
	docRepo := &mockDocRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Document, error) {
			if id == doc.ID {
				return doc, nil
			}
			return nil, errors.New("нет такого документа")
		},
	}
	docs := newDocService(t, docRepo, userRepo, store)
	return NewDownloadService(docs, store, slog.Default())
}

// TestDownloadService_Download проверяет отдачу public-документа
// анонимному пользователю.
func TestDownloadService_Download(t *testing.T) {
	store := newTestStore(t)
	doc, content := seedDocument(t, store, "", model.DocumentActive)
	svc := newDownloadService(t, doc, &mockUserRepo{}, store)

	rec := httptest.NewRecorder()
	if err := svc.Download(context.Background(), rec, nil, "doc-1"); err != nil {
		t.Fatalf("Download() ошибка: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, ожидался 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("Content-Type = %q, ожидался application/pdf", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "gazette.pdf") {
		t.Errorf("Content-Disposition = %q, не содержит имени файла", got)
	}
	if rec.Body.String() != content {
		t.Errorf("тело = %q, ожидалось %q", rec.Body.String(), content)
	}
}

// TestDownloadService_Download_Gated проверяет контроль доступа.
func TestDownloadService_Download_Gated(t *testing.T) {
	store := newTestStore(t)
	doc, _ := seedDocument(t, store, "premium", model.DocumentActive)

	gold := model.TierGold
	userRepo := &mockUserRepo{
		getTierFn: func(_ context.Context, id string) (*model.Tier, error) {
			if id == "gold-user" {
				return &gold, nil
			}
			return nil, nil
		},
	}
	svc := newDownloadService(t, doc, userRepo, store)

	// Анонимно
	rec := httptest.NewRecorder()
	if err := svc.Download(context.Background(), rec, nil, "doc-1"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("анонимно: err = %v, ожидался ErrUnauthorized", err)
	}

	// Без подписки
	rec = httptest.NewRecorder()
	if err := svc.Download(context.Background(), rec, &Actor{ID: "free-user"}, "doc-1"); !errors.Is(err, ErrSubscriptionRequired) {
		t.Errorf("без подписки: err = %v, ожидался ErrSubscriptionRequired", err)
	}

	// Gold достаточно для premium
	rec = httptest.NewRecorder()
	if err := svc.Download(context.Background(), rec, &Actor{ID: "gold-user"}, "doc-1"); err != nil {
		t.Errorf("gold → premium: ошибка %v", err)
	}
}

// TestDownloadService_Download_Archived проверяет, что архивные
// документы не скачиваются.
func TestDownloadService_Download_Archived(t *testing.T) {
	store := newTestStore(t)
	doc, _ := seedDocument(t, store, "", model.DocumentArchived)
	svc := newDownloadService(t, doc, &mockUserRepo{}, store)

	rec := httptest.NewRecorder()
	if err := svc.Download(context.Background(), rec, nil, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, ожидался ErrNotFound", err)
	}
}

// TestDownloadService_Proxy проверяет ретрансляцию внешнего URL.
func TestDownloadService_Proxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("внешний файл"))
	}))
	defer upstream.Close()

	store := newTestStore(t)
	doc, _ := seedDocument(t, store, "", model.DocumentActive)
	svc := newDownloadService(t, doc, &mockUserRepo{}, store)

	rec := httptest.NewRecorder()
	if err := svc.Proxy(context.Background(), rec, upstream.URL, "gazette.pdf"); err != nil {
		t.Fatalf("Proxy() ошибка: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, ожидался 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="gazette.pdf"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("ETag"); got != `"v1"` {
		t.Errorf("ETag = %q", got)
	}
	if rec.Body.String() != "внешний файл" {
		t.Errorf("тело = %q", rec.Body.String())
	}
}

// TestDownloadService_Proxy_InvalidURL проверяет отклонение
// некорректных URL.
func TestDownloadService_Proxy_InvalidURL(t *testing.T) {
	store := newTestStore(t)
	doc, _ := seedDocument(t, store, "", model.DocumentActive)
	svc := newDownloadService(t, doc, &mockUserRepo{}, store)

	for _, raw := range []string{"", "not-a-url", "ftp://example.com/file", "/relative/path"} {
		rec := httptest.NewRecorder()
		if err := svc.Proxy(context.Background(), rec, raw, ""); !errors.Is(err, ErrValidation) {
			t.Errorf("Proxy(%q): err = %v, ожидался ErrValidation", raw, err)
		}
	}
}
