// download.go — скачивание документов с контролем доступа по подписке
// и проксирование внешних файлов.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/golexstore/internal/storage/bucketstore"
)

// Prometheus-метрики скачивания.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ls_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ls_download_duration_seconds",
		Help:    "Длительность скачивания документов.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ls_download_bytes_total",
		Help: "Общее количество отданных байт.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ls_active_downloads",
		Help: "Количество скачиваний, выполняемых в данный момент.",
	})

	proxyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ls_proxy_requests_total",
		Help: "Общее количество проксированных запросов (по статусу).",
	}, []string{"status"})
)

// DownloadService — отдача файлов документов и проксирование
// внешних URL.
type DownloadService struct {
	docs       *DocumentService
	store      *bucketstore.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDownloadService создаёт сервис скачивания.
func NewDownloadService(docs *DocumentService, store *bucketstore.Store, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		docs:  docs,
		store: store,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger.With(slog.String("component", "download_service")),
	}
}

// Download отдаёт файл документа в ResponseWriter.
//
// Порядок: документ из кэша/БД → проверка статуса (архивные не
// отдаются) → проверка доступа по подписке → streaming из хранилища.
// Учёт скачивания (downloads++) выполняется только при успешной
// отдаче первого байта.
func (s *DownloadService) Download(ctx context.Context, w http.ResponseWriter, actor *Actor, docID string) error {
	start := time.Now()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	doc, err := s.docs.Get(ctx, docID)
	if err != nil {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return err
	}

	// Архивные документы видны на скачивание только администраторам
	if doc.Meta.IsArchived() {
		if adminErr := requireAdmin(ctx, s.docs.userRepo, actor); adminErr != nil {
			downloadsTotal.WithLabelValues("archived").Inc()
			return ErrNotFound
		}
	}

	if err := s.docs.CheckAccess(ctx, actor, doc); err != nil {
		downloadsTotal.WithLabelValues("denied").Inc()
		return err
	}

	bucket, objectPath, err := bucketstore.ParseObjectURL(doc.FileURL)
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("разбор URL файла: %w", err)
	}

	file, err := s.store.Open(bucket, objectPath)
	if err != nil {
		if errors.Is(err, bucketstore.ErrObjectNotFound) {
			downloadsTotal.WithLabelValues("missing_object").Inc()
			s.logger.Error("Файл документа отсутствует в хранилище",
				slog.String("doc_id", docID),
				slog.String("bucket", bucket),
				slog.String("object_path", objectPath),
			)
			return ErrNotFound
		}
		downloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("открытие файла: %w", err)
	}
	defer file.Close()

	w.Header().Set("Content-Type", doc.Meta.ContentType)
	if doc.Meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.Meta.Size, 10))
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", doc.Title))
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, file)
	downloadBytesTotal.Add(float64(written))
	if err != nil {
		// Заголовки уже отправлены: клиенту статус не поменять,
		// фиксируем обрыв в метриках и логах.
		downloadsTotal.WithLabelValues("stream_error").Inc()
		s.logger.Warn("Обрыв при отдаче файла",
			slog.String("doc_id", docID),
			slog.Int64("written", written),
			slog.String("error", err.Error()),
		)
		return nil
	}

	downloadsTotal.WithLabelValues("success").Inc()
	downloadDuration.Observe(time.Since(start).Seconds())

	var actorID string
	if actor != nil {
		actorID = actor.ID
	}
	s.logger.Info("Документ скачан",
		slog.String("doc_id", docID),
		slog.Int64("bytes", written),
		slog.String("user_id", actorID),
	)
	return nil
}

// Proxy скачивает внешний URL и ретранслирует ответ клиенту.
// Принимаются только абсолютные http/https URL. Тело и ключевые
// заголовки источника передаются без изменений; непустой name
// переопределяет Content-Disposition (имя сохраняемого файла).
func (s *DownloadService) Proxy(ctx context.Context, w http.ResponseWriter, rawURL, name string) error {
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() || (target.Scheme != "http" && target.Scheme != "https") {
		proxyTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: некорректный URL для проксирования", ErrValidation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		proxyTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("создание запроса: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		proxyTotal.WithLabelValues("upstream_error").Inc()
		return fmt.Errorf("запрос к источнику: %w", err)
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	if name != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	w.WriteHeader(resp.StatusCode)

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		proxyTotal.WithLabelValues("stream_error").Inc()
		s.logger.Warn("Обрыв при проксировании",
			slog.String("url", target.String()),
			slog.Int64("written", written),
			slog.String("error", err.Error()),
		)
		return nil
	}

	proxyTotal.WithLabelValues("success").Inc()
	return nil
}

// copyHeaders переносит заголовки содержимого из ответа источника.
func copyHeaders(dst, src http.Header) {
	for _, h := range []string{
		"Content-Type",
		"Content-Length",
		"Content-Disposition",
		"Content-Range",
		"Accept-Ranges",
		"ETag",
		"Last-Modified",
		"Cache-Control",
	} {
		if v := src.Get(h); v != "" {
			dst.Set(h, v)
		}
	}
}
