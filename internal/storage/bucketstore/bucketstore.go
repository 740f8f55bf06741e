// Пакет bucketstore — bucket-хранилище файлов документов на диске.
// Один bucket — одна директория под корнем данных. Запись streaming
// с подсчётом SHA-256 на лету, temp файл → fsync → atomic rename.
// Перезапись существующих объектов запрещена (ErrObjectExists).
package bucketstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки bucket-хранилища.
var (
	// ErrObjectExists — объект по этому пути уже существует (no overwrite).
	ErrObjectExists = errors.New("объект уже существует")
	// ErrObjectNotFound — объект не найден.
	ErrObjectNotFound = errors.New("объект не найден")
	// ErrInvalidURL — URL объекта не разбирается на bucket и путь.
	ErrInvalidURL = errors.New("некорректный URL объекта")
)

// Store — bucket-хранилище на диске.
type Store struct {
	// dataDir — корневая директория хранения (LS_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения объекта.
type SaveResult struct {
	// Bucket и ObjectPath — адрес объекта в хранилище
	Bucket     string
	ObjectPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт Store и директории всех перечисленных bucket-ов.
func New(dataDir string, buckets []string) (*Store, error) {
	for _, b := range buckets {
		if err := os.MkdirAll(filepath.Join(dataDir, b), 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию bucket %s: %w", b, err)
		}
	}
	return &Store{dataDir: dataDir}, nil
}

// Save записывает данные из reader в bucket по objectPath.
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// Если объект уже существует — ErrObjectExists, данные не трогаются.
func (s *Store) Save(bucket, objectPath string, reader io.Reader) (*SaveResult, error) {
	fullPath, err := s.fullPath(bucket, objectPath)
	if err != nil {
		return nil, err
	}

	// Проверяем коллизию до записи: rename молча перезаписал бы объект
	if _, statErr := os.Stat(fullPath); statErr == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectExists, bucket, objectPath)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории объекта: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Bucket:     bucket,
		ObjectPath: objectPath,
		Size:       size,
		Checksum:   hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает объект для чтения. Вызывающий код обязан закрыть файл.
func (s *Store) Open(bucket, objectPath string) (*os.File, error) {
	fullPath, err := s.fullPath(bucket, objectPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectPath)
		}
		return nil, fmt.Errorf("ошибка открытия объекта %s/%s: %w", bucket, objectPath, err)
	}
	return f, nil
}

// Delete удаляет объект. Возвращает nil, если объект уже не существует.
func (s *Store) Delete(bucket, objectPath string) error {
	fullPath, err := s.fullPath(bucket, objectPath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления объекта %s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

// Exists проверяет существование объекта.
func (s *Store) Exists(bucket, objectPath string) bool {
	fullPath, err := s.fullPath(bucket, objectPath)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(fullPath)
	return statErr == nil
}

// Stat возвращает размер объекта.
func (s *Store) Stat(bucket, objectPath string) (int64, error) {
	fullPath, err := s.fullPath(bucket, objectPath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectPath)
		}
		return 0, fmt.Errorf("ошибка stat объекта %s/%s: %w", bucket, objectPath, err)
	}
	return info.Size(), nil
}

// DataDir возвращает корневую директорию хранилища.
func (s *Store) DataDir() string {
	return s.dataDir
}

// fullPath строит абсолютный путь объекта с защитой от выхода за dataDir.
func (s *Store) fullPath(bucket, objectPath string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(s.dataDir, bucket, objectPath))
	if !strings.HasPrefix(cleaned, filepath.Clean(s.dataDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: путь выходит за пределы хранилища", ErrInvalidURL)
	}
	return cleaned, nil
}

// PublicURL строит публичный URL объекта: {base}/buckets/{bucket}/{path}.
func PublicURL(baseURL, bucket, objectPath string) string {
	base := strings.TrimRight(baseURL, "/")
	// Сегменты пути кодируем по отдельности, сохраняя разделители
	segments := strings.Split(objectPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/buckets/%s/%s", base, url.PathEscape(bucket), strings.Join(segments, "/"))
}

// ParseObjectURL разбирает публичный URL объекта на bucket и путь.
// После host требуется минимум два сегмента пути (bucket + объект),
// иначе ErrInvalidURL.
func ParseObjectURL(fileURL string) (bucket, objectPath string, err error) {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, fileURL)
	}

	path := strings.Trim(parsed.Path, "/")
	segments := strings.Split(path, "/")

	// Отбрасываем префикс /buckets, если он есть
	if len(segments) > 0 && segments[0] == "buckets" {
		segments = segments[1:]
	}

	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("%w: ожидается /{bucket}/{path}, получено %q", ErrInvalidURL, parsed.Path)
	}

	bucket, err = url.PathUnescape(segments[0])
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, segments[0])
	}

	rest := make([]string, 0, len(segments)-1)
	for _, seg := range segments[1:] {
		unescaped, uerr := url.PathUnescape(seg)
		if uerr != nil {
			return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, seg)
		}
		rest = append(rest, unescaped)
	}
	return bucket, strings.Join(rest, "/"), nil
}

// GenerateObjectPath генерирует путь объекта внутри bucket:
// {subcategory}/{timestampMs}-{shortUUID}.{ext}
// Пример: Hansards 2024/1719240000000-a1b2c3d4.pdf
func GenerateObjectPath(subcategory, originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	ts := time.Now().UTC().UnixMilli()
	uid := uuid.New().String()[:8] // короткий UUID для уникальности

	folder := sanitizeFolder(subcategory)
	if folder == "" {
		folder = "uncategorized"
	}
	return fmt.Sprintf("%s/%d-%s%s", folder, ts, uid, ext)
}

// sanitizeFolder убирает из имени папки символы, небезопасные для ФС.
// Оставляет буквы, цифры, пробел, дефис и подчёркивание.
func sanitizeFolder(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == ' ' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}
