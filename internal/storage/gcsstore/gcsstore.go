// Пакет gcsstore — объектное хранилище в Google Cloud Storage.
// Upload-грант — V4 signed URL на PUT одного объекта.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

// Store — bucket GCS.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	logger *slog.Logger
}

var _ object.Store = (*Store)(nil)

// New создаёт клиент GCS с учётными данными по умолчанию (ADC).
func New(ctx context.Context, bucket string, logger *slog.Logger) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("имя bucket обязательно")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента GCS: %w", err)
	}

	logger = logger.With(slog.String("component", "gcsstore"))
	logger.Info("Клиент GCS создан", slog.String("bucket", bucket))

	return &Store{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		logger: logger,
	}, nil
}

// Close закрывает клиент GCS.
func (s *Store) Close() error {
	return s.client.Close()
}

// IssueWriteGrant подписывает V4 URL на PUT в path.
func (s *Store) IssueWriteGrant(_ context.Context, path, contentType string, ttl time.Duration) (*model.UploadGrant, error) {
	expiresAt := time.Now().UTC().Add(ttl)
	signed, err := s.bucket.SignedURL(path, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи URL для %s: %w", path, classify(err))
	}
	return &model.UploadGrant{
		URL:       signed,
		Method:    http.MethodPut,
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: expiresAt,
	}, nil
}

// Put записывает объект потоково.
func (s *Store) Put(ctx context.Context, path string, r io.Reader, contentType string) (*object.Info, error) {
	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("ошибка записи объекта %s: %w", path, classify(err))
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("ошибка завершения записи объекта %s: %w", path, classify(err))
	}
	return toInfo(w.Attrs()), nil
}

// Stat читает атрибуты объекта.
func (s *Store) Stat(ctx context.Context, path string) (*object.Info, error) {
	attrs, err := s.bucket.Object(path).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения атрибутов %s: %w", path, classify(err))
	}
	return toInfo(attrs), nil
}

// Open открывает объект для чтения.
func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия объекта %s: %w", path, classify(err))
	}
	return r, nil
}

// Delete удаляет объект; отсутствующий объект — успех.
func (s *Store) Delete(ctx context.Context, path string) error {
	err := s.bucket.Object(path).Delete(ctx)
	if err == nil || errors.Is(classify(err), object.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("ошибка удаления объекта %s: %w", path, classify(err))
}

// CheckReady читает атрибуты bucket. Реализует handlers.ReadinessChecker.
func (s *Store) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := s.bucket.Attrs(ctx); err != nil {
		return "fail", fmt.Sprintf("bucket %s недоступен: %v", s.name, err)
	}
	return "ok", "GCS доступен"
}

func toInfo(attrs *storage.ObjectAttrs) *object.Info {
	if attrs == nil {
		return &object.Info{}
	}
	return &object.Info{
		Path:        attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		UpdatedAt:   attrs.Updated,
	}
}

// classify приводит ошибки клиента GCS к ошибкам пакета object:
// отсутствие объекта — ErrNotFound, 429/5xx и таймауты — ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", object.ErrNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", object.ErrUnavailable, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", object.ErrNotFound, err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return fmt.Errorf("%w: %v", object.ErrUnavailable, err)
		}
	}
	return err
}
