// Пакет object — контракт объектного хранилища бинарных данных файлов
// и экспортов. Реализации: filestore (локальный диск + подписанные
// гранты) и gcsstore (Google Cloud Storage + V4 signed URL).
package object

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

// Ошибки объектного хранилища.
var (
	// ErrNotFound — объекта по пути нет.
	ErrNotFound = errors.New("объект не найден")
	// ErrUnavailable — хранилище временно недоступно, операцию можно повторить.
	ErrUnavailable = errors.New("объектное хранилище недоступно")
)

// Info — сведения об объекте.
type Info struct {
	Path        string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

// Store — объектное хранилище.
type Store interface {
	// IssueWriteGrant выдаёт ограниченное по времени право записи
	// ровно в один путь.
	IssueWriteGrant(ctx context.Context, path, contentType string, ttl time.Duration) (*model.UploadGrant, error)
	// Put записывает объект со стороны сервера.
	Put(ctx context.Context, path string, r io.Reader, contentType string) (*Info, error)
	// Stat возвращает сведения об объекте или ErrNotFound.
	Stat(ctx context.Context, path string) (*Info, error)
	// Open открывает объект для чтения. Вызывающий закрывает ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete удаляет объект. Отсутствующий объект — успех.
	Delete(ctx context.Context, path string) error
}
