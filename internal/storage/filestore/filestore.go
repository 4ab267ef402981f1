// Пакет filestore — объектное хранилище на локальном диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// чтение, идемпотентное удаление и выдачу upload-грантов:
// грант — HS256-токен с путём и сроком действия, который
// предъявляется на PUT /api/v1/objects/upload.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

// UploadPath — маршрут приёма данных по локальному гранту.
const UploadPath = "/api/v1/objects/upload"

// Ошибки локального хранилища.
var (
	// ErrInvalidGrant — грант не прошёл проверку подписи, срока или формата.
	ErrInvalidGrant = errors.New("недействительный upload-грант")
	// ErrTooLarge — данные превышают допустимый размер.
	ErrTooLarge = errors.New("превышен максимальный размер объекта")
	// ErrInvalidPath — путь выходит за пределы директории данных.
	ErrInvalidPath = errors.New("недопустимый путь объекта")
)

// GrantClaims — содержимое upload-гранта.
type GrantClaims struct {
	// Path — единственный путь, в который разрешена запись
	Path string `json:"path"`
	// ContentType — ожидаемый Content-Type
	ContentType string `json:"content_type"`
	jwt.RegisteredClaims
}

// SaveResult — результат записи объекта на диск.
type SaveResult struct {
	Path     string
	Size     int64
	Checksum string
}

// FileStore — хранилище объектов в директории dataDir.
type FileStore struct {
	dataDir string
	secret  []byte
	baseURL string
	now     func() time.Time
}

var _ object.Store = (*FileStore)(nil)

// New создаёт FileStore. Создаёт директорию данных, если её нет.
// publicBaseURL — внешний адрес сервиса для URL гранта.
func New(dataDir, secret, publicBaseURL string) (*FileStore, error) {
	if secret == "" {
		return nil, fmt.Errorf("секрет подписи грантов не задан")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{
		dataDir: dataDir,
		secret:  []byte(secret),
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}, nil
}

// DataDir возвращает путь к директории данных.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

// CheckReady проверяет доступность директории данных.
// Реализует интерфейс handlers.ReadinessChecker.
func (s *FileStore) CheckReady() (status string, message string) {
	info, err := os.Stat(s.dataDir)
	if err != nil {
		return "fail", fmt.Sprintf("директория данных недоступна: %v", err)
	}
	if !info.IsDir() {
		return "fail", fmt.Sprintf("%s не является директорией", s.dataDir)
	}
	return "ok", s.dataDir
}

// IssueWriteGrant подписывает грант на запись в path.
func (s *FileStore) IssueWriteGrant(_ context.Context, path, contentType string, ttl time.Duration) (*model.UploadGrant, error) {
	if _, err := s.resolve(path); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expiresAt := now.Add(ttl)

	claims := GrantClaims{
		Path:        path,
		ContentType: contentType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи гранта: %w", err)
	}

	return &model.UploadGrant{
		URL:       s.baseURL + UploadPath + "?grant=" + url.QueryEscape(token),
		Method:    http.MethodPut,
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyGrant проверяет подпись и срок гранта и возвращает его содержимое.
func (s *FileStore) VerifyGrant(token string) (*GrantClaims, error) {
	claims := &GrantClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	if claims.Path == "" {
		return nil, fmt.Errorf("%w: пустой путь", ErrInvalidGrant)
	}
	return claims, nil
}

// Save записывает данные из reader в path с подсчётом SHA-256 на лету.
// maxSize <= 0 снимает ограничение размера.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется, существующий объект не затрагивается.
func (s *FileStore) Save(path string, reader io.Reader, maxSize int64) (*SaveResult, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if maxSize > 0 {
		reader = io.LimitReader(reader, maxSize+1)
	}
	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err == nil && maxSize > 0 && size > maxSize {
		err = ErrTooLarge
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка записи данных %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Path:     path,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Put записывает объект без ограничения размера.
func (s *FileStore) Put(_ context.Context, path string, r io.Reader, _ string) (*object.Info, error) {
	if _, err := s.Save(path, r, 0); err != nil {
		return nil, err
	}
	return s.stat(path)
}

// Stat возвращает сведения об объекте.
func (s *FileStore) Stat(_ context.Context, path string) (*object.Info, error) {
	return s.stat(path)
}

func (s *FileStore) stat(path string) (*object.Info, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", object.ErrNotFound, path)
		}
		return nil, fmt.Errorf("ошибка получения информации об объекте %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", object.ErrNotFound, path)
	}
	return &object.Info{
		Path:        path,
		Size:        fi.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		UpdatedAt:   fi.ModTime().UTC(),
	}, nil
}

// Open открывает объект для чтения. Вызывающий код обязан закрыть ReadCloser.
func (s *FileStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", object.ErrNotFound, path)
		}
		return nil, fmt.Errorf("ошибка открытия объекта %s: %w", path, err)
	}
	return f, nil
}

// Delete удаляет объект. Возвращает nil, если объекта уже нет.
func (s *FileStore) Delete(_ context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", path, err)
	}
	return nil
}

// resolve превращает относительный путь объекта в путь на диске.
// Абсолютные пути и выход за dataDir через «..» отклоняются.
func (s *FileStore) resolve(path string) (string, error) {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(s.dataDir, clean), nil
}
