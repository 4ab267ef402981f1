// Пакет repository — контракт хранилища записей (дела, файлы, экспорты,
// задания, сессии загрузки) и его реализация на PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
//
// Любое изменение статуса выполняется как compare-and-swap по ожидаемому
// исходному значению: проигравший получает ErrStateConflict.
package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrStateConflict — запись существует, но её состояние уже не совпадает
	// с ожидаемым (проигранный compare-and-swap).
	ErrStateConflict = errors.New("состояние записи изменилось")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MatterRepository — дела и их участники.
type MatterRepository interface {
	// Create создаёт дело. Существующий ID — ErrConflict.
	Create(ctx context.Context, m *model.Matter) error
	// GetByID возвращает дело по ID.
	GetByID(ctx context.Context, id string) (*model.Matter, error)
	// UpdateStatus переводит дело из from в to (CAS).
	UpdateStatus(ctx context.Context, id string, from, to model.MatterStatus, at time.Time) (*model.Matter, error)
	// AddParticipant добавляет участника; повторное добавление — no-op.
	AddParticipant(ctx context.Context, id, userID string, at time.Time) (*model.Matter, error)
	// Touch обновляет updated_at дела.
	Touch(ctx context.Context, id string, at time.Time) error
}

// DraftRepository — черновики (только чтение для сервиса; Create нужен
// генераторам черновиков и тестам).
type DraftRepository interface {
	Create(ctx context.Context, d *model.Draft) error
	GetByID(ctx context.Context, id string) (*model.Draft, error)
}

// CommentRepository — комментарии к черновикам.
type CommentRepository interface {
	Create(ctx context.Context, c *model.Comment) error
	// ListByDraft возвращает комментарии черновика в порядке создания.
	ListByDraft(ctx context.Context, draftID string) ([]*model.Comment, error)
}

// Cursor — позиция постраничной выборки: ключ сортировки и id последней
// записи предыдущей страницы. Нулевой Cursor означает начало выборки.
type Cursor struct {
	At time.Time
	ID string
}

// IsZero сообщает, что курсор указывает на начало выборки.
func (c Cursor) IsZero() bool {
	return c.ID == ""
}

// Admits сообщает, лежит ли запись с ключом (at, id) строго после курсора.
func (c Cursor) Admits(at time.Time, id string) bool {
	return c.IsZero() || cmp.Or(at.Compare(c.At), cmp.Compare(id, c.ID)) > 0
}

// FileRepository — записи загруженных файлов.
type FileRepository interface {
	// Create создаёт запись файла. Существующий ID — ErrConflict.
	Create(ctx context.Context, f *model.File) error
	// GetByID возвращает файл по ID.
	GetByID(ctx context.Context, id string) (*model.File, error)
	// ListByMatter возвращает файлы дела в порядке загрузки.
	ListByMatter(ctx context.Context, matterID string) ([]*model.File, error)
	// ListPurgeCandidates возвращает неочищенные файлы с purge_at <= now
	// в порядке (purge_at, id), начиная после курсора after.
	ListPurgeCandidates(ctx context.Context, now time.Time, after Cursor, limit int) ([]*model.File, error)
	// UpdateOCR заменяет OCR-поля, если текущий статус равен expected (CAS).
	UpdateOCR(ctx context.Context, id string, expected model.OCRStatus, state model.OCRState) (*model.File, error)
	// MarkPurged переводит is_purged false → true (CAS).
	MarkPurged(ctx context.Context, id string, at time.Time) error
	// ListStuckOCR возвращает pdf-файлы в pending/processing,
	// загруженные раньше uploadedBefore, в порядке (uploaded_at, id) после курсора after.
	ListStuckOCR(ctx context.Context, uploadedBefore time.Time, after Cursor, limit int) ([]*model.File, error)
}

// ExportRepository — записи экспортов.
type ExportRepository interface {
	Create(ctx context.Context, e *model.Export) error
	GetByID(ctx context.Context, id string) (*model.Export, error)
	ListPurgeCandidates(ctx context.Context, now time.Time, after Cursor, limit int) ([]*model.Export, error)
	// UpdateStatus применяет upd, если текущий статус равен from (CAS).
	UpdateStatus(ctx context.Context, id string, from model.ExportStatus, upd model.ExportUpdate) (*model.Export, error)
	MarkPurged(ctx context.Context, id string, at time.Time) error
}

// JobRepository — журнал заданий.
type JobRepository interface {
	// CreateActive атомарно создаёт задание, если для (type, target)
	// нет активного. Иначе возвращает существующее активное задание
	// и created = false.
	CreateActive(ctx context.Context, job *model.Job) (result *model.Job, created bool, err error)
	// GetByID возвращает задание по ID.
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// Transition переводит задание из from в to и применяет patch (CAS).
	Transition(ctx context.Context, id string, from, to model.JobStatus, patch model.JobPatch) (*model.Job, error)
	// ListActiveForTarget возвращает активные задания цели любого типа.
	ListActiveForTarget(ctx context.Context, target model.Target) ([]*model.Job, error)
	// List возвращает задания с фильтрацией в порядке создания.
	List(ctx context.Context, filter JobFilter, limit int) ([]*model.Job, error)
}

// JobFilter — фильтры списка заданий.
type JobFilter struct {
	Type   *model.JobType
	Status *model.JobStatus
}

// SessionRepository — сессии загрузки.
type SessionRepository interface {
	Create(ctx context.Context, s *model.UploadSession) error
	GetByFileID(ctx context.Context, fileID string) (*model.UploadSession, error)
	// MarkFinalized переводит finalized false → true (CAS).
	MarkFinalized(ctx context.Context, fileID string) error
	// ListAbandoned возвращает незавершённые сессии с expires_at < before.
	ListAbandoned(ctx context.Context, before time.Time, limit int) ([]*model.UploadSession, error)
	// DeleteUnfinalized удаляет сессию, только если она не завершена (CAS).
	DeleteUnfinalized(ctx context.Context, fileID string) error
}

// Repositories — набор репозиториев одного бэкенда.
type Repositories struct {
	Matters  MatterRepository
	Drafts   DraftRepository
	Comments CommentRepository
	Files    FileRepository
	Exports  ExportRepository
	Jobs     JobRepository
	Sessions SessionRepository
}

// NewPostgres создаёт набор репозиториев поверх PostgreSQL.
func NewPostgres(db DBTX) *Repositories {
	return &Repositories{
		Matters:  NewMatterRepository(db),
		Drafts:   NewDraftRepository(db),
		Comments: NewCommentRepository(db),
		Files:    NewFileRepository(db),
		Exports:  NewExportRepository(db),
		Jobs:     NewJobRepository(db),
		Sessions: NewSessionRepository(db),
	}
}

// rowScanner — общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// casMiss различает проигранный CAS и отсутствие записи
// после UPDATE/DELETE, не затронувшего ни одной строки.
func casMiss(ctx context.Context, db DBTX, table, keyColumn, id string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, table, keyColumn)
	if err := db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки записи в %s: %w", table, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStateConflict
}
