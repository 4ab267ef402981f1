// Пакет firestorestore — реализация хранилища записей на Cloud Firestore.
//
// Каждая сущность хранится в своей коллекции ({prefix}matters, {prefix}files, ...).
// Compare-and-swap выполняется транзакцией «прочитать — сравнить — записать».
// Уникальность активного задания на (type, target) обеспечивает
// документ-замок в коллекции {prefix}job_locks: он создаётся вместе
// с заданием и удаляется при его переходе в конечный статус.
package firestorestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// Имена коллекций без префикса.
const (
	collMatters  = "matters"
	collDrafts   = "drafts"
	collComments = "comments"
	collFiles    = "files"
	collExports  = "exports"
	collJobs     = "jobs"
	collJobLocks = "job_locks"
	collSessions = "upload_sessions"
)

// Store — клиент Firestore и префикс коллекций.
type Store struct {
	client *firestore.Client
	prefix string
	logger *slog.Logger
}

// New создаёт клиент Firestore для проекта projectID.
// При заданной FIRESTORE_EMULATOR_HOST клиент подключается к эмулятору.
func New(ctx context.Context, projectID, prefix string, logger *slog.Logger) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID обязателен для клиента Firestore")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Firestore: %w", err)
	}

	logger = logger.With(slog.String("component", "firestorestore"))
	logger.Info("Клиент Firestore создан",
		slog.String("project_id", projectID),
		slog.String("collection_prefix", prefix),
	)

	return &Store{client: client, prefix: prefix, logger: logger}, nil
}

// Close закрывает клиент Firestore.
func (s *Store) Close() error {
	return s.client.Close()
}

// Repositories возвращает набор репозиториев поверх Firestore.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Matters:  &matterRepo{s},
		Drafts:   &draftRepo{s},
		Comments: &commentRepo{s},
		Files:    &fileRepo{s},
		Exports:  &exportRepo{s},
		Jobs:     &jobRepo{s},
		Sessions: &sessionRepo{s},
	}
}

// CheckReady читает несуществующий документ: NotFound означает,
// что Firestore отвечает. Реализует handlers.ReadinessChecker.
func (s *Store) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := s.coll(collMatters).Doc("_readiness_probe").Get(ctx)
	if err != nil && !isNotFound(err) {
		return "fail", fmt.Sprintf("Firestore недоступен: %v", err)
	}
	return "ok", "Firestore доступен"
}

func (s *Store) coll(name string) *firestore.CollectionRef {
	return s.client.Collection(s.prefix + name)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

// wrap оборачивает ошибку клиента, сохраняя ошибки репозитория как есть.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrConflict) ||
		errors.Is(err, repository.ErrStateConflict) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// create создаёт документ; существующий ID — ErrConflict.
func create(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if _, err := ref.Create(ctx, data); err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("%w: документ %s уже существует", repository.ErrConflict, ref.ID)
		}
		return err
	}
	return nil
}

// get читает документ в D; отсутствие — ErrNotFound.
func get[D any](ctx context.Context, ref *firestore.DocumentRef) (*D, error) {
	snap, err := ref.Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var doc D
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// mutate выполняет compare-and-swap одного документа в транзакции:
// fn проверяет текущее состояние и изменяет его либо возвращает ошибку.
func mutate[D any](ctx context.Context, client *firestore.Client, ref *firestore.DocumentRef, fn func(doc *D) error) (*D, error) {
	var out *D
	err := client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return repository.ErrNotFound
			}
			return err
		}
		var doc D
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		out = &doc
		return tx.Set(ref, &doc)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// collect читает все документы запроса.
// page ограничивает запрос страницей после курсора. Запрос должен быть
// упорядочен по ключу курсора и затем по DocumentID.
func page(q firestore.Query, after repository.Cursor, limit int) firestore.Query {
	if !after.IsZero() {
		q = q.StartAfter(after.At, after.ID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

func collect[D any](iter *firestore.DocumentIterator) ([]*D, error) {
	defer iter.Stop()
	var result []*D
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		var doc D
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		result = append(result, &doc)
	}
}

// lockID — идентификатор документа-замка; «/» недопустим в ID документа.
func lockID(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}
