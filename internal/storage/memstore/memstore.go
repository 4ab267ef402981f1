// Пакет memstore — потокобезопасная in-memory реализация хранилища записей.
//
// Используется для локальной разработки (LM_STORE_BACKEND=memory)
// и в тестах сервисов. Все репозитории набора разделяют один
// sync.RWMutex: условная запись задания и любые compare-and-swap
// выполняются под эксклюзивной блокировкой.
//
// Не персистентный: при рестарте данные теряются.
package memstore

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// Store — общее состояние всех репозиториев in-memory бэкенда.
type Store struct {
	mu       sync.RWMutex
	matters  map[string]*model.Matter
	drafts   map[string]*model.Draft
	comments map[string]*model.Comment
	files    map[string]*model.File
	exports  map[string]*model.Export
	jobs     map[string]*model.Job
	active   map[string]string // Target.Key(type) → job_id активного задания
	sessions map[string]*model.UploadSession
}

// New создаёт пустое хранилище.
func New(logger *slog.Logger) *Store {
	logger.With(slog.String("component", "memstore")).Warn("Используется in-memory хранилище: записи не сохраняются между перезапусками")
	return &Store{
		matters:  make(map[string]*model.Matter),
		drafts:   make(map[string]*model.Draft),
		comments: make(map[string]*model.Comment),
		files:    make(map[string]*model.File),
		exports:  make(map[string]*model.Export),
		jobs:     make(map[string]*model.Job),
		active:   make(map[string]string),
		sessions: make(map[string]*model.UploadSession),
	}
}

// Repositories возвращает набор репозиториев поверх хранилища.
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

// CheckReady всегда готов: реализует handlers.ReadinessChecker.
func (s *Store) CheckReady() (status string, message string) {
	return "ok", "in-memory хранилище"
}

// Копии возвращаются наружу, чтобы изменения вызывающего
// не затрагивали хранимые записи.

func cloneMatter(m *model.Matter) *model.Matter {
	c := *m
	c.Participants = slices.Clone(m.Participants)
	if c.Participants == nil {
		c.Participants = []string{}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFile(f *model.File) *model.File {
	c := *f
	c.OCRText = clonePtr(f.OCRText)
	c.OCRConfidence = clonePtr(f.OCRConfidence)
	c.OCRPages = clonePtr(f.OCRPages)
	c.OCRError = clonePtr(f.OCRError)
	c.PurgedAt = clonePtr(f.PurgedAt)
	return &c
}

func cloneExport(e *model.Export) *model.Export {
	c := *e
	c.Error = clonePtr(e.Error)
	c.PurgedAt = clonePtr(e.PurgedAt)
	return &c
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	c.StartedAt = clonePtr(j.StartedAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	c.Error = clonePtr(j.Error)
	c.Metadata = maps.Clone(j.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return &c
}

func cloneComment(c *model.Comment) *model.Comment {
	out := *c
	out.ResolvedBy = clonePtr(c.ResolvedBy)
	out.ResolvedAt = clonePtr(c.ResolvedAt)
	return &out
}

func cloneSession(s *model.UploadSession) *model.UploadSession {
	c := *s
	return &c
}
