package firestorestore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// --- Дела ---

type matterRepo struct{ s *Store }

func (r *matterRepo) Create(ctx context.Context, m *model.Matter) error {
	return wrap("ошибка создания дела", create(ctx, r.s.coll(collMatters).Doc(m.ID), toMatterDoc(m)))
}

func (r *matterRepo) GetByID(ctx context.Context, id string) (*model.Matter, error) {
	doc, err := get[matterDoc](ctx, r.s.coll(collMatters).Doc(id))
	if err != nil {
		return nil, wrap("ошибка получения дела", err)
	}
	return doc.model(), nil
}

func (r *matterRepo) UpdateStatus(ctx context.Context, id string, from, to model.MatterStatus, at time.Time) (*model.Matter, error) {
	doc, err := mutate(ctx, r.s.client, r.s.coll(collMatters).Doc(id), func(d *matterDoc) error {
		if d.Status != string(from) {
			return repository.ErrStateConflict
		}
		d.Status = string(to)
		d.UpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, wrap("ошибка смены статуса дела", err)
	}
	return doc.model(), nil
}

func (r *matterRepo) AddParticipant(ctx context.Context, id, userID string, at time.Time) (*model.Matter, error) {
	doc, err := mutate(ctx, r.s.client, r.s.coll(collMatters).Doc(id), func(d *matterDoc) error {
		if !slices.Contains(d.Participants, userID) {
			d.Participants = append(d.Participants, userID)
		}
		d.UpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, wrap("ошибка добавления участника", err)
	}
	return doc.model(), nil
}

func (r *matterRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := mutate(ctx, r.s.client, r.s.coll(collMatters).Doc(id), func(d *matterDoc) error {
		if at.After(d.UpdatedAt) {
			d.UpdatedAt = at
		}
		return nil
	})
	return wrap("ошибка обновления updated_at дела", err)
}

// --- Черновики и комментарии ---

type draftRepo struct{ s *Store }

func (r *draftRepo) Create(ctx context.Context, d *model.Draft) error {
	return wrap("ошибка создания черновика", create(ctx, r.s.coll(collDrafts).Doc(d.ID), toDraftDoc(d)))
}

func (r *draftRepo) GetByID(ctx context.Context, id string) (*model.Draft, error) {
	doc, err := get[draftDoc](ctx, r.s.coll(collDrafts).Doc(id))
	if err != nil {
		return nil, wrap("ошибка получения черновика", err)
	}
	return doc.model(), nil
}

type commentRepo struct{ s *Store }

func (r *commentRepo) Create(ctx context.Context, c *model.Comment) error {
	return wrap("ошибка создания комментария", create(ctx, r.s.coll(collComments).Doc(c.ID), toCommentDoc(c)))
}

func (r *commentRepo) ListByDraft(ctx context.Context, draftID string) ([]*model.Comment, error) {
	docs, err := collect[commentDoc](r.s.coll(collComments).
		Where("draft_id", "==", draftID).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx))
	if err != nil {
		return nil, wrap("ошибка получения комментариев", err)
	}
	result := make([]*model.Comment, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.model())
	}
	return result, nil
}

// --- Файлы ---

type fileRepo struct{ s *Store }

func filesFrom(docs []*fileDoc) []*model.File {
	result := make([]*model.File, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.model())
	}
	return result
}

func (r *fileRepo) Create(ctx context.Context, f *model.File) error {
	return wrap("ошибка создания файла", create(ctx, r.s.coll(collFiles).Doc(f.ID), toFileDoc(f)))
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.File, error) {
	doc, err := get[fileDoc](ctx, r.s.coll(collFiles).Doc(id))
	if err != nil {
		return nil, wrap("ошибка получения файла", err)
	}
	return doc.model(), nil
}

func (r *fileRepo) ListByMatter(ctx context.Context, matterID string) ([]*model.File, error) {
	docs, err := collect[fileDoc](r.s.coll(collFiles).
		Where("matter_id", "==", matterID).
		OrderBy("uploaded_at", firestore.Asc).
		Documents(ctx))
	if err != nil {
		return nil, wrap("ошибка получения файлов дела", err)
	}
	return filesFrom(docs), nil
}

func (r *fileRepo) ListPurgeCandidates(ctx context.Context, now time.Time, after repository.Cursor, limit int) ([]*model.File, error) {
	q := r.s.coll(collFiles).
		Where("is_purged", "==", false).
		Where("purge_at", "<=", now).
		OrderBy("purge_at", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
	docs, err := collect[fileDoc](page(q, after, limit).Documents(ctx))
	if err != nil {
		return nil, wrap("ошибка выборки файлов для очистки", err)
	}
	return filesFrom(docs), nil
}

func (r *fileRepo) UpdateOCR(ctx context.Context, id string, expected model.OCRStatus, state model.OCRState) (*model.File, error) {
	doc, err := mutate(ctx, r.s.client, r.s.coll(collFiles).Doc(id), func(d *fileDoc) error {
		current := model.OCRStatusNone
		if d.OCRStatus != nil {
			current = model.OCRStatus(*d.OCRStatus)
		}
		if current != expected {
			return repository.ErrStateConflict
		}
		if err := state.Validate(model.FileType(d.Type)); err != nil {
			return err
		}
		d.setOCR(state)
		return nil
	})
	if err != nil {
		return nil, wrap("ошибка обновления OCR файла", err)
	}
	return doc.model(), nil
}

func (r *fileRepo) MarkPurged(ctx context.Context, id string, at time.Time) error {
	_, err := mutate(ctx, r.s.client, r.s.coll(collFiles).Doc(id), func(d *fileDoc) error {
		if d.IsPurged {
			return repository.ErrStateConflict
		}
		d.IsPurged = true
		d.PurgedAt = &at
		return nil
	})
	return wrap("ошибка отметки очистки файла", err)
}

func (r *fileRepo) ListStuckOCR(ctx context.Context, uploadedBefore time.Time, after repository.Cursor, limit int) ([]*model.File, error) {
	q := r.s.coll(collFiles).
		Where("type", "==", string(model.FileTypePDF)).
		Where("is_purged", "==", false).
		Where("ocr_status", "in", []string{string(model.OCRStatusPending), string(model.OCRStatusProcessing)}).
		Where("uploaded_at", "<", uploadedBefore).
		OrderBy("uploaded_at", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
	docs, err := collect[fileDoc](page(q, after, limit).Documents(ctx))
	if err != nil {
		return nil, wrap("ошибка выборки зависших OCR", err)
	}
	return filesFrom(docs), nil
}

// --- Экспорты ---

type exportRepo struct{ s *Store }

func (r *exportRepo) Create(ctx context.Context, e *model.Export) error {
	return wrap("ошибка создания экспорта", create(ctx, r.s.coll(collExports).Doc(e.ID), toExportDoc(e)))
}

func (r *exportRepo) GetByID(ctx context.Context, id string) (*model.Export, error) {
	doc, err := get[exportDoc](ctx, r.s.coll(collExports).Doc(id))
	if err != nil {
		return nil, wrap("ошибка получения экспорта", err)
	}
	return doc.model(), nil
}

func (r *exportRepo) ListPurgeCandidates(ctx context.Context, now time.Time, after repository.Cursor, limit int) ([]*model.Export, error) {
	q := r.s.coll(collExports).
		Where("is_purged", "==", false).
		Where("purge_at", "<=", now).
		OrderBy("purge_at", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
	docs, err := collect[exportDoc](page(q, after, limit).Documents(ctx))
	if err != nil {
		return nil, wrap("ошибка выборки экспортов для очистки", err)
	}
	result := make([]*model.Export, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.model())
	}
	return result, nil
}

func (r *exportRepo) UpdateStatus(ctx context.Context, id string, from model.ExportStatus, upd model.ExportUpdate) (*model.Export, error) {
	doc, err := mutate(ctx, r.s.client, r.s.coll(collExports).Doc(id), func(d *exportDoc) error {
		if d.Status != string(from) {
			return repository.ErrStateConflict
		}
		d.Status = string(upd.Status)
		if upd.Size > 0 {
			d.Size = upd.Size
		}
		d.Error = upd.Error
		return nil
	})
	if err != nil {
		return nil, wrap("ошибка смены статуса экспорта", err)
	}
	return doc.model(), nil
}

func (r *exportRepo) MarkPurged(ctx context.Context, id string, at time.Time) error {
	_, err := mutate(ctx, r.s.client, r.s.coll(collExports).Doc(id), func(d *exportDoc) error {
		if d.IsPurged {
			return repository.ErrStateConflict
		}
		d.IsPurged = true
		d.PurgedAt = &at
		return nil
	})
	return wrap("ошибка отметки очистки экспорта", err)
}

// --- Задания ---

type jobRepo struct{ s *Store }

func jobsFrom(docs []*jobDoc) []*model.Job {
	result := make([]*model.Job, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.model())
	}
	return result
}

func (r *jobRepo) CreateActive(ctx context.Context, job *model.Job) (*model.Job, bool, error) {
	lockRef := r.s.coll(collJobLocks).Doc(lockID(job.Target.Key(job.Type)))
	jobRef := r.s.coll(collJobs).Doc(job.ID)

	var (
		result  *model.Job
		created bool
	)
	err := r.s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		result, created = nil, false

		lockSnap, err := tx.Get(lockRef)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil {
			// Цель уже занята — возвращаем активное задание.
			var lock lockDoc
			if err := lockSnap.DataTo(&lock); err != nil {
				return err
			}
			existingSnap, err := tx.Get(r.s.coll(collJobs).Doc(lock.JobID))
			if err != nil {
				return fmt.Errorf("замок %s ссылается на задание %s: %w", lockRef.ID, lock.JobID, err)
			}
			var existing jobDoc
			if err := existingSnap.DataTo(&existing); err != nil {
				return err
			}
			result = existing.model()
			return nil
		}

		doc := toJobDoc(job)
		if err := tx.Create(jobRef, doc); err != nil {
			return err
		}
		if job.Status.IsActive() {
			if err := tx.Create(lockRef, &lockDoc{JobID: job.ID}); err != nil {
				return err
			}
		}
		result, created = doc.model(), true
		return nil
	})
	if err != nil {
		if isAlreadyExists(err) {
			return nil, false, fmt.Errorf("%w: задание %s уже существует", repository.ErrConflict, job.ID)
		}
		return nil, false, wrap("ошибка создания задания", err)
	}
	return result, created, nil
}

func (r *jobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	doc, err := get[jobDoc](ctx, r.s.coll(collJobs).Doc(id))
	if err != nil {
		return nil, wrap("ошибка получения задания", err)
	}
	return doc.model(), nil
}

func (r *jobRepo) Transition(ctx context.Context, id string, from, to model.JobStatus, patch model.JobPatch) (*model.Job, error) {
	jobRef := r.s.coll(collJobs).Doc(id)

	var result *model.Job
	err := r.s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(jobRef)
		if err != nil {
			if isNotFound(err) {
				return repository.ErrNotFound
			}
			return err
		}
		var doc jobDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Status != string(from) {
			return repository.ErrStateConflict
		}

		job := doc.model()
		lockRef := r.s.coll(collJobLocks).Doc(lockID(job.Target.Key(job.Type)))
		releaseLock := false
		if !to.IsActive() {
			// Все чтения транзакции выполняются до записей.
			lockSnap, err := tx.Get(lockRef)
			if err != nil && !isNotFound(err) {
				return err
			}
			if err == nil {
				var lock lockDoc
				if err := lockSnap.DataTo(&lock); err != nil {
					return err
				}
				releaseLock = lock.JobID == id
			}
		}

		job.Apply(to, patch)
		if err := tx.Set(jobRef, toJobDoc(job)); err != nil {
			return err
		}
		if releaseLock {
			if err := tx.Delete(lockRef); err != nil {
				return err
			}
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, wrap("ошибка перехода задания", err)
	}
	return result, nil
}

func (r *jobRepo) ListActiveForTarget(ctx context.Context, target model.Target) ([]*model.Job, error) {
	docs, err := collect[jobDoc](r.s.coll(collJobs).
		Where("target_kind", "==", string(target.Kind)).
		Where("target_id", "==", target.ID).
		Where("status", "in", []string{string(model.JobStatusPending), string(model.JobStatusProcessing)}).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx))
	if err != nil {
		return nil, wrap("ошибка получения активных заданий", err)
	}
	return jobsFrom(docs), nil
}

func (r *jobRepo) List(ctx context.Context, filter repository.JobFilter, limit int) ([]*model.Job, error) {
	q := r.s.coll(collJobs).Query
	if filter.Type != nil {
		q = q.Where("type", "==", string(*filter.Type))
	}
	if filter.Status != nil {
		q = q.Where("status", "==", string(*filter.Status))
	}
	docs, err := collect[jobDoc](q.OrderBy("created_at", firestore.Asc).Limit(limit).Documents(ctx))
	if err != nil {
		return nil, wrap("ошибка получения списка заданий", err)
	}
	return jobsFrom(docs), nil
}

// --- Сессии загрузки ---

type sessionRepo struct{ s *Store }

func (r *sessionRepo) Create(ctx context.Context, sess *model.UploadSession) error {
	return wrap("ошибка создания сессии загрузки",
		create(ctx, r.s.coll(collSessions).Doc(sess.FileID), toSessionDoc(sess)))
}

func (r *sessionRepo) GetByFileID(ctx context.Context, fileID string) (*model.UploadSession, error) {
	doc, err := get[sessionDoc](ctx, r.s.coll(collSessions).Doc(fileID))
	if err != nil {
		return nil, wrap("ошибка получения сессии загрузки", err)
	}
	return doc.model(), nil
}

func (r *sessionRepo) MarkFinalized(ctx context.Context, fileID string) error {
	_, err := mutate(ctx, r.s.client, r.s.coll(collSessions).Doc(fileID), func(d *sessionDoc) error {
		if d.Finalized {
			return repository.ErrStateConflict
		}
		d.Finalized = true
		return nil
	})
	return wrap("ошибка завершения сессии загрузки", err)
}

func (r *sessionRepo) ListAbandoned(ctx context.Context, before time.Time, limit int) ([]*model.UploadSession, error) {
	docs, err := collect[sessionDoc](r.s.coll(collSessions).
		Where("finalized", "==", false).
		Where("expires_at", "<", before).
		OrderBy("expires_at", firestore.Asc).
		Limit(limit).
		Documents(ctx))
	if err != nil {
		return nil, wrap("ошибка выборки брошенных сессий", err)
	}
	result := make([]*model.UploadSession, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.model())
	}
	return result, nil
}

func (r *sessionRepo) DeleteUnfinalized(ctx context.Context, fileID string) error {
	ref := r.s.coll(collSessions).Doc(fileID)
	err := r.s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return repository.ErrNotFound
			}
			return err
		}
		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Finalized {
			return repository.ErrStateConflict
		}
		return tx.Delete(ref)
	})
	return wrap("ошибка удаления сессии загрузки", err)
}
