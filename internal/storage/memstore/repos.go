package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// --- Дела ---

type matterRepo struct{ s *Store }

func (r *matterRepo) Create(_ context.Context, m *model.Matter) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.matters[m.ID]; ok {
		return fmt.Errorf("%w: дело %s уже существует", repository.ErrConflict, m.ID)
	}
	r.s.matters[m.ID] = cloneMatter(m)
	return nil
}

func (r *matterRepo) GetByID(_ context.Context, id string) (*model.Matter, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.matters[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneMatter(m), nil
}

func (r *matterRepo) UpdateStatus(_ context.Context, id string, from, to model.MatterStatus, at time.Time) (*model.Matter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matters[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if m.Status != from {
		return nil, repository.ErrStateConflict
	}
	m.Status = to
	m.UpdatedAt = at
	return cloneMatter(m), nil
}

func (r *matterRepo) AddParticipant(_ context.Context, id, userID string, at time.Time) (*model.Matter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matters[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !m.HasParticipant(userID) {
		m.Participants = append(m.Participants, userID)
	}
	m.UpdatedAt = at
	return cloneMatter(m), nil
}

func (r *matterRepo) Touch(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matters[id]
	if !ok {
		return repository.ErrNotFound
	}
	if at.After(m.UpdatedAt) {
		m.UpdatedAt = at
	}
	return nil
}

// --- Черновики и комментарии ---

type draftRepo struct{ s *Store }

func (r *draftRepo) Create(_ context.Context, d *model.Draft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.drafts[d.ID]; ok {
		return fmt.Errorf("%w: черновик %s уже существует", repository.ErrConflict, d.ID)
	}
	c := *d
	r.s.drafts[d.ID] = &c
	return nil
}

func (r *draftRepo) GetByID(_ context.Context, id string) (*model.Draft, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.drafts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *d
	return &c, nil
}

type commentRepo struct{ s *Store }

func (r *commentRepo) Create(_ context.Context, c *model.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.comments[c.ID]; ok {
		return fmt.Errorf("%w: комментарий %s уже существует", repository.ErrConflict, c.ID)
	}
	r.s.comments[c.ID] = cloneComment(c)
	return nil
}

func (r *commentRepo) ListByDraft(_ context.Context, draftID string) ([]*model.Comment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []*model.Comment{}
	for _, c := range r.s.comments {
		if c.DraftID == draftID {
			result = append(result, cloneComment(c))
		}
	}
	slices.SortFunc(result, func(a, b *model.Comment) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

// --- Файлы ---

type fileRepo struct{ s *Store }

func (r *fileRepo) Create(_ context.Context, f *model.File) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.files[f.ID]; ok {
		return fmt.Errorf("%w: файл %s уже существует", repository.ErrConflict, f.ID)
	}
	r.s.files[f.ID] = cloneFile(f)
	return nil
}

func (r *fileRepo) GetByID(_ context.Context, id string) (*model.File, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	f, ok := r.s.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneFile(f), nil
}

// selectFiles возвращает копии файлов, удовлетворяющих match,
// отсортированные by и ограниченные limit (0 — без ограничения).
func (r *fileRepo) selectFiles(match func(*model.File) bool, by func(a, b *model.File) int, limit int) []*model.File {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []*model.File{}
	for _, f := range r.s.files {
		if match(f) {
			result = append(result, cloneFile(f))
		}
	}
	slices.SortFunc(result, by)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func byUploadedAt(a, b *model.File) int {
	return cmp.Or(a.UploadedAt.Compare(b.UploadedAt), cmp.Compare(a.ID, b.ID))
}

func (r *fileRepo) ListByMatter(_ context.Context, matterID string) ([]*model.File, error) {
	return r.selectFiles(func(f *model.File) bool { return f.MatterID == matterID }, byUploadedAt, 0), nil
}

func (r *fileRepo) ListPurgeCandidates(_ context.Context, now time.Time, after repository.Cursor, limit int) ([]*model.File, error) {
	return r.selectFiles(
		func(f *model.File) bool { return !f.IsPurged && f.IsExpired(now) && after.Admits(f.PurgeAt, f.ID) },
		func(a, b *model.File) int { return cmp.Or(a.PurgeAt.Compare(b.PurgeAt), cmp.Compare(a.ID, b.ID)) },
		limit,
	), nil
}

func (r *fileRepo) UpdateOCR(_ context.Context, id string, expected model.OCRStatus, state model.OCRState) (*model.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if f.OCRStatus != expected {
		return nil, repository.ErrStateConflict
	}
	if err := state.Validate(f.Type); err != nil {
		return nil, fmt.Errorf("ошибка обновления OCR файла %s: %w", id, err)
	}
	f.ApplyOCR(state)
	return cloneFile(f), nil
}

func (r *fileRepo) MarkPurged(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	if f.IsPurged {
		return repository.ErrStateConflict
	}
	f.IsPurged = true
	f.PurgedAt = &at
	return nil
}

func (r *fileRepo) ListStuckOCR(_ context.Context, uploadedBefore time.Time, after repository.Cursor, limit int) ([]*model.File, error) {
	return r.selectFiles(func(f *model.File) bool {
		return f.Type == model.FileTypePDF && !f.IsPurged &&
			(f.OCRStatus == model.OCRStatusPending || f.OCRStatus == model.OCRStatusProcessing) &&
			f.UploadedAt.Before(uploadedBefore) && after.Admits(f.UploadedAt, f.ID)
	}, byUploadedAt, limit), nil
}

// --- Экспорты ---

type exportRepo struct{ s *Store }

func (r *exportRepo) Create(_ context.Context, e *model.Export) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.exports[e.ID]; ok {
		return fmt.Errorf("%w: экспорт %s уже существует", repository.ErrConflict, e.ID)
	}
	r.s.exports[e.ID] = cloneExport(e)
	return nil
}

func (r *exportRepo) GetByID(_ context.Context, id string) (*model.Export, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.exports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneExport(e), nil
}

func (r *exportRepo) ListPurgeCandidates(_ context.Context, now time.Time, after repository.Cursor, limit int) ([]*model.Export, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []*model.Export{}
	for _, e := range r.s.exports {
		if !e.IsPurged && !e.PurgeAt.After(now) && after.Admits(e.PurgeAt, e.ID) {
			result = append(result, cloneExport(e))
		}
	}
	slices.SortFunc(result, func(a, b *model.Export) int {
		return cmp.Or(a.PurgeAt.Compare(b.PurgeAt), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *exportRepo) UpdateStatus(_ context.Context, id string, from model.ExportStatus, upd model.ExportUpdate) (*model.Export, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.exports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if e.Status != from {
		return nil, repository.ErrStateConflict
	}
	e.Status = upd.Status
	if upd.Size > 0 {
		e.Size = upd.Size
	}
	e.Error = clonePtr(upd.Error)
	return cloneExport(e), nil
}

func (r *exportRepo) MarkPurged(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.exports[id]
	if !ok {
		return repository.ErrNotFound
	}
	if e.IsPurged {
		return repository.ErrStateConflict
	}
	e.IsPurged = true
	e.PurgedAt = &at
	return nil
}

// --- Задания ---

type jobRepo struct{ s *Store }

func (r *jobRepo) CreateActive(_ context.Context, job *model.Job) (*model.Job, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := job.Target.Key(job.Type)
	if id, ok := r.s.active[key]; ok {
		return cloneJob(r.s.jobs[id]), false, nil
	}
	if _, ok := r.s.jobs[job.ID]; ok {
		return nil, false, fmt.Errorf("%w: задание %s уже существует", repository.ErrConflict, job.ID)
	}

	stored := cloneJob(job)
	r.s.jobs[job.ID] = stored
	if stored.Status.IsActive() {
		r.s.active[key] = job.ID
	}
	return cloneJob(stored), true, nil
}

func (r *jobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneJob(j), nil
}

func (r *jobRepo) Transition(_ context.Context, id string, from, to model.JobStatus, patch model.JobPatch) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if j.Status != from {
		return nil, repository.ErrStateConflict
	}

	j.Apply(to, model.JobPatch{
		StartedAt:   clonePtr(patch.StartedAt),
		CompletedAt: clonePtr(patch.CompletedAt),
		Error:       clonePtr(patch.Error),
		Metadata:    patch.Metadata,
	})
	if !to.IsActive() {
		key := j.Target.Key(j.Type)
		if r.s.active[key] == id {
			delete(r.s.active, key)
		}
	}
	return cloneJob(j), nil
}

func byCreatedAt(a, b *model.Job) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func (r *jobRepo) ListActiveForTarget(_ context.Context, target model.Target) ([]*model.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []*model.Job{}
	for _, j := range r.s.jobs {
		if j.Target == target && j.Status.IsActive() {
			result = append(result, cloneJob(j))
		}
	}
	slices.SortFunc(result, byCreatedAt)
	return result, nil
}

func (r *jobRepo) List(_ context.Context, filter repository.JobFilter, limit int) ([]*model.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []*model.Job{}
	for _, j := range r.s.jobs {
		if filter.Type != nil && j.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		result = append(result, cloneJob(j))
	}
	slices.SortFunc(result, byCreatedAt)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Сессии загрузки ---

type sessionRepo struct{ s *Store }

func (r *sessionRepo) Create(_ context.Context, sess *model.UploadSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[sess.FileID]; ok {
		return fmt.Errorf("%w: сессия %s уже существует", repository.ErrConflict, sess.FileID)
	}
	r.s.sessions[sess.FileID] = cloneSession(sess)
	return nil
}

func (r *sessionRepo) GetByFileID(_ context.Context, fileID string) (*model.UploadSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[fileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (r *sessionRepo) MarkFinalized(_ context.Context, fileID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[fileID]
	if !ok {
		return repository.ErrNotFound
	}
	if sess.Finalized {
		return repository.ErrStateConflict
	}
	sess.Finalized = true
	return nil
}

func (r *sessionRepo) ListAbandoned(_ context.Context, before time.Time, limit int) ([]*model.UploadSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []*model.UploadSession{}
	for _, sess := range r.s.sessions {
		if !sess.Finalized && sess.ExpiresAt.Before(before) {
			result = append(result, cloneSession(sess))
		}
	}
	slices.SortFunc(result, func(a, b *model.UploadSession) int {
		return cmp.Or(a.ExpiresAt.Compare(b.ExpiresAt), cmp.Compare(a.FileID, b.FileID))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *sessionRepo) DeleteUnfinalized(_ context.Context, fileID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[fileID]
	if !ok {
		return repository.ErrNotFound
	}
	if sess.Finalized {
		return repository.ErrStateConflict
	}
	delete(r.s.sessions, fileID)
	return nil
}
