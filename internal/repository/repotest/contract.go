// Пакет repotest — общий набор проверок контракта repository.Repositories.
// Запускается для каждого бэкенда (PostgreSQL, Firestore, память).
// Идентификаторы уникальны в пределах вызова, поэтому набор можно
// выполнять на общей базе.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// Run выполняет все проверки контракта на переданном наборе репозиториев.
func Run(t *testing.T, repos *repository.Repositories) {
	t.Helper()

	t.Run("Matters", func(t *testing.T) { testMatters(t, repos) })
	t.Run("Comments", func(t *testing.T) { testComments(t, repos) })
	t.Run("Files", func(t *testing.T) { testFiles(t, repos) })
	t.Run("FileOCRCompareAndSwap", func(t *testing.T) { testFileOCR(t, repos) })
	t.Run("FilesKeysetPaging", func(t *testing.T) { testFilesPaging(t, repos) })
	t.Run("Exports", func(t *testing.T) { testExports(t, repos) })
	t.Run("JobsCreateActive", func(t *testing.T) { testJobsCreateActive(t, repos) })
	t.Run("JobsConcurrentCreateActive", func(t *testing.T) { testJobsConcurrent(t, repos) })
	t.Run("JobsTransition", func(t *testing.T) { testJobsTransition(t, repos) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, repos) })
}

func baseTime() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func newID() string { return uuid.New().String() }

// NewMatter создаёт дело с участником owner.
func NewMatter(t *testing.T, repos *repository.Repositories, owner string) *model.Matter {
	t.Helper()
	now := baseTime()
	m := &model.Matter{
		ID:           newID(),
		Title:        "Дело",
		ClientName:   "Клиент",
		Status:       model.MatterStatusActive,
		Participants: []string{owner},
		CreatedBy:    owner,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repos.Matters.Create(context.Background(), m); err != nil {
		t.Fatalf("Matters.Create: %v", err)
	}
	return m
}

// NewFile создаёт файл дела с заданным сроком очистки.
func NewFile(t *testing.T, repos *repository.Repositories, matterID string, ft model.FileType, purgeAt time.Time) *model.File {
	t.Helper()
	id := newID()
	f := &model.File{
		ID:          id,
		MatterID:    matterID,
		Name:        "doc." + string(ft),
		Type:        ft,
		Size:        1024,
		StoragePath: model.FileStoragePath(matterID, id, ft),
		UploadedBy:  "u1",
		UploadedAt:  purgeAt.Add(-7 * 24 * time.Hour),
		OCRStatus:   model.InitialOCRStatus(ft),
		PurgeAt:     purgeAt,
	}
	if err := repos.Files.Create(context.Background(), f); err != nil {
		t.Fatalf("Files.Create: %v", err)
	}
	return f
}

func newDraft(t *testing.T, repos *repository.Repositories, matterID string) *model.Draft {
	t.Helper()
	now := baseTime()
	d := &model.Draft{
		ID: newID(), MatterID: matterID, Title: "Черновик", Status: "ready",
		CreatedBy: "u1", CreatedAt: now, UpdatedAt: now,
	}
	if err := repos.Drafts.Create(context.Background(), d); err != nil {
		t.Fatalf("Drafts.Create: %v", err)
	}
	return d
}

func testMatters(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	m := NewMatter(t, repos, "u1")

	if err := repos.Matters.Create(ctx, m); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("повторный Create: хотели ErrConflict, получили %v", err)
	}

	got, err := repos.Matters.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "Дело" || !got.HasParticipant("u1") {
		t.Errorf("GetByID вернул %+v", got)
	}
	if _, err := repos.Matters.GetByID(ctx, newID()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetByID неизвестного: хотели ErrNotFound, получили %v", err)
	}

	later := m.UpdatedAt.Add(time.Minute)
	got, err = repos.Matters.AddParticipant(ctx, m.ID, "u2", later)
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	got, err = repos.Matters.AddParticipant(ctx, m.ID, "u2", later)
	if err != nil {
		t.Fatalf("повторный AddParticipant: %v", err)
	}
	if len(got.Participants) != 2 {
		t.Errorf("участников: хотели 2, получили %v", got.Participants)
	}

	if _, err := repos.Matters.UpdateStatus(ctx, m.ID, model.MatterStatusDraft, model.MatterStatusArchived, later); !errors.Is(err, repository.ErrStateConflict) {
		t.Errorf("UpdateStatus с неверным from: хотели ErrStateConflict, получили %v", err)
	}
	got, err = repos.Matters.UpdateStatus(ctx, m.ID, model.MatterStatusActive, model.MatterStatusCompleted, later)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.Status != model.MatterStatusCompleted {
		t.Errorf("статус: хотели completed, получили %s", got.Status)
	}
	if _, err := repos.Matters.UpdateStatus(ctx, newID(), model.MatterStatusActive, model.MatterStatusCompleted, later); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("UpdateStatus неизвестного: хотели ErrNotFound, получили %v", err)
	}

	touched := later.Add(time.Hour)
	if err := repos.Matters.Touch(ctx, m.ID, touched); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ = repos.Matters.GetByID(ctx, m.ID)
	if !got.UpdatedAt.Equal(touched) {
		t.Errorf("updated_at: хотели %v, получили %v", touched, got.UpdatedAt)
	}
}

func testComments(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	m := NewMatter(t, repos, "u1")
	d := newDraft(t, repos, m.ID)
	now := baseTime()

	for i, body := range []string{"первый", "второй"} {
		c := &model.Comment{
			ID: newID(), DraftID: d.ID, MatterID: m.ID, AuthorID: "u1",
			Body: body, CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := repos.Comments.Create(ctx, c); err != nil {
			t.Fatalf("Comments.Create: %v", err)
		}
	}

	list, err := repos.Comments.ListByDraft(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListByDraft: %v", err)
	}
	if len(list) != 2 || list[0].Body != "первый" {
		t.Errorf("ListByDraft: получили %d комментариев", len(list))
	}
}

func testFiles(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	now := baseTime()
	m := NewMatter(t, repos, "u1")

	expired := NewFile(t, repos, m.ID, model.FileTypeTXT, now.Add(-time.Hour))
	fresh := NewFile(t, repos, m.ID, model.FileTypeDOCX, now.Add(time.Hour))

	if err := repos.Files.Create(ctx, expired); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("повторный Create: хотели ErrConflict, получили %v", err)
	}

	got, err := repos.Files.GetByID(ctx, expired.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.OCRStatus != model.OCRStatusNone || got.Size != 1024 {
		t.Errorf("GetByID вернул %+v", got)
	}

	list, err := repos.Files.ListByMatter(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListByMatter: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListByMatter: хотели 2, получили %d", len(list))
	}

	candidates, err := repos.Files.ListPurgeCandidates(ctx, now, repository.Cursor{}, 1000)
	if err != nil {
		t.Fatalf("ListPurgeCandidates: %v", err)
	}
	if !containsFile(candidates, expired.ID) {
		t.Error("истёкший файл не попал в кандидаты")
	}
	if containsFile(candidates, fresh.ID) {
		t.Error("файл с будущим purge_at попал в кандидаты")
	}

	if err := repos.Files.MarkPurged(ctx, expired.ID, now); err != nil {
		t.Fatalf("MarkPurged: %v", err)
	}
	if err := repos.Files.MarkPurged(ctx, expired.ID, now); !errors.Is(err, repository.ErrStateConflict) {
		t.Errorf("повторный MarkPurged: хотели ErrStateConflict, получили %v", err)
	}
	if err := repos.Files.MarkPurged(ctx, newID(), now); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("MarkPurged неизвестного: хотели ErrNotFound, получили %v", err)
	}

	got, _ = repos.Files.GetByID(ctx, expired.ID)
	if !got.IsPurged || got.PurgedAt == nil {
		t.Errorf("файл не отмечен очищенным: %+v", got)
	}
	candidates, _ = repos.Files.ListPurgeCandidates(ctx, now, repository.Cursor{}, 1000)
	if containsFile(candidates, expired.ID) {
		t.Error("очищенный файл остался в кандидатах")
	}
}

func testFileOCR(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	now := baseTime()
	m := NewMatter(t, repos, "u1")
	f := NewFile(t, repos, m.ID, model.FileTypePDF, now.Add(time.Hour))

	if _, err := repos.Files.UpdateOCR(ctx, f.ID, model.OCRStatusProcessing,
		model.OCRState{Status: model.OCRStatusDone}); !errors.Is(err, repository.ErrStateConflict) {
		t.Errorf("UpdateOCR с неверным expected: хотели ErrStateConflict, получили %v", err)
	}

	got, err := repos.Files.UpdateOCR(ctx, f.ID, model.OCRStatusPending,
		model.OCRState{Status: model.OCRStatusProcessing})
	if err != nil {
		t.Fatalf("UpdateOCR pending → processing: %v", err)
	}
	if got.OCRStatus != model.OCRStatusProcessing {
		t.Errorf("статус: хотели processing, получили %s", got.OCRStatus)
	}

	text, conf, pages := "Договор", 92.0, 3
	got, err = repos.Files.UpdateOCR(ctx, f.ID, model.OCRStatusProcessing, model.OCRState{
		Status: model.OCRStatusDone, Text: &text, Confidence: &conf, Pages: &pages,
	})
	if err != nil {
		t.Fatalf("UpdateOCR processing → done: %v", err)
	}
	if got.OCRText == nil || *got.OCRText != text || got.OCRPages == nil || *got.OCRPages != 3 {
		t.Errorf("результат OCR не сохранён: %+v", got)
	}
	if err := got.OCR().Validate(got.Type); err != nil {
		t.Errorf("OCR-поля несогласованы: %v", err)
	}

	// Зависшие: только pending/processing старше порога.
	stuck := NewFile(t, repos, m.ID, model.FileTypePDF, now.Add(time.Hour))
	list, err := repos.Files.ListStuckOCR(ctx, now, repository.Cursor{}, 1000)
	if err != nil {
		t.Fatalf("ListStuckOCR: %v", err)
	}
	if !containsFile(list, stuck.ID) {
		t.Error("pending-файл не найден среди зависших")
	}
	if containsFile(list, f.ID) {
		t.Error("done-файл попал в зависшие")
	}
}

// testFilesPaging проходит кандидатов страницами по 2 записи: каждый файл
// встречается ровно один раз, совпадающий purge_at упорядочен по id.
func testFilesPaging(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	m := NewMatter(t, repos, "u1")

	// Уникальная точка в прошлом, чтобы не пересекаться с другими проверками.
	base := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(time.Now().UnixNano()%1e6) * time.Minute)
	ours := map[string]bool{}
	for _, at := range []time.Time{base, base, base.Add(time.Second), base.Add(2 * time.Second)} {
		f := NewFile(t, repos, m.ID, model.FileTypePDF, at)
		ours[f.ID] = true
	}
	now := base.Add(3 * time.Second)

	var seen []*model.File
	var after repository.Cursor
	for pages := 0; ; pages++ {
		if pages > 1000 {
			t.Fatal("постраничный обход не завершается")
		}
		page, err := repos.Files.ListPurgeCandidates(ctx, now, after, 2)
		if err != nil {
			t.Fatalf("ListPurgeCandidates: %v", err)
		}
		for _, f := range page {
			if ours[f.ID] {
				seen = append(seen, f)
			}
		}
		if len(page) < 2 {
			break
		}
		last := page[len(page)-1]
		after = repository.Cursor{At: last.PurgeAt, ID: last.ID}
	}

	if len(seen) != len(ours) {
		t.Fatalf("хотели %d файлов, получили %d", len(ours), len(seen))
	}
	for i := 1; i < len(seen); i++ {
		prev, cur := seen[i-1], seen[i]
		if !(repository.Cursor{At: prev.PurgeAt, ID: prev.ID}).Admits(cur.PurgeAt, cur.ID) {
			t.Errorf("порядок нарушен: %s (%s) после %s (%s)", cur.ID, cur.PurgeAt, prev.ID, prev.PurgeAt)
		}
	}

	stuck, err := repos.Files.ListStuckOCR(ctx, now.Add(-7*24*time.Hour), repository.Cursor{}, 100)
	if err != nil {
		t.Fatalf("ListStuckOCR: %v", err)
	}
	first := seen[0]
	after = repository.Cursor{At: first.UploadedAt, ID: first.ID}
	rest, err := repos.Files.ListStuckOCR(ctx, now.Add(-7*24*time.Hour), after, 100)
	if err != nil {
		t.Fatalf("ListStuckOCR после курсора: %v", err)
	}
	if !containsFile(stuck, first.ID) || containsFile(rest, first.ID) {
		t.Error("курсор ListStuckOCR не исключил уже пройденный файл")
	}
}

func testExports(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	now := baseTime()
	m := NewMatter(t, repos, "u1")
	d := newDraft(t, repos, m.ID)

	id := newID()
	e := &model.Export{
		ID: id, DraftID: d.ID, MatterID: m.ID, Format: model.ExportFormatDOCX,
		StoragePath: model.ExportStoragePath(m.ID, id, model.ExportFormatDOCX),
		ExportedBy:  "u1", ExportedAt: now, Status: model.ExportStatusPending,
		PurgeAt: now.Add(-time.Minute),
	}
	if err := repos.Exports.Create(ctx, e); err != nil {
		t.Fatalf("Exports.Create: %v", err)
	}

	if _, err := repos.Exports.UpdateStatus(ctx, id, model.ExportStatusProcessing,
		model.ExportUpdate{Status: model.ExportStatusCompleted}); !errors.Is(err, repository.ErrStateConflict) {
		t.Errorf("UpdateStatus с неверным from: хотели ErrStateConflict, получили %v", err)
	}
	if _, err := repos.Exports.UpdateStatus(ctx, id, model.ExportStatusPending,
		model.ExportUpdate{Status: model.ExportStatusProcessing}); err != nil {
		t.Fatalf("UpdateStatus pending → processing: %v", err)
	}
	got, err := repos.Exports.UpdateStatus(ctx, id, model.ExportStatusProcessing,
		model.ExportUpdate{Status: model.ExportStatusCompleted, Size: 4096})
	if err != nil {
		t.Fatalf("UpdateStatus processing → completed: %v", err)
	}
	if got.Size != 4096 || got.Status != model.ExportStatusCompleted {
		t.Errorf("экспорт: %+v", got)
	}

	candidates, err := repos.Exports.ListPurgeCandidates(ctx, now, repository.Cursor{}, 1000)
	if err != nil {
		t.Fatalf("ListPurgeCandidates: %v", err)
	}
	found := false
	for _, c := range candidates {
		found = found || c.ID == id
	}
	if !found {
		t.Error("истёкший экспорт не попал в кандидаты")
	}

	if err := repos.Exports.MarkPurged(ctx, id, now); err != nil {
		t.Fatalf("MarkPurged: %v", err)
	}
	if err := repos.Exports.MarkPurged(ctx, id, now); !errors.Is(err, repository.ErrStateConflict) {
		t.Errorf("повторный MarkPurged: хотели ErrStateConflict, получили %v", err)
	}
}

func newJob(jt model.JobType, target model.Target) *model.Job {
	return &model.Job{
		ID:        newID(),
		Type:      jt,
		Status:    model.JobStatusPending,
		Target:    target,
		CreatedBy: "u1",
		CreatedAt: baseTime(),
		Metadata:  map[string]any{"storage_path": "p"},
	}
}

func testJobsCreateActive(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	target := model.FileTarget(newID())

	first, created, err := repos.Jobs.CreateActive(ctx, newJob(model.JobTypeOCR, target))
	if err != nil || !created {
		t.Fatalf("CreateActive: created=%v, err=%v", created, err)
	}
	second, created, err := repos.Jobs.CreateActive(ctx, newJob(model.JobTypeOCR, target))
	if err != nil {
		t.Fatalf("повторный CreateActive: %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("повторный CreateActive: хотели %s, получили %s (created=%v)", first.ID, second.ID, created)
	}

	// Задание другого типа не конфликтует с OCR.
	other, created, err := repos.Jobs.CreateActive(ctx, newJob(model.JobTypeDraftRefinement, model.DraftTarget(target.ID)))
	if err != nil || !created || other.ID == first.ID {
		t.Errorf("задание другой цели: created=%v, err=%v", created, err)
	}

	// После завершения активного задания можно создать новое.
	now := baseTime()
	if _, err := repos.Jobs.Transition(ctx, first.ID, model.JobStatusPending, model.JobStatusProcessing,
		model.JobPatch{StartedAt: &now}); err != nil {
		t.Fatalf("Transition → processing: %v", err)
	}
	if _, err := repos.Jobs.Transition(ctx, first.ID, model.JobStatusProcessing, model.JobStatusCompleted,
		model.JobPatch{CompletedAt: &now}); err != nil {
		t.Fatalf("Transition → completed: %v", err)
	}
	third, created, err := repos.Jobs.CreateActive(ctx, newJob(model.JobTypeOCR, target))
	if err != nil || !created || third.ID == first.ID {
		t.Errorf("CreateActive после завершения: created=%v, err=%v", created, err)
	}

	active, err := repos.Jobs.ListActiveForTarget(ctx, target)
	if err != nil {
		t.Fatalf("ListActiveForTarget: %v", err)
	}
	if len(active) != 1 || active[0].ID != third.ID {
		t.Errorf("ListActiveForTarget: хотели [%s], получили %d заданий", third.ID, len(active))
	}

	// Задание без цели тоже уникально среди активных своего типа.
	noTarget := newJob(model.JobTypeDraftGeneration, model.NoTarget())
	got, _, err := repos.Jobs.CreateActive(ctx, noTarget)
	if err != nil {
		t.Fatalf("CreateActive без цели: %v", err)
	}
	if got.Target.Kind != model.TargetNone {
		t.Errorf("вид цели: хотели none, получили %s", got.Target.Kind)
	}
	if _, err := repos.Jobs.Transition(ctx, got.ID, model.JobStatusPending, model.JobStatusProcessing,
		model.JobPatch{StartedAt: &now}); err != nil {
		t.Fatalf("Transition без цели: %v", err)
	}
	msg := "отменено"
	if _, err := repos.Jobs.Transition(ctx, got.ID, model.JobStatusProcessing, model.JobStatusFailed,
		model.JobPatch{CompletedAt: &now, Error: &msg}); err != nil {
		t.Fatalf("Transition без цели → failed: %v", err)
	}
}

func testJobsConcurrent(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	target := model.ExportTarget(newID())

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, _, err := repos.Jobs.CreateActive(ctx, newJob(model.JobTypeExport, target))
			if err != nil {
				t.Errorf("CreateActive #%d: %v", i, err)
				return
			}
			ids[i] = j.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("конкурентный CreateActive вернул разные задания: %v", ids)
		}
	}
}

func testJobsTransition(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	now := baseTime()

	job, _, err := repos.Jobs.CreateActive(ctx, newJob(model.JobTypeOCR, model.FileTarget(newID())))
	if err != nil {
		t.Fatalf("CreateActive: %v", err)
	}

	if _, err := repos.Jobs.Transition(ctx, job.ID, model.JobStatusProcessing, model.JobStatusCompleted,
		model.JobPatch{CompletedAt: &now}); !errors.Is(err, repository.ErrStateConflict) {
		t.Errorf("Transition с неверным from: хотели ErrStateConflict, получили %v", err)
	}
	if _, err := repos.Jobs.Transition(ctx, newID(), model.JobStatusPending, model.JobStatusProcessing,
		model.JobPatch{}); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Transition неизвестного: хотели ErrNotFound, получили %v", err)
	}

	started, err := repos.Jobs.Transition(ctx, job.ID, model.JobStatusPending, model.JobStatusProcessing,
		model.JobPatch{StartedAt: &now})
	if err != nil {
		t.Fatalf("Transition → processing: %v", err)
	}
	if started.StartedAt == nil || started.CompletedAt != nil {
		t.Errorf("временные метки processing: %+v", started)
	}

	done, err := repos.Jobs.Transition(ctx, job.ID, model.JobStatusProcessing, model.JobStatusCompleted,
		model.JobPatch{CompletedAt: &now, Metadata: map[string]any{"pages": float64(3)}})
	if err != nil {
		t.Fatalf("Transition → completed: %v", err)
	}
	if done.Metadata["storage_path"] != "p" || done.Metadata["pages"] != float64(3) {
		t.Errorf("метаданные не слиты: %v", done.Metadata)
	}
	if err := done.Validate(); err != nil {
		t.Errorf("завершённое задание несогласовано: %v", err)
	}

	processing := model.JobStatusProcessing
	jt := model.JobTypeOCR
	list, err := repos.Jobs.List(ctx, repository.JobFilter{Type: &jt, Status: &processing}, 1000)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, j := range list {
		if j.ID == job.ID {
			t.Error("завершённое задание попало в выборку processing")
		}
	}
}

func testSessions(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	now := baseTime()
	m := NewMatter(t, repos, "u1")

	mk := func(expiresAt time.Time) *model.UploadSession {
		id := newID()
		s := &model.UploadSession{
			FileID: id, MatterID: m.ID, FileName: "doc.pdf", FileType: model.FileTypePDF,
			StoragePath: model.FileStoragePath(m.ID, id, model.FileTypePDF),
			RequestedBy: "u1", CreatedAt: expiresAt.Add(-15 * time.Minute), ExpiresAt: expiresAt,
		}
		if err := repos.Sessions.Create(ctx, s); err != nil {
			t.Fatalf("Sessions.Create: %v", err)
		}
		return s
	}

	active := mk(now.Add(15 * time.Minute))
	abandoned := mk(now.Add(-2 * time.Hour))
	finalized := mk(now.Add(-2 * time.Hour))

	if err := repos.Sessions.Create(ctx, active); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("повторный Create: хотели ErrConflict, получили %v", err)
	}

	if err := repos.Sessions.MarkFinalized(ctx, finalized.FileID); err != nil {
		t.Fatalf("MarkFinalized: %v", err)
	}
	if err := repos.Sessions.MarkFinalized(ctx, finalized.FileID); !errors.Is(err, repository.ErrStateConflict) {
		t.Errorf("повторный MarkFinalized: хотели ErrStateConflict, получили %v", err)
	}
	got, err := repos.Sessions.GetByFileID(ctx, finalized.FileID)
	if err != nil || !got.Finalized {
		t.Errorf("сессия не отмечена завершённой: %+v, %v", got, err)
	}

	list, err := repos.Sessions.ListAbandoned(ctx, now, 1000)
	if err != nil {
		t.Fatalf("ListAbandoned: %v", err)
	}
	ids := map[string]bool{}
	for _, s := range list {
		ids[s.FileID] = true
	}
	if !ids[abandoned.FileID] || ids[active.FileID] || ids[finalized.FileID] {
		t.Errorf("ListAbandoned вернул неверный набор: %v", ids)
	}

	if err := repos.Sessions.DeleteUnfinalized(ctx, finalized.FileID); !errors.Is(err, repository.ErrStateConflict) {
		t.Errorf("DeleteUnfinalized завершённой: хотели ErrStateConflict, получили %v", err)
	}
	if err := repos.Sessions.DeleteUnfinalized(ctx, abandoned.FileID); err != nil {
		t.Fatalf("DeleteUnfinalized: %v", err)
	}
	if _, err := repos.Sessions.GetByFileID(ctx, abandoned.FileID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("удалённая сессия: хотели ErrNotFound, получили %v", err)
	}
	if err := repos.Sessions.MarkFinalized(ctx, abandoned.FileID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("MarkFinalized удалённой: хотели ErrNotFound, получили %v", err)
	}
}

func containsFile(list []*model.File, id string) bool {
	for _, f := range list {
		if f.ID == id {
			return true
		}
	}
	return false
}
