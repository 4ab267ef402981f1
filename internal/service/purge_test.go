package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

func TestSweep_NothingBeforeRetention(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	f := env.upload(t, m.ID, "u1", "a.txt", "txt", []byte("abc"))

	report, skipped := env.purge.Sweep(ctx, env.clock.Now().Add(testRetention-time.Second))
	if skipped {
		t.Fatal("проход пропущен")
	}
	if report.PurgedFiles != 0 || len(report.Failed) != 0 {
		t.Errorf("отчёт: получено %+v", report)
	}
	if env.file(t, f.ID).IsPurged {
		t.Error("файл очищен до истечения срока")
	}
}

func TestSweep_PurgesExpiredFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	f := env.upload(t, m.ID, "u1", "a.txt", "txt", []byte("abc"))

	env.clock.Advance(testRetention)
	report, _ := env.purge.RunOnce(ctx)
	if report.PurgedFiles != 1 {
		t.Fatalf("PurgedFiles: хотели 1, получили %d (%+v)", report.PurgedFiles, report)
	}

	got := env.file(t, f.ID)
	if !got.IsPurged || got.PurgedAt == nil {
		t.Errorf("файл не помечен очищенным: %+v", got)
	}
	if _, err := env.store.Stat(ctx, f.StoragePath); !errors.Is(err, object.ErrNotFound) {
		t.Errorf("объект не удалён: %v", err)
	}

	// Повторный проход не трогает очищенную запись.
	again, _ := env.purge.RunOnce(ctx)
	if again.PurgedFiles != 0 || again.Skipped != 0 || len(again.Failed) != 0 {
		t.Errorf("повторный проход: получено %+v", again)
	}

	// Очищенный файл остаётся в списке дела как tombstone.
	files, err := env.files.ListByMatter(ctx, m.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || !files[0].IsPurged {
		t.Errorf("tombstone: получено %v", files)
	}
}

func TestSweep_DefersWhileJobActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	f := env.upload(t, m.ID, "u1", "doc.pdf", "pdf", samplePDF(1))
	job := env.activeOCR(t, f.ID)

	env.clock.Advance(testRetention)
	report, _ := env.purge.RunOnce(ctx)
	if report.Deferred != 1 || report.PurgedFiles != 0 {
		t.Fatalf("отчёт с активным заданием: %+v", report)
	}
	if env.file(t, f.ID).IsPurged {
		t.Fatal("файл с активным заданием очищен")
	}
	if _, err := env.store.Stat(ctx, f.StoragePath); err != nil {
		t.Errorf("объект файла с активным заданием удалён: %v", err)
	}

	// Задание завершается, следующий проход очищает файл.
	if _, _, err := env.ocr.StartOCR(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.ocr.FailOCR(ctx, job.ID, "таймаут"); err != nil {
		t.Fatal(err)
	}
	report, _ = env.purge.RunOnce(ctx)
	if report.PurgedFiles != 1 || report.Deferred != 0 {
		t.Errorf("отчёт после завершения задания: %+v", report)
	}
	if !env.file(t, f.ID).IsPurged {
		t.Error("файл не очищен после завершения задания")
	}
}

func TestSweep_PurgesExports(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	d := env.newDraft(t, m.ID, "u1")

	exp, job, err := env.exports.RequestExport(ctx, d.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	_, _, _ = env.exports.StartExport(ctx, job.ID)
	if _, err := env.objects.Save(exp.StoragePath, strings.NewReader("docx"), 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.exports.CompleteExport(ctx, job.ID, model.ExportResult{}); err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(testRetention)
	report, _ := env.purge.RunOnce(ctx)
	if report.PurgedExports != 1 {
		t.Fatalf("PurgedExports: хотели 1, получили %d", report.PurgedExports)
	}
	got, err := env.repos.Exports.GetByID(ctx, exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsPurged {
		t.Error("экспорт не помечен очищенным")
	}
	if _, err := env.store.Stat(ctx, exp.StoragePath); !errors.Is(err, object.ErrNotFound) {
		t.Errorf("объект экспорта не удалён: %v", err)
	}
}

func TestSweep_AbandonedSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")

	// Объект загружен, но finalize так и не вызван.
	abandoned, _ := env.uploads.CreateSession(ctx, m.ID, "lost.pdf", "pdf", "u1")
	if _, err := env.objects.Save(abandoned.StoragePath, strings.NewReader("%PDF"), 0); err != nil {
		t.Fatal(err)
	}
	// Сессия без объекта тоже удаляется.
	empty, _ := env.uploads.CreateSession(ctx, m.ID, "never.txt", "txt", "u1")
	// Завершённая сессия не трогается.
	kept := env.upload(t, m.ID, "u1", "kept.txt", "txt", []byte("ok"))

	// В пределах grace сессии ещё живы.
	env.clock.Advance(testGrantTTL + testGrace/2)
	report, _ := env.purge.RunOnce(ctx)
	if report.AbandonedSessions != 0 {
		t.Fatalf("сессии удалены до истечения grace: %+v", report)
	}

	env.clock.Advance(testGrace)
	report, _ = env.purge.RunOnce(ctx)
	if report.AbandonedSessions != 2 || len(report.Failed) != 0 {
		t.Fatalf("отчёт: %+v", report)
	}
	for _, id := range []string{abandoned.FileID, empty.FileID} {
		if _, err := env.repos.Sessions.GetByFileID(ctx, id); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("сессия %s не удалена: %v", id, err)
		}
	}
	if _, err := env.store.Stat(ctx, abandoned.StoragePath); !errors.Is(err, object.ErrNotFound) {
		t.Errorf("объект брошенной сессии не удалён: %v", err)
	}
	if _, err := env.repos.Sessions.GetByFileID(ctx, kept.ID); err != nil {
		t.Errorf("завершённая сессия удалена: %v", err)
	}

	// Finalize удалённой сессии невозможен.
	if _, err := env.uploads.Finalize(ctx, abandoned.FileID, 4, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("finalize после очистки: хотели ErrNotFound, получили %v", err)
	}
}

func TestSweep_RetriesUnavailableStorage(t *testing.T) {
	faults := &faultyStore{}
	env := newTestEnv(t, withFaults(faults))
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	f := env.upload(t, m.ID, "u1", "a.txt", "txt", []byte("abc"))

	faults.deleteFailures = 2
	faults.deleteErr = fmt.Errorf("%w: 503", object.ErrUnavailable)

	env.clock.Advance(testRetention)
	report, _ := env.purge.RunOnce(ctx)
	if report.PurgedFiles != 1 || len(report.Failed) != 0 {
		t.Fatalf("отчёт: %+v", report)
	}
	if faults.deleteCalls != 3 {
		t.Errorf("попыток удаления: хотели 3, получили %d", faults.deleteCalls)
	}
	if !env.file(t, f.ID).IsPurged {
		t.Error("файл не очищен после повторов")
	}
}

func TestSweep_RetriesExhausted(t *testing.T) {
	faults := &faultyStore{}
	env := newTestEnv(t, withFaults(faults))
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	f := env.upload(t, m.ID, "u1", "a.txt", "txt", []byte("abc"))

	faults.deleteFailures = 10
	faults.deleteErr = fmt.Errorf("%w: 503", object.ErrUnavailable)

	env.clock.Advance(testRetention)
	report, _ := env.purge.RunOnce(ctx)
	if len(report.Failed) != 1 || report.Failed[0].ID != f.ID || report.Failed[0].Kind != PurgeKindFile {
		t.Fatalf("отчёт: %+v", report)
	}
	if faults.deleteCalls != 3 {
		t.Errorf("попыток удаления: хотели 3, получили %d", faults.deleteCalls)
	}
	if env.file(t, f.ID).IsPurged {
		t.Error("файл помечен очищенным, хотя объект не удалён")
	}
}

func TestSweep_PermanentErrorDoesNotStopPass(t *testing.T) {
	faults := &faultyStore{}
	env := newTestEnv(t, withFaults(faults))
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	a := env.upload(t, m.ID, "u1", "a.txt", "txt", []byte("a"))
	b := env.upload(t, m.ID, "u1", "b.txt", "txt", []byte("b"))

	faults.deleteFailures = 1
	faults.deleteErr = errPermanent

	env.clock.Advance(testRetention)
	report, _ := env.purge.RunOnce(ctx)
	if report.PurgedFiles != 1 || len(report.Failed) != 1 {
		t.Fatalf("отчёт: %+v", report)
	}
	// Постоянная ошибка не повторяется.
	if faults.deleteCalls != 2 {
		t.Errorf("вызовов Delete: хотели 2, получили %d", faults.deleteCalls)
	}

	failedID := report.Failed[0].ID
	if failedID != a.ID && failedID != b.ID {
		t.Fatalf("в отчёте неизвестный файл %s", failedID)
	}
	if env.file(t, failedID).IsPurged {
		t.Error("файл со сбоем помечен очищенным")
	}

	// Следующий проход дочищает оставшийся файл.
	report, _ = env.purge.RunOnce(ctx)
	if report.PurgedFiles != 1 || len(report.Failed) != 0 {
		t.Errorf("повторный проход: %+v", report)
	}
	if !env.file(t, a.ID).IsPurged || !env.file(t, b.ID).IsPurged {
		t.Error("не все файлы очищены")
	}
}

func TestSweep_SkipsConcurrentRun(t *testing.T) {
	env := newTestEnv(t)

	env.purge.mu.Lock()
	env.purge.inProcess = true
	env.purge.mu.Unlock()

	report, skipped := env.purge.RunOnce(context.Background())
	if !skipped || report != nil {
		t.Errorf("параллельный проход: хотели пропуск, получили %v, %v", report, skipped)
	}
}

func TestPurgeService_StartStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	f := env.upload(t, m.ID, "u1", "a.txt", "txt", []byte("abc"))
	env.clock.Advance(testRetention)

	// Первый проход выполняется сразу после старта.
	env.purge.Start(ctx)
	defer env.purge.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := env.repos.Files.GetByID(ctx, f.ID); got != nil && got.IsPurged {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("фоновая очистка не выполнила первый проход")
}

// newBatchPurge возвращает очистку поверх env с заданным размером страницы.
func newBatchPurge(env *testEnv, batch int) *PurgeService {
	p := NewPurgeService(env.repos, env.store, PurgeConfig{
		Interval:      time.Hour,
		BatchSize:     batch,
		Concurrency:   1,
		DeleteRetries: 1,
		FinalizeGrace: testGrace,
		RetryDelay:    time.Millisecond,
	}, testLogger())
	p.now = env.clock.Now
	return p
}

func TestSweep_DeferredRecordDoesNotBlockLaterPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")

	// pdf истекает раньше и держит OCR-задание pending.
	pdf := env.upload(t, m.ID, "u1", "doc.pdf", "pdf", samplePDF(1))
	env.clock.Advance(time.Second)
	txt := env.upload(t, m.ID, "u1", "a.txt", "txt", []byte("abc"))
	if env.activeOCR(t, pdf.ID) == nil {
		t.Fatal("у pdf нет активного задания")
	}

	env.clock.Advance(testRetention)
	report, _ := newBatchPurge(env, 1).RunOnce(ctx)

	if report.Deferred != 1 || report.PurgedFiles != 1 || len(report.Failed) != 0 {
		t.Fatalf("отчёт: %+v", report)
	}
	if !env.file(t, txt.ID).IsPurged {
		t.Error("txt за отложенным pdf не очищен")
	}
	if env.file(t, pdf.ID).IsPurged {
		t.Error("pdf с активным заданием очищен")
	}
}

func TestSweep_PagesThroughAllCandidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")

	const n = 5
	for i := range n {
		env.upload(t, m.ID, "u1", fmt.Sprintf("f%d.txt", i), "txt", []byte("abc"))
	}

	env.clock.Advance(testRetention)
	report, _ := newBatchPurge(env, 2).RunOnce(ctx)
	if report.PurgedFiles != n || report.Skipped != 0 {
		t.Errorf("PurgedFiles: хотели %d, получили %d (%+v)", n, report.PurgedFiles, report)
	}
}

// jobOnDeleteStore ставит задание на цель во время удаления объекта.
type jobOnDeleteStore struct {
	object.Store
	onDelete func(ctx context.Context, path string)
}

func (s *jobOnDeleteStore) Delete(ctx context.Context, path string) error {
	if s.onDelete != nil {
		s.onDelete(ctx, path)
	}
	return s.Store.Delete(ctx, path)
}

func TestSweep_ReportsJobCreatedDuringDelete(t *testing.T) {
	hook := &jobOnDeleteStore{}
	env := newTestEnv(t, func(inner object.Store) object.Store {
		hook.Store = inner
		return hook
	})
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	f := env.upload(t, m.ID, "u1", "a.txt", "txt", []byte("abc"))

	hook.onDelete = func(ctx context.Context, path string) {
		if path != f.StoragePath {
			return
		}
		if _, err := env.ledger.Enqueue(ctx, model.JobTypeOCR, model.FileTarget(f.ID), "u1", nil); err != nil {
			t.Errorf("Enqueue: %v", err)
		}
	}

	env.clock.Advance(testRetention)
	report, _ := env.purge.RunOnce(ctx)
	if report.PurgedFiles != 1 || report.Overlapped != 1 {
		t.Errorf("отчёт: хотели purged=1 overlapped=1, получили %+v", report)
	}
	if !env.file(t, f.ID).IsPurged {
		t.Error("файл не помечен очищенным")
	}
}
