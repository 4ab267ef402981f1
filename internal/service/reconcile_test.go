package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

func TestReconcile_RequeuesStuckFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")

	// pending без активного задания: задание завершилось мимо диспетчера.
	lost := env.upload(t, m.ID, "u1", "lost.pdf", "pdf", samplePDF(1))
	lostJob := env.activeOCR(t, lost.ID)
	_, _ = env.ledger.MarkStarted(ctx, lostJob.ID)
	_, _ = env.ledger.MarkFailed(ctx, lostJob.ID, "воркер пропал")

	// processing без активного задания.
	stuck := env.upload(t, m.ID, "u1", "stuck.pdf", "pdf", samplePDF(1))
	stuckJob := env.activeOCR(t, stuck.ID)
	if _, _, err := env.ocr.StartOCR(ctx, stuckJob.ID); err != nil {
		t.Fatal(err)
	}
	_, _ = env.ledger.MarkFailed(ctx, stuckJob.ID, "воркер пропал")

	// С активным заданием файл не трогается.
	busy := env.upload(t, m.ID, "u1", "busy.pdf", "pdf", samplePDF(1))
	busyJob := env.activeOCR(t, busy.ID)

	env.clock.Advance(2 * time.Hour)
	result, skipped := env.reconcile.RunOnce(ctx)
	if skipped {
		t.Fatal("сверка пропущена")
	}
	if result.Checked != 3 || result.Requeued != 2 || result.Reset != 1 || result.Errors != 0 {
		t.Errorf("результат: %+v", result)
	}

	for _, f := range []*model.File{lost, stuck} {
		job := env.activeOCR(t, f.ID)
		if job == nil {
			t.Errorf("файл %s: задание не поставлено", f.Name)
			continue
		}
		if job.CreatedBy != ReconcileSubject {
			t.Errorf("файл %s: created_by %s", f.Name, job.CreatedBy)
		}
		got := env.file(t, f.ID)
		if got.OCRStatus != model.OCRStatusPending {
			t.Errorf("файл %s: хотели pending, получили %s", f.Name, got.OCRStatus)
		}
		assertOCRInvariants(t, got)
	}
	if job := env.activeOCR(t, busy.ID); job == nil || job.ID != busyJob.ID {
		t.Errorf("активное задание файла busy заменено: %v", job)
	}

	// Повторная сверка ничего не ставит: у всех файлов есть задания.
	result, _ = env.reconcile.RunOnce(ctx)
	if result.Requeued != 0 {
		t.Errorf("повторная сверка: %+v", result)
	}
}

func TestReconcile_IgnoresRecentAndExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")

	f := env.upload(t, m.ID, "u1", "doc.pdf", "pdf", samplePDF(1))
	job := env.activeOCR(t, f.ID)
	_, _ = env.ledger.MarkStarted(ctx, job.ID)
	_, _ = env.ledger.MarkFailed(ctx, job.ID, "сбой")

	// Файл загружен недавно.
	result, _ := env.reconcile.RunOnce(ctx)
	if result.Checked != 0 {
		t.Errorf("свежий файл проверен: %+v", result)
	}

	// Срок хранения истёк: ставить OCR бессмысленно.
	env.clock.Advance(testRetention)
	result, _ = env.reconcile.RunOnce(ctx)
	if result.Requeued != 0 || result.Errors != 0 {
		t.Errorf("истёкший файл: %+v", result)
	}
	if job := env.activeOCR(t, f.ID); job != nil {
		t.Errorf("для истёкшего файла поставлено задание %s", job.ID)
	}
}

func TestReconcile_HealthyFilesDoNotBlockLaterPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")

	// a загружен раньше и держит живое задание.
	a := env.upload(t, m.ID, "u1", "a.pdf", "pdf", samplePDF(1))
	env.clock.Advance(time.Second)
	b := env.upload(t, m.ID, "u1", "b.pdf", "pdf", samplePDF(1))

	// Задание b завершается мимо OCR-сервиса: файл остаётся pending без задания.
	bJob := env.activeOCR(t, b.ID)
	_, _ = env.ledger.MarkStarted(ctx, bJob.ID)
	if _, err := env.ledger.MarkFailed(ctx, bJob.ID, "воркер пропал"); err != nil {
		t.Fatal(err)
	}

	rs := NewReconcileService(env.repos.Files, env.ocr, ReconcileConfig{
		Interval:     time.Hour,
		StuckTimeout: time.Hour,
		BatchSize:    1,
	}, testLogger())
	rs.now = env.clock.Now

	env.clock.Advance(2 * time.Hour)
	result, _ := rs.RunOnce(ctx)
	if result.Checked != 2 || result.Requeued != 1 || result.Errors != 0 {
		t.Errorf("результат: хотели checked=2 requeued=1, получили %+v", result)
	}
	if job := env.activeOCR(t, b.ID); job == nil || job.CreatedBy != ReconcileSubject {
		t.Errorf("файл b не поставлен заново: %v", job)
	}
	if job := env.activeOCR(t, a.ID); job == nil {
		t.Error("у файла a пропало задание")
	}
}
