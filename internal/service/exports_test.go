package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

// newDraft создаёт черновик дела напрямую в репозитории.
func (e *testEnv) newDraft(t *testing.T, matterID, author string) *model.Draft {
	t.Helper()
	now := e.clock.Now()
	d := &model.Draft{
		ID:        uuid.NewString(),
		MatterID:  matterID,
		Title:     "Исковое заявление",
		Status:    "ready",
		CreatedBy: author,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repos.Drafts.Create(context.Background(), d); err != nil {
		t.Fatalf("Drafts.Create: %v", err)
	}
	return d
}

func TestExport_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	d := env.newDraft(t, m.ID, "u1")

	exp, job, err := env.exports.RequestExport(ctx, d.ID, "u1")
	if err != nil {
		t.Fatalf("RequestExport: %v", err)
	}
	if exp.Status != model.ExportStatusPending || exp.Format != model.ExportFormatDOCX {
		t.Errorf("экспорт: получено %+v", exp)
	}
	if want := model.ExportStoragePath(m.ID, exp.ID, model.ExportFormatDOCX); exp.StoragePath != want {
		t.Errorf("StoragePath: хотели %s, получили %s", want, exp.StoragePath)
	}
	if !exp.PurgeAt.Equal(exp.ExportedAt.Add(testRetention)) {
		t.Errorf("PurgeAt: получено %v", exp.PurgeAt)
	}
	if job.Type != model.JobTypeExport || job.Target != model.ExportTarget(exp.ID) {
		t.Errorf("задание: получено %+v", job)
	}
	if job.Metadata["draft_id"] != d.ID {
		t.Errorf("metadata.draft_id: получено %v", job.Metadata["draft_id"])
	}

	// Грант выдаётся только после старта.
	if _, err := env.exports.IssueExportGrant(ctx, job.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("грант до старта: хотели ErrInvalidStateTransition, получили %v", err)
	}

	_, started, err := env.exports.StartExport(ctx, job.ID)
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	if started.Status != model.ExportStatusProcessing {
		t.Errorf("экспорт после старта: %s", started.Status)
	}

	grant, err := env.exports.IssueExportGrant(ctx, job.ID)
	if err != nil {
		t.Fatalf("IssueExportGrant: %v", err)
	}
	if grant.Method != "PUT" || grant.Headers["Content-Type"] != exportContentType {
		t.Errorf("грант: получено %+v", grant)
	}

	// Без объекта завершить нельзя.
	if _, _, err := env.exports.CompleteExport(ctx, job.ID, model.ExportResult{}); !errors.Is(err, ErrUploadIncomplete) {
		t.Errorf("без объекта: хотели ErrUploadIncomplete, получили %v", err)
	}

	if _, err := env.objects.Save(exp.StoragePath, strings.NewReader("docx-bytes"), 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.exports.CompleteExport(ctx, job.ID, model.ExportResult{Size: 3}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("неверный размер: хотели ErrInvalidArgument, получили %v", err)
	}

	doneJob, done, err := env.exports.CompleteExport(ctx, job.ID, model.ExportResult{Size: 10})
	if err != nil {
		t.Fatalf("CompleteExport: %v", err)
	}
	if doneJob.Status != model.JobStatusCompleted || done.Status != model.ExportStatusCompleted || done.Size != 10 {
		t.Errorf("после завершения: задание %s, экспорт %+v", doneJob.Status, done)
	}

	got, err := env.exports.Get(ctx, exp.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ExportStatusCompleted {
		t.Errorf("Get: статус %s", got.Status)
	}
	if _, err := env.exports.Get(ctx, exp.ID, "stranger"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("Get не участником: хотели ErrNotAuthorized, получили %v", err)
	}
}

func TestExport_Fail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	d := env.newDraft(t, m.ID, "u1")

	exp, job, err := env.exports.RequestExport(ctx, d.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.exports.StartExport(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	failedJob, failed, err := env.exports.FailExport(ctx, job.ID, "шаблон не найден")
	if err != nil {
		t.Fatalf("FailExport: %v", err)
	}
	if failedJob.Status != model.JobStatusFailed || failed.Status != model.ExportStatusFailed {
		t.Errorf("после FailExport: задание %s, экспорт %s", failedJob.Status, failed.Status)
	}
	if failed.Error == nil || *failed.Error != "шаблон не найден" {
		t.Errorf("Error экспорта: получено %v", failed.Error)
	}
	if failed.ID != exp.ID {
		t.Errorf("ID: хотели %s, получили %s", exp.ID, failed.ID)
	}

	if _, _, err := env.exports.StartExport(ctx, job.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("failed → processing: хотели ErrInvalidStateTransition, получили %v", err)
	}
}

func TestExport_CompleteFromLaggingPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	d := env.newDraft(t, m.ID, "u1")

	exp, job, _ := env.exports.RequestExport(ctx, d.ID, "u1")
	// Задание стартовало напрямую через журнал, экспорт отстал.
	if _, err := env.ledger.MarkStarted(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.objects.Save(exp.StoragePath, strings.NewReader("x"), 0); err != nil {
		t.Fatal(err)
	}
	_, done, err := env.exports.CompleteExport(ctx, job.ID, model.ExportResult{})
	if err != nil {
		t.Fatalf("CompleteExport: %v", err)
	}
	if done.Status != model.ExportStatusCompleted || done.Size != 1 {
		t.Errorf("экспорт: получено %+v", done)
	}
}

func TestRequestExport_Rejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	d := env.newDraft(t, m.ID, "u1")

	if _, _, err := env.exports.RequestExport(ctx, "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет черновика: хотели ErrNotFound, получили %v", err)
	}
	if _, _, err := env.exports.RequestExport(ctx, d.ID, "stranger"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("не участник: хотели ErrNotAuthorized, получили %v", err)
	}

	if _, err := env.matters.TransitionStatus(ctx, m.ID, "u1", model.MatterStatusArchived); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.exports.RequestExport(ctx, d.ID, "u1"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("архивное дело: хотели ErrNotAuthorized, получили %v", err)
	}
}

func TestExport_WrongJobType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, _ := env.ledger.Enqueue(ctx, model.JobTypeOCR, model.FileTarget("f1"), "u1", nil)
	if _, _, err := env.exports.StartExport(ctx, job.ID); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("StartExport для ocr: хотели ErrInvalidArgument, получили %v", err)
	}
	if _, err := env.exports.IssueExportGrant(ctx, job.ID); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("IssueExportGrant для ocr: хотели ErrInvalidArgument, получили %v", err)
	}
}

func TestDrafts_Read(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.newMatter(t, "u1")
	d := env.newDraft(t, m.ID, "u1")

	for i, body := range []string{"первый", "второй"} {
		c := &model.Comment{
			ID:        uuid.NewString(),
			DraftID:   d.ID,
			MatterID:  m.ID,
			AuthorID:  "u1",
			Body:      body,
			CreatedAt: env.clock.Now().Add(time.Duration(i) * time.Second),
		}
		if err := env.repos.Comments.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	got, err := env.drafts.Get(ctx, d.ID, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != d.Title {
		t.Errorf("Title: хотели %s, получили %s", d.Title, got.Title)
	}
	comments, err := env.drafts.ListComments(ctx, d.ID, "u1")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 2 || comments[0].Body != "первый" {
		t.Errorf("комментарии: получено %d", len(comments))
	}

	if _, err := env.drafts.ListComments(ctx, d.ID, "stranger"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("не участник: хотели ErrNotAuthorized, получили %v", err)
	}
	if _, err := env.drafts.Get(ctx, "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет черновика: хотели ErrNotFound, получили %v", err)
	}
}
