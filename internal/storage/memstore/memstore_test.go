package memstore

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository/repotest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestContract(t *testing.T) {
	repotest.Run(t, New(testLogger()).Repositories())
}

// TestReturnsCopies — изменение возвращённой записи не затрагивает хранилище.
func TestReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repos := New(testLogger()).Repositories()

	m := repotest.NewMatter(t, repos, "u1")
	got, err := repos.Matters.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	got.Participants[0] = "intruder"
	got.Status = model.MatterStatusArchived

	again, _ := repos.Matters.GetByID(ctx, m.ID)
	if again.Participants[0] != "u1" || again.Status != model.MatterStatusActive {
		t.Errorf("хранилище изменено через копию: %+v", again)
	}
}

// TestUpdateOCRRejectsInconsistentState — память проверяет те же
// ограничения OCR-полей, что и схема PostgreSQL.
func TestUpdateOCRRejectsInconsistentState(t *testing.T) {
	ctx := context.Background()
	repos := New(testLogger()).Repositories()

	m := repotest.NewMatter(t, repos, "u1")
	f := repotest.NewFile(t, repos, m.ID, model.FileTypeTXT, time.Now().Add(time.Hour))

	if _, err := repos.Files.UpdateOCR(ctx, f.ID, model.OCRStatusNone,
		model.OCRState{Status: model.OCRStatusPending}); err == nil {
		t.Error("ожидалась ошибка для OCR-статуса у txt-файла")
	}
}

func TestCheckReady(t *testing.T) {
	status, _ := New(testLogger()).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady: хотели ok, получили %q", status)
	}
}
