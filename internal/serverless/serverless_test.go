package serverless

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/bootstrap"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/config"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFunctions(t *testing.T) (*Functions, *bootstrap.App) {
	t.Helper()
	cfg := &config.Config{
		StoreBackend:         config.StoreBackendMemory,
		ObjectBackend:        config.ObjectBackendLocal,
		DataDir:              t.TempDir(),
		GrantSecret:          "serverless-test-secret-serverless",
		PublicBaseURL:        "http://lm.local",
		UploadGrantTTL:       15 * time.Minute,
		FinalizeGrace:        time.Hour,
		FileRetention:        7 * 24 * time.Hour,
		ExportRetention:      7 * 24 * time.Hour,
		MaxFileSize:          10 << 20,
		PurgeInterval:        time.Hour,
		PurgeBatchSize:       100,
		PurgeConcurrency:     2,
		PurgeDeleteRetries:   3,
		OCRReconcileInterval: time.Hour,
		OCRStuckTimeout:      time.Hour,
		MembershipCacheSize:  100,
		MembershipCacheTTL:   time.Minute,
		AuthDisabled:         true,
		ShutdownTimeout:      time.Second,
	}
	app, err := bootstrap.New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("bootstrap.New: %v", err)
	}
	t.Cleanup(app.Close)
	return New(cfg, app, testLogger()), app
}

func post(fn http.HandlerFunc, subject string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Debug-Subject", subject)
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestUploadFunctions(t *testing.T) {
	fns, app := newFunctions(t)
	matter, err := app.Matters.Create(context.Background(), "Дело", "Клиент", "alice", nil)
	if err != nil {
		t.Fatalf("Create matter: %v", err)
	}

	rec := post(fns.CreateUploadSession, "alice", map[string]string{
		"matter_id": matter.ID,
		"file_name": "claim.txt",
		"file_type": "txt",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("CreateUploadSession: хотели 201, получили %d: %s", rec.Code, rec.Body.String())
	}
	var sess service.UploadSessionResult
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatal(err)
	}
	if sess.FileID == "" || sess.UploadGrant == nil {
		t.Fatalf("ответ без file_id или гранта: %+v", sess)
	}

	// Finalize до записи объекта — загрузка не завершена
	rec = post(fns.FinalizeUpload, "alice", map[string]any{"file_id": sess.FileID, "actual_size": 5})
	if rec.Code != http.StatusConflict {
		t.Errorf("FinalizeUpload без объекта: хотели 409, получили %d: %s", rec.Code, rec.Body.String())
	}

	// Посторонний пользователь не может создать сессию
	rec = post(fns.CreateUploadSession, "mallory", map[string]string{
		"matter_id": matter.ID,
		"file_name": "x.txt",
		"file_type": string(model.FileTypeTXT),
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("чужое дело: хотели 403, получили %d", rec.Code)
	}
}

func TestUploadFunctions_MethodNotAllowed(t *testing.T) {
	fns, _ := newFunctions(t)

	rec := httptest.NewRecorder()
	fns.FinalizeUpload(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("хотели 405, получили %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Errorf("Allow: получили %q", rec.Header().Get("Allow"))
	}
}

func TestSweepExpired(t *testing.T) {
	fns, _ := newFunctions(t)

	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	e.SetSource("//pubsub.googleapis.com/projects/p/topics/lm-sweep")

	if err := fns.SweepExpired(context.Background(), e); err != nil {
		t.Errorf("SweepExpired: %v", err)
	}
}
