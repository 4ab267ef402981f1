package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/service"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/memstore"
)

const testMaxObjectSize = 1 << 20

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// apiEnv — API поверх memstore и локального хранилища объектов.
type apiEnv struct {
	router  http.Handler
	repos   *repository.Repositories
	objects *filestore.FileStore
	ledger  *service.JobLedger
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	logger := testLogger()

	fs, err := filestore.New(t.TempDir(), "test-secret-test-secret-test-secret", "http://lm.local")
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	mem := memstore.New(logger)
	repos := mem.Repositories()

	matters := service.NewMatterService(repos.Matters, service.NewMembershipCache(100, time.Minute), logger)
	ledger := service.NewJobLedger(repos.Jobs, logger)
	ocr := service.NewOCRService(repos.Files, ledger, service.NewPDFInspector(fs, 0), logger)
	uploads := service.NewUploadService(matters, repos.Sessions, repos.Files, fs, ocr, service.UploadConfig{
		GrantTTL:      15 * time.Minute,
		FinalizeGrace: time.Hour,
		Retention:     7 * 24 * time.Hour,
		MaxFileSize:   testMaxObjectSize,
	}, logger)
	exports := service.NewExportService(repos.Drafts, matters, repos.Exports, ledger, fs, service.ExportConfig{
		Retention: 7 * 24 * time.Hour,
		GrantTTL:  15 * time.Minute,
	}, logger)
	purge := service.NewPurgeService(repos, fs, service.PurgeConfig{
		Interval:      time.Hour,
		BatchSize:     100,
		Concurrency:   2,
		DeleteRetries: 2,
		FinalizeGrace: time.Hour,
		RetryDelay:    time.Millisecond,
	}, logger)
	reconcile := service.NewReconcileService(repos.Files, ocr, service.ReconcileConfig{
		Interval:     time.Hour,
		StuckTimeout: time.Hour,
		BatchSize:    100,
	}, logger)

	h := NewAPIHandler(Deps{
		Health:        NewHealthHandler().AddCheck("metadata", mem).AddCheck("objects", fs),
		Matters:       matters,
		Uploads:       uploads,
		Files:         service.NewFileService(repos.Files, matters, ocr, logger),
		Drafts:        service.NewDraftService(repos.Drafts, repos.Comments, matters),
		Exports:       exports,
		OCR:           ocr,
		Ledger:        ledger,
		Purge:         purge,
		Reconcile:     reconcile,
		Objects:       fs,
		MaxObjectSize: testMaxObjectSize,
	}, logger)

	r := chi.NewRouter()
	dev := middleware.DevAuth(logger)
	// Объекты принимаются по гранту без субъекта.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == filestore.UploadPath || req.URL.Path == "/api/v1/openapi.yaml" {
				next.ServeHTTP(w, req)
				return
			}
			dev(next).ServeHTTP(w, req)
		})
	})
	h.Routes(r)

	return &apiEnv{router: r, repos: repos, objects: fs, ledger: ledger}
}

// do выполняет запрос от имени user со scopes (через пробел).
func (e *apiEnv) do(t *testing.T, method, target, user, scopes string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderDebugSubject, user)
	}
	if scopes != "" {
		req.Header.Set(middleware.HeaderDebugScopes, scopes)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// put записывает объект по URL гранта.
func (e *apiEnv) put(t *testing.T, grant *model.UploadGrant, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	u, err := url.Parse(grant.URL)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(grant.Method, u.RequestURI(), bytes.NewReader(data))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	return v
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	File *model.File `json:"file"`
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorResponse {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("статус: хотели %d, получили %d, тело: %s", status, rec.Code, rec.Body.String())
	}
	resp := decode[errorResponse](t, rec)
	if resp.Error.Code != code {
		t.Fatalf("код: хотели %s, получили %s", code, resp.Error.Code)
	}
	return resp
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("статус: хотели %d, получили %d, тело: %s", status, rec.Code, rec.Body.String())
	}
}

func (e *apiEnv) createMatter(t *testing.T, owner string, participants ...string) *model.Matter {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/matters", owner, "", map[string]any{
		"title": "Иск о взыскании", "client_name": "ООО Ромашка", "participants": participants,
	})
	expectStatus(t, rec, http.StatusCreated)
	return decode[*model.Matter](t, rec)
}

// uploadFile проходит путь сессия → PUT → finalize.
func (e *apiEnv) uploadFile(t *testing.T, matterID, user, name, fileType string, data []byte) *model.File {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/uploads", user, "", map[string]any{
		"matter_id": matterID, "file_name": name, "file_type": fileType,
	})
	expectStatus(t, rec, http.StatusCreated)
	sess := decode[service.UploadSessionResult](t, rec)

	ft, _ := model.ParseFileType(fileType)
	expectStatus(t, e.put(t, sess.UploadGrant, ft.ContentType(), data), http.StatusCreated)

	rec = e.do(t, http.MethodPost, "/api/v1/uploads/finalize", user, "", map[string]any{
		"file_id": sess.FileID, "actual_size": len(data),
	})
	expectStatus(t, rec, http.StatusOK)
	return decode[*model.File](t, rec)
}

func TestUploadFlow(t *testing.T) {
	env := newAPIEnv(t)
	m := env.createMatter(t, "lawyer-1")

	rec := env.do(t, http.MethodPost, "/api/v1/uploads", "lawyer-1", "", map[string]any{
		"matter_id": m.ID, "file_name": "contract.pdf", "file_type": "pdf",
	})
	expectStatus(t, rec, http.StatusCreated)
	sess := decode[service.UploadSessionResult](t, rec)
	if sess.UploadGrant == nil || sess.UploadGrant.Method != http.MethodPut {
		t.Fatalf("грант: %+v", sess.UploadGrant)
	}

	// Файл не виден до finalize.
	expectError(t, env.do(t, http.MethodGet, "/api/v1/files/"+sess.FileID, "lawyer-1", "", nil),
		http.StatusNotFound, "NOT_FOUND")
	// Объекта ещё нет.
	expectError(t, env.do(t, http.MethodPost, "/api/v1/uploads/finalize", "lawyer-1", "", map[string]any{
		"file_id": sess.FileID, "actual_size": 12,
	}), http.StatusConflict, "UPLOAD_INCOMPLETE")

	content := []byte("%PDF-1.4 xx")
	put := env.put(t, sess.UploadGrant, "application/pdf", content)
	expectStatus(t, put, http.StatusCreated)
	if got := decode[objectUploadResponse](t, put); got.Size != int64(len(content)) || got.StoragePath != sess.StoragePath {
		t.Errorf("ответ загрузки: %+v", got)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/uploads/finalize", "lawyer-1", "", map[string]any{
		"file_id": sess.FileID, "actual_size": len(content),
	})
	expectStatus(t, rec, http.StatusOK)
	file := decode[*model.File](t, rec)
	if file.OCRStatus != model.OCRStatusPending || file.Size != int64(len(content)) {
		t.Errorf("файл: %+v", file)
	}

	// Повторный finalize возвращает существующий файл.
	dup := expectError(t, env.do(t, http.MethodPost, "/api/v1/uploads/finalize", "lawyer-1", "", map[string]any{
		"file_id": sess.FileID, "actual_size": len(content),
	}), http.StatusConflict, "ALREADY_FINALIZED")
	if dup.File == nil || dup.File.ID != file.ID {
		t.Errorf("файл в ответе ALREADY_FINALIZED: %+v", dup.File)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/files/"+file.ID, "lawyer-1", "", nil), http.StatusOK)
	list := decode[listResponse[*model.File]](t, env.do(t, http.MethodGet, "/api/v1/matters/"+m.ID+"/files", "lawyer-1", "", nil))
	if len(list.Items) != 1 {
		t.Errorf("файлов дела: хотели 1, получили %d", len(list.Items))
	}

	expectError(t, env.do(t, http.MethodGet, "/api/v1/files/"+file.ID, "stranger", "", nil),
		http.StatusForbidden, "FORBIDDEN")
}

func TestCreateUploadSession_Validation(t *testing.T) {
	env := newAPIEnv(t)
	m := env.createMatter(t, "lawyer-1")

	expectError(t, env.do(t, http.MethodPost, "/api/v1/uploads", "lawyer-1", "", map[string]any{
		"matter_id": m.ID, "file_name": "virus.exe", "file_type": "exe",
	}), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, env.do(t, http.MethodPost, "/api/v1/uploads", "stranger", "", map[string]any{
		"matter_id": m.ID, "file_name": "a.pdf", "file_type": "pdf",
	}), http.StatusForbidden, "FORBIDDEN")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", bytes.NewReader([]byte("{not json")))
	req.Header.Set(middleware.HeaderDebugSubject, "lawyer-1")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")

	expectError(t, env.do(t, http.MethodPost, "/api/v1/uploads", "", "", map[string]any{}),
		http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestObjectUpload_Rejections(t *testing.T) {
	env := newAPIEnv(t)
	m := env.createMatter(t, "lawyer-1")
	rec := env.do(t, http.MethodPost, "/api/v1/uploads", "lawyer-1", "", map[string]any{
		"matter_id": m.ID, "file_name": "a.pdf", "file_type": "pdf",
	})
	expectStatus(t, rec, http.StatusCreated)
	sess := decode[service.UploadSessionResult](t, rec)

	t.Run("чужой грант", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, filestore.UploadPath+"?grant=forged", bytes.NewReader([]byte("x")))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		expectError(t, rec, http.StatusForbidden, "FORBIDDEN")
	})
	t.Run("нет гранта", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, filestore.UploadPath, bytes.NewReader([]byte("x")))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		expectError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	})
	t.Run("другой Content-Type", func(t *testing.T) {
		expectError(t, env.put(t, sess.UploadGrant, "text/plain", []byte("x")),
			http.StatusBadRequest, "VALIDATION_ERROR")
	})
	t.Run("слишком большой", func(t *testing.T) {
		expectError(t, env.put(t, sess.UploadGrant, "application/pdf", make([]byte, testMaxObjectSize+1)),
			http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")
		if _, err := env.objects.Stat(context.Background(), sess.StoragePath); err == nil {
			t.Error("частично записанный объект остался в хранилище")
		}
	})
}

func TestWorkerContract_OCR(t *testing.T) {
	env := newAPIEnv(t)
	m := env.createMatter(t, "lawyer-1")
	file := env.uploadFile(t, m.ID, "lawyer-1", "scan.pdf", "pdf", []byte("%PDF-1.4 scan"))

	// Пользователь без scope не видит журнал.
	expectError(t, env.do(t, http.MethodGet, "/api/v1/jobs/active?target_kind=file&target_id="+file.ID, "lawyer-1", "", nil),
		http.StatusForbidden, "FORBIDDEN")

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/active?target_kind=file&target_id="+file.ID, "ocr-worker", "jobs:read", nil)
	expectStatus(t, rec, http.StatusOK)
	active := decode[listResponse[*model.Job]](t, rec)
	if len(active.Items) != 1 || active.Items[0].Type != model.JobTypeOCR {
		t.Fatalf("активные задания: %+v", active.Items)
	}
	jobID := active.Items[0].ID

	expectError(t, env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/start", "ocr-worker", "jobs:read", nil),
		http.StatusForbidden, "FORBIDDEN")

	rec = env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/start", "ocr-worker", "jobs:write", nil)
	expectStatus(t, rec, http.StatusOK)
	started := decode[jobOutcome](t, rec)
	if started.Job.Status != model.JobStatusProcessing || started.File == nil || started.File.OCRStatus != model.OCRStatusProcessing {
		t.Fatalf("после start: %+v", started)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/complete", "ocr-worker", "jobs:write", map[string]any{
		"text": "Договор поставки", "confidence": 91.5, "pages": 2,
	})
	expectStatus(t, rec, http.StatusOK)
	done := decode[jobOutcome](t, rec)
	if done.Job.Status != model.JobStatusCompleted || done.File.OCRStatus != model.OCRStatusDone {
		t.Fatalf("после complete: job %s, file %s", done.Job.Status, done.File.OCRStatus)
	}
	if done.File.OCRText == nil || *done.File.OCRText != "Договор поставки" {
		t.Errorf("ocr_text: %v", done.File.OCRText)
	}

	// Завершённое задание не переоткрывается.
	expectError(t, env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/fail", "ocr-worker", "jobs:write", map[string]any{
		"error": "поздно",
	}), http.StatusConflict, "INVALID_TRANSITION")

	expectError(t, env.do(t, http.MethodPost, "/api/v1/jobs/unknown/start", "ocr-worker", "jobs:write", nil),
		http.StatusNotFound, "NOT_FOUND")
}

func TestWorkerContract_GenericJob(t *testing.T) {
	env := newAPIEnv(t)
	m := env.createMatter(t, "lawyer-1")

	job, err := env.ledger.Enqueue(context.Background(), model.JobTypeDraftGeneration, model.MatterTarget(m.ID), "lawyer-1", map[string]any{"template": "claim"})
	if err != nil {
		t.Fatal(err)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/start", "drafter", "jobs:write", nil), http.StatusOK)
	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/complete", "drafter", "jobs:write", map[string]any{
		"draft_id": "d-1",
	})
	expectStatus(t, rec, http.StatusOK)
	out := decode[jobOutcome](t, rec)
	if out.Job.Metadata["template"] != "claim" || out.Job.Metadata["draft_id"] != "d-1" {
		t.Errorf("metadata: %v", out.Job.Metadata)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/jobs?type=draft_generation&status=completed", "drafter", "jobs:read", nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decode[listResponse[*model.Job]](t, rec); len(list.Items) != 1 {
		t.Errorf("заданий: хотели 1, получили %d", len(list.Items))
	}

	expectError(t, env.do(t, http.MethodGet, "/api/v1/jobs?status=stuck", "drafter", "jobs:read", nil),
		http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, env.do(t, http.MethodGet, "/api/v1/jobs/active?target_kind=file", "drafter", "jobs:read", nil),
		http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestExportFlow(t *testing.T) {
	env := newAPIEnv(t)
	m := env.createMatter(t, "lawyer-1")
	now := time.Now().UTC()
	draft := &model.Draft{ID: "d-1", MatterID: m.ID, Title: "Претензия", Status: "ready", CreatedBy: "lawyer-1", CreatedAt: now, UpdatedAt: now}
	if err := env.repos.Drafts.Create(context.Background(), draft); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/drafts/d-1/exports", "lawyer-1", "", nil)
	expectStatus(t, rec, http.StatusAccepted)
	requested := decode[exportResponse](t, rec)
	jobID := requested.Job.ID

	expectError(t, env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/grant", "exporter", "jobs:write", nil),
		http.StatusConflict, "INVALID_TRANSITION")

	expectStatus(t, env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/start", "exporter", "jobs:write", nil), http.StatusOK)

	rec = env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/grant", "exporter", "jobs:write", nil)
	expectStatus(t, rec, http.StatusOK)
	grant := decode[*model.UploadGrant](t, rec)

	docx := []byte("PK\x03\x04 docx")
	expectStatus(t, env.put(t, grant, grant.Headers["Content-Type"], docx), http.StatusCreated)

	rec = env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/complete", "exporter", "jobs:write", map[string]any{
		"size": len(docx),
	})
	expectStatus(t, rec, http.StatusOK)
	if out := decode[jobOutcome](t, rec); out.Export == nil || out.Export.Status != model.ExportStatusCompleted {
		t.Fatalf("экспорт после complete: %+v", out.Export)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/exports/"+requested.Export.ID, "lawyer-1", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if exp := decode[*model.Export](t, rec); exp.Size != int64(len(docx)) {
		t.Errorf("size: хотели %d, получили %d", len(docx), exp.Size)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/drafts/d-1/comments", "lawyer-1", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decode[listResponse[*model.Comment]](t, rec); list.Items == nil {
		t.Error("items: хотели пустой массив, получили null")
	}
}

func TestMatterRoutes(t *testing.T) {
	env := newAPIEnv(t)
	m := env.createMatter(t, "lawyer-1")

	expectError(t, env.do(t, http.MethodGet, "/api/v1/matters/"+m.ID, "paralegal", "", nil),
		http.StatusForbidden, "FORBIDDEN")

	rec := env.do(t, http.MethodPost, "/api/v1/matters/"+m.ID+"/participants", "lawyer-1", "", map[string]any{"user_id": "paralegal"})
	expectStatus(t, rec, http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/matters/"+m.ID, "paralegal", "", nil), http.StatusOK)

	expectError(t, env.do(t, http.MethodPost, "/api/v1/matters/"+m.ID+"/status", "lawyer-1", "", map[string]any{"status": "closed"}),
		http.StatusBadRequest, "VALIDATION_ERROR")

	rec = env.do(t, http.MethodPost, "/api/v1/matters/"+m.ID+"/status", "lawyer-1", "", map[string]any{"status": "completed"})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[*model.Matter](t, rec); got.Status != model.MatterStatusCompleted {
		t.Errorf("статус: хотели completed, получили %s", got.Status)
	}

	expectError(t, env.do(t, http.MethodPost, "/api/v1/matters/"+m.ID+"/status", "lawyer-1", "", map[string]any{"status": "active"}),
		http.StatusConflict, "INVALID_TRANSITION")

	expectError(t, env.do(t, http.MethodGet, "/api/v1/matters/missing", "lawyer-1", "", nil),
		http.StatusNotFound, "NOT_FOUND")
}

func TestMaintenance(t *testing.T) {
	env := newAPIEnv(t)

	expectError(t, env.do(t, http.MethodPost, "/api/v1/maintenance/sweep", "lawyer-1", "jobs:write", nil),
		http.StatusForbidden, "FORBIDDEN")

	rec := env.do(t, http.MethodPost, "/api/v1/maintenance/sweep", "ops", "lifecycle:admin", nil)
	expectStatus(t, rec, http.StatusOK)
	report := decode[map[string]any](t, rec)
	if report["purged_files"] != float64(0) {
		t.Errorf("purged_files: получили %v", report["purged_files"])
	}

	rec = env.do(t, http.MethodPost, "/api/v1/maintenance/reconcile-ocr", "ops", "lifecycle:admin", nil)
	expectStatus(t, rec, http.StatusOK)
	if result := decode[map[string]any](t, rec); result["requeued"] != float64(0) {
		t.Errorf("requeued: получили %v", result["requeued"])
	}
}

func TestOpenAPIServed(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/openapi.yaml", "", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("openapi: 3.0.3")) {
		t.Errorf("тело: %.40s", rec.Body.String())
	}
}
