// handler.go — основной обработчик API Lifecycle Module.
// Регистрирует маршруты chi и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/service"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/filestore"
)

// maxJSONBody — предельный размер JSON-тела запроса.
const maxJSONBody = 1 << 20

// Deps — зависимости APIHandler.
type Deps struct {
	Health    *HealthHandler
	Matters   *service.MatterService
	Uploads   *service.UploadService
	Files     *service.FileService
	Drafts    *service.DraftService
	Exports   *service.ExportService
	OCR       *service.OCRService
	Ledger    *service.JobLedger
	Purge     *service.PurgeService
	Reconcile *service.ReconcileService
	// Objects — локальное хранилище объектов; nil для GCS (запись по signed URL).
	Objects *filestore.FileStore
	// MaxObjectSize — предел размера объекта при локальной загрузке.
	MaxObjectSize int64
}

// APIHandler — основной обработчик API Lifecycle Module.
type APIHandler struct {
	health        *HealthHandler
	matters       *service.MatterService
	uploads       *service.UploadService
	files         *service.FileService
	drafts        *service.DraftService
	exports       *service.ExportService
	ocr           *service.OCRService
	ledger        *service.JobLedger
	purge         *service.PurgeService
	reconcile     *service.ReconcileService
	objects       *filestore.FileStore
	maxObjectSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(deps Deps, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:        deps.Health,
		matters:       deps.Matters,
		uploads:       deps.Uploads,
		files:         deps.Files,
		drafts:        deps.Drafts,
		exports:       deps.Exports,
		ocr:           deps.OCR,
		ledger:        deps.Ledger,
		purge:         deps.Purge,
		reconcile:     deps.Reconcile,
		objects:       deps.Objects,
		maxObjectSize: deps.MaxObjectSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует маршруты API в router.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.yaml", h.getOpenAPI)

		r.Post("/matters", h.createMatter)
		r.Get("/matters/{matter_id}", h.getMatter)
		r.Post("/matters/{matter_id}/participants", h.addParticipant)
		r.Post("/matters/{matter_id}/status", h.transitionMatterStatus)
		r.Get("/matters/{matter_id}/files", h.listMatterFiles)

		r.Post("/uploads", h.createUploadSession)
		r.Post("/uploads/finalize", h.finalizeUpload)

		r.Get("/files/{file_id}", h.getFile)
		r.Post("/files/{file_id}/ocr", h.requestOCR)

		r.Get("/drafts/{draft_id}/comments", h.listDraftComments)
		r.Post("/drafts/{draft_id}/exports", h.requestExport)
		r.Get("/exports/{export_id}", h.getExport)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeJobsRead, middleware.ScopeJobsWrite))
			r.Get("/jobs", h.listJobs)
			r.Get("/jobs/active", h.listActiveJobs)
			r.Get("/jobs/{job_id}", h.getJob)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeJobsWrite))
			r.Post("/jobs/{job_id}/start", h.startJob)
			r.Post("/jobs/{job_id}/complete", h.completeJob)
			r.Post("/jobs/{job_id}/fail", h.failJob)
			r.Post("/jobs/{job_id}/grant", h.issueExportGrant)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeLifecycleAdmin))
			r.Post("/maintenance/sweep", h.sweep)
			r.Post("/maintenance/reconcile-ocr", h.reconcileOCR)
		})

		if h.objects != nil {
			r.Put("/objects/upload", h.uploadObject)
		}
	})
}

// getOpenAPI отдаёт встроенный контракт.
func (h *APIHandler) getOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Spec)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// listResponse — обёртка списков.
type listResponse[T any] struct {
	Items []T `json:"items"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items}
}

// pathParam извлекает обязательный path-параметр.
func pathParam(r *http.Request, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		return "", err
	}
	return value, nil
}

// decodeJSON читает JSON-тело запроса в dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("тело запроса пустое")
		}
		return fmt.Errorf("некорректный JSON: %w", err)
	}
	return nil
}

// subject возвращает субъект запроса из контекста аутентификации.
func subject(r *http.Request) string {
	return middleware.SubjectFromContext(r.Context())
}

// writeServiceError переводит ошибку сервиса в ответ.
// 5xx логируются на ERROR с контекстом операции.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error, attrs ...slog.Attr) {
	status := apierrors.FromService(w, err)
	if status >= http.StatusInternalServerError {
		attrs = append(attrs, slog.String("error", err.Error()), slog.String("subject", subject(r)))
		h.logger.LogAttrs(r.Context(), slog.LevelError, op, attrs...)
	}
}
