// jobs.go — журнал заданий и контракт воркеров.
// start/complete/fail маршрутизируются по типу задания: OCR и экспорт
// обновляют связанную сущность, остальные типы меняют только задание.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// jobOutcome — задание после перехода и связанная сущность.
type jobOutcome struct {
	Job    *model.Job    `json:"job"`
	File   *model.File   `json:"file,omitempty"`
	Export *model.Export `json:"export,omitempty"`
}

// listJobs — GET /api/v1/jobs?type=&status=&limit=.
func (h *APIHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var typeParam, statusParam string
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "type", query, &typeParam); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "status", query, &statusParam); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	var filter repository.JobFilter
	if typeParam != "" {
		jt, err := model.ParseJobType(typeParam)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filter.Type = &jt
	}
	if statusParam != "" {
		st, err := model.ParseJobStatus(statusParam)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filter.Status = &st
	}

	jobs, err := h.ledger.List(r.Context(), filter, limit)
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения списка заданий", err)
		return
	}
	writeJSON(w, http.StatusOK, newList(jobs))
}

// listActiveJobs — GET /api/v1/jobs/active?target_kind=&target_id=.
func (h *APIHandler) listActiveJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var kindParam, targetID string
	if err := runtime.BindQueryParameter("form", true, true, "target_kind", query, &kindParam); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "target_id", query, &targetID); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	kind, err := model.ParseTargetKind(kindParam)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	jobs, err := h.ledger.ListActiveJobsFor(r.Context(), model.Target{Kind: kind, ID: targetID})
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения активных заданий", err)
		return
	}
	writeJSON(w, http.StatusOK, newList(jobs))
}

// getJob — GET /api/v1/jobs/{job_id}.
func (h *APIHandler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathParam(r, "job_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	job, err := h.ledger.Get(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения задания", err, slog.String("job_id", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// jobForWorker читает задание из пути запроса. При ошибке ответ уже записан.
func (h *APIHandler) jobForWorker(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	jobID, err := pathParam(r, "job_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return nil, false
	}
	job, err := h.ledger.Get(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения задания", err, slog.String("job_id", jobID))
		return nil, false
	}
	return job, true
}

// startJob — POST /api/v1/jobs/{job_id}/start.
func (h *APIHandler) startJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobForWorker(w, r)
	if !ok {
		return
	}

	var out jobOutcome
	var err error
	switch job.Type {
	case model.JobTypeOCR:
		out.Job, out.File, err = h.ocr.StartOCR(r.Context(), job.ID)
	case model.JobTypeExport:
		out.Job, out.Export, err = h.exports.StartExport(r.Context(), job.ID)
	default:
		out.Job, err = h.ledger.MarkStarted(r.Context(), job.ID)
	}
	if err != nil {
		h.writeServiceError(w, r, "Ошибка запуска задания", err,
			slog.String("job_id", job.ID), slog.String("type", string(job.Type)))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// completeJob — POST /api/v1/jobs/{job_id}/complete.
// Тело: ocr {text, confidence, pages}, export {size}, иначе метаданные результата.
func (h *APIHandler) completeJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobForWorker(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	var out jobOutcome
	var err error
	switch job.Type {
	case model.JobTypeOCR:
		var result model.OCRResult
		if err := json.Unmarshal(raw, &result); err != nil {
			apierrors.ValidationError(w, "некорректный результат OCR: "+err.Error())
			return
		}
		out.Job, out.File, err = h.ocr.CompleteOCR(r.Context(), job.ID, result)
	case model.JobTypeExport:
		var result model.ExportResult
		if err := json.Unmarshal(raw, &result); err != nil {
			apierrors.ValidationError(w, "некорректный результат экспорта: "+err.Error())
			return
		}
		out.Job, out.Export, err = h.exports.CompleteExport(r.Context(), job.ID, result)
	default:
		var result map[string]any
		if err := json.Unmarshal(raw, &result); err != nil {
			apierrors.ValidationError(w, "результат должен быть объектом: "+err.Error())
			return
		}
		out.Job, err = h.ledger.MarkCompleted(r.Context(), job.ID, result)
	}
	if err != nil {
		h.writeServiceError(w, r, "Ошибка завершения задания", err,
			slog.String("job_id", job.ID), slog.String("type", string(job.Type)))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type failJobRequest struct {
	Error string `json:"error"`
}

// failJob — POST /api/v1/jobs/{job_id}/fail.
func (h *APIHandler) failJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobForWorker(w, r)
	if !ok {
		return
	}
	var req failJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	var out jobOutcome
	var err error
	switch job.Type {
	case model.JobTypeOCR:
		out.Job, out.File, err = h.ocr.FailOCR(r.Context(), job.ID, req.Error)
	case model.JobTypeExport:
		out.Job, out.Export, err = h.exports.FailExport(r.Context(), job.ID, req.Error)
	default:
		out.Job, err = h.ledger.MarkFailed(r.Context(), job.ID, req.Error)
	}
	if err != nil {
		h.writeServiceError(w, r, "Ошибка завершения задания с ошибкой", err,
			slog.String("job_id", job.ID), slog.String("type", string(job.Type)))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// issueExportGrant — POST /api/v1/jobs/{job_id}/grant.
// Грант на запись результата экспорта в storage_path экспорта.
func (h *APIHandler) issueExportGrant(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathParam(r, "job_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	grant, err := h.exports.IssueExportGrant(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, r, "Ошибка выдачи гранта экспорта", err, slog.String("job_id", jobID))
		return
	}
	writeJSON(w, http.StatusOK, grant)
}
