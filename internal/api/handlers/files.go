// files.go — файлы дела, черновики и экспорты.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

// getFile — GET /api/v1/files/{file_id}.
func (h *APIHandler) getFile(w http.ResponseWriter, r *http.Request) {
	fileID, err := pathParam(r, "file_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	file, err := h.files.Get(r.Context(), fileID, subject(r))
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения файла", err, slog.String("file_id", fileID))
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// requestOCR — POST /api/v1/files/{file_id}/ocr.
// Возвращает активное OCR-задание файла (новое или уже существующее).
func (h *APIHandler) requestOCR(w http.ResponseWriter, r *http.Request) {
	fileID, err := pathParam(r, "file_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	job, err := h.files.RequestOCR(r.Context(), fileID, subject(r))
	if err != nil {
		h.writeServiceError(w, r, "Ошибка постановки OCR", err, slog.String("file_id", fileID))
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// listDraftComments — GET /api/v1/drafts/{draft_id}/comments.
func (h *APIHandler) listDraftComments(w http.ResponseWriter, r *http.Request) {
	draftID, err := pathParam(r, "draft_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	comments, err := h.drafts.ListComments(r.Context(), draftID, subject(r))
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения комментариев", err, slog.String("draft_id", draftID))
		return
	}
	writeJSON(w, http.StatusOK, newList(comments))
}

// exportResponse — экспорт и его задание.
type exportResponse struct {
	Export *model.Export `json:"export"`
	Job    *model.Job    `json:"job"`
}

// requestExport — POST /api/v1/drafts/{draft_id}/exports.
func (h *APIHandler) requestExport(w http.ResponseWriter, r *http.Request) {
	draftID, err := pathParam(r, "draft_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	export, job, err := h.exports.RequestExport(r.Context(), draftID, subject(r))
	if err != nil {
		h.writeServiceError(w, r, "Ошибка постановки экспорта", err, slog.String("draft_id", draftID))
		return
	}
	writeJSON(w, http.StatusAccepted, exportResponse{Export: export, Job: job})
}

// getExport — GET /api/v1/exports/{export_id}.
func (h *APIHandler) getExport(w http.ResponseWriter, r *http.Request) {
	exportID, err := pathParam(r, "export_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	export, err := h.exports.Get(r.Context(), exportID, subject(r))
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения экспорта", err, slog.String("export_id", exportID))
		return
	}
	writeJSON(w, http.StatusOK, export)
}
