// uploads.go — сессии загрузки: выдача гранта и finalize.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
)

type createUploadSessionRequest struct {
	MatterID string `json:"matter_id"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

// createUploadSession — POST /api/v1/uploads.
// Ответ содержит file_id, storage_path и грант на прямую запись в хранилище.
func (h *APIHandler) createUploadSession(w http.ResponseWriter, r *http.Request) {
	var req createUploadSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	result, err := h.uploads.CreateSession(r.Context(), req.MatterID, req.FileName, req.FileType, subject(r))
	if err != nil {
		h.writeServiceError(w, r, "Ошибка создания сессии загрузки", err,
			slog.String("matter_id", req.MatterID),
		)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type finalizeUploadRequest struct {
	FileID     string `json:"file_id"`
	ActualSize int64  `json:"actual_size"`
}

// finalizeUpload — POST /api/v1/uploads/finalize.
// Повторный finalize отвечает 409 ALREADY_FINALIZED с существующим файлом.
func (h *APIHandler) finalizeUpload(w http.ResponseWriter, r *http.Request) {
	var req finalizeUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	file, err := h.uploads.Finalize(r.Context(), req.FileID, req.ActualSize, subject(r))
	if err != nil {
		h.writeServiceError(w, r, "Ошибка завершения загрузки", err, slog.String("file_id", req.FileID))
		return
	}
	writeJSON(w, http.StatusOK, file)
}
