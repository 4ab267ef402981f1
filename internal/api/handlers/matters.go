// matters.go — обработчики дел и их участников.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

type createMatterRequest struct {
	Title        string   `json:"title"`
	ClientName   string   `json:"client_name"`
	Participants []string `json:"participants"`
}

// createMatter — POST /api/v1/matters. Создатель становится участником.
func (h *APIHandler) createMatter(w http.ResponseWriter, r *http.Request) {
	var req createMatterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	matter, err := h.matters.Create(r.Context(), req.Title, req.ClientName, subject(r), req.Participants)
	if err != nil {
		h.writeServiceError(w, r, "Ошибка создания дела", err)
		return
	}
	writeJSON(w, http.StatusCreated, matter)
}

// getMatter — GET /api/v1/matters/{matter_id}.
func (h *APIHandler) getMatter(w http.ResponseWriter, r *http.Request) {
	matterID, err := pathParam(r, "matter_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	matter, err := h.matters.Get(r.Context(), matterID, subject(r))
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения дела", err, slog.String("matter_id", matterID))
		return
	}
	writeJSON(w, http.StatusOK, matter)
}

type addParticipantRequest struct {
	UserID string `json:"user_id"`
}

// addParticipant — POST /api/v1/matters/{matter_id}/participants.
func (h *APIHandler) addParticipant(w http.ResponseWriter, r *http.Request) {
	matterID, err := pathParam(r, "matter_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req addParticipantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	matter, err := h.matters.AddParticipant(r.Context(), matterID, subject(r), req.UserID)
	if err != nil {
		h.writeServiceError(w, r, "Ошибка добавления участника", err, slog.String("matter_id", matterID))
		return
	}
	writeJSON(w, http.StatusOK, matter)
}

type transitionMatterRequest struct {
	Status string `json:"status"`
}

// transitionMatterStatus — POST /api/v1/matters/{matter_id}/status.
func (h *APIHandler) transitionMatterStatus(w http.ResponseWriter, r *http.Request) {
	matterID, err := pathParam(r, "matter_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req transitionMatterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	to, err := model.ParseMatterStatus(req.Status)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	matter, err := h.matters.TransitionStatus(r.Context(), matterID, subject(r), to)
	if err != nil {
		h.writeServiceError(w, r, "Ошибка смены статуса дела", err, slog.String("matter_id", matterID))
		return
	}
	writeJSON(w, http.StatusOK, matter)
}

// listMatterFiles — GET /api/v1/matters/{matter_id}/files.
func (h *APIHandler) listMatterFiles(w http.ResponseWriter, r *http.Request) {
	matterID, err := pathParam(r, "matter_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	files, err := h.files.ListByMatter(r.Context(), matterID, subject(r))
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения файлов дела", err, slog.String("matter_id", matterID))
		return
	}
	writeJSON(w, http.StatusOK, newList(files))
}
