// objects.go — приём данных по локальному upload-гранту.
// Грант подписан сервисом и является единственным удостоверением запроса.
package handlers

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/filestore"
)

// objectUploadResponse — результат записи объекта.
type objectUploadResponse struct {
	StoragePath string `json:"storage_path"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
}

// uploadObject — PUT /api/v1/objects/upload?grant=...
func (h *APIHandler) uploadObject(w http.ResponseWriter, r *http.Request) {
	var token string
	if err := runtime.BindQueryParameter("form", true, true, "grant", r.URL.Query(), &token); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	grant, err := h.objects.VerifyGrant(token)
	if err != nil {
		h.logger.Debug("Отклонён upload-грант",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		apierrors.Forbidden(w, "Недействительный или просроченный upload-грант")
		return
	}

	if grant.ContentType != "" && !sameMediaType(r.Header.Get("Content-Type"), grant.ContentType) {
		apierrors.ValidationError(w, "Content-Type не совпадает с грантом: ожидается "+grant.ContentType)
		return
	}

	result, err := h.objects.Save(grant.Path, r.Body, h.maxObjectSize)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			apierrors.PayloadTooLarge(w, "Объект превышает максимальный размер")
			return
		}
		h.logger.Error("Ошибка записи объекта",
			slog.String("storage_path", grant.Path),
			slog.String("error", err.Error()),
		)
		apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.CodeStorageUnavailable, "Хранилище недоступно")
		return
	}

	h.logger.Info("Объект записан по гранту",
		slog.String("storage_path", result.Path),
		slog.Int64("size", result.Size),
	)
	writeJSON(w, http.StatusCreated, objectUploadResponse{
		StoragePath: result.Path,
		Size:        result.Size,
		Checksum:    result.Checksum,
	})
}

// sameMediaType сравнивает типы содержимого без учёта параметров.
// Пустой заголовок запроса допустим.
func sameMediaType(got, want string) bool {
	if got == "" {
		return true
	}
	g, _, err := mime.ParseMediaType(got)
	if err != nil {
		return false
	}
	w, _, err := mime.ParseMediaType(want)
	if err != nil {
		return false
	}
	return g == w
}
