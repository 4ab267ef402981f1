// maintenance.go — ручной запуск фоновых проходов.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
)

// sweep — POST /api/v1/maintenance/sweep. Один проход очистки вне расписания.
func (h *APIHandler) sweep(w http.ResponseWriter, r *http.Request) {
	report, skipped := h.purge.RunOnce(r.Context())
	if skipped {
		apierrors.AlreadyRunning(w, "Проход очистки уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// reconcileOCR — POST /api/v1/maintenance/reconcile-ocr.
func (h *APIHandler) reconcileOCR(w http.ResponseWriter, r *http.Request) {
	result, skipped := h.reconcile.RunOnce(r.Context())
	if skipped {
		apierrors.AlreadyRunning(w, "Сверка OCR уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
