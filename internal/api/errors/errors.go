// Пакет errors — ответы с ошибками в едином формате Lifecycle Module:
// {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromService.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/service"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeUploadIncomplete   = "UPLOAD_INCOMPLETE"
	CodeAlreadyFinalized   = "ALREADY_FINALIZED"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeAlreadyRunning     = "ALREADY_RUNNING"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
	// File — существующий файл для ALREADY_FINALIZED.
	File *model.File `json:"file,omitempty"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeBody(w http.ResponseWriter, statusCode int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// FromService переводит ошибку сервисного слоя в HTTP-ответ.
// Возвращает HTTP-статус, чтобы вызывающий мог решить, логировать ли ошибку.
func FromService(w http.ResponseWriter, err error) int {
	var afe *service.AlreadyFinalizedError
	if stderrors.As(err, &afe) {
		writeBody(w, http.StatusConflict, errorBody{
			Error: errorDetail{Code: CodeAlreadyFinalized, Message: err.Error()},
			File:  afe.File,
		})
		return http.StatusConflict
	}

	status, code := Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Внутренняя ошибка сервера"
	}
	WriteError(w, status, code, message)
	return status
}

// Classify возвращает HTTP-статус и код ошибки сервисного слоя.
func Classify(err error) (int, string) {
	switch {
	case stderrors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, CodeValidationError
	case stderrors.Is(err, service.ErrNotAuthorized):
		return http.StatusForbidden, CodeForbidden
	case stderrors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, service.ErrUploadIncomplete):
		return http.StatusConflict, CodeUploadIncomplete
	case stderrors.Is(err, service.ErrAlreadyFinalized):
		return http.StatusConflict, CodeAlreadyFinalized
	case stderrors.Is(err, service.ErrInvalidStateTransition):
		return http.StatusConflict, CodeInvalidTransition
	case stderrors.Is(err, service.ErrSessionExpired):
		return http.StatusGone, CodeSessionExpired
	case stderrors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, CodeStorageUnavailable
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// PayloadTooLarge — 413 объект больше допустимого размера.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// AlreadyRunning — 409 фоновая операция уже выполняется.
func AlreadyRunning(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeAlreadyRunning, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
