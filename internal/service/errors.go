// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

var (
	// ErrInvalidArgument — некорректные входные данные.
	ErrInvalidArgument = errors.New("некорректный аргумент")
	// ErrNotAuthorized — пользователь не участник дела или дело недоступно.
	ErrNotAuthorized = errors.New("нет доступа к делу")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrUploadIncomplete — объект по пути хранения отсутствует.
	ErrUploadIncomplete = errors.New("загрузка не завершена: объект отсутствует в хранилище")
	// ErrAlreadyFinalized — файл уже создан предыдущим finalize.
	ErrAlreadyFinalized = errors.New("загрузка уже завершена")
	// ErrInvalidStateTransition — недопустимый переход статуса.
	ErrInvalidStateTransition = lifecycle.ErrInvalidTransition
	// ErrSessionExpired — сессия загрузки истекла, нужна новая.
	ErrSessionExpired = errors.New("сессия загрузки истекла")
	// ErrStorageUnavailable — объектное хранилище временно недоступно.
	ErrStorageUnavailable = errors.New("хранилище недоступно")
)

// AlreadyFinalizedError несёт существующий файл. errors.Is(err, ErrAlreadyFinalized) == true.
type AlreadyFinalizedError struct {
	File *model.File
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("%s: файл %s", ErrAlreadyFinalized.Error(), e.File.ID)
}

func (e *AlreadyFinalizedError) Unwrap() error {
	return ErrAlreadyFinalized
}

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// notFound переводит repository.ErrNotFound в ErrNotFound с описанием ресурса.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

// storageErr переводит ошибки объектного хранилища в ошибки сервиса.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, object.ErrUnavailable):
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	case errors.Is(err, object.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrUploadIncomplete, op)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
