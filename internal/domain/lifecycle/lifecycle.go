// Пакет lifecycle — матрицы допустимых переходов статусов.
//
// Четыре жизненных цикла:
//   - задание: pending → processing → completed | failed (конечные)
//   - экспорт: повторяет задание
//   - OCR файла: pending → processing → done | failed; failed → pending при
//     повторной постановке; done → done при успешном повторном распознавании
//   - дело: draft → active → completed → archived, только вперёд
//
// Сами переходы выполняются хранилищем как compare-and-swap по исходному
// статусу; пакет лишь отвечает, допустим ли переход.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

// ErrInvalidTransition — базовая ошибка недопустимого перехода.
// TransitionError совпадает с ней через errors.Is.
var ErrInvalidTransition = errors.New("недопустимый переход статуса")

// Entity — сущность, к которой относится переход.
type Entity string

const (
	EntityJob    Entity = "job"
	EntityExport Entity = "export"
	EntityFile   Entity = "file"
	EntityMatter Entity = "matter"
)

// jobTransitions — матрица допустимых переходов задания.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var jobTransitions = map[model.JobStatus]map[model.JobStatus]bool{
	model.JobStatusPending:    {model.JobStatusProcessing: true},
	model.JobStatusProcessing: {model.JobStatusCompleted: true, model.JobStatusFailed: true},
	model.JobStatusCompleted:  {}, // Конечный статус
	model.JobStatusFailed:     {}, // Конечный статус
}

var exportTransitions = map[model.ExportStatus]map[model.ExportStatus]bool{
	model.ExportStatusPending:    {model.ExportStatusProcessing: true},
	model.ExportStatusProcessing: {model.ExportStatusCompleted: true, model.ExportStatusFailed: true},
	model.ExportStatusCompleted:  {},
	model.ExportStatusFailed:     {},
}

// ocrTransitions — переходы OCR-статуса файла.
// pending → done|failed допускается, если обновление processing
// не дошло до файла (задание уже перешло, файл отстал).
var ocrTransitions = map[model.OCRStatus]map[model.OCRStatus]bool{
	model.OCRStatusPending:    {model.OCRStatusProcessing: true, model.OCRStatusDone: true, model.OCRStatusFailed: true},
	model.OCRStatusProcessing: {model.OCRStatusDone: true, model.OCRStatusFailed: true, model.OCRStatusPending: true},
	model.OCRStatusDone:       {model.OCRStatusDone: true},
	model.OCRStatusFailed:     {model.OCRStatusPending: true},
}

var matterTransitions = map[model.MatterStatus]map[model.MatterStatus]bool{
	model.MatterStatusDraft:     {model.MatterStatusActive: true, model.MatterStatusArchived: true},
	model.MatterStatusActive:    {model.MatterStatusCompleted: true, model.MatterStatusArchived: true},
	model.MatterStatusCompleted: {model.MatterStatusArchived: true},
	model.MatterStatusArchived:  {},
}

// CanTransitionJob проверяет допустимость перехода задания.
func CanTransitionJob(from, to model.JobStatus) bool {
	return jobTransitions[from][to]
}

// CanTransitionExport проверяет допустимость перехода экспорта.
func CanTransitionExport(from, to model.ExportStatus) bool {
	return exportTransitions[from][to]
}

// CanTransitionOCR проверяет допустимость перехода OCR-статуса.
// Файлы без OCR (OCRStatusNone) не имеют переходов.
func CanTransitionOCR(from, to model.OCRStatus) bool {
	return ocrTransitions[from][to]
}

// CanTransitionMatter проверяет допустимость перехода статуса дела.
func CanTransitionMatter(from, to model.MatterStatus) bool {
	return matterTransitions[from][to]
}

// TransitionError — ошибка перехода статуса сущности.
type TransitionError struct {
	Entity Entity
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("INVALID_TRANSITION: %s %s: переход %s → %s недопустим",
		e.Entity, e.ID, e.From, e.To)
}

// Is позволяет сравнивать с ErrInvalidTransition через errors.Is.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NewTransitionError создаёт TransitionError для произвольных строковых статусов.
func NewTransitionError[S ~string](entity Entity, id string, from, to S) *TransitionError {
	return &TransitionError{Entity: entity, ID: id, From: string(from), To: string(to)}
}

// CheckJob возвращает TransitionError, если переход задания недопустим.
func CheckJob(id string, from, to model.JobStatus) error {
	if !CanTransitionJob(from, to) {
		return NewTransitionError(EntityJob, id, from, to)
	}
	return nil
}

// CheckExport возвращает TransitionError, если переход экспорта недопустим.
func CheckExport(id string, from, to model.ExportStatus) error {
	if !CanTransitionExport(from, to) {
		return NewTransitionError(EntityExport, id, from, to)
	}
	return nil
}

// CheckOCR возвращает TransitionError, если переход OCR-статуса недопустим.
func CheckOCR(fileID string, from, to model.OCRStatus) error {
	if !CanTransitionOCR(from, to) {
		return NewTransitionError(EntityFile, fileID, displayOCR(from), displayOCR(to))
	}
	return nil
}

// CheckMatter возвращает TransitionError, если переход дела недопустим.
func CheckMatter(id string, from, to model.MatterStatus) error {
	if !CanTransitionMatter(from, to) {
		return NewTransitionError(EntityMatter, id, from, to)
	}
	return nil
}

func displayOCR(s model.OCRStatus) string {
	if s == model.OCRStatusNone {
		return "null"
	}
	return string(s)
}
