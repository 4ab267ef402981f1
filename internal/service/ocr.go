// ocr.go — OCR Dispatch: постановка OCR-заданий и синхронизация
// OCR-полей файла с переходами задания.
//
// Сначала выполняется переход задания в журнале, затем явное обновление
// файла compare-and-swap по OCR-статусу. Повторное распознавание файла
// в статусе done не трогает файл до успешного завершения: неудачный
// повтор оставляет прежний результат, ошибка видна в задании.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

var ocrResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lm_ocr_results_total",
	Help: "Количество завершённых OCR-заданий по итоговому статусу",
}, []string{"status"})

// casAttempts — число попыток compare-and-swap при гонке за файл.
const casAttempts = 3

// OCRService — диспетчер OCR.
type OCRService struct {
	files     repository.FileRepository
	ledger    *JobLedger
	inspector *PDFInspector
	logger    *slog.Logger
	now       func() time.Time
}

// NewOCRService создаёт диспетчер OCR. inspector может быть nil.
func NewOCRService(
	files repository.FileRepository,
	ledger *JobLedger,
	inspector *PDFInspector,
	logger *slog.Logger,
) *OCRService {
	return &OCRService{
		files:     files,
		ledger:    ledger,
		inspector: inspector,
		logger:    logger.With(slog.String("component", "ocr_dispatch")),
		now:       time.Now,
	}
}

// EnqueueOCR ставит OCR-задание для pdf-файла. Файл в статусе failed
// возвращается в pending; активное задание возвращается как есть.
func (s *OCRService) EnqueueOCR(ctx context.Context, file *model.File, requestedBy string) (*model.Job, error) {
	if file.Type != model.FileTypePDF {
		return nil, invalidArgf("OCR применяется только к pdf, файл %s имеет тип %s", file.ID, file.Type)
	}
	if file.IsPurged {
		return nil, invalidArgf("файл %s очищен", file.ID)
	}
	if file.IsExpired(s.now().UTC()) {
		return nil, invalidArgf("срок хранения файла %s истёк", file.ID)
	}

	target := model.FileTarget(file.ID)
	if job, err := s.activeOCRJob(ctx, target); err != nil || job != nil {
		return job, err
	}

	if file.OCRStatus == model.OCRStatusFailed {
		_, err := s.files.UpdateOCR(ctx, file.ID, model.OCRStatusFailed, model.OCRState{Status: model.OCRStatusPending})
		if err != nil && !errors.Is(err, repository.ErrStateConflict) {
			return nil, fmt.Errorf("сброс OCR-статуса файла %s: %w", file.ID, err)
		}
	}

	metadata := map[string]any{"storage_path": file.StoragePath}
	if s.inspector != nil {
		pages, err := s.inspector.PageCount(ctx, file.StoragePath)
		if err != nil {
			s.logger.Debug("Число страниц PDF не определено",
				slog.String("file_id", file.ID),
				slog.String("error", err.Error()),
			)
		} else {
			metadata["source_pages"] = pages
		}
	}

	return s.ledger.Enqueue(ctx, model.JobTypeOCR, target, requestedBy, metadata)
}

func (s *OCRService) activeOCRJob(ctx context.Context, target model.Target) (*model.Job, error) {
	jobs, err := s.ledger.ListActiveJobsFor(ctx, target)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.Type == model.JobTypeOCR {
			return j, nil
		}
	}
	return nil, nil
}

// StartOCR переводит задание в processing, затем файл pending → processing.
func (s *OCRService) StartOCR(ctx context.Context, jobID string) (*model.Job, *model.File, error) {
	if err := s.checkJob(ctx, jobID); err != nil {
		return nil, nil, err
	}
	job, err := s.ledger.MarkStarted(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	file, err := s.advanceFile(ctx, job.Target.ID, func(f *model.File) (model.OCRState, bool) {
		if f.OCRStatus != model.OCRStatusPending {
			return model.OCRState{}, false
		}
		return model.OCRState{Status: model.OCRStatusProcessing}, true
	})
	if err != nil {
		return job, nil, err
	}
	return job, file, nil
}

// CompleteOCR завершает задание и записывает результат в файл.
func (s *OCRService) CompleteOCR(ctx context.Context, jobID string, result model.OCRResult) (*model.Job, *model.File, error) {
	if err := result.Validate(); err != nil {
		return nil, nil, invalidArgf("%v", err)
	}
	if err := s.checkJob(ctx, jobID); err != nil {
		return nil, nil, err
	}
	job, err := s.ledger.MarkCompleted(ctx, jobID, map[string]any{
		"ocr_confidence":  result.Confidence,
		"ocr_pages":       result.Pages,
		"ocr_text_length": len(result.Text),
	})
	if err != nil {
		return nil, nil, err
	}
	ocrResultsTotal.WithLabelValues(string(model.OCRStatusDone)).Inc()

	text, confidence, pages := result.Text, result.Confidence, result.Pages
	file, err := s.advanceFile(ctx, job.Target.ID, func(*model.File) (model.OCRState, bool) {
		return model.OCRState{
			Status:     model.OCRStatusDone,
			Text:       &text,
			Confidence: &confidence,
			Pages:      &pages,
		}, true
	})
	if err != nil {
		return job, nil, err
	}
	return job, file, nil
}

// FailOCR завершает задание с ошибкой. Файл без прежнего результата
// переходит в failed; файл в done остаётся с прежним результатом.
func (s *OCRService) FailOCR(ctx context.Context, jobID, message string) (*model.Job, *model.File, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, nil, invalidArgf("текст ошибки OCR обязателен")
	}
	if err := s.checkJob(ctx, jobID); err != nil {
		return nil, nil, err
	}
	job, err := s.ledger.MarkFailed(ctx, jobID, message)
	if err != nil {
		return nil, nil, err
	}
	ocrResultsTotal.WithLabelValues(string(model.OCRStatusFailed)).Inc()

	file, err := s.advanceFile(ctx, job.Target.ID, func(f *model.File) (model.OCRState, bool) {
		if f.OCRStatus == model.OCRStatusDone {
			s.logger.Info("Повторное распознавание не удалось, сохранён прежний результат",
				slog.String("file_id", f.ID),
				slog.String("job_id", jobID),
			)
			return model.OCRState{}, false
		}
		return model.OCRState{Status: model.OCRStatusFailed, Error: &message}, true
	})
	if err != nil {
		return job, nil, err
	}
	return job, file, nil
}

func (s *OCRService) checkJob(ctx context.Context, jobID string) error {
	job, err := s.ledger.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return requireType(job, model.JobTypeOCR)
}

// advanceFile применяет к файлу состояние, вычисленное next по текущему
// файлу, с compare-and-swap по OCR-статусу. next возвращает false, если
// файл менять не нужно.
func (s *OCRService) advanceFile(ctx context.Context, fileID string, next func(f *model.File) (model.OCRState, bool)) (*model.File, error) {
	for range casAttempts {
		f, err := s.files.GetByID(ctx, fileID)
		if err != nil {
			return nil, notFound(err, "файл %s", fileID)
		}
		state, ok := next(f)
		if !ok {
			return f, nil
		}
		if err := lifecycle.CheckOCR(f.ID, f.OCRStatus, state.Status); err != nil {
			s.logger.Warn("OCR-статус файла не обновлён", slog.String("error", err.Error()))
			return f, nil
		}

		updated, err := s.files.UpdateOCR(ctx, f.ID, f.OCRStatus, state)
		if errors.Is(err, repository.ErrStateConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("обновление OCR-статуса файла %s: %w", fileID, err)
		}
		s.logger.Debug("OCR-статус файла обновлён",
			slog.String("file_id", f.ID),
			slog.String("from", string(f.OCRStatus)),
			slog.String("to", string(state.Status)),
		)
		return updated, nil
	}
	return nil, fmt.Errorf("обновление OCR-статуса файла %s: %w", fileID, repository.ErrStateConflict)
}
