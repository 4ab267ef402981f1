// exports.go — жизненный цикл экспортов черновиков.
//
// Экспорт создаётся в pending вместе с export-заданием. Воркер берёт
// задание, получает грант на запись результата и завершает задание;
// статус экспорта повторяет статус задания.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

// exportContentType — MIME-тип docx.
const exportContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// ExportConfig — параметры экспортов.
type ExportConfig struct {
	// Retention — срок хранения экспорта от момента запроса
	Retention time.Duration
	// GrantTTL — время жизни гранта на запись результата
	GrantTTL time.Duration
}

// ExportService — сервис экспортов.
type ExportService struct {
	drafts  repository.DraftRepository
	matters *MatterService
	exports repository.ExportRepository
	ledger  *JobLedger
	objects object.Store
	cfg     ExportConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewExportService создаёт сервис экспортов.
func NewExportService(
	drafts repository.DraftRepository,
	matters *MatterService,
	exports repository.ExportRepository,
	ledger *JobLedger,
	objects object.Store,
	cfg ExportConfig,
	logger *slog.Logger,
) *ExportService {
	return &ExportService{
		drafts:  drafts,
		matters: matters,
		exports: exports,
		ledger:  ledger,
		objects: objects,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "export_service")),
		now:     time.Now,
	}
}

// RequestExport создаёт экспорт черновика и ставит export-задание.
func (s *ExportService) RequestExport(ctx context.Context, draftID, user string) (*model.Export, *model.Job, error) {
	draft, err := s.drafts.GetByID(ctx, draftID)
	if err != nil {
		return nil, nil, notFound(err, "черновик %s", draftID)
	}
	if _, err := s.matters.AuthorizeChange(ctx, draft.MatterID, user); err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	id := uuid.NewString()
	exp := &model.Export{
		ID:          id,
		DraftID:     draft.ID,
		MatterID:    draft.MatterID,
		Format:      model.ExportFormatDOCX,
		StoragePath: model.ExportStoragePath(draft.MatterID, id, model.ExportFormatDOCX),
		ExportedBy:  user,
		ExportedAt:  now,
		Status:      model.ExportStatusPending,
		PurgeAt:     now.Add(s.cfg.Retention),
	}
	if err := s.exports.Create(ctx, exp); err != nil {
		return nil, nil, fmt.Errorf("создание экспорта: %w", err)
	}

	job, err := s.ledger.Enqueue(ctx, model.JobTypeExport, model.ExportTarget(id), user, map[string]any{
		"draft_id":     draft.ID,
		"storage_path": exp.StoragePath,
		"format":       string(exp.Format),
	})
	if err != nil {
		return exp, nil, fmt.Errorf("постановка export-задания для %s: %w", id, err)
	}

	s.matters.Touch(ctx, draft.MatterID)

	s.logger.Info("Экспорт запрошен",
		slog.String("export_id", id),
		slog.String("draft_id", draft.ID),
		slog.String("matter_id", draft.MatterID),
		slog.String("job_id", job.ID),
	)
	return exp, job, nil
}

// Get возвращает экспорт участнику дела.
func (s *ExportService) Get(ctx context.Context, exportID, user string) (*model.Export, error) {
	exp, err := s.exports.GetByID(ctx, exportID)
	if err != nil {
		return nil, notFound(err, "экспорт %s", exportID)
	}
	if err := s.matters.Authorize(ctx, exp.MatterID, user); err != nil {
		return nil, err
	}
	return exp, nil
}

// StartExport переводит задание и экспорт в processing.
func (s *ExportService) StartExport(ctx context.Context, jobID string) (*model.Job, *model.Export, error) {
	if _, err := s.exportJob(ctx, jobID); err != nil {
		return nil, nil, err
	}
	job, err := s.ledger.MarkStarted(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	exp, err := s.advance(ctx, job.Target.ID, model.ExportUpdate{Status: model.ExportStatusProcessing})
	return job, exp, err
}

// IssueExportGrant выдаёт воркеру грант на запись результата экспорта.
// Задание должно быть в processing.
func (s *ExportService) IssueExportGrant(ctx context.Context, jobID string) (*model.UploadGrant, error) {
	job, err := s.exportJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusProcessing {
		return nil, fmt.Errorf("%w: грант выдаётся только заданию в processing, статус %s",
			ErrInvalidStateTransition, job.Status)
	}
	exp, err := s.exports.GetByID(ctx, job.Target.ID)
	if err != nil {
		return nil, notFound(err, "экспорт %s", job.Target.ID)
	}
	grant, err := s.objects.IssueWriteGrant(ctx, exp.StoragePath, exportContentType, s.cfg.GrantTTL)
	if err != nil {
		return nil, storageErr("выдача гранта экспорта", err)
	}
	return grant, nil
}

// CompleteExport завершает задание: объект должен существовать по пути
// экспорта, размер берётся из хранилища.
func (s *ExportService) CompleteExport(ctx context.Context, jobID string, result model.ExportResult) (*model.Job, *model.Export, error) {
	job, err := s.exportJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if result.Size < 0 {
		return nil, nil, invalidArgf("размер экспорта не может быть отрицательным: %d", result.Size)
	}
	exp, err := s.exports.GetByID(ctx, job.Target.ID)
	if err != nil {
		return nil, nil, notFound(err, "экспорт %s", job.Target.ID)
	}
	info, err := s.objects.Stat(ctx, exp.StoragePath)
	if err != nil {
		return nil, nil, storageErr(fmt.Sprintf("проверка объекта экспорта %s", exp.StoragePath), err)
	}
	if result.Size > 0 && result.Size != info.Size {
		return nil, nil, invalidArgf("заявленный размер %d не совпадает с размером объекта %d", result.Size, info.Size)
	}

	job, err = s.ledger.MarkCompleted(ctx, jobID, map[string]any{"size": info.Size})
	if err != nil {
		return nil, nil, err
	}
	exp, err = s.advance(ctx, exp.ID, model.ExportUpdate{Status: model.ExportStatusCompleted, Size: info.Size})
	return job, exp, err
}

// FailExport завершает задание и экспорт с ошибкой.
func (s *ExportService) FailExport(ctx context.Context, jobID, message string) (*model.Job, *model.Export, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, nil, invalidArgf("текст ошибки экспорта обязателен")
	}
	if _, err := s.exportJob(ctx, jobID); err != nil {
		return nil, nil, err
	}
	job, err := s.ledger.MarkFailed(ctx, jobID, message)
	if err != nil {
		return nil, nil, err
	}
	exp, err := s.advance(ctx, job.Target.ID, model.ExportUpdate{Status: model.ExportStatusFailed, Error: &message})
	return job, exp, err
}

func (s *ExportService) exportJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.ledger.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireType(job, model.JobTypeExport); err != nil {
		return nil, err
	}
	return job, nil
}

// advance доводит экспорт до статуса upd.Status вслед за заданием.
// Отставший pending сначала переводится в processing.
func (s *ExportService) advance(ctx context.Context, exportID string, upd model.ExportUpdate) (*model.Export, error) {
	for range casAttempts {
		exp, err := s.exports.GetByID(ctx, exportID)
		if err != nil {
			return nil, notFound(err, "экспорт %s", exportID)
		}
		if exp.Status == upd.Status {
			return exp, nil
		}

		step := upd
		if exp.Status == model.ExportStatusPending && upd.Status != model.ExportStatusProcessing {
			step = model.ExportUpdate{Status: model.ExportStatusProcessing}
		}
		if err := lifecycle.CheckExport(exp.ID, exp.Status, step.Status); err != nil {
			s.logger.Warn("Статус экспорта не обновлён", slog.String("error", err.Error()))
			return exp, nil
		}

		updated, err := s.exports.UpdateStatus(ctx, exp.ID, exp.Status, step)
		if errors.Is(err, repository.ErrStateConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("обновление статуса экспорта %s: %w", exp.ID, err)
		}
		if updated.Status == upd.Status {
			s.logger.Info("Статус экспорта изменён",
				slog.String("export_id", exp.ID),
				slog.String("to", string(upd.Status)),
			)
			return updated, nil
		}
	}
	return nil, fmt.Errorf("обновление статуса экспорта %s: %w", exportID, repository.ErrStateConflict)
}
