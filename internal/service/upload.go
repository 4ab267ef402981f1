// upload.go — менеджер сессий загрузки.
//
// Загрузка идёт в два шага: CreateSession выдаёт грант на запись
// в детерминированный путь и сохраняет сессию (без записи File),
// Finalize проверяет объект в хранилище и создаёт File.
// Повторный Finalize возвращает AlreadyFinalizedError с существующим файлом.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

// Prometheus метрики загрузок
var (
	uploadSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_upload_sessions_total",
		Help: "Количество созданных сессий загрузки",
	})

	finalizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_finalize_total",
		Help: "Количество вызовов finalize по результату",
	}, []string{"result"})
)

// maxFileNameLength — максимальная длина имени файла в символах.
const maxFileNameLength = 255

// UploadConfig — параметры загрузок.
type UploadConfig struct {
	// GrantTTL — время жизни upload-гранта
	GrantTTL time.Duration
	// FinalizeGrace — окно после истечения гранта, когда finalize ещё допустим
	FinalizeGrace time.Duration
	// Retention — срок хранения файла от момента finalize
	Retention time.Duration
	// MaxFileSize — максимальный размер файла в байтах
	MaxFileSize int64
}

// UploadSessionResult — ответ на создание сессии.
type UploadSessionResult struct {
	FileID      string             `json:"file_id"`
	StoragePath string             `json:"storage_path"`
	UploadGrant *model.UploadGrant `json:"upload_grant"`
}

// UploadService — менеджер сессий загрузки.
type UploadService struct {
	matters  *MatterService
	sessions repository.SessionRepository
	files    repository.FileRepository
	objects  object.Store
	ocr      *OCRService
	cfg      UploadConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewUploadService создаёт менеджер сессий загрузки.
func NewUploadService(
	matters *MatterService,
	sessions repository.SessionRepository,
	files repository.FileRepository,
	objects object.Store,
	ocr *OCRService,
	cfg UploadConfig,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		matters:  matters,
		sessions: sessions,
		files:    files,
		objects:  objects,
		ocr:      ocr,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "upload_service")),
		now:      time.Now,
	}
}

// CreateSession выдаёт грант на запись нового файла дела.
func (s *UploadService) CreateSession(ctx context.Context, matterID, fileName, fileType, user string) (*UploadSessionResult, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, invalidArgf("имя файла обязательно")
	}
	if utf8.RuneCountInString(fileName) > maxFileNameLength {
		return nil, invalidArgf("имя файла длиннее %d символов", maxFileNameLength)
	}
	ft, err := model.ParseFileType(fileType)
	if err != nil {
		return nil, invalidArgf("%v", err)
	}
	if _, err := s.matters.AuthorizeChange(ctx, matterID, user); err != nil {
		return nil, err
	}

	fileID := uuid.NewString()
	path := model.FileStoragePath(matterID, fileID, ft)

	grant, err := s.objects.IssueWriteGrant(ctx, path, ft.ContentType(), s.cfg.GrantTTL)
	if err != nil {
		return nil, storageErr("выдача upload-гранта", err)
	}

	session := &model.UploadSession{
		FileID:      fileID,
		MatterID:    matterID,
		FileName:    fileName,
		FileType:    ft,
		StoragePath: path,
		RequestedBy: user,
		CreatedAt:   s.now().UTC(),
		ExpiresAt:   grant.ExpiresAt.UTC(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("сохранение сессии загрузки: %w", err)
	}
	uploadSessionsTotal.Inc()

	s.logger.Info("Сессия загрузки создана",
		slog.String("file_id", fileID),
		slog.String("matter_id", matterID),
		slog.String("file_type", string(ft)),
		slog.String("requested_by", user),
		slog.Time("expires_at", session.ExpiresAt),
	)

	return &UploadSessionResult{FileID: fileID, StoragePath: path, UploadGrant: grant}, nil
}

// Finalize подтверждает загрузку и создаёт запись File.
func (s *UploadService) Finalize(ctx context.Context, fileID string, actualSize int64, user string) (*model.File, error) {
	file, err := s.finalize(ctx, fileID, actualSize, user)
	finalizeTotal.WithLabelValues(finalizeResult(err)).Inc()
	return file, err
}

func (s *UploadService) finalize(ctx context.Context, fileID string, actualSize int64, user string) (*model.File, error) {
	session, err := s.sessions.GetByFileID(ctx, fileID)
	if err != nil {
		return nil, notFound(err, "сессия загрузки %s", fileID)
	}
	if err := s.matters.Authorize(ctx, session.MatterID, user); err != nil {
		return nil, err
	}

	if existing, err := s.files.GetByID(ctx, fileID); err == nil {
		return nil, &AlreadyFinalizedError{File: existing}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("проверка файла %s: %w", fileID, err)
	}

	now := s.now().UTC()
	if !session.Finalized && now.After(session.FinalizeDeadline(s.cfg.FinalizeGrace)) {
		return nil, fmt.Errorf("%w: грант файла %s истёк %s", ErrSessionExpired, fileID, session.ExpiresAt.Format(time.RFC3339))
	}

	info, err := s.objects.Stat(ctx, session.StoragePath)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("проверка объекта %s", session.StoragePath), err)
	}
	switch {
	case actualSize <= 0:
		return nil, invalidArgf("размер файла должен быть положительным, получено %d", actualSize)
	case actualSize > s.cfg.MaxFileSize:
		return nil, invalidArgf("размер файла %d превышает максимум %d", actualSize, s.cfg.MaxFileSize)
	case actualSize != info.Size:
		return nil, invalidArgf("заявленный размер %d не совпадает с размером объекта %d", actualSize, info.Size)
	}

	// Сессия помечается завершённой до создания файла: очистка брошенных
	// сессий удаляет только незавершённые. Уже завершённая сессия означает
	// прерванный finalize, который можно продолжить.
	if err := s.sessions.MarkFinalized(ctx, fileID); err != nil {
		switch {
		case errors.Is(err, repository.ErrStateConflict):
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: сессия %s удалена очисткой", ErrSessionExpired, fileID)
		default:
			return nil, fmt.Errorf("завершение сессии %s: %w", fileID, err)
		}
	}

	file := &model.File{
		ID:          fileID,
		MatterID:    session.MatterID,
		Name:        session.FileName,
		Type:        session.FileType,
		Size:        actualSize,
		StoragePath: session.StoragePath,
		UploadedBy:  user,
		UploadedAt:  now,
		OCRStatus:   model.InitialOCRStatus(session.FileType),
		PurgeAt:     now.Add(s.cfg.Retention),
	}
	if err := s.files.Create(ctx, file); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			existing, getErr := s.files.GetByID(ctx, fileID)
			if getErr != nil {
				return nil, fmt.Errorf("чтение существующего файла %s: %w", fileID, getErr)
			}
			return nil, &AlreadyFinalizedError{File: existing}
		}
		return nil, fmt.Errorf("создание файла %s: %w", fileID, err)
	}

	s.logger.Info("Загрузка завершена",
		slog.String("file_id", fileID),
		slog.String("matter_id", file.MatterID),
		slog.String("file_type", string(file.Type)),
		slog.Int64("size", file.Size),
		slog.Time("purge_at", file.PurgeAt),
	)

	s.matters.Touch(ctx, file.MatterID)

	if file.Type == model.FileTypePDF && s.ocr != nil {
		if job, err := s.ocr.EnqueueOCR(ctx, file, user); err != nil {
			s.logger.Error("Не удалось поставить OCR-задание, файл будет подобран сверкой",
				slog.String("file_id", fileID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("OCR-задание поставлено",
				slog.String("file_id", fileID),
				slog.String("job_id", job.ID),
			)
		}
	}

	return file, nil
}

func finalizeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, ErrUploadIncomplete):
		return "incomplete"
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, ErrNotAuthorized):
		return "forbidden"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
