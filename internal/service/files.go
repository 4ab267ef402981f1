// files.go — чтение файлов дела и повторная постановка OCR участником.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// FileService — сервис файлов.
type FileService struct {
	files   repository.FileRepository
	matters *MatterService
	ocr     *OCRService
	logger  *slog.Logger
}

// NewFileService создаёт сервис файлов.
func NewFileService(
	files repository.FileRepository,
	matters *MatterService,
	ocr *OCRService,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		files:   files,
		matters: matters,
		ocr:     ocr,
		logger:  logger.With(slog.String("component", "file_service")),
	}
}

// Get возвращает файл участнику его дела.
func (s *FileService) Get(ctx context.Context, fileID, user string) (*model.File, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, notFound(err, "файл %s", fileID)
	}
	if err := s.matters.Authorize(ctx, f.MatterID, user); err != nil {
		return nil, err
	}
	return f, nil
}

// ListByMatter возвращает файлы дела, включая очищенные (tombstone).
func (s *FileService) ListByMatter(ctx context.Context, matterID, user string) ([]*model.File, error) {
	if err := s.matters.Authorize(ctx, matterID, user); err != nil {
		return nil, err
	}
	files, err := s.files.ListByMatter(ctx, matterID)
	if err != nil {
		return nil, fmt.Errorf("список файлов дела %s: %w", matterID, err)
	}
	return files, nil
}

// RequestOCR ставит (повторно) OCR-задание для файла.
func (s *FileService) RequestOCR(ctx context.Context, fileID, user string) (*model.Job, error) {
	f, err := s.Get(ctx, fileID, user)
	if err != nil {
		return nil, err
	}
	return s.ocr.EnqueueOCR(ctx, f, user)
}
