package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

const fileColumns = `id, matter_id, name, type, size, storage_path, uploaded_by, uploaded_at,
	ocr_status, ocr_text, ocr_confidence, ocr_pages, ocr_error,
	purge_at, is_purged, purged_at`

// fileRepo — реализация FileRepository.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// ocrStatusArg — OCRStatusNone хранится как NULL.
func ocrStatusArg(s model.OCRStatus) *string {
	if s == model.OCRStatusNone {
		return nil
	}
	v := string(s)
	return &v
}

func scanFile(row rowScanner) (*model.File, error) {
	f := &model.File{}
	var ocrStatus *string
	if err := row.Scan(
		&f.ID, &f.MatterID, &f.Name, &f.Type, &f.Size, &f.StoragePath, &f.UploadedBy, &f.UploadedAt,
		&ocrStatus, &f.OCRText, &f.OCRConfidence, &f.OCRPages, &f.OCRError,
		&f.PurgeAt, &f.IsPurged, &f.PurgedAt,
	); err != nil {
		return nil, err
	}
	if ocrStatus != nil {
		f.OCRStatus = model.OCRStatus(*ocrStatus)
	}
	return f, nil
}

func collectFiles(rows pgx.Rows) ([]*model.File, error) {
	defer rows.Close()
	result := []*model.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) Create(ctx context.Context, f *model.File) error {
	query := `
		INSERT INTO files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Exec(ctx, query,
		f.ID, f.MatterID, f.Name, f.Type, f.Size, f.StoragePath, f.UploadedBy, f.UploadedAt,
		ocrStatusArg(f.OCRStatus), f.OCRText, f.OCRConfidence, f.OCRPages, f.OCRError,
		f.PurgeAt, f.IsPurged, f.PurgedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл %s уже существует", ErrConflict, f.ID)
		}
		return fmt.Errorf("ошибка создания файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) ListByMatter(ctx context.Context, matterID string) ([]*model.File, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE matter_id = $1
		ORDER BY uploaded_at, id`

	rows, err := r.db.Query(ctx, query, matterID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения файлов дела: %w", err)
	}
	return collectFiles(rows)
}

func (r *fileRepo) ListPurgeCandidates(ctx context.Context, now time.Time, after Cursor, limit int) ([]*model.File, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE is_purged = false AND purge_at <= $1
			AND ($3::text = '' OR (purge_at, id) > ($2::timestamptz, $3::text))
		ORDER BY purge_at, id
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, now, after.At, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки файлов для очистки: %w", err)
	}
	return collectFiles(rows)
}

func (r *fileRepo) UpdateOCR(ctx context.Context, id string, expected model.OCRStatus, state model.OCRState) (*model.File, error) {
	query := `
		UPDATE files
		SET ocr_status = $3, ocr_text = $4, ocr_confidence = $5, ocr_pages = $6, ocr_error = $7
		WHERE id = $1 AND ocr_status IS NOT DISTINCT FROM $2
		RETURNING ` + fileColumns

	f, err := scanFile(r.db.QueryRow(ctx, query,
		id, ocrStatusArg(expected),
		ocrStatusArg(state.Status), state.Text, state.Confidence, state.Pages, state.Error,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, casMiss(ctx, r.db, "files", "id", id)
		}
		return nil, fmt.Errorf("ошибка обновления OCR файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) MarkPurged(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE files SET is_purged = true, purged_at = $2 WHERE id = $1 AND is_purged = false`,
		id, at)
	if err != nil {
		return fmt.Errorf("ошибка отметки очистки файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return casMiss(ctx, r.db, "files", "id", id)
	}
	return nil
}

func (r *fileRepo) ListStuckOCR(ctx context.Context, uploadedBefore time.Time, after Cursor, limit int) ([]*model.File, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE type = 'pdf' AND is_purged = false
			AND ocr_status IN ('pending', 'processing')
			AND uploaded_at < $1
			AND ($3::text = '' OR (uploaded_at, id) > ($2::timestamptz, $3::text))
		ORDER BY uploaded_at, id
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, uploadedBefore, after.At, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки зависших OCR: %w", err)
	}
	return collectFiles(rows)
}
