package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

const sessionColumns = `file_id, matter_id, file_name, file_type, storage_path,
	requested_by, created_at, expires_at, finalized`

// sessionRepo — реализация SessionRepository.
type sessionRepo struct {
	db DBTX
}

// NewSessionRepository создаёт репозиторий сессий загрузки.
func NewSessionRepository(db DBTX) SessionRepository {
	return &sessionRepo{db: db}
}

func scanSession(row rowScanner) (*model.UploadSession, error) {
	s := &model.UploadSession{}
	if err := row.Scan(
		&s.FileID, &s.MatterID, &s.FileName, &s.FileType, &s.StoragePath,
		&s.RequestedBy, &s.CreatedAt, &s.ExpiresAt, &s.Finalized,
	); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sessionRepo) Create(ctx context.Context, s *model.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		s.FileID, s.MatterID, s.FileName, s.FileType, s.StoragePath,
		s.RequestedBy, s.CreatedAt, s.ExpiresAt, s.Finalized,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: сессия %s уже существует", ErrConflict, s.FileID)
		}
		return fmt.Errorf("ошибка создания сессии загрузки: %w", err)
	}
	return nil
}

func (r *sessionRepo) GetByFileID(ctx context.Context, fileID string) (*model.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE file_id = $1`

	s, err := scanSession(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сессии загрузки: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) MarkFinalized(ctx context.Context, fileID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE upload_sessions SET finalized = true WHERE file_id = $1 AND finalized = false`, fileID)
	if err != nil {
		return fmt.Errorf("ошибка завершения сессии загрузки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return casMiss(ctx, r.db, "upload_sessions", "file_id", fileID)
	}
	return nil
}

func (r *sessionRepo) ListAbandoned(ctx context.Context, before time.Time, limit int) ([]*model.UploadSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM upload_sessions
		WHERE finalized = false AND expires_at < $1
		ORDER BY expires_at, file_id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки брошенных сессий: %w", err)
	}
	defer rows.Close()

	result := []*model.UploadSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сессии: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *sessionRepo) DeleteUnfinalized(ctx context.Context, fileID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM upload_sessions WHERE file_id = $1 AND finalized = false`, fileID)
	if err != nil {
		return fmt.Errorf("ошибка удаления сессии загрузки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return casMiss(ctx, r.db, "upload_sessions", "file_id", fileID)
	}
	return nil
}
