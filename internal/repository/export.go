package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

const exportColumns = `id, draft_id, matter_id, format, storage_path, exported_by, exported_at,
	size, status, error, purge_at, is_purged, purged_at`

// exportRepo — реализация ExportRepository.
type exportRepo struct {
	db DBTX
}

// NewExportRepository создаёт репозиторий экспортов.
func NewExportRepository(db DBTX) ExportRepository {
	return &exportRepo{db: db}
}

func scanExport(row rowScanner) (*model.Export, error) {
	e := &model.Export{}
	if err := row.Scan(
		&e.ID, &e.DraftID, &e.MatterID, &e.Format, &e.StoragePath, &e.ExportedBy, &e.ExportedAt,
		&e.Size, &e.Status, &e.Error, &e.PurgeAt, &e.IsPurged, &e.PurgedAt,
	); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *exportRepo) Create(ctx context.Context, e *model.Export) error {
	query := `
		INSERT INTO exports (` + exportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		e.ID, e.DraftID, e.MatterID, e.Format, e.StoragePath, e.ExportedBy, e.ExportedAt,
		e.Size, e.Status, e.Error, e.PurgeAt, e.IsPurged, e.PurgedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: экспорт %s уже существует", ErrConflict, e.ID)
		}
		return fmt.Errorf("ошибка создания экспорта: %w", err)
	}
	return nil
}

func (r *exportRepo) GetByID(ctx context.Context, id string) (*model.Export, error) {
	query := `SELECT ` + exportColumns + ` FROM exports WHERE id = $1`

	e, err := scanExport(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения экспорта: %w", err)
	}
	return e, nil
}

func (r *exportRepo) ListPurgeCandidates(ctx context.Context, now time.Time, after Cursor, limit int) ([]*model.Export, error) {
	query := `
		SELECT ` + exportColumns + `
		FROM exports
		WHERE is_purged = false AND purge_at <= $1
			AND ($3::text = '' OR (purge_at, id) > ($2::timestamptz, $3::text))
		ORDER BY purge_at, id
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, now, after.At, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки экспортов для очистки: %w", err)
	}
	defer rows.Close()

	result := []*model.Export{}
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования экспорта: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *exportRepo) UpdateStatus(ctx context.Context, id string, from model.ExportStatus, upd model.ExportUpdate) (*model.Export, error) {
	query := `
		UPDATE exports
		SET status = $3,
			size = CASE WHEN $4::bigint > 0 THEN $4::bigint ELSE size END,
			error = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + exportColumns

	e, err := scanExport(r.db.QueryRow(ctx, query, id, from, upd.Status, upd.Size, upd.Error))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, casMiss(ctx, r.db, "exports", "id", id)
		}
		return nil, fmt.Errorf("ошибка смены статуса экспорта: %w", err)
	}
	return e, nil
}

func (r *exportRepo) MarkPurged(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exports SET is_purged = true, purged_at = $2 WHERE id = $1 AND is_purged = false`,
		id, at)
	if err != nil {
		return fmt.Errorf("ошибка отметки очистки экспорта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return casMiss(ctx, r.db, "exports", "id", id)
	}
	return nil
}
