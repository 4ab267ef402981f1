package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

const jobColumns = `id, type, status, target_kind, target_id, created_by, created_at,
	started_at, completed_at, error, metadata`

// Попыток вставки при гонке «активное задание завершилось между
// INSERT и SELECT».
const createActiveAttempts = 3

// jobRepo — реализация JobRepository.
// Уникальность активного задания обеспечивает частичный уникальный индекс
// uq_jobs_active_target (type, target_kind, target_id) WHERE status IN (pending, processing).
type jobRepo struct {
	db DBTX
}

// NewJobRepository создаёт репозиторий заданий.
func NewJobRepository(db DBTX) JobRepository {
	return &jobRepo{db: db}
}

func scanJob(row rowScanner) (*model.Job, error) {
	j := &model.Job{}
	if err := row.Scan(
		&j.ID, &j.Type, &j.Status, &j.Target.Kind, &j.Target.ID, &j.CreatedBy, &j.CreatedAt,
		&j.StartedAt, &j.CompletedAt, &j.Error, &j.Metadata,
	); err != nil {
		return nil, err
	}
	if j.Metadata == nil {
		j.Metadata = map[string]any{}
	}
	return j, nil
}

func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	defer rows.Close()
	result := []*model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования задания: %w", err)
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (r *jobRepo) CreateActive(ctx context.Context, job *model.Job) (*model.Job, bool, error) {
	insert := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (type, target_kind, target_id) WHERE status IN ('pending', 'processing')
		DO NOTHING
		RETURNING ` + jobColumns

	for range createActiveAttempts {
		created, err := scanJob(r.db.QueryRow(ctx, insert,
			job.ID, job.Type, job.Status, job.Target.Kind, job.Target.ID, job.CreatedBy, job.CreatedAt,
			job.StartedAt, job.CompletedAt, job.Error, nonNilMetadata(job.Metadata),
		))
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			if isUniqueViolation(err) {
				return nil, false, fmt.Errorf("%w: задание %s уже существует", ErrConflict, job.ID)
			}
			return nil, false, fmt.Errorf("ошибка создания задания: %w", err)
		}

		// Конфликт по активной цели — возвращаем существующее задание.
		existing, err := r.activeFor(ctx, job.Type, job.Target)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("%w: не удалось создать задание %s для %s",
		ErrStateConflict, job.Type, job.Target)
}

func (r *jobRepo) activeFor(ctx context.Context, jt model.JobType, target model.Target) (*model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE type = $1 AND target_kind = $2 AND target_id = $3
			AND status IN ('pending', 'processing')`

	j, err := scanJob(r.db.QueryRow(ctx, query, jt, target.Kind, target.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения активного задания: %w", err)
	}
	return j, nil
}

func (r *jobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания: %w", err)
	}
	return j, nil
}

func (r *jobRepo) Transition(ctx context.Context, id string, from, to model.JobStatus, patch model.JobPatch) (*model.Job, error) {
	query := `
		UPDATE jobs
		SET status = $3,
			started_at = COALESCE($4, started_at),
			completed_at = COALESCE($5, completed_at),
			error = COALESCE($6, error),
			metadata = metadata || $7::jsonb
		WHERE id = $1 AND status = $2
		RETURNING ` + jobColumns

	j, err := scanJob(r.db.QueryRow(ctx, query,
		id, from, to, patch.StartedAt, patch.CompletedAt, patch.Error, nonNilMetadata(patch.Metadata),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, casMiss(ctx, r.db, "jobs", "id", id)
		}
		return nil, fmt.Errorf("ошибка перехода задания: %w", err)
	}
	return j, nil
}

func (r *jobRepo) ListActiveForTarget(ctx context.Context, target model.Target) ([]*model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE target_kind = $1 AND target_id = $2
			AND status IN ('pending', 'processing')
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, target.Kind, target.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных заданий: %w", err)
	}
	return collectJobs(rows)
}

func (r *jobRepo) List(ctx context.Context, filter JobFilter, limit int) ([]*model.Job, error) {
	// Динамическое построение WHERE
	var conditions []string
	var args []any
	argNum := 1

	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argNum))
		args = append(args, *filter.Type)
		argNum++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM jobs
		%s
		ORDER BY created_at, id
		LIMIT $%d`, jobColumns, where, argNum)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заданий: %w", err)
	}
	return collectJobs(rows)
}
