package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

const matterColumns = `id, title, client_name, status, participants, created_by, created_at, updated_at`

// matterRepo — реализация MatterRepository.
type matterRepo struct {
	db DBTX
}

// NewMatterRepository создаёт репозиторий дел.
func NewMatterRepository(db DBTX) MatterRepository {
	return &matterRepo{db: db}
}

func scanMatter(row rowScanner) (*model.Matter, error) {
	m := &model.Matter{}
	if err := row.Scan(
		&m.ID, &m.Title, &m.ClientName, &m.Status, &m.Participants,
		&m.CreatedBy, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if m.Participants == nil {
		m.Participants = []string{}
	}
	return m, nil
}

func (r *matterRepo) Create(ctx context.Context, m *model.Matter) error {
	query := `
		INSERT INTO matters (` + matterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	participants := m.Participants
	if participants == nil {
		participants = []string{}
	}
	_, err := r.db.Exec(ctx, query,
		m.ID, m.Title, m.ClientName, m.Status, participants,
		m.CreatedBy, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: дело %s уже существует", ErrConflict, m.ID)
		}
		return fmt.Errorf("ошибка создания дела: %w", err)
	}
	return nil
}

func (r *matterRepo) GetByID(ctx context.Context, id string) (*model.Matter, error) {
	query := `SELECT ` + matterColumns + ` FROM matters WHERE id = $1`

	m, err := scanMatter(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения дела: %w", err)
	}
	return m, nil
}

func (r *matterRepo) UpdateStatus(ctx context.Context, id string, from, to model.MatterStatus, at time.Time) (*model.Matter, error) {
	query := `
		UPDATE matters SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING ` + matterColumns

	m, err := scanMatter(r.db.QueryRow(ctx, query, id, from, to, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, casMiss(ctx, r.db, "matters", "id", id)
		}
		return nil, fmt.Errorf("ошибка смены статуса дела: %w", err)
	}
	return m, nil
}

func (r *matterRepo) AddParticipant(ctx context.Context, id, userID string, at time.Time) (*model.Matter, error) {
	query := `
		UPDATE matters
		SET participants = CASE WHEN $2 = ANY(participants)
				THEN participants ELSE array_append(participants, $2) END,
			updated_at = $3
		WHERE id = $1
		RETURNING ` + matterColumns

	m, err := scanMatter(r.db.QueryRow(ctx, query, id, userID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка добавления участника: %w", err)
	}
	return m, nil
}

func (r *matterRepo) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE matters SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка обновления updated_at дела: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
