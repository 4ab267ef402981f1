package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

// draftRepo — реализация DraftRepository.
type draftRepo struct {
	db DBTX
}

// NewDraftRepository создаёт репозиторий черновиков.
func NewDraftRepository(db DBTX) DraftRepository {
	return &draftRepo{db: db}
}

func (r *draftRepo) Create(ctx context.Context, d *model.Draft) error {
	query := `
		INSERT INTO drafts (id, matter_id, title, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		d.ID, d.MatterID, d.Title, d.Status, d.CreatedBy, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: черновик %s уже существует", ErrConflict, d.ID)
		}
		return fmt.Errorf("ошибка создания черновика: %w", err)
	}
	return nil
}

func (r *draftRepo) GetByID(ctx context.Context, id string) (*model.Draft, error) {
	query := `
		SELECT id, matter_id, title, status, created_by, created_at, updated_at
		FROM drafts WHERE id = $1`

	d := &model.Draft{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.MatterID, &d.Title, &d.Status, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения черновика: %w", err)
	}
	return d, nil
}

// commentRepo — реализация CommentRepository.
type commentRepo struct {
	db DBTX
}

// NewCommentRepository создаёт репозиторий комментариев.
func NewCommentRepository(db DBTX) CommentRepository {
	return &commentRepo{db: db}
}

func (r *commentRepo) Create(ctx context.Context, c *model.Comment) error {
	query := `
		INSERT INTO comments (id, draft_id, matter_id, author_id, body,
			resolved, resolved_by, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		c.ID, c.DraftID, c.MatterID, c.AuthorID, c.Body,
		c.Resolved, c.ResolvedBy, c.ResolvedAt, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: комментарий %s уже существует", ErrConflict, c.ID)
		}
		return fmt.Errorf("ошибка создания комментария: %w", err)
	}
	return nil
}

func (r *commentRepo) ListByDraft(ctx context.Context, draftID string) ([]*model.Comment, error) {
	query := `
		SELECT id, draft_id, matter_id, author_id, body,
			resolved, resolved_by, resolved_at, created_at
		FROM comments
		WHERE draft_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, draftID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения комментариев: %w", err)
	}
	defer rows.Close()

	result := []*model.Comment{}
	for rows.Next() {
		c := &model.Comment{}
		if err := rows.Scan(
			&c.ID, &c.DraftID, &c.MatterID, &c.AuthorID, &c.Body,
			&c.Resolved, &c.ResolvedBy, &c.ResolvedAt, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования комментария: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
