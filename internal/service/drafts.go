// drafts.go — чтение черновиков и комментариев. Черновики создаются
// и изменяются генераторами, сервис их только читает.
package service

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// DraftService — доступ к черновикам участников дела.
type DraftService struct {
	drafts   repository.DraftRepository
	comments repository.CommentRepository
	matters  *MatterService
}

// NewDraftService создаёт сервис черновиков.
func NewDraftService(drafts repository.DraftRepository, comments repository.CommentRepository, matters *MatterService) *DraftService {
	return &DraftService{drafts: drafts, comments: comments, matters: matters}
}

// Get возвращает черновик участнику дела.
func (s *DraftService) Get(ctx context.Context, draftID, user string) (*model.Draft, error) {
	d, err := s.drafts.GetByID(ctx, draftID)
	if err != nil {
		return nil, notFound(err, "черновик %s", draftID)
	}
	if err := s.matters.Authorize(ctx, d.MatterID, user); err != nil {
		return nil, err
	}
	return d, nil
}

// ListComments возвращает комментарии черновика в порядке создания.
func (s *DraftService) ListComments(ctx context.Context, draftID, user string) ([]*model.Comment, error) {
	if _, err := s.Get(ctx, draftID, user); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("комментарии черновика %s: %w", draftID, err)
	}
	return comments, nil
}
