// matters.go — сервис дел: создание, участники, статус и проверка доступа.
// Доступ к файлам, экспортам и черновикам имеют только участники дела.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// MatterService — сервис дел.
type MatterService struct {
	matters repository.MatterRepository
	cache   *MembershipCache
	logger  *slog.Logger
	now     func() time.Time
}

// NewMatterService создаёт сервис дел. cache может быть nil.
func NewMatterService(
	matters repository.MatterRepository,
	cache *MembershipCache,
	logger *slog.Logger,
) *MatterService {
	return &MatterService{
		matters: matters,
		cache:   cache,
		logger:  logger.With(slog.String("component", "matter_service")),
		now:     time.Now,
	}
}

// Create создаёт активное дело. Создатель всегда входит в участники.
func (s *MatterService) Create(ctx context.Context, title, clientName, creator string, participants []string) (*model.Matter, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, invalidArgf("название дела обязательно")
	}
	if creator == "" {
		return nil, invalidArgf("создатель дела обязателен")
	}

	members := []string{creator}
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(members, p) {
			members = append(members, p)
		}
	}

	now := s.now().UTC()
	m := &model.Matter{
		ID:           uuid.NewString(),
		Title:        title,
		ClientName:   strings.TrimSpace(clientName),
		Status:       model.MatterStatusActive,
		Participants: members,
		CreatedBy:    creator,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.matters.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("создание дела: %w", err)
	}

	s.logger.Info("Дело создано",
		slog.String("matter_id", m.ID),
		slog.String("created_by", creator),
		slog.Int("participants", len(members)),
	)
	return m, nil
}

// Get возвращает дело участнику.
func (s *MatterService) Get(ctx context.Context, id, user string) (*model.Matter, error) {
	m, err := s.matters.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "дело %s", id)
	}
	if !m.HasParticipant(user) {
		return nil, fmt.Errorf("%w: пользователь %s не участник дела %s", ErrNotAuthorized, user, id)
	}
	s.remember(id, user)
	return m, nil
}

// AddParticipant добавляет участника. Вызывающий должен быть участником.
func (s *MatterService) AddParticipant(ctx context.Context, id, user, newUser string) (*model.Matter, error) {
	newUser = strings.TrimSpace(newUser)
	if newUser == "" {
		return nil, invalidArgf("идентификатор участника обязателен")
	}
	m, err := s.AuthorizeChange(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if m.HasParticipant(newUser) {
		return m, nil
	}

	updated, err := s.matters.AddParticipant(ctx, id, newUser, s.now().UTC())
	if err != nil {
		return nil, notFound(err, "дело %s", id)
	}
	s.remember(id, newUser)

	s.logger.Info("Участник добавлен в дело",
		slog.String("matter_id", id),
		slog.String("user_id", newUser),
		slog.String("added_by", user),
	)
	return updated, nil
}

// TransitionStatus переводит дело в статус to. Статусы меняются
// только вперёд; из archived переходов нет.
func (s *MatterService) TransitionStatus(ctx context.Context, id, user string, to model.MatterStatus) (*model.Matter, error) {
	m, err := s.Get(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckMatter(id, m.Status, to); err != nil {
		s.logger.Warn("Недопустимый переход статуса дела", slog.String("error", err.Error()))
		return nil, err
	}

	updated, err := s.matters.UpdateStatus(ctx, id, m.Status, to, s.now().UTC())
	if errors.Is(err, repository.ErrStateConflict) {
		// Статус изменился параллельно: отвечаем по свежему состоянию.
		fresh, getErr := s.matters.GetByID(ctx, id)
		if getErr != nil {
			return nil, fmt.Errorf("перечитывание дела: %w", getErr)
		}
		terr := lifecycle.NewTransitionError(lifecycle.EntityMatter, id, fresh.Status, to)
		s.logger.Warn("Статус дела изменён параллельно", slog.String("error", terr.Error()))
		return nil, terr
	}
	if err != nil {
		return nil, notFound(err, "дело %s", id)
	}

	s.logger.Info("Статус дела изменён",
		slog.String("matter_id", id),
		slog.String("from", string(m.Status)),
		slog.String("to", string(to)),
	)
	return updated, nil
}

// IsParticipant проверяет участие пользователя в деле.
// Отсутствующее дело — не ошибка, а false.
func (s *MatterService) IsParticipant(ctx context.Context, matterID, user string) (bool, error) {
	if user == "" {
		return false, nil
	}
	if s.cache != nil && s.cache.IsMember(matterID, user) {
		return true, nil
	}
	m, err := s.matters.GetByID(ctx, matterID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("проверка участника дела: %w", err)
	}
	if !m.HasParticipant(user) {
		return false, nil
	}
	s.remember(matterID, user)
	return true, nil
}

// Authorize возвращает ErrNotAuthorized, если пользователь не участник дела.
func (s *MatterService) Authorize(ctx context.Context, matterID, user string) error {
	ok, err := s.IsParticipant(ctx, matterID, user)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: пользователь %s не участник дела %s", ErrNotAuthorized, user, matterID)
	}
	return nil
}

// AuthorizeChange проверяет, что дело существует, не в архиве и
// пользователь его участник. Любое нарушение — ErrNotAuthorized.
func (s *MatterService) AuthorizeChange(ctx context.Context, matterID, user string) (*model.Matter, error) {
	m, err := s.matters.GetByID(ctx, matterID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: дело %s не найдено", ErrNotAuthorized, matterID)
	}
	if err != nil {
		return nil, fmt.Errorf("получение дела: %w", err)
	}
	if !m.HasParticipant(user) {
		return nil, fmt.Errorf("%w: пользователь %s не участник дела %s", ErrNotAuthorized, user, matterID)
	}
	if !m.AcceptsChanges() {
		return nil, fmt.Errorf("%w: дело %s в архиве", ErrNotAuthorized, matterID)
	}
	s.remember(matterID, user)
	return m, nil
}

// Touch обновляет updated_at дела. Ошибка только логируется.
func (s *MatterService) Touch(ctx context.Context, matterID string) {
	if err := s.matters.Touch(ctx, matterID, s.now().UTC()); err != nil {
		s.logger.Warn("Не удалось обновить updated_at дела",
			slog.String("matter_id", matterID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MatterService) remember(matterID, user string) {
	if s.cache != nil {
		s.cache.Remember(matterID, user)
	}
}
