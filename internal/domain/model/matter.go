// Пакет model — доменные модели Lifecycle Module: дела (matters), файлы,
// экспорты, задания, сессии загрузки, а также черновики и комментарии,
// которые сервис только читает.
package model

import (
	"fmt"
	"slices"
	"time"
)

// MatterStatus — статус дела.
type MatterStatus string

const (
	MatterStatusDraft     MatterStatus = "draft"
	MatterStatusActive    MatterStatus = "active"
	MatterStatusCompleted MatterStatus = "completed"
	MatterStatusArchived  MatterStatus = "archived"
)

// ParseMatterStatus преобразует строку в MatterStatus.
func ParseMatterStatus(s string) (MatterStatus, error) {
	switch st := MatterStatus(s); st {
	case MatterStatusDraft, MatterStatusActive, MatterStatusCompleted, MatterStatusArchived:
		return st, nil
	default:
		return "", fmt.Errorf("недопустимый статус дела: %q, допустимые: draft, active, completed, archived", s)
	}
}

// Matter — юридическое дело. Корневая сущность: владеет файлами,
// черновиками и экспортами. Никогда не удаляется физически.
type Matter struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	ClientName   string       `json:"client_name"`
	Status       MatterStatus `json:"status"`
	Participants []string     `json:"participants"`
	CreatedBy    string       `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// HasParticipant проверяет, входит ли пользователь в участники дела.
func (m *Matter) HasParticipant(userID string) bool {
	return slices.Contains(m.Participants, userID)
}

// AcceptsChanges возвращает false для архивных дел: новые загрузки
// и экспорты в них запрещены.
func (m *Matter) AcceptsChanges() bool {
	return m.Status != MatterStatusArchived
}
