package model

import "time"

// Draft — черновик документа дела. Создаётся и изменяется генераторами
// черновиков; Lifecycle Module только читает его для экспорта.
type Draft struct {
	ID        string    `json:"id"`
	MatterID  string    `json:"matter_id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comment — комментарий к черновику (только чтение).
type Comment struct {
	ID         string     `json:"id"`
	DraftID    string     `json:"draft_id"`
	MatterID   string     `json:"matter_id"`
	AuthorID   string     `json:"author_id"`
	Body       string     `json:"body"`
	Resolved   bool       `json:"resolved"`
	ResolvedBy *string    `json:"resolved_by"`
	ResolvedAt *time.Time `json:"resolved_at"`
	CreatedAt  time.Time  `json:"created_at"`
}
