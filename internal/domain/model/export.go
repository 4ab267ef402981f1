package model

import (
	"fmt"
	"time"
)

// ExportFormat — формат экспорта черновика.
type ExportFormat string

const ExportFormatDOCX ExportFormat = "docx"

// ExportStatus — статус экспорта. Переходы повторяют статусы задания.
type ExportStatus string

const (
	ExportStatusPending    ExportStatus = "pending"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusCompleted  ExportStatus = "completed"
	ExportStatusFailed     ExportStatus = "failed"
)

// Export — сгенерированный документ черновика. Очищается по тем же
// правилам, что и File.
type Export struct {
	ID          string       `json:"id"`
	DraftID     string       `json:"draft_id"`
	MatterID    string       `json:"matter_id"`
	Format      ExportFormat `json:"format"`
	StoragePath string       `json:"storage_path"`
	ExportedBy  string       `json:"exported_by"`
	ExportedAt  time.Time    `json:"exported_at"`
	Size        int64        `json:"size"`
	Status      ExportStatus `json:"status"`
	Error       *string      `json:"error"`
	PurgeAt     time.Time    `json:"purge_at"`
	IsPurged    bool         `json:"is_purged"`
	PurgedAt    *time.Time   `json:"purged_at,omitempty"`
}

// ExportUpdate — изменения экспорта при переходе статуса.
type ExportUpdate struct {
	Status ExportStatus
	Size   int64
	Error  *string
}

// ExportStoragePath возвращает детерминированный путь объекта экспорта.
func ExportStoragePath(matterID, exportID string, format ExportFormat) string {
	return fmt.Sprintf("matters/%s/exports/%s.%s", matterID, exportID, format)
}
