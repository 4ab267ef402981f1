package model

import "time"

// UploadSession — намерение загрузить файл. Создаётся вместо записи File:
// файл появляется только после finalize. Незавершённые сессии
// с истёкшим грантом удаляются при очистке вместе с объектом.
type UploadSession struct {
	FileID      string    `json:"file_id"`
	MatterID    string    `json:"matter_id"`
	FileName    string    `json:"file_name"`
	FileType    FileType  `json:"file_type"`
	StoragePath string    `json:"storage_path"`
	RequestedBy string    `json:"requested_by"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Finalized   bool      `json:"finalized"`
}

// FinalizeDeadline — крайний момент, когда ещё допускается finalize.
func (s *UploadSession) FinalizeDeadline(grace time.Duration) time.Time {
	return s.ExpiresAt.Add(grace)
}

// UploadGrant — ограниченное по времени право записи в один путь хранилища.
type UploadGrant struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}
