package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType — тип асинхронного задания.
type JobType string

const (
	JobTypeOCR             JobType = "ocr"
	JobTypeDraftGeneration JobType = "draft_generation"
	JobTypeDraftRefinement JobType = "draft_refinement"
	JobTypeExport          JobType = "export"
)

// ParseJobType преобразует строку в JobType.
func ParseJobType(s string) (JobType, error) {
	switch jt := JobType(s); jt {
	case JobTypeOCR, JobTypeDraftGeneration, JobTypeDraftRefinement, JobTypeExport:
		return jt, nil
	default:
		return "", fmt.Errorf("недопустимый тип задания: %q, допустимые: ocr, draft_generation, draft_refinement, export", s)
	}
}

// JobStatus — статус задания.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ParseJobStatus преобразует строку в JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("недопустимый статус задания: %q, допустимые: pending, processing, completed, failed", s)
	}
}

// IsActive возвращает true для pending и processing.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// allowedTargets — допустимые виды цели для каждого типа задания.
var allowedTargets = map[JobType]map[TargetKind]bool{
	JobTypeOCR:             {TargetFile: true},
	JobTypeExport:          {TargetExport: true},
	JobTypeDraftGeneration: {TargetMatter: true, TargetNone: true},
	JobTypeDraftRefinement: {TargetDraft: true},
}

// ValidateTarget проверяет, что цель подходит типу задания.
func (jt JobType) ValidateTarget(t Target) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if !allowedTargets[jt][t.Kind] {
		return fmt.Errorf("задание типа %s не может ссылаться на цель %s", jt, t.Kind)
	}
	return nil
}

// Job — запись об асинхронной работе над целью.
// Цель хранится как tagged union Target; в JSON выводится
// четырьмя nullable-полями matter_id/draft_id/file_id/export_id.
type Job struct {
	ID          string
	Type        JobType
	Status      JobStatus
	Target      Target
	CreatedBy   string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
	Metadata    map[string]any
}

// jobJSON — представление Job на проводе.
type jobJSON struct {
	ID          string         `json:"id"`
	Type        JobType        `json:"type"`
	Status      JobStatus      `json:"status"`
	MatterID    *string        `json:"matter_id"`
	DraftID     *string        `json:"draft_id"`
	FileID      *string        `json:"file_id"`
	ExportID    *string        `json:"export_id"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Error       *string        `json:"error"`
	Metadata    map[string]any `json:"metadata"`
}

// MarshalJSON разворачивает Target в nullable-поля.
func (j Job) MarshalJSON() ([]byte, error) {
	out := jobJSON{
		ID:          j.ID,
		Type:        j.Type,
		Status:      j.Status,
		CreatedBy:   j.CreatedBy,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
		Metadata:    j.Metadata,
	}
	id := j.Target.ID
	switch j.Target.Kind {
	case TargetMatter:
		out.MatterID = &id
	case TargetDraft:
		out.DraftID = &id
	case TargetFile:
		out.FileID = &id
	case TargetExport:
		out.ExportID = &id
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON собирает Target из nullable-полей.
// Больше одного заполненного поля — ошибка.
func (j *Job) UnmarshalJSON(data []byte) error {
	var in jobJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	target := NoTarget()
	set := 0
	for kind, id := range map[TargetKind]*string{
		TargetMatter: in.MatterID,
		TargetDraft:  in.DraftID,
		TargetFile:   in.FileID,
		TargetExport: in.ExportID,
	} {
		if id != nil {
			target = Target{Kind: kind, ID: *id}
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("задание %s ссылается больше чем на одну цель", in.ID)
	}

	*j = Job{
		ID:          in.ID,
		Type:        in.Type,
		Status:      in.Status,
		Target:      target,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   in.CreatedAt,
		StartedAt:   in.StartedAt,
		CompletedAt: in.CompletedAt,
		Error:       in.Error,
		Metadata:    in.Metadata,
	}
	return nil
}

// Validate проверяет согласованность временных меток и ошибки со статусом.
func (j *Job) Validate() error {
	switch j.Status {
	case JobStatusPending:
		if j.StartedAt != nil || j.CompletedAt != nil {
			return fmt.Errorf("задание pending не может иметь started_at или completed_at")
		}
	case JobStatusProcessing:
		if j.StartedAt == nil || j.CompletedAt != nil {
			return fmt.Errorf("задание processing требует started_at и не имеет completed_at")
		}
	case JobStatusCompleted, JobStatusFailed:
		if j.CompletedAt == nil {
			return fmt.Errorf("завершённое задание требует completed_at")
		}
	default:
		return fmt.Errorf("недопустимый статус задания %q", j.Status)
	}
	if (j.Error != nil) != (j.Status == JobStatusFailed) {
		return fmt.Errorf("error задаётся только для статуса failed")
	}
	return nil
}

// JobPatch — изменения задания при переходе статуса.
// Metadata сливается с существующими метаданными.
type JobPatch struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
	Metadata    map[string]any
}

// Apply применяет переход к копии задания.
func (j *Job) Apply(to JobStatus, p JobPatch) {
	j.Status = to
	if p.StartedAt != nil {
		j.StartedAt = p.StartedAt
	}
	if p.CompletedAt != nil {
		j.CompletedAt = p.CompletedAt
	}
	if p.Error != nil {
		j.Error = p.Error
	}
	if len(p.Metadata) > 0 {
		j.Metadata = MergeMetadata(j.Metadata, p.Metadata)
	}
}

// MergeMetadata возвращает новую карту: base, дополненная значениями extra.
func MergeMetadata(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// OCRResult — результат распознавания, передаваемый при завершении OCR-задания.
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Pages      int     `json:"pages"`
}

// Validate проверяет диапазоны результата.
func (r OCRResult) Validate() error {
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("уверенность %v вне диапазона 0-100", r.Confidence)
	}
	if r.Pages < 0 {
		return fmt.Errorf("число страниц не может быть отрицательным: %d", r.Pages)
	}
	return nil
}

// ExportResult — результат рендеринга, передаваемый при завершении export-задания.
type ExportResult struct {
	Size int64 `json:"size"`
}
