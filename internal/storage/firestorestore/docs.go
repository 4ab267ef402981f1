package firestorestore

import (
	"time"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
)

// Документы Firestore. Имена полей совпадают с колонками PostgreSQL,
// поэтому выгрузки двух бэкендов сопоставимы.

type matterDoc struct {
	ID           string    `firestore:"id"`
	Title        string    `firestore:"title"`
	ClientName   string    `firestore:"client_name"`
	Status       string    `firestore:"status"`
	Participants []string  `firestore:"participants"`
	CreatedBy    string    `firestore:"created_by"`
	CreatedAt    time.Time `firestore:"created_at"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

func toMatterDoc(m *model.Matter) *matterDoc {
	participants := m.Participants
	if participants == nil {
		participants = []string{}
	}
	return &matterDoc{
		ID: m.ID, Title: m.Title, ClientName: m.ClientName, Status: string(m.Status),
		Participants: participants, CreatedBy: m.CreatedBy, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func (d *matterDoc) model() *model.Matter {
	participants := d.Participants
	if participants == nil {
		participants = []string{}
	}
	return &model.Matter{
		ID: d.ID, Title: d.Title, ClientName: d.ClientName, Status: model.MatterStatus(d.Status),
		Participants: participants, CreatedBy: d.CreatedBy, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type draftDoc struct {
	ID        string    `firestore:"id"`
	MatterID  string    `firestore:"matter_id"`
	Title     string    `firestore:"title"`
	Status    string    `firestore:"status"`
	CreatedBy string    `firestore:"created_by"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func toDraftDoc(d *model.Draft) *draftDoc {
	return &draftDoc{
		ID: d.ID, MatterID: d.MatterID, Title: d.Title, Status: d.Status,
		CreatedBy: d.CreatedBy, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

func (d *draftDoc) model() *model.Draft {
	return &model.Draft{
		ID: d.ID, MatterID: d.MatterID, Title: d.Title, Status: d.Status,
		CreatedBy: d.CreatedBy, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type commentDoc struct {
	ID         string     `firestore:"id"`
	DraftID    string     `firestore:"draft_id"`
	MatterID   string     `firestore:"matter_id"`
	AuthorID   string     `firestore:"author_id"`
	Body       string     `firestore:"body"`
	Resolved   bool       `firestore:"resolved"`
	ResolvedBy *string    `firestore:"resolved_by"`
	ResolvedAt *time.Time `firestore:"resolved_at"`
	CreatedAt  time.Time  `firestore:"created_at"`
}

func toCommentDoc(c *model.Comment) *commentDoc {
	return &commentDoc{
		ID: c.ID, DraftID: c.DraftID, MatterID: c.MatterID, AuthorID: c.AuthorID, Body: c.Body,
		Resolved: c.Resolved, ResolvedBy: c.ResolvedBy, ResolvedAt: c.ResolvedAt, CreatedAt: c.CreatedAt,
	}
}

func (d *commentDoc) model() *model.Comment {
	return &model.Comment{
		ID: d.ID, DraftID: d.DraftID, MatterID: d.MatterID, AuthorID: d.AuthorID, Body: d.Body,
		Resolved: d.Resolved, ResolvedBy: d.ResolvedBy, ResolvedAt: d.ResolvedAt, CreatedAt: d.CreatedAt,
	}
}

type fileDoc struct {
	ID            string     `firestore:"id"`
	MatterID      string     `firestore:"matter_id"`
	Name          string     `firestore:"name"`
	Type          string     `firestore:"type"`
	Size          int64      `firestore:"size"`
	StoragePath   string     `firestore:"storage_path"`
	UploadedBy    string     `firestore:"uploaded_by"`
	UploadedAt    time.Time  `firestore:"uploaded_at"`
	OCRStatus     *string    `firestore:"ocr_status"`
	OCRText       *string    `firestore:"ocr_text"`
	OCRConfidence *float64   `firestore:"ocr_confidence"`
	OCRPages      *int64     `firestore:"ocr_pages"`
	OCRError      *string    `firestore:"ocr_error"`
	PurgeAt       time.Time  `firestore:"purge_at"`
	IsPurged      bool       `firestore:"is_purged"`
	PurgedAt      *time.Time `firestore:"purged_at"`
}

func ocrStatusField(s model.OCRStatus) *string {
	if s == model.OCRStatusNone {
		return nil
	}
	v := string(s)
	return &v
}

func toFileDoc(f *model.File) *fileDoc {
	d := &fileDoc{
		ID: f.ID, MatterID: f.MatterID, Name: f.Name, Type: string(f.Type), Size: f.Size,
		StoragePath: f.StoragePath, UploadedBy: f.UploadedBy, UploadedAt: f.UploadedAt,
		PurgeAt: f.PurgeAt, IsPurged: f.IsPurged, PurgedAt: f.PurgedAt,
	}
	d.setOCR(f.OCR())
	return d
}

func (d *fileDoc) setOCR(s model.OCRState) {
	d.OCRStatus = ocrStatusField(s.Status)
	d.OCRText = s.Text
	d.OCRConfidence = s.Confidence
	d.OCRError = s.Error
	d.OCRPages = nil
	if s.Pages != nil {
		p := int64(*s.Pages)
		d.OCRPages = &p
	}
}

func (d *fileDoc) model() *model.File {
	f := &model.File{
		ID: d.ID, MatterID: d.MatterID, Name: d.Name, Type: model.FileType(d.Type), Size: d.Size,
		StoragePath: d.StoragePath, UploadedBy: d.UploadedBy, UploadedAt: d.UploadedAt,
		OCRText: d.OCRText, OCRConfidence: d.OCRConfidence, OCRError: d.OCRError,
		PurgeAt: d.PurgeAt, IsPurged: d.IsPurged, PurgedAt: d.PurgedAt,
	}
	if d.OCRStatus != nil {
		f.OCRStatus = model.OCRStatus(*d.OCRStatus)
	}
	if d.OCRPages != nil {
		p := int(*d.OCRPages)
		f.OCRPages = &p
	}
	return f
}

type exportDoc struct {
	ID          string     `firestore:"id"`
	DraftID     string     `firestore:"draft_id"`
	MatterID    string     `firestore:"matter_id"`
	Format      string     `firestore:"format"`
	StoragePath string     `firestore:"storage_path"`
	ExportedBy  string     `firestore:"exported_by"`
	ExportedAt  time.Time  `firestore:"exported_at"`
	Size        int64      `firestore:"size"`
	Status      string     `firestore:"status"`
	Error       *string    `firestore:"error"`
	PurgeAt     time.Time  `firestore:"purge_at"`
	IsPurged    bool       `firestore:"is_purged"`
	PurgedAt    *time.Time `firestore:"purged_at"`
}

func toExportDoc(e *model.Export) *exportDoc {
	return &exportDoc{
		ID: e.ID, DraftID: e.DraftID, MatterID: e.MatterID, Format: string(e.Format),
		StoragePath: e.StoragePath, ExportedBy: e.ExportedBy, ExportedAt: e.ExportedAt,
		Size: e.Size, Status: string(e.Status), Error: e.Error,
		PurgeAt: e.PurgeAt, IsPurged: e.IsPurged, PurgedAt: e.PurgedAt,
	}
}

func (d *exportDoc) model() *model.Export {
	return &model.Export{
		ID: d.ID, DraftID: d.DraftID, MatterID: d.MatterID, Format: model.ExportFormat(d.Format),
		StoragePath: d.StoragePath, ExportedBy: d.ExportedBy, ExportedAt: d.ExportedAt,
		Size: d.Size, Status: model.ExportStatus(d.Status), Error: d.Error,
		PurgeAt: d.PurgeAt, IsPurged: d.IsPurged, PurgedAt: d.PurgedAt,
	}
}

type jobDoc struct {
	ID          string         `firestore:"id"`
	Type        string         `firestore:"type"`
	Status      string         `firestore:"status"`
	TargetKind  string         `firestore:"target_kind"`
	TargetID    string         `firestore:"target_id"`
	CreatedBy   string         `firestore:"created_by"`
	CreatedAt   time.Time      `firestore:"created_at"`
	StartedAt   *time.Time     `firestore:"started_at"`
	CompletedAt *time.Time     `firestore:"completed_at"`
	Error       *string        `firestore:"error"`
	Metadata    map[string]any `firestore:"metadata"`
}

func toJobDoc(j *model.Job) *jobDoc {
	md := j.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return &jobDoc{
		ID: j.ID, Type: string(j.Type), Status: string(j.Status),
		TargetKind: string(j.Target.Kind), TargetID: j.Target.ID,
		CreatedBy: j.CreatedBy, CreatedAt: j.CreatedAt,
		StartedAt: j.StartedAt, CompletedAt: j.CompletedAt, Error: j.Error, Metadata: md,
	}
}

func (d *jobDoc) model() *model.Job {
	md := d.Metadata
	if md == nil {
		md = map[string]any{}
	}
	target := model.Target{Kind: model.TargetKind(d.TargetKind), ID: d.TargetID}
	return &model.Job{
		ID: d.ID, Type: model.JobType(d.Type), Status: model.JobStatus(d.Status), Target: target,
		CreatedBy: d.CreatedBy, CreatedAt: d.CreatedAt,
		StartedAt: d.StartedAt, CompletedAt: d.CompletedAt, Error: d.Error, Metadata: md,
	}
}

// lockDoc — документ-замок активного задания, ключ — (type, target).
type lockDoc struct {
	JobID string `firestore:"job_id"`
}

type sessionDoc struct {
	FileID      string    `firestore:"file_id"`
	MatterID    string    `firestore:"matter_id"`
	FileName    string    `firestore:"file_name"`
	FileType    string    `firestore:"file_type"`
	StoragePath string    `firestore:"storage_path"`
	RequestedBy string    `firestore:"requested_by"`
	CreatedAt   time.Time `firestore:"created_at"`
	ExpiresAt   time.Time `firestore:"expires_at"`
	Finalized   bool      `firestore:"finalized"`
}

func toSessionDoc(s *model.UploadSession) *sessionDoc {
	return &sessionDoc{
		FileID: s.FileID, MatterID: s.MatterID, FileName: s.FileName, FileType: string(s.FileType),
		StoragePath: s.StoragePath, RequestedBy: s.RequestedBy,
		CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt, Finalized: s.Finalized,
	}
}

func (d *sessionDoc) model() *model.UploadSession {
	return &model.UploadSession{
		FileID: d.FileID, MatterID: d.MatterID, FileName: d.FileName, FileType: model.FileType(d.FileType),
		StoragePath: d.StoragePath, RequestedBy: d.RequestedBy,
		CreatedAt: d.CreatedAt, ExpiresAt: d.ExpiresAt, Finalized: d.Finalized,
	}
}
