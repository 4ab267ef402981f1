package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// FileType — тип загружаемого документа.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypeTXT  FileType = "txt"
)

// ParseFileType преобразует строку в FileType.
func ParseFileType(s string) (FileType, error) {
	switch ft := FileType(s); ft {
	case FileTypePDF, FileTypeDOCX, FileTypeTXT:
		return ft, nil
	default:
		return "", fmt.Errorf("недопустимый тип файла: %q, допустимые: pdf, docx, txt", s)
	}
}

// ContentType возвращает MIME-тип для upload-гранта.
func (ft FileType) ContentType() string {
	switch ft {
	case FileTypePDF:
		return "application/pdf"
	case FileTypeDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/plain"
	}
}

// OCRStatus — статус распознавания текста. Пустое значение (OCRStatusNone)
// означает, что OCR к файлу не применяется; в JSON оно выводится как null.
type OCRStatus string

const (
	OCRStatusNone       OCRStatus = ""
	OCRStatusPending    OCRStatus = "pending"
	OCRStatusProcessing OCRStatus = "processing"
	OCRStatusDone       OCRStatus = "done"
	OCRStatusFailed     OCRStatus = "failed"
)

// MarshalJSON выводит OCRStatusNone как null.
func (s OCRStatus) MarshalJSON() ([]byte, error) {
	if s == OCRStatusNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON принимает null как OCRStatusNone.
func (s *OCRStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = OCRStatusNone
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = OCRStatus(v)
	return nil
}

// File — загруженный документ дела. Запись создаётся только при finalize;
// после очистки бинарные данные удалены, запись остаётся как tombstone.
type File struct {
	ID          string    `json:"id"`
	MatterID    string    `json:"matter_id"`
	Name        string    `json:"name"`
	Type        FileType  `json:"type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`

	OCRStatus     OCRStatus `json:"ocr_status"`
	OCRText       *string   `json:"ocr_text"`
	OCRConfidence *float64  `json:"ocr_confidence"`
	OCRPages      *int      `json:"ocr_pages"`
	OCRError      *string   `json:"ocr_error"`

	PurgeAt  time.Time  `json:"purge_at"`
	IsPurged bool       `json:"is_purged"`
	PurgedAt *time.Time `json:"purged_at,omitempty"`
}

// OCRState — набор OCR-полей файла. Заменяется целиком при каждом
// изменении статуса, чтобы поля не расходились со статусом.
type OCRState struct {
	Status     OCRStatus
	Text       *string
	Confidence *float64
	Pages      *int
	Error      *string
}

// OCR возвращает текущие OCR-поля файла.
func (f *File) OCR() OCRState {
	return OCRState{
		Status:     f.OCRStatus,
		Text:       f.OCRText,
		Confidence: f.OCRConfidence,
		Pages:      f.OCRPages,
		Error:      f.OCRError,
	}
}

// ApplyOCR записывает OCR-поля в файл.
func (f *File) ApplyOCR(s OCRState) {
	f.OCRStatus = s.Status
	f.OCRText = s.Text
	f.OCRConfidence = s.Confidence
	f.OCRPages = s.Pages
	f.OCRError = s.Error
}

// IsExpired возвращает true, если срок хранения истёк к моменту now.
func (f *File) IsExpired(now time.Time) bool {
	return !f.PurgeAt.After(now)
}

// Validate проверяет согласованность OCR-полей со статусом.
func (s OCRState) Validate(ft FileType) error {
	if ft != FileTypePDF {
		if s.Status != OCRStatusNone || s.Text != nil || s.Confidence != nil || s.Pages != nil || s.Error != nil {
			return fmt.Errorf("OCR-поля допустимы только для pdf, тип файла %q", ft)
		}
		return nil
	}

	switch s.Status {
	case OCRStatusNone:
		return fmt.Errorf("pdf-файл должен иметь OCR-статус")
	case OCRStatusPending, OCRStatusProcessing, OCRStatusDone, OCRStatusFailed:
	default:
		return fmt.Errorf("недопустимый OCR-статус %q", s.Status)
	}

	hasResult := s.Text != nil || s.Confidence != nil || s.Pages != nil
	if hasResult && s.Status != OCRStatusDone {
		return fmt.Errorf("результат OCR допустим только в статусе done, статус %q", s.Status)
	}
	if s.Status == OCRStatusDone && (s.Text == nil || s.Confidence == nil || s.Pages == nil) {
		return fmt.Errorf("статус done требует текст, уверенность и число страниц")
	}
	if s.Error != nil && s.Status != OCRStatusFailed {
		return fmt.Errorf("ошибка OCR допустима только в статусе failed, статус %q", s.Status)
	}
	if s.Status == OCRStatusFailed && s.Error == nil {
		return fmt.Errorf("статус failed требует текст ошибки")
	}
	if s.Confidence != nil && (*s.Confidence < 0 || *s.Confidence > 100) {
		return fmt.Errorf("уверенность OCR %v вне диапазона 0-100", *s.Confidence)
	}
	return nil
}

// FileStoragePath возвращает детерминированный путь объекта файла.
// Префикс matters/{matter_id}/ позволяет удалять все объекты дела по префиксу.
func FileStoragePath(matterID, fileID string, ft FileType) string {
	return fmt.Sprintf("matters/%s/files/%s.%s", matterID, fileID, ft)
}

// InitialOCRStatus возвращает OCR-статус только что созданного файла.
func InitialOCRStatus(ft FileType) OCRStatus {
	if ft == FileTypePDF {
		return OCRStatusPending
	}
	return OCRStatusNone
}
