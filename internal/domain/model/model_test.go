package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestOCRState_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ft      FileType
		state   OCRState
		wantErr bool
	}{
		{"docx без OCR", FileTypeDOCX, OCRState{}, false},
		{"docx со статусом", FileTypeDOCX, OCRState{Status: OCRStatusPending}, true},
		{"pdf pending", FileTypePDF, OCRState{Status: OCRStatusPending}, false},
		{"pdf без статуса", FileTypePDF, OCRState{}, true},
		{"pdf done полный", FileTypePDF, OCRState{
			Status: OCRStatusDone, Text: ptr("текст"), Confidence: ptr(92.0), Pages: ptr(3),
		}, false},
		{"pdf done без страниц", FileTypePDF, OCRState{
			Status: OCRStatusDone, Text: ptr("текст"), Confidence: ptr(92.0),
		}, true},
		{"текст при processing", FileTypePDF, OCRState{Status: OCRStatusProcessing, Text: ptr("x")}, true},
		{"failed с ошибкой", FileTypePDF, OCRState{Status: OCRStatusFailed, Error: ptr("timeout")}, false},
		{"failed без ошибки", FileTypePDF, OCRState{Status: OCRStatusFailed}, true},
		{"ошибка при done", FileTypePDF, OCRState{
			Status: OCRStatusDone, Text: ptr("t"), Confidence: ptr(1.0), Pages: ptr(1), Error: ptr("x"),
		}, true},
		{"уверенность вне диапазона", FileTypePDF, OCRState{
			Status: OCRStatusDone, Text: ptr("t"), Confidence: ptr(101.0), Pages: ptr(1),
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate(tt.ft)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() ошибка = %v, ожидали ошибку: %v", err, tt.wantErr)
			}
		})
	}
}

func TestFile_OCRStatusNullInJSON(t *testing.T) {
	f := File{ID: "f1", Type: FileTypeTXT, OCRStatus: OCRStatusNone}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"ocr_status":null`) {
		t.Errorf("ожидали ocr_status=null, получили %s", data)
	}

	var back File
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.OCRStatus != OCRStatusNone {
		t.Errorf("OCRStatus: хотели пустой, получили %q", back.OCRStatus)
	}
}

func TestJob_JSONTargetFields(t *testing.T) {
	job := Job{
		ID:        "j1",
		Type:      JobTypeOCR,
		Status:    JobStatusPending,
		Target:    FileTarget("f1"),
		CreatedBy: "u1",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal raw: %v", err)
	}
	if raw["file_id"] != "f1" {
		t.Errorf("file_id: хотели f1, получили %v", raw["file_id"])
	}
	for _, k := range []string{"matter_id", "draft_id", "export_id", "started_at", "completed_at", "error"} {
		if v, ok := raw[k]; !ok || v != nil {
			t.Errorf("%s: ожидали null, получили %v", k, v)
		}
	}

	var back Job
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Target != FileTarget("f1") {
		t.Errorf("Target: хотели file/f1, получили %s", back.Target)
	}
}

func TestJob_UnmarshalRejectsTwoTargets(t *testing.T) {
	data := []byte(`{"id":"j1","type":"ocr","status":"pending","file_id":"f1","matter_id":"m1"}`)
	var j Job
	if err := json.Unmarshal(data, &j); err == nil {
		t.Error("ожидалась ошибка для двух целей")
	}
}

func TestJobType_ValidateTarget(t *testing.T) {
	if err := JobTypeOCR.ValidateTarget(FileTarget("f1")); err != nil {
		t.Errorf("ocr → file: %v", err)
	}
	if err := JobTypeOCR.ValidateTarget(MatterTarget("m1")); err == nil {
		t.Error("ocr → matter: ожидалась ошибка")
	}
	if err := JobTypeDraftGeneration.ValidateTarget(NoTarget()); err != nil {
		t.Errorf("draft_generation → none: %v", err)
	}
	if err := JobTypeExport.ValidateTarget(Target{Kind: TargetExport}); err == nil {
		t.Error("export без идентификатора: ожидалась ошибка")
	}
}

func TestJob_ApplyMergesMetadata(t *testing.T) {
	now := time.Now()
	j := &Job{Status: JobStatusProcessing, Metadata: map[string]any{"storage_path": "p"}}
	j.Apply(JobStatusCompleted, JobPatch{CompletedAt: &now, Metadata: map[string]any{"pages": 3}})

	if j.Status != JobStatusCompleted || j.CompletedAt == nil {
		t.Fatalf("переход не применён: %+v", j)
	}
	if j.Metadata["storage_path"] != "p" || j.Metadata["pages"] != 3 {
		t.Errorf("метаданные не слиты: %v", j.Metadata)
	}
}

func TestStoragePaths(t *testing.T) {
	if got := FileStoragePath("m1", "f1", FileTypePDF); got != "matters/m1/files/f1.pdf" {
		t.Errorf("FileStoragePath: получили %q", got)
	}
	if got := ExportStoragePath("m1", "e1", ExportFormatDOCX); got != "matters/m1/exports/e1.docx" {
		t.Errorf("ExportStoragePath: получили %q", got)
	}
}
