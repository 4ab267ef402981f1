package model

import "fmt"

// TargetKind — вид сущности, на которую ссылается задание.
type TargetKind string

const (
	TargetNone   TargetKind = "none"
	TargetMatter TargetKind = "matter"
	TargetDraft  TargetKind = "draft"
	TargetFile   TargetKind = "file"
	TargetExport TargetKind = "export"
)

// ParseTargetKind преобразует строку в TargetKind.
func ParseTargetKind(s string) (TargetKind, error) {
	switch k := TargetKind(s); k {
	case TargetNone, TargetMatter, TargetDraft, TargetFile, TargetExport:
		return k, nil
	default:
		return "", fmt.Errorf("недопустимый вид цели: %q, допустимые: none, matter, draft, file, export", s)
	}
}

// Target — цель задания. Ровно один вид; для TargetNone ID пустой.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// Конструкторы целей.
func NoTarget() Target { return Target{Kind: TargetNone} }
func MatterTarget(id string) Target { return Target{Kind: TargetMatter, ID: id} }
func DraftTarget(id string) Target { return Target{Kind: TargetDraft, ID: id} }
func FileTarget(id string) Target { return Target{Kind: TargetFile, ID: id} }
func ExportTarget(id string) Target { return Target{Kind: TargetExport, ID: id} }

// Validate проверяет согласованность вида и идентификатора.
func (t Target) Validate() error {
	if _, err := ParseTargetKind(string(t.Kind)); err != nil {
		return err
	}
	if t.Kind == TargetNone && t.ID != "" {
		return fmt.Errorf("цель none не может иметь идентификатор")
	}
	if t.Kind != TargetNone && t.ID == "" {
		return fmt.Errorf("цель %s требует идентификатор", t.Kind)
	}
	return nil
}

// Key возвращает ключ уникальности активного задания: type:kind:id.
func (t Target) Key(jt JobType) string {
	return fmt.Sprintf("%s:%s:%s", jt, t.Kind, t.ID)
}

func (t Target) String() string {
	if t.Kind == TargetNone {
		return string(TargetNone)
	}
	return fmt.Sprintf("%s/%s", t.Kind, t.ID)
}
