package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

// samplePDF собирает минимальный корректный PDF с заданным числом страниц.
func samplePDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, pages)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for range pages {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestPageCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.objects.Save("matters/m/files/three.pdf", bytes.NewReader(samplePDF(3)), 0); err != nil {
		t.Fatal(err)
	}
	inspector := NewPDFInspector(env.store, 0)

	pages, err := inspector.PageCount(ctx, "matters/m/files/three.pdf")
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if pages != 3 {
		t.Errorf("PageCount: хотели 3, получили %d", pages)
	}
}

func TestPageCount_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.objects.Save("matters/m/files/garbage.pdf", strings.NewReader("это не pdf"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := env.objects.Save("matters/m/files/big.pdf", bytes.NewReader(samplePDF(1)), 0); err != nil {
		t.Fatal(err)
	}

	inspector := NewPDFInspector(env.store, 0)
	if _, err := inspector.PageCount(ctx, "matters/m/files/missing.pdf"); !errors.Is(err, object.ErrNotFound) {
		t.Errorf("нет объекта: хотели object.ErrNotFound, получили %v", err)
	}
	if _, err := inspector.PageCount(ctx, "matters/m/files/garbage.pdf"); err == nil {
		t.Error("мусор вместо PDF: ожидалась ошибка")
	}

	small := NewPDFInspector(env.store, 16)
	if _, err := small.PageCount(ctx, "matters/m/files/big.pdf"); err == nil {
		t.Error("PDF больше лимита: ожидалась ошибка")
	}
}
