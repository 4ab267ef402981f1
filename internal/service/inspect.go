// inspect.go — чтение числа страниц PDF перед постановкой OCR.
// Число страниц записывается в metadata задания как подсказка для воркера.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

// DefaultInspectMaxBytes — PDF больше этого размера не инспектируются.
const DefaultInspectMaxBytes = 32 << 20

// PDFInspector читает объекты PDF из хранилища.
type PDFInspector struct {
	objects  object.Store
	maxBytes int64
}

// NewPDFInspector создаёт инспектор. maxBytes <= 0 — DefaultInspectMaxBytes.
func NewPDFInspector(objects object.Store, maxBytes int64) *PDFInspector {
	if maxBytes <= 0 {
		maxBytes = DefaultInspectMaxBytes
	}
	return &PDFInspector{objects: objects, maxBytes: maxBytes}
}

// PageCount возвращает число страниц PDF по пути хранения.
func (i *PDFInspector) PageCount(ctx context.Context, path string) (int, error) {
	info, err := i.objects.Stat(ctx, path)
	if err != nil {
		return 0, err
	}
	if info.Size > i.maxBytes {
		return 0, fmt.Errorf("PDF %s слишком велик для инспекции: %d байт", path, info.Size)
	}

	rc, err := i.objects.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, i.maxBytes+1))
	if err != nil {
		return 0, fmt.Errorf("чтение PDF %s: %w", path, err)
	}

	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("подсчёт страниц PDF %s: %w", path, err)
	}
	return pages, nil
}
