// Package extract turns stored document files into plain text via OCR.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"docmanager-backend/internal/ocr"
	"docmanager-backend/internal/shared/telemetry"
)

// supportedTypes is the OCR allow-list. Matching is case-insensitive; both
// the jpg/jpeg and tif/tiff spellings are accepted because browsers disagree
// about which one they send.
var supportedTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/jpg":       {},
	"image/png":       {},
	"image/gif":       {},
	"image/bmp":       {},
	"image/tiff":      {},
	"image/tif":       {},
}

// ExtractionError reports a failed OCR attempt on a supported file. Page is
// the zero-based page index for PDF failures, -1 otherwise.
type ExtractionError struct {
	Stage string
	Page  int
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Page >= 0 {
		return fmt.Sprintf("extract %s page %d: %v", e.Stage, e.Page, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor dispatches stored files to the OCR engine by content type.
type Extractor struct {
	engine   ocr.Engine
	renderer ocr.PageRenderer
	dpi      float64
}

// New creates an extractor. dpi controls PDF page rasterization density.
func New(engine ocr.Engine, renderer ocr.PageRenderer, dpi float64) *Extractor {
	if dpi <= 0 {
		dpi = 300
	}
	return &Extractor{engine: engine, renderer: renderer, dpi: dpi}
}

// IsSupported reports whether the content type is on the OCR allow-list.
func IsSupported(contentType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(normalized, ';'); i >= 0 {
		normalized = strings.TrimSpace(normalized[:i])
	}
	_, ok := supportedTypes[normalized]
	return ok
}

// Extract OCRs the file at path. ok is false, with a nil error, when the
// content type is unsupported or the file is gone; both mean "nothing to
// extract", not a failure. A supported file that cannot be processed returns
// an *ExtractionError and no partial text.
func (e *Extractor) Extract(ctx context.Context, path, contentType string) (text string, ok bool, err error) {
	if !IsSupported(contentType) {
		return "", false, nil
	}

	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			telemetry.Warn("extract.file_missing", map[string]any{"path": path})
			return "", false, nil
		}
		return "", false, &ExtractionError{Stage: "stat", Page: -1, Err: statErr}
	}

	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if strings.HasPrefix(normalized, "application/pdf") {
		text, err = e.extractPdf(ctx, path)
	} else {
		text, err = e.extractImage(ctx, path)
	}
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (string, error) {
	text, err := e.engine.RecognizeFile(ctx, path)
	if err != nil {
		return "", &ExtractionError{Stage: "image", Page: -1, Err: err}
	}
	return text, nil
}

// extractPdf renders every page and concatenates the per-page text, each page
// followed by a blank line. A failure on any page aborts the whole document;
// partial text would be indistinguishable from a complete extraction.
func (e *Extractor) extractPdf(ctx context.Context, path string) (string, error) {
	doc, err := e.renderer.Open(path)
	if err != nil {
		return "", &ExtractionError{Stage: "pdf-open", Page: -1, Err: err}
	}
	defer doc.Close()

	var b strings.Builder
	for page := 0; page < doc.PageCount(); page++ {
		img, err := doc.RenderPage(ctx, page, e.dpi)
		if err != nil {
			return "", &ExtractionError{Stage: "pdf-render", Page: page, Err: err}
		}
		pageText, err := e.engine.RecognizeImage(ctx, img)
		if err != nil {
			return "", &ExtractionError{Stage: "pdf-recognize", Page: page, Err: err}
		}
		b.WriteString(pageText)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

// IsExtractionError reports whether err is (or wraps) an *ExtractionError.
func IsExtractionError(err error) bool {
	var extractionErr *ExtractionError
	return errors.As(err, &extractionErr)
}
