package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// PageRenderer rasterizes PDF pages. Open returns a handle that callers must
// Close; the handle keeps the document open so multi-page extraction parses
// the PDF once.
type PageRenderer interface {
	Open(path string) (RenderedDocument, error)
}

// RenderedDocument is an open PDF ready for page rendering.
type RenderedDocument interface {
	PageCount() int
	RenderPage(ctx context.Context, index int, dpi float64) (image.Image, error)
	Close() error
}

// FitzRenderer renders PDF pages through MuPDF.
type FitzRenderer struct{}

// NewFitzRenderer creates a MuPDF-backed page renderer.
func NewFitzRenderer() *FitzRenderer {
	return &FitzRenderer{}
}

var _ PageRenderer = (*FitzRenderer)(nil)

// Open parses the PDF at path.
func (r *FitzRenderer) Open(path string) (RenderedDocument, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) PageCount() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) RenderPage(ctx context.Context, index int, dpi float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := d.doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", index, err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}
