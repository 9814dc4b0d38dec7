package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Config carries the Tesseract settings an engine runs with. Passing it
// explicitly keeps engines independently configurable in tests and workers.
type Config struct {
	// DataPath points at the tessdata directory. Empty uses the library
	// default.
	DataPath string
	// Languages lists the traineddata languages, e.g. ["eng", "nld"].
	Languages []string
	// PageSegMode selects the Tesseract page segmentation mode. 1 is
	// automatic segmentation with orientation detection.
	PageSegMode int
}

func (c Config) languages() []string {
	if len(c.Languages) == 0 {
		return []string{"eng"}
	}
	return c.Languages
}

// Engine recognizes text in images. Implementations must be safe for
// concurrent use.
type Engine interface {
	RecognizeFile(ctx context.Context, path string) (string, error)
	RecognizeImage(ctx context.Context, img image.Image) (string, error)
}

// Tesseract runs OCR through gosseract. A fresh client is built per call
// because the underlying Tesseract API handle is not safe to share across
// goroutines.
type Tesseract struct {
	cfg Config
}

// NewTesseract creates an engine with the given configuration.
func NewTesseract(cfg Config) *Tesseract {
	return &Tesseract{cfg: cfg}
}

var _ Engine = (*Tesseract)(nil)

// RecognizeFile OCRs an image file on disk. Small scans are upscaled before
// recognition; Tesseract accuracy drops sharply below ~900px of height.
func (t *Tesseract) RecognizeFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}

	prepared := preprocess(img)

	tmp, err := os.CreateTemp("", "ocr-page-*.png")
	if err != nil {
		// fall back to the original file without preprocessing
		return t.recognizePath(ctx, path)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := imaging.Save(prepared, tmpPath); err != nil {
		return t.recognizePath(ctx, path)
	}
	return t.recognizePath(ctx, tmpPath)
}

// RecognizeImage OCRs an in-memory image, e.g. a rendered PDF page.
func (t *Tesseract) RecognizeImage(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	prepared := preprocess(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, prepared, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}

	client, err := t.newClient()
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return normalizeText(text), nil
}

func (t *Tesseract) recognizePath(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client, err := t.newClient()
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := client.SetImage(path); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return normalizeText(text), nil
}

func (t *Tesseract) newClient() (*gosseract.Client, error) {
	client := gosseract.NewClient()
	if t.cfg.DataPath != "" {
		if err := client.SetTessdataPrefix(t.cfg.DataPath); err != nil {
			client.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(t.cfg.languages()...); err != nil {
		client.Close()
		return nil, fmt.Errorf("set language: %w", err)
	}
	if t.cfg.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(t.cfg.PageSegMode)); err != nil {
			client.Close()
			return nil, fmt.Errorf("set page seg mode: %w", err)
		}
	}
	return client, nil
}

func preprocess(img image.Image) *image.NRGBA {
	gray := imaging.Grayscale(img)
	if gray.Bounds().Dy() < 900 {
		gray = imaging.Resize(gray, 0, 1300, imaging.Lanczos)
	}
	return gray
}

func normalizeText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
