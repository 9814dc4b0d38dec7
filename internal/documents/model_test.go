package documents

import (
	"testing"
	"time"
)

func assertOcrConsistent(t *testing.T, doc Document) {
	t.Helper()
	if doc.OcrProcessed {
		if doc.OcrText == nil || doc.OcrProcessedAt == nil {
			t.Fatalf("processed document missing text or timestamp: %+v", doc)
		}
		return
	}
	if doc.OcrText != nil || doc.OcrProcessedAt != nil {
		t.Fatalf("unprocessed document carries ocr state: %+v", doc)
	}
}

func TestMarkOcrProcessedSetsAllFields(t *testing.T) {
	doc := Document{ID: "d1"}
	at := time.Now().UTC()

	doc.MarkOcrProcessed("extracted text", at)

	assertOcrConsistent(t, doc)
	if !doc.OcrProcessed || *doc.OcrText != "extracted text" || !doc.OcrProcessedAt.Equal(at) {
		t.Fatalf("unexpected state: %+v", doc)
	}
}

func TestSetAttachmentResetsOcr(t *testing.T) {
	doc := Document{ID: "d1"}
	doc.MarkOcrProcessed("old text", time.Now())

	doc.SetAttachment(Attachment{OriginalFilename: "new.pdf", StorageKey: "k"})

	assertOcrConsistent(t, doc)
	if doc.OcrProcessed {
		t.Fatal("ocr state survived attachment replace")
	}
	if !doc.HasAttachment() {
		t.Fatal("attachment not set")
	}
}

func TestClearAttachmentResetsOcr(t *testing.T) {
	doc := Document{ID: "d1"}
	doc.SetAttachment(Attachment{OriginalFilename: "a.png", StorageKey: "k"})
	doc.MarkOcrProcessed("text", time.Now())

	doc.ClearAttachment()

	assertOcrConsistent(t, doc)
	if doc.HasAttachment() || doc.OcrProcessed {
		t.Fatalf("unexpected state: %+v", doc)
	}
}
