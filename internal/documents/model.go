package documents

import "time"

// Attachment is the stored file bound 1:1 to a document.
type Attachment struct {
	OriginalFilename string
	StoredFilename   string
	ContentType      string
	SizeBytes        int64
	StorageKey       string
	UploadedAt       time.Time
}

// Document represents a user-owned document with optional attachment and OCR
// lifecycle state.
type Document struct {
	ID          string
	UserID      string
	Title       string
	Number      string
	Date        *time.Time
	Description string

	Attachment *Attachment

	// OCR state. OcrProcessed is true exactly when both OcrText and
	// OcrProcessedAt are set; every mutation goes through MarkOcrProcessed
	// or ResetOcr so the three fields never diverge.
	OcrText        *string
	OcrProcessed   bool
	OcrProcessedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAttachment reports whether a file is attached.
func (d *Document) HasAttachment() bool {
	return d.Attachment != nil
}

// MarkOcrProcessed records a completed extraction as one state change.
func (d *Document) MarkOcrProcessed(text string, at time.Time) {
	d.OcrText = &text
	d.OcrProcessed = true
	d.OcrProcessedAt = &at
}

// ResetOcr clears the OCR state, returning the document to unprocessed.
func (d *Document) ResetOcr() {
	d.OcrText = nil
	d.OcrProcessed = false
	d.OcrProcessedAt = nil
}

// SetAttachment replaces the attachment. Text extracted from the previous
// file no longer describes the document, so the OCR state resets with it.
func (d *Document) SetAttachment(att Attachment) {
	d.Attachment = &att
	d.ResetOcr()
}

// ClearAttachment removes the attachment and resets the OCR state.
func (d *Document) ClearAttachment() {
	d.Attachment = nil
	d.ResetOcr()
}
