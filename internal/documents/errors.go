package documents

import "errors"

var (
	// ErrNotFound covers both absent documents and documents owned by a
	// different user; callers cannot distinguish the two.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidInput indicates a validation failure on client input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoAttachment indicates an operation that needs a file on a document
	// without one.
	ErrNoAttachment = errors.New("document has no attachment")
	// ErrUnsupportedMedia indicates the attachment's content type is outside
	// the OCR allow-list.
	ErrUnsupportedMedia = errors.New("content type not supported for ocr")
)
