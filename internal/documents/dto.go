package documents

import (
	"time"

	"docmanager-backend/internal/extract"
)

// DocumentResponse is the outward-facing representation of a document. The
// extracted text itself is excluded; clients fetch it from the OCR text
// endpoint.
type DocumentResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Number      string  `json:"number"`
	Date        *string `json:"date,omitempty"`
	Description string  `json:"description"`

	HasFile      bool       `json:"hasFile"`
	FileName     string     `json:"fileName,omitempty"`
	ContentType  string     `json:"contentType,omitempty"`
	SizeBytes    int64      `json:"sizeBytes,omitempty"`
	UploadedAt   *time.Time `json:"uploadedAt,omitempty"`
	OcrSupported bool       `json:"ocrSupported"`

	OcrProcessed   bool       `json:"ocrProcessed"`
	OcrProcessedAt *time.Time `json:"ocrProcessedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toResponse(doc Document) DocumentResponse {
	resp := DocumentResponse{
		ID:             doc.ID,
		Title:          doc.Title,
		Number:         doc.Number,
		Description:    doc.Description,
		OcrProcessed:   doc.OcrProcessed,
		OcrProcessedAt: doc.OcrProcessedAt,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if doc.Date != nil {
		date := doc.Date.Format("2006-01-02")
		resp.Date = &date
	}
	if doc.Attachment != nil {
		att := doc.Attachment
		uploadedAt := att.UploadedAt
		resp.HasFile = true
		resp.FileName = att.OriginalFilename
		resp.ContentType = att.ContentType
		resp.SizeBytes = att.SizeBytes
		resp.UploadedAt = &uploadedAt
		resp.OcrSupported = extract.IsSupported(att.ContentType)
	}
	return resp
}

func toResponses(docs []Document) []DocumentResponse {
	out := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toResponse(doc))
	}
	return out
}

// OcrTextResponse carries the cached extraction result for one document.
type OcrTextResponse struct {
	ID             string     `json:"id"`
	OcrProcessed   bool       `json:"ocrProcessed"`
	OcrProcessedAt *time.Time `json:"ocrProcessedAt,omitempty"`
	OcrText        *string    `json:"ocrText"`
}

func toOcrTextResponse(doc Document) OcrTextResponse {
	return OcrTextResponse{
		ID:             doc.ID,
		OcrProcessed:   doc.OcrProcessed,
		OcrProcessedAt: doc.OcrProcessedAt,
		OcrText:        doc.OcrText,
	}
}

// StatisticsResponse summarizes a user's OCR pipeline state.
type StatisticsResponse struct {
	TotalDocuments      int64   `json:"totalDocuments"`
	ProcessedDocuments  int64   `json:"processedDocuments"`
	PendingDocuments    int64   `json:"pendingDocuments"`
	ProcessedPercentage float64 `json:"processedPercentage"`
}

// BatchResponse reports how many documents were queued for reprocessing.
type BatchResponse struct {
	Scheduled int `json:"scheduled"`
}
