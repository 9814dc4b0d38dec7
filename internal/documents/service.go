package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"docmanager-backend/internal/extract"
	"docmanager-backend/internal/queue"
	"docmanager-backend/internal/shared/metrics"
	"docmanager-backend/internal/shared/storage/object"
	"docmanager-backend/internal/shared/telemetry"
	"docmanager-backend/internal/shared/util"
)

// DocumentInput carries the user-editable metadata of a document.
type DocumentInput struct {
	Title       string
	Number      string
	Date        *time.Time
	Description string
}

// FileUpload carries an incoming attachment stream.
type FileUpload struct {
	FileName    string
	ContentType string
	Reader      io.Reader
}

// Statistics summarizes a user's OCR pipeline state.
type Statistics struct {
	Total               int64
	Processed           int64
	PendingWithFile     int64
	ProcessedPercentage float64
}

// Service orchestrates the document lifecycle: persistence, attachment
// storage and OCR dispatch.
type Service struct {
	Repo      Repo
	Store     object.ObjectStore
	Extractor *extract.Extractor
	Queue     queue.Client
}

// Create stores the optional file first, then persists the record. A storage
// failure aborts the whole create so no record ever points at missing bytes.
func (s *Service) Create(ctx context.Context, userId string, input DocumentInput, file *FileUpload, processOcr bool) (Document, error) {
	input, err := validateInput(input)
	if err != nil {
		return Document{}, err
	}

	now := time.Now().UTC()
	doc := Document{
		ID:          uuid.NewString(),
		UserID:      userId,
		Title:       input.Title,
		Number:      input.Number,
		Date:        input.Date,
		Description: input.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if file != nil {
		att, err := s.storeFile(ctx, userId, doc.ID, input.Number, file)
		if err != nil {
			return Document{}, err
		}
		doc.SetAttachment(att)
	}

	if err := s.Repo.Save(ctx, doc); err != nil {
		if doc.Attachment != nil {
			s.deleteBytes(ctx, doc.ID, doc.Attachment.StorageKey)
		}
		return Document{}, err
	}

	if processOcr && doc.HasAttachment() {
		s.scheduleOcr(ctx, doc)
	}
	return doc, nil
}

// Update applies metadata changes and optionally replaces the attachment.
// Replacing stores the new bytes before releasing the old ones; the old file
// survives a failed upload. A replaced attachment always resets OCR state.
func (s *Service) Update(ctx context.Context, userId, id string, input DocumentInput, file *FileUpload, processOcr bool) (Document, error) {
	input, err := validateInput(input)
	if err != nil {
		return Document{}, err
	}

	doc, err := s.Repo.GetByID(ctx, userId, id)
	if err != nil {
		return Document{}, err
	}

	now := time.Now().UTC()
	doc.Title = input.Title
	doc.Number = input.Number
	doc.Date = input.Date
	doc.Description = input.Description
	doc.UpdatedAt = now

	if file != nil {
		att, err := s.storeFile(ctx, userId, doc.ID, input.Number, file)
		if err != nil {
			// metadata changes still land even when the new file does not
			if saveErr := s.Repo.Save(ctx, doc); saveErr != nil {
				return Document{}, saveErr
			}
			return Document{}, err
		}
		if doc.Attachment != nil {
			s.deleteBytes(ctx, doc.ID, doc.Attachment.StorageKey)
		}
		doc.SetAttachment(att)
	}

	if err := s.Repo.Save(ctx, doc); err != nil {
		return Document{}, err
	}

	if processOcr && s.eligibleForOcr(doc) {
		s.scheduleOcr(ctx, doc)
	}
	return doc, nil
}

// UploadFile replaces the attachment of an existing document.
func (s *Service) UploadFile(ctx context.Context, userId, id string, file FileUpload, processOcr bool) (Document, error) {
	if file.FileName == "" {
		return Document{}, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}

	doc, err := s.Repo.GetByID(ctx, userId, id)
	if err != nil {
		return Document{}, err
	}

	att, err := s.storeFile(ctx, userId, doc.ID, doc.Number, &file)
	if err != nil {
		return Document{}, err
	}
	if doc.Attachment != nil {
		s.deleteBytes(ctx, doc.ID, doc.Attachment.StorageKey)
	}
	doc.SetAttachment(att)
	doc.UpdatedAt = time.Now().UTC()

	if err := s.Repo.Save(ctx, doc); err != nil {
		return Document{}, err
	}

	if processOcr {
		s.scheduleOcr(ctx, doc)
	}
	return doc, nil
}

// Get returns a single document.
func (s *Service) Get(ctx context.Context, userId, id string) (Document, error) {
	return s.Repo.GetByID(ctx, userId, id)
}

// Delete removes the record. Stored bytes are released best-effort; a
// storage failure is logged and never blocks the record deletion.
func (s *Service) Delete(ctx context.Context, userId, id string) error {
	doc, err := s.Repo.GetByID(ctx, userId, id)
	if err != nil {
		return err
	}
	if doc.Attachment != nil {
		s.deleteBytes(ctx, doc.ID, doc.Attachment.StorageKey)
	}
	return s.Repo.Delete(ctx, userId, id)
}

// DeleteAttachment removes the file and resets OCR state.
func (s *Service) DeleteAttachment(ctx context.Context, userId, id string) (Document, error) {
	doc, err := s.Repo.GetByID(ctx, userId, id)
	if err != nil {
		return Document{}, err
	}
	if !doc.HasAttachment() {
		return Document{}, ErrNoAttachment
	}

	s.deleteBytes(ctx, doc.ID, doc.Attachment.StorageKey)
	doc.ClearAttachment()
	doc.UpdatedAt = time.Now().UTC()

	if err := s.Repo.Save(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Download opens the attachment bytes for streaming.
func (s *Service) Download(ctx context.Context, userId, id string) (Attachment, io.ReadCloser, error) {
	doc, err := s.Repo.GetByID(ctx, userId, id)
	if err != nil {
		return Attachment{}, nil, err
	}
	if !doc.HasAttachment() {
		return Attachment{}, nil, ErrNoAttachment
	}

	rc, err := s.Store.Open(ctx, doc.Attachment.StorageKey)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return Attachment{}, nil, ErrNotFound
		}
		return Attachment{}, nil, err
	}
	return *doc.Attachment, rc, nil
}

// ProcessOcr runs extraction synchronously and persists the result. A
// missing file is a logged no-op: the record stays unprocessed and a later
// attempt can retry.
func (s *Service) ProcessOcr(ctx context.Context, userId, id string) (Document, error) {
	doc, err := s.Repo.GetByID(ctx, userId, id)
	if err != nil {
		return Document{}, err
	}
	if !doc.HasAttachment() {
		return Document{}, ErrNoAttachment
	}
	if !extract.IsSupported(doc.Attachment.ContentType) {
		return Document{}, ErrUnsupportedMedia
	}

	path, cleanup, err := s.materialize(ctx, doc.Attachment)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			telemetry.Warn("ocr.file_missing", map[string]any{
				"document_id": doc.ID,
				"storage_key": doc.Attachment.StorageKey,
			})
			return doc, nil
		}
		return Document{}, err
	}
	defer cleanup()

	start := time.Now()
	text, ok, err := s.Extractor.Extract(ctx, path, doc.Attachment.ContentType)
	if err != nil {
		metrics.IncOcrJobsFailed()
		return Document{}, err
	}
	if !ok {
		return doc, nil
	}

	now := time.Now().UTC()
	doc.MarkOcrProcessed(text, now)
	doc.UpdatedAt = now
	if err := s.Repo.Save(ctx, doc); err != nil {
		return Document{}, err
	}

	metrics.IncOcrJobsCompleted()
	metrics.ObserveOcrJobDurationMs(metrics.SinceMillis(start))
	telemetry.Info("ocr.completed", map[string]any{
		"document_id": doc.ID,
		"request_id":  requestIDFromContext(ctx),
		"chars":       len(text),
		"duration_ms": metrics.SinceMillis(start),
	})
	return doc, nil
}

// OcrText returns the cached extraction state for a document.
func (s *Service) OcrText(ctx context.Context, userId, id string) (Document, error) {
	return s.Repo.GetByID(ctx, userId, id)
}

// BatchReprocess schedules OCR for every unprocessed document with an
// attachment and returns how many were queued. Content-type support is
// checked by the worker at execution time, not here. A failed enqueue is
// logged and skipped; it does not abort the batch.
func (s *Service) BatchReprocess(ctx context.Context, userId string) (int, error) {
	docs, err := s.Repo.FindUnprocessedWithAttachment(ctx, userId)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, doc := range docs {
		if s.scheduleOcr(ctx, doc) {
			scheduled++
		}
	}
	return scheduled, nil
}

// Stats aggregates per-user pipeline counters.
func (s *Service) Stats(ctx context.Context, userId string) (Statistics, error) {
	total, err := s.Repo.CountByUser(ctx, userId)
	if err != nil {
		return Statistics{}, err
	}
	processed, err := s.Repo.CountProcessed(ctx, userId)
	if err != nil {
		return Statistics{}, err
	}
	pending, err := s.Repo.CountPendingWithAttachment(ctx, userId)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{Total: total, Processed: processed, PendingWithFile: pending}
	if total > 0 {
		stats.ProcessedPercentage = float64(processed) * 100 / float64(total)
	}
	return stats, nil
}

// List returns documents with optional metadata search.
func (s *Service) List(ctx context.Context, userId, search string, limit, offset int) ([]Document, error) {
	return s.Repo.ListByUser(ctx, userId, strings.TrimSpace(search), limit, offset)
}

// ListProcessed returns documents with completed OCR.
func (s *Service) ListProcessed(ctx context.Context, userId string, limit, offset int) ([]Document, error) {
	return s.Repo.ListProcessed(ctx, userId, limit, offset)
}

// SearchOcrText searches inside extracted text.
func (s *Service) SearchOcrText(ctx context.Context, userId, query string, limit, offset int) ([]Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrInvalidInput)
	}
	return s.Repo.SearchOcrText(ctx, userId, query, limit, offset)
}

func (s *Service) eligibleForOcr(doc Document) bool {
	return doc.HasAttachment() &&
		!doc.OcrProcessed &&
		extract.IsSupported(doc.Attachment.ContentType)
}

// scheduleOcr enqueues an async extraction. Failure to enqueue never fails
// the surrounding request; the document simply stays unprocessed.
func (s *Service) scheduleOcr(ctx context.Context, doc Document) bool {
	msg := queue.Message{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		RequestID:  requestIDFromContext(ctx),
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    1,
	}
	if err := s.Queue.Send(ctx, msg); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			metrics.IncOcrJobsRejected()
		}
		telemetry.Error("ocr.schedule_failed", map[string]any{
			"document_id": doc.ID,
			"request_id":  msg.RequestID,
			"error":       err.Error(),
		})
		return false
	}
	metrics.IncOcrJobsScheduled()
	telemetry.Info("ocr.scheduled", map[string]any{
		"document_id": doc.ID,
		"request_id":  msg.RequestID,
	})
	return true
}

func (s *Service) storeFile(ctx context.Context, userId, docID, number string, file *FileUpload) (Attachment, error) {
	ref := object.FileRef{
		DocumentID:  docID,
		Number:      number,
		FileName:    file.FileName,
		ContentType: file.ContentType,
	}
	stored, err := s.Store.Save(ctx, userId, ref, file.Reader)
	if err != nil {
		return Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	return Attachment{
		OriginalFilename: file.FileName,
		StoredFilename:   stored.StoredFilename,
		ContentType:      stored.ContentType,
		SizeBytes:        stored.SizeBytes,
		StorageKey:       stored.Key,
		UploadedAt:       time.Now().UTC(),
	}, nil
}

// deleteBytes releases stored bytes best-effort.
func (s *Service) deleteBytes(ctx context.Context, docID, storageKey string) {
	if err := s.Store.Delete(ctx, storageKey); err != nil {
		telemetry.Warn("storage.delete_failed", map[string]any{
			"document_id": docID,
			"storage_key": storageKey,
			"error":       err.Error(),
		})
	}
}

// materialize resolves the attachment to a local file path. Stores that keep
// bytes on disk hand out the path directly; otherwise the stream is copied
// to a temp file that cleanup removes.
func (s *Service) materialize(ctx context.Context, att *Attachment) (string, func(), error) {
	noop := func() {}

	if lp, ok := s.Store.(object.LocalPather); ok {
		path, err := lp.LocalPath(ctx, att.StorageKey)
		if err != nil {
			return "", noop, err
		}
		return path, noop, nil
	}

	rc, err := s.Store.Open(ctx, att.StorageKey)
	if err != nil {
		return "", noop, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "ocr-input-*"+util.FileExtension(att.StoredFilename))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, fmt.Errorf("materialize attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, err
	}
	return tmpPath, cleanup, nil
}

func validateInput(input DocumentInput) (DocumentInput, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Number = strings.TrimSpace(input.Number)
	input.Description = strings.TrimSpace(input.Description)
	if input.Title == "" {
		return DocumentInput{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	return input, nil
}
