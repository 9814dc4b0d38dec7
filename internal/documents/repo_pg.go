package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

const documentColumns = `id, user_id, title, number, doc_date, description,
original_filename, stored_filename, content_type, size_bytes, storage_key, uploaded_at,
ocr_text, ocr_processed, ocr_processed_at, created_at, updated_at`

// Save upserts the whole document row. The attachment and OCR columns live
// in the same row, so a single Save persists one consistent state. The
// user_id guard keeps an id collision from ever crossing owners.
func (r *PGRepo) Save(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id, user_id, title, number, doc_date, description,
    original_filename, stored_filename, content_type, size_bytes, storage_key, uploaded_at,
    ocr_text, ocr_processed, ocr_processed_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    number = EXCLUDED.number,
    doc_date = EXCLUDED.doc_date,
    description = EXCLUDED.description,
    original_filename = EXCLUDED.original_filename,
    stored_filename = EXCLUDED.stored_filename,
    content_type = EXCLUDED.content_type,
    size_bytes = EXCLUDED.size_bytes,
    storage_key = EXCLUDED.storage_key,
    uploaded_at = EXCLUDED.uploaded_at,
    ocr_text = EXCLUDED.ocr_text,
    ocr_processed = EXCLUDED.ocr_processed,
    ocr_processed_at = EXCLUDED.ocr_processed_at,
    updated_at = EXCLUDED.updated_at
WHERE documents.user_id = EXCLUDED.user_id`

	var (
		originalFilename sql.NullString
		storedFilename   sql.NullString
		contentType      sql.NullString
		sizeBytes        sql.NullInt64
		storageKey       sql.NullString
		uploadedAt       sql.NullTime
	)
	if doc.Attachment != nil {
		att := doc.Attachment
		originalFilename = sql.NullString{String: att.OriginalFilename, Valid: true}
		storedFilename = sql.NullString{String: att.StoredFilename, Valid: true}
		contentType = sql.NullString{String: att.ContentType, Valid: true}
		sizeBytes = sql.NullInt64{Int64: att.SizeBytes, Valid: true}
		storageKey = sql.NullString{String: att.StorageKey, Valid: true}
		uploadedAt = sql.NullTime{Time: att.UploadedAt, Valid: true}
	}

	var ocrText sql.NullString
	if doc.OcrText != nil {
		ocrText = sql.NullString{String: *doc.OcrText, Valid: true}
	}
	var ocrProcessedAt sql.NullTime
	if doc.OcrProcessedAt != nil {
		ocrProcessedAt = sql.NullTime{Time: *doc.OcrProcessedAt, Valid: true}
	}
	var docDate sql.NullTime
	if doc.Date != nil {
		docDate = sql.NullTime{Time: *doc.Date, Valid: true}
	}

	res, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.UserID,
		doc.Title,
		doc.Number,
		docDate,
		doc.Description,
		originalFilename,
		storedFilename,
		contentType,
		sizeBytes,
		storageKey,
		uploadedAt,
		ocrText,
		doc.OcrProcessed,
		ocrProcessedAt,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID fetches a document by id for a user.
func (r *PGRepo) GetByID(ctx context.Context, userId, id string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1 AND id = $2
LIMIT 1`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, userId, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// Delete removes a document owned by the user.
func (r *PGRepo) Delete(ctx context.Context, userId, id string) error {
	const query = `DELETE FROM documents WHERE user_id = $1 AND id = $2`
	res, err := r.DB.ExecContext(ctx, query, userId, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser lists documents newest-first with optional metadata search.
func (r *PGRepo) ListByUser(ctx context.Context, userId, search string, limit, offset int) ([]Document, error) {
	limit, offset = clampPage(limit, offset)
	if search == "" {
		query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
		return r.queryDocuments(ctx, query, userId, limit, offset)
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1
  AND (title ILIKE $2 OR number ILIKE $2 OR description ILIKE $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`
	return r.queryDocuments(ctx, query, userId, "%"+search+"%", limit, offset)
}

// ListProcessed lists documents with completed OCR, newest-first.
func (r *PGRepo) ListProcessed(ctx context.Context, userId string, limit, offset int) ([]Document, error) {
	limit, offset = clampPage(limit, offset)
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1 AND ocr_processed = TRUE
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
	return r.queryDocuments(ctx, query, userId, limit, offset)
}

// SearchOcrText lists documents whose extracted text matches, newest-first.
func (r *PGRepo) SearchOcrText(ctx context.Context, userId, searchQuery string, limit, offset int) ([]Document, error) {
	limit, offset = clampPage(limit, offset)
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1 AND ocr_text ILIKE $2
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`
	return r.queryDocuments(ctx, query, userId, "%"+searchQuery+"%", limit, offset)
}

// FindUnprocessedWithAttachment returns every document with a file that has
// not completed OCR. Served by the partial pending index.
func (r *PGRepo) FindUnprocessedWithAttachment(ctx context.Context, userId string) ([]Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1 AND storage_key IS NOT NULL AND ocr_processed = FALSE
ORDER BY created_at DESC, id DESC`
	return r.queryDocuments(ctx, query, userId)
}

// CountByUser counts the user's documents.
func (r *PGRepo) CountByUser(ctx context.Context, userId string) (int64, error) {
	return r.countWhere(ctx, `SELECT COUNT(*) FROM documents WHERE user_id = $1`, userId)
}

// CountProcessed counts documents with completed OCR.
func (r *PGRepo) CountProcessed(ctx context.Context, userId string) (int64, error) {
	return r.countWhere(ctx, `SELECT COUNT(*) FROM documents WHERE user_id = $1 AND ocr_processed = TRUE`, userId)
}

// CountPendingWithAttachment counts documents with a file awaiting OCR.
func (r *PGRepo) CountPendingWithAttachment(ctx context.Context, userId string) (int64, error) {
	return r.countWhere(ctx, `SELECT COUNT(*) FROM documents WHERE user_id = $1 AND storage_key IS NOT NULL AND ocr_processed = FALSE`, userId)
}

func (r *PGRepo) countWhere(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (r *PGRepo) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc              Document
		docDate          sql.NullTime
		originalFilename sql.NullString
		storedFilename   sql.NullString
		contentType      sql.NullString
		sizeBytes        sql.NullInt64
		storageKey       sql.NullString
		uploadedAt       sql.NullTime
		ocrText          sql.NullString
		ocrProcessedAt   sql.NullTime
	)
	if err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.Title,
		&doc.Number,
		&docDate,
		&doc.Description,
		&originalFilename,
		&storedFilename,
		&contentType,
		&sizeBytes,
		&storageKey,
		&uploadedAt,
		&ocrText,
		&doc.OcrProcessed,
		&ocrProcessedAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return Document{}, err
	}

	if docDate.Valid {
		d := docDate.Time
		doc.Date = &d
	}
	if storageKey.Valid {
		doc.Attachment = &Attachment{
			OriginalFilename: originalFilename.String,
			StoredFilename:   storedFilename.String,
			ContentType:      contentType.String,
			SizeBytes:        sizeBytes.Int64,
			StorageKey:       storageKey.String,
			UploadedAt:       uploadedAt.Time,
		}
	}
	if ocrText.Valid {
		text := ocrText.String
		doc.OcrText = &text
	}
	if ocrProcessedAt.Valid {
		at := ocrProcessedAt.Time
		doc.OcrProcessedAt = &at
	}
	return doc, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
