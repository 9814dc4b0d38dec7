package documents

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepo is an in-memory Repo for development and tests.
type MemoryRepo struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryRepo creates an empty in-memory repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{docs: make(map[string]Document)}
}

var _ Repo = (*MemoryRepo)(nil)

// Save inserts or replaces a document.
func (r *MemoryRepo) Save(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = cloneDocument(doc)
	return nil
}

// GetByID fetches a document by id for a user.
func (r *MemoryRepo) GetByID(ctx context.Context, userId, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok || doc.UserID != userId {
		return Document{}, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// Delete removes a document owned by the user.
func (r *MemoryRepo) Delete(ctx context.Context, userId, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.UserID != userId {
		return ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

// ListByUser lists documents newest-first, optionally filtered by a
// case-insensitive substring match on title, number and description.
func (r *MemoryRepo) ListByUser(ctx context.Context, userId, search string, limit, offset int) ([]Document, error) {
	return r.list(ctx, userId, limit, offset, func(doc Document) bool {
		if search == "" {
			return true
		}
		needle := strings.ToLower(search)
		return strings.Contains(strings.ToLower(doc.Title), needle) ||
			strings.Contains(strings.ToLower(doc.Number), needle) ||
			strings.Contains(strings.ToLower(doc.Description), needle)
	})
}

// ListProcessed lists documents with completed OCR, newest-first.
func (r *MemoryRepo) ListProcessed(ctx context.Context, userId string, limit, offset int) ([]Document, error) {
	return r.list(ctx, userId, limit, offset, func(doc Document) bool {
		return doc.OcrProcessed
	})
}

// SearchOcrText lists documents whose extracted text contains the query,
// case-insensitive, newest-first.
func (r *MemoryRepo) SearchOcrText(ctx context.Context, userId, query string, limit, offset int) ([]Document, error) {
	needle := strings.ToLower(query)
	return r.list(ctx, userId, limit, offset, func(doc Document) bool {
		return doc.OcrText != nil && strings.Contains(strings.ToLower(*doc.OcrText), needle)
	})
}

// FindUnprocessedWithAttachment returns every document with a file that has
// not completed OCR.
func (r *MemoryRepo) FindUnprocessedWithAttachment(ctx context.Context, userId string) ([]Document, error) {
	return r.list(ctx, userId, 0, 0, func(doc Document) bool {
		return doc.Attachment != nil && !doc.OcrProcessed
	})
}

// CountByUser counts the user's documents.
func (r *MemoryRepo) CountByUser(ctx context.Context, userId string) (int64, error) {
	return r.count(ctx, userId, func(Document) bool { return true })
}

// CountProcessed counts documents with completed OCR.
func (r *MemoryRepo) CountProcessed(ctx context.Context, userId string) (int64, error) {
	return r.count(ctx, userId, func(doc Document) bool { return doc.OcrProcessed })
}

// CountPendingWithAttachment counts documents with a file still awaiting OCR.
func (r *MemoryRepo) CountPendingWithAttachment(ctx context.Context, userId string) (int64, error) {
	return r.count(ctx, userId, func(doc Document) bool {
		return doc.Attachment != nil && !doc.OcrProcessed
	})
}

func (r *MemoryRepo) list(ctx context.Context, userId string, limit, offset int, keep func(Document) bool) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Document
	for _, doc := range r.docs {
		if doc.UserID != userId || !keep(doc) {
			continue
		}
		out = append(out, cloneDocument(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, limit, offset), nil
}

func (r *MemoryRepo) count(ctx context.Context, userId string, keep func(Document) bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, doc := range r.docs {
		if doc.UserID == userId && keep(doc) {
			n++
		}
	}
	return n, nil
}

func paginate(docs []Document, limit, offset int) []Document {
	if offset > 0 {
		if offset >= len(docs) {
			return nil
		}
		docs = docs[offset:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// cloneDocument copies pointer fields so callers cannot mutate stored state.
func cloneDocument(doc Document) Document {
	out := doc
	if doc.Attachment != nil {
		att := *doc.Attachment
		out.Attachment = &att
	}
	if doc.OcrText != nil {
		text := *doc.OcrText
		out.OcrText = &text
	}
	if doc.OcrProcessedAt != nil {
		at := *doc.OcrProcessedAt
		out.OcrProcessedAt = &at
	}
	if doc.Date != nil {
		d := *doc.Date
		out.Date = &d
	}
	return out
}
