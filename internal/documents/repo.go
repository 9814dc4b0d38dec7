package documents

import "context"

// Repo defines persistence operations for documents. Save is an upsert of
// the whole aggregate: attachment and OCR state land in the same record so a
// single Save is a single atomic state change.
type Repo interface {
	Save(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, userId, id string) (Document, error)
	Delete(ctx context.Context, userId, id string) error

	ListByUser(ctx context.Context, userId, search string, limit, offset int) ([]Document, error)
	ListProcessed(ctx context.Context, userId string, limit, offset int) ([]Document, error)
	SearchOcrText(ctx context.Context, userId, query string, limit, offset int) ([]Document, error)
	FindUnprocessedWithAttachment(ctx context.Context, userId string) ([]Document, error)

	CountByUser(ctx context.Context, userId string) (int64, error)
	CountProcessed(ctx context.Context, userId string) (int64, error)
	CountPendingWithAttachment(ctx context.Context, userId string) (int64, error)
}
