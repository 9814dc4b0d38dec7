package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"docmanager-backend/internal/shared/util"
)

// ErrNotFound indicates the storage key does not resolve to an object.
var ErrNotFound = errors.New("object not found")

// FileRef describes the upload being stored. DocumentID may be empty when the
// document record has not been persisted yet.
type FileRef struct {
	DocumentID  string
	Number      string
	FileName    string
	ContentType string
}

// StoredObject describes the outcome of a Save.
type StoredObject struct {
	Key            string
	StoredFilename string
	SizeBytes      int64
	ContentType    string
}

// ObjectStore defines the contract for saving and retrieving document files.
// Delete is idempotent: removing a key that no longer exists is not an error.
type ObjectStore interface {
	Save(ctx context.Context, userId string, ref FileRef, r io.Reader) (StoredObject, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}

// LocalPather is implemented by stores whose objects are reachable on the
// local filesystem. Callers that need a file path (OCR engines read from
// disk) assert for it and fall back to copying the stream otherwise.
type LocalPather interface {
	LocalPath(ctx context.Context, storageKey string) (string, error)
}

// StoredName builds the canonical stored filename for an upload:
// <number-token>_<doc-id-or-new>_<timestamp>_<random>.<ext>. The document
// number token keeps listings greppable; the random suffix prevents
// collisions when the same document is re-uploaded within a second.
func StoredName(ref FileRef, now time.Time, random string) string {
	docPart := ref.DocumentID
	if docPart == "" {
		docPart = "new"
	}
	return fmt.Sprintf("%s_%s_%s_%s%s",
		util.SanitizeToken(ref.Number),
		docPart,
		now.UTC().Format("20060102_150405"),
		random,
		util.FileExtension(ref.FileName),
	)
}
