package documents

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"docmanager-backend/internal/extract"
	"docmanager-backend/internal/ocr"
	"docmanager-backend/internal/queue"
	"docmanager-backend/internal/shared/storage/object"
)

type fakeStore struct {
	mu      sync.Mutex
	baseDir string
	seq     int
	objects map[string]string
	deleted []string

	saveErr   error
	deleteErr error
}

func newFakeStore(t *testing.T) *fakeStore {
	return &fakeStore{baseDir: t.TempDir(), objects: make(map[string]string)}
}

func (f *fakeStore) Save(ctx context.Context, userId string, ref object.FileRef, r io.Reader) (object.StoredObject, error) {
	if f.saveErr != nil {
		return object.StoredObject{}, f.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return object.StoredObject{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	name := fmt.Sprintf("stored-%d-%s", f.seq, ref.FileName)
	key := userId + "/" + name
	full := filepath.Join(f.baseDir, fmt.Sprintf("obj-%d", f.seq))
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return object.StoredObject{}, err
	}
	f.objects[key] = full
	return object.StoredObject{
		Key:            key,
		StoredFilename: name,
		SizeBytes:      int64(len(data)),
		ContentType:    ref.ContentType,
	}, nil
}

func (f *fakeStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	f.mu.Lock()
	full, ok := f.objects[storageKey]
	f.mu.Unlock()
	if !ok {
		return nil, object.ErrNotFound
	}
	return os.Open(full)
}

func (f *fakeStore) Delete(ctx context.Context, storageKey string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, storageKey)
	if full, ok := f.objects[storageKey]; ok {
		_ = os.Remove(full)
		delete(f.objects, storageKey)
	}
	return nil
}

func (f *fakeStore) LocalPath(ctx context.Context, storageKey string) (string, error) {
	f.mu.Lock()
	full, ok := f.objects[storageKey]
	f.mu.Unlock()
	if !ok {
		return "", object.ErrNotFound
	}
	if _, err := os.Stat(full); err != nil {
		return "", object.ErrNotFound
	}
	return full, nil
}

// drop simulates bytes lost out-of-band while the record still points at them.
func (f *fakeStore) drop(storageKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if full, ok := f.objects[storageKey]; ok {
		_ = os.Remove(full)
		delete(f.objects, storageKey)
	}
}

type stubEngine struct {
	text string
	err  error
}

func (e *stubEngine) RecognizeFile(ctx context.Context, path string) (string, error) {
	return e.text, e.err
}

func (e *stubEngine) RecognizeImage(ctx context.Context, img image.Image) (string, error) {
	return e.text, e.err
}

type stubRenderer struct{}

func (stubRenderer) Open(path string) (ocr.RenderedDocument, error) {
	return nil, errors.New("renderer not expected in this test")
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []queue.Message
	err  error
}

func (q *fakeQueue) Send(ctx context.Context, msg queue.Message) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, msg)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sent)
}

type testEnv struct {
	svc    *Service
	repo   *MemoryRepo
	store  *fakeStore
	queue  *fakeQueue
	engine *stubEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore(t)
	repo := NewMemoryRepo()
	q := &fakeQueue{}
	engine := &stubEngine{text: "recognized text"}
	svc := &Service{
		Repo:      repo,
		Store:     store,
		Extractor: extract.New(engine, stubRenderer{}, 300),
		Queue:     q,
	}
	return &testEnv{svc: svc, repo: repo, store: store, queue: q, engine: engine}
}

func pngUpload(content string) *FileUpload {
	return &FileUpload{
		FileName:    "scan.png",
		ContentType: "image/png",
		Reader:      strings.NewReader(content),
	}
}

func TestCreateWithFileSchedulesOcr(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, err := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Invoice", Number: "INV-1"}, pngUpload("bytes"), true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	assertOcrConsistent(t, doc)
	if doc.OcrProcessed {
		t.Fatal("new document must start unprocessed")
	}
	if !doc.HasAttachment() {
		t.Fatal("attachment missing")
	}
	if env.queue.count() != 1 {
		t.Fatalf("scheduled %d jobs", env.queue.count())
	}
	if env.queue.sent[0].DocumentID != doc.ID {
		t.Fatalf("scheduled wrong document: %+v", env.queue.sent[0])
	}
}

func TestCreateWithoutTitleFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Create(context.Background(), "user-1", DocumentInput{Title: "  "}, nil, false)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateStorageFailureAbortsRecord(t *testing.T) {
	env := newTestEnv(t)
	env.store.saveErr = errors.New("disk full")

	_, err := env.svc.Create(context.Background(), "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)
	if err == nil {
		t.Fatal("expected error")
	}

	total, err := env.repo.CountByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("record persisted despite storage failure: %d", total)
	}
}

func TestQueueFullDoesNotFailCreate(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = queue.ErrQueueFull

	doc, err := env.svc.Create(context.Background(), "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if doc.OcrProcessed {
		t.Fatal("document must stay unprocessed when scheduling fails")
	}
}

func TestProcessOcrMarksProcessed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, err := env.svc.ProcessOcr(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	assertOcrConsistent(t, doc)
	if !doc.OcrProcessed || *doc.OcrText != "recognized text" {
		t.Fatalf("unexpected state: %+v", doc)
	}

	stored, err := env.repo.GetByID(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	assertOcrConsistent(t, stored)
	if !stored.OcrProcessed {
		t.Fatal("processed state not persisted")
	}
}

func TestProcessOcrNoAttachment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, nil, false)

	if _, err := env.svc.ProcessOcr(ctx, "user-1", created.ID); !errors.Is(err, ErrNoAttachment) {
		t.Fatalf("expected ErrNoAttachment, got %v", err)
	}
}

func TestProcessOcrUnsupportedMedia(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	upload := &FileUpload{FileName: "data.zip", ContentType: "application/zip", Reader: strings.NewReader("x")}
	created, err := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, upload, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := env.svc.ProcessOcr(ctx, "user-1", created.ID); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
}

func TestProcessOcrMissingFileIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)
	env.store.drop(created.Attachment.StorageKey)

	doc, err := env.svc.ProcessOcr(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	assertOcrConsistent(t, doc)
	if doc.OcrProcessed {
		t.Fatal("document must stay unprocessed when bytes are missing")
	}
}

func TestProcessOcrExtractionFailureLeavesUnprocessed(t *testing.T) {
	env := newTestEnv(t)
	env.engine.err = errors.New("tesseract crashed")
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)

	_, err := env.svc.ProcessOcr(ctx, "user-1", created.ID)
	if !extract.IsExtractionError(err) {
		t.Fatalf("expected extraction error, got %v", err)
	}

	stored, _ := env.repo.GetByID(ctx, "user-1", created.ID)
	assertOcrConsistent(t, stored)
	if stored.OcrProcessed {
		t.Fatal("failed extraction must not mark processed")
	}
}

func TestUploadFileReplaceResetsOcrAndReleasesOldBytes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("one"), false)
	if _, err := env.svc.ProcessOcr(ctx, "user-1", created.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	oldKey := created.Attachment.StorageKey

	doc, err := env.svc.UploadFile(ctx, "user-1", created.ID, *pngUpload("two"), false)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	assertOcrConsistent(t, doc)
	if doc.OcrProcessed {
		t.Fatal("ocr state survived file replace")
	}
	if doc.Attachment.StorageKey == oldKey {
		t.Fatal("storage key not rotated")
	}

	found := false
	for _, key := range env.store.deleted {
		if key == oldKey {
			found = true
		}
	}
	if !found {
		t.Fatal("old bytes never released")
	}
}

func TestDeleteAttachmentResetsOcr(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)
	if _, err := env.svc.ProcessOcr(ctx, "user-1", created.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	doc, err := env.svc.DeleteAttachment(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("delete attachment: %v", err)
	}
	assertOcrConsistent(t, doc)
	if doc.HasAttachment() || doc.OcrProcessed {
		t.Fatalf("unexpected state: %+v", doc)
	}
}

func TestDeleteAttachmentWithoutFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, nil, false)

	if _, err := env.svc.DeleteAttachment(ctx, "user-1", created.ID); !errors.Is(err, ErrNoAttachment) {
		t.Fatalf("expected ErrNoAttachment, got %v", err)
	}
}

func TestDeleteSurvivesStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)
	env.store.deleteErr = errors.New("bucket unreachable")

	if err := env.svc.Delete(ctx, "user-1", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.repo.GetByID(ctx, "user-1", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record survived delete: %v", err)
	}
}

func TestDeleteWithMissingBytesSucceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)
	env.store.drop(created.Attachment.StorageKey)

	if err := env.svc.Delete(ctx, "user-1", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestOwnershipMismatchIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, nil, false)

	if _, err := env.svc.Get(ctx, "user-2", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := env.svc.Delete(ctx, "user-2", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchReprocessSchedulesAllPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.svc.Create(ctx, "user-1", DocumentInput{Title: fmt.Sprintf("Doc %d", i)}, pngUpload("x"), false); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	processed, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Done"}, pngUpload("x"), false)
	if _, err := env.svc.ProcessOcr(ctx, "user-1", processed.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Bare"}, nil, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	scheduled, err := env.svc.BatchReprocess(ctx, "user-1")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if scheduled != 5 {
		t.Fatalf("scheduled = %d, want 5", scheduled)
	}
	if env.queue.count() != 5 {
		t.Fatalf("queue got %d messages", env.queue.count())
	}
}

func TestBatchReprocessCountsUnsupportedPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	zipUpload := &FileUpload{FileName: "data.zip", ContentType: "application/zip", Reader: strings.NewReader("x")}
	if _, err := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Zip"}, zipUpload, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The unsupported type is scheduled and counted anyway; the worker skips
	// it at execution time.
	scheduled, err := env.svc.BatchReprocess(ctx, "user-1")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if scheduled != 1 {
		t.Fatalf("scheduled = %d, want 1", scheduled)
	}
	if env.queue.count() != 1 {
		t.Fatalf("queue got %d messages", env.queue.count())
	}
}

func TestStatsEmptyUser(t *testing.T) {
	env := newTestEnv(t)

	stats, err := env.svc.Stats(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 || stats.ProcessedPercentage != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestStatsPercentage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "A"}, pngUpload("x"), false)
	if _, err := env.svc.ProcessOcr(ctx, "user-1", first.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := env.svc.Create(ctx, "user-1", DocumentInput{Title: "B"}, pngUpload("x"), false); err != nil {
		t.Fatalf("create: %v", err)
	}

	stats, err := env.svc.Stats(ctx, "user-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Processed != 1 || stats.PendingWithFile != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ProcessedPercentage != 50 {
		t.Fatalf("percentage = %v", stats.ProcessedPercentage)
	}
}

func TestDownloadStreamsAttachment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("file body"), false)

	att, rc, err := env.svc.Download(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "file body" {
		t.Fatalf("body = %q", body)
	}
	if att.OriginalFilename != "scan.png" {
		t.Fatalf("filename = %q", att.OriginalFilename)
	}
}

func TestSearchOcrTextFindsProcessedDocument(t *testing.T) {
	env := newTestEnv(t)
	env.engine.text = "quarterly revenue report"
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)
	if _, err := env.svc.ProcessOcr(ctx, "user-1", created.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	docs, err := env.svc.SearchOcrText(ctx, "user-1", "Revenue", 20, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != created.ID {
		t.Fatalf("unexpected result: %+v", docs)
	}

	if _, err := env.svc.SearchOcrText(ctx, "user-1", "  ", 20, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty query, got %v", err)
	}
}

func TestUpdateMetadataKeepsOcrState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)
	if _, err := env.svc.ProcessOcr(ctx, "user-1", created.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	doc, err := env.svc.Update(ctx, "user-1", created.ID, DocumentInput{Title: "Renamed", Number: "N-2"}, nil, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	assertOcrConsistent(t, doc)
	if !doc.OcrProcessed {
		t.Fatal("metadata-only update must not reset ocr")
	}
	if doc.Title != "Renamed" {
		t.Fatalf("title = %q", doc.Title)
	}
}

func TestUpdateWithFileResetsOcr(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)
	if _, err := env.svc.ProcessOcr(ctx, "user-1", created.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	doc, err := env.svc.Update(ctx, "user-1", created.ID, DocumentInput{Title: "Doc"}, pngUpload("new"), false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	assertOcrConsistent(t, doc)
	if doc.OcrProcessed {
		t.Fatal("file replace must reset ocr")
	}
}

// Concurrent metadata update and OCR completion may interleave in either
// order; whichever write lands last, the stored record must never mix a
// processed flag with missing text or vice versa.
func TestConcurrentUpdateAndOcrCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.svc.Create(ctx, "user-1", DocumentInput{Title: "Doc"}, pngUpload("x"), false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = env.svc.ProcessOcr(ctx, "user-1", created.ID)
	}()
	go func() {
		defer wg.Done()
		_, _ = env.svc.Update(ctx, "user-1", created.ID, DocumentInput{Title: "Renamed"}, nil, false)
	}()
	wg.Wait()

	stored, err := env.repo.GetByID(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	assertOcrConsistent(t, stored)
}
