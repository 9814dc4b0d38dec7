package ocrwork

import (
	"context"
	"sync"
	"testing"
	"time"

	"docmanager-backend/internal/documents"
	"docmanager-backend/internal/queue"
)

type fakeProcessor struct {
	mu        sync.Mutex
	docs      map[string]documents.Document
	processed []string
	calls     chan string
}

func newFakeProcessor(docs ...documents.Document) *fakeProcessor {
	m := make(map[string]documents.Document, len(docs))
	for _, doc := range docs {
		m[doc.ID] = doc
	}
	return &fakeProcessor{docs: m, calls: make(chan string, 16)}
}

func (f *fakeProcessor) Get(ctx context.Context, userId, id string) (documents.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.UserID != userId {
		return documents.Document{}, documents.ErrNotFound
	}
	return doc, nil
}

func (f *fakeProcessor) ProcessOcr(ctx context.Context, userId, id string) (documents.Document, error) {
	f.mu.Lock()
	doc := f.docs[id]
	f.processed = append(f.processed, id)
	f.mu.Unlock()
	f.calls <- id
	return doc, nil
}

func attachedDoc(id, userId, contentType string) documents.Document {
	return documents.Document{
		ID:     id,
		UserID: userId,
		Title:  "doc " + id,
		Attachment: &documents.Attachment{
			OriginalFilename: "scan.png",
			ContentType:      contentType,
			StorageKey:       "key/" + id,
		},
	}
}

func TestPoolProcessesQueuedJobs(t *testing.T) {
	proc := newFakeProcessor(attachedDoc("doc-1", "user-1", "image/png"))
	q := queue.NewMemory(8)
	pool := NewPool(q, proc, Config{Workers: 2, JobTimeout: time.Second})
	pool.Start()

	if err := q.Send(context.Background(), queue.Message{DocumentID: "doc-1", UserID: "user-1"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case id := <-proc.calls:
		if id != "doc-1" {
			t.Fatalf("processed %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestPoolSkipsIneligibleDocuments(t *testing.T) {
	processedText := "done"
	processedAt := time.Now()
	alreadyDone := attachedDoc("doc-done", "user-1", "image/png")
	alreadyDone.OcrText = &processedText
	alreadyDone.OcrProcessed = true
	alreadyDone.OcrProcessedAt = &processedAt

	unsupported := attachedDoc("doc-zip", "user-1", "application/zip")
	noFile := documents.Document{ID: "doc-bare", UserID: "user-1", Title: "bare"}
	eligible := attachedDoc("doc-ok", "user-1", "application/pdf")

	proc := newFakeProcessor(alreadyDone, unsupported, noFile, eligible)
	q := queue.NewMemory(8)
	pool := NewPool(q, proc, Config{Workers: 1, JobTimeout: time.Second})
	pool.Start()

	ctx := context.Background()
	for _, id := range []string{"doc-done", "doc-zip", "doc-bare", "doc-missing", "doc-ok"} {
		if err := q.Send(ctx, queue.Message{DocumentID: id, UserID: "user-1"}); err != nil {
			t.Fatalf("send %s: %v", id, err)
		}
	}

	select {
	case id := <-proc.calls:
		if id != "doc-ok" {
			t.Fatalf("processed %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("eligible job never ran")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.processed) != 1 {
		t.Fatalf("processed = %v", proc.processed)
	}
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	proc := newFakeProcessor(
		attachedDoc("doc-1", "user-1", "image/png"),
		attachedDoc("doc-2", "user-1", "image/png"),
		attachedDoc("doc-3", "user-1", "image/png"),
	)
	q := queue.NewMemory(8)
	pool := NewPool(q, proc, Config{Workers: 1, JobTimeout: time.Second})

	ctx := context.Background()
	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		if err := q.Send(ctx, queue.Message{DocumentID: id, UserID: "user-1"}); err != nil {
			t.Fatalf("send %s: %v", id, err)
		}
	}

	pool.Start()

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.processed) != 3 {
		t.Fatalf("processed %d jobs before shutdown", len(proc.processed))
	}
}
