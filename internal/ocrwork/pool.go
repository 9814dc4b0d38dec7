// Package ocrwork runs the asynchronous OCR jobs scheduled by the documents
// service. A bounded pool of workers consumes the in-process queue; every
// failure is logged and counted, never surfaced to the user, so the document
// stays unprocessed and retryable.
package ocrwork

import (
	"context"
	"errors"
	"sync"
	"time"

	"docmanager-backend/internal/documents"
	"docmanager-backend/internal/extract"
	"docmanager-backend/internal/queue"
	"docmanager-backend/internal/shared/telemetry"
)

// Processor is the slice of the documents service the workers need.
type Processor interface {
	Get(ctx context.Context, userId, id string) (documents.Document, error)
	ProcessOcr(ctx context.Context, userId, id string) (documents.Document, error)
}

// Config controls pool sizing and per-job limits.
type Config struct {
	Workers    int
	JobTimeout time.Duration
}

// Pool consumes the OCR queue with a fixed number of workers.
type Pool struct {
	queue *queue.Memory
	proc  Processor
	cfg   Config

	wg sync.WaitGroup
}

// NewPool creates a pool. It does not start consuming until Start.
func NewPool(q *queue.Memory, proc Processor, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Pool{queue: q, proc: proc, cfg: cfg}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for msg := range p.queue.Receive() {
				p.run(worker, msg)
			}
		}(i)
	}
	telemetry.Info("ocrwork.started", map[string]any{
		"workers":     p.cfg.Workers,
		"job_timeout": p.cfg.JobTimeout.String(),
	})
}

// Shutdown closes the queue and waits for in-flight jobs until ctx expires.
// Producers must have stopped sending before Shutdown is called.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		telemetry.Warn("ocrwork.shutdown_timeout", map[string]any{
			"queued": p.queue.Len(),
		})
		return ctx.Err()
	}
}

// run executes one job under its own timeout. The job context is detached
// from any request: the request that scheduled the job has long returned.
func (p *Pool) run(worker int, msg queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	defer cancel()
	ctx = documents.WithRequestID(ctx, msg.RequestID)

	fields := map[string]any{
		"worker":      worker,
		"document_id": msg.DocumentID,
		"request_id":  msg.RequestID,
	}

	doc, err := p.proc.Get(ctx, msg.UserID, msg.DocumentID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			// deleted between scheduling and execution
			telemetry.Info("ocrwork.document_gone", fields)
			return
		}
		telemetry.Error("ocrwork.fetch_failed", withError(fields, err))
		return
	}

	// Re-check under current state: the attachment may have been removed,
	// replaced with an unsupported type, or processed by a sync call while
	// the job sat in the queue.
	if !doc.HasAttachment() || doc.OcrProcessed || !extract.IsSupported(doc.Attachment.ContentType) {
		telemetry.Info("ocrwork.skipped", fields)
		return
	}

	if _, err := p.proc.ProcessOcr(ctx, msg.UserID, msg.DocumentID); err != nil {
		switch {
		case errors.Is(err, documents.ErrNotFound),
			errors.Is(err, documents.ErrNoAttachment),
			errors.Is(err, documents.ErrUnsupportedMedia):
			telemetry.Info("ocrwork.skipped", fields)
		default:
			telemetry.Error("ocrwork.job_failed", withError(fields, err))
		}
	}
}

func withError(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
