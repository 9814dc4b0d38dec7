package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	ocrJobsScheduledTotal atomic.Uint64
	ocrJobsCompletedTotal atomic.Uint64
	ocrJobsFailedTotal    atomic.Uint64
	ocrJobsRejectedTotal  atomic.Uint64

	ocrJobDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 300000})
)

// IncOcrJobsScheduled increments the scheduled counter.
func IncOcrJobsScheduled() {
	ocrJobsScheduledTotal.Add(1)
}

// IncOcrJobsCompleted increments the completed counter.
func IncOcrJobsCompleted() {
	ocrJobsCompletedTotal.Add(1)
}

// IncOcrJobsFailed increments the failed counter.
func IncOcrJobsFailed() {
	ocrJobsFailedTotal.Add(1)
}

// IncOcrJobsRejected increments the rejected counter (queue saturated).
func IncOcrJobsRejected() {
	ocrJobsRejectedTotal.Add(1)
}

// ObserveOcrJobDurationMs records an extraction duration in milliseconds.
func ObserveOcrJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	ocrJobDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "ocr_jobs_scheduled_total", "Total OCR jobs scheduled", ocrJobsScheduledTotal.Load())
	writeCounter(&buf, "ocr_jobs_completed_total", "Total OCR jobs completed", ocrJobsCompletedTotal.Load())
	writeCounter(&buf, "ocr_jobs_failed_total", "Total OCR jobs failed", ocrJobsFailedTotal.Load())
	writeCounter(&buf, "ocr_jobs_rejected_total", "Total OCR jobs rejected by a full queue", ocrJobsRejectedTotal.Load())
	writeHistogram(&buf, "ocr_job_duration_ms", "OCR job duration in milliseconds", ocrJobDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe records value into the first bucket whose bound it fits. Counts
// are kept per-bucket; exposition accumulates them into the cumulative
// counts the text format requires.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
