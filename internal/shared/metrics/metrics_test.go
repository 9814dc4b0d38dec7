package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestHistogramSingleObservationIsCumulativeOnce(t *testing.T) {
	h := newHistogram([]float64{100, 250, 500})
	h.Observe(100)

	var buf bytes.Buffer
	writeHistogram(&buf, "test_ms", "test", h.Snapshot())
	out := buf.String()

	for _, line := range []string{
		`test_ms_bucket{le="100"} 1`,
		`test_ms_bucket{le="250"} 1`,
		`test_ms_bucket{le="500"} 1`,
		`test_ms_bucket{le="+Inf"} 1`,
		`test_ms_count 1`,
	} {
		if !strings.Contains(out, line+"\n") {
			t.Fatalf("missing %q in:\n%s", line, out)
		}
	}
}

func TestHistogramBucketsAccumulate(t *testing.T) {
	h := newHistogram([]float64{100, 250, 500})
	h.Observe(50)
	h.Observe(200)
	h.Observe(9000) // above every bound, only +Inf sees it

	var buf bytes.Buffer
	writeHistogram(&buf, "test_ms", "test", h.Snapshot())
	out := buf.String()

	for _, line := range []string{
		`test_ms_bucket{le="100"} 1`,
		`test_ms_bucket{le="250"} 2`,
		`test_ms_bucket{le="500"} 2`,
		`test_ms_bucket{le="+Inf"} 3`,
		`test_ms_sum 9250`,
		`test_ms_count 3`,
	} {
		if !strings.Contains(out, line+"\n") {
			t.Fatalf("missing %q in:\n%s", line, out)
		}
	}
}
