package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var errTest = errors.New("boom")

func TestCounter(t *testing.T) {
	r := NewMetricsRegistry()
	c := r.NewCounter("test_total", "help")

	c.Inc()
	c.Add(2.5)
	if got := c.Value(); got != 3.5 {
		t.Errorf("Value() = %v, want 3.5", got)
	}
}

func TestGauge(t *testing.T) {
	r := NewMetricsRegistry()
	g := r.NewGauge("test_gauge", "help")

	g.Set(42)
	if got := g.Value(); got != 42 {
		t.Errorf("Value() = %v, want 42", got)
	}
	g.Set(7)
	if got := g.Value(); got != 7 {
		t.Errorf("Value() = %v, want 7", got)
	}
}

func TestHistogram_BucketCounts(t *testing.T) {
	r := NewMetricsRegistry()
	h := r.NewHistogram("test_hist", "help", []float64{0.1, 1, 10})

	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(100)

	var out strings.Builder
	r.WritePrometheus(&out)
	text := out.String()

	// Bucket counts are cumulative.
	for _, line := range []string{
		`test_hist_bucket{le="0.1"} 1`,
		`test_hist_bucket{le="1"} 2`,
		`test_hist_bucket{le="10"} 3`,
		`test_hist_bucket{le="+Inf"} 4`,
		`test_hist_count 4`,
	} {
		if !strings.Contains(text, line) {
			t.Errorf("output missing %q:\n%s", line, text)
		}
	}
}

func TestWritePrometheus_Format(t *testing.T) {
	r := NewMetricsRegistry()
	r.NewCounter("b_total", "second").Add(2)
	r.NewCounter("a_total", "first").Inc()
	r.NewGauge("c_gauge", "a gauge").Set(3)

	var out strings.Builder
	r.WritePrometheus(&out)
	text := out.String()

	if !strings.Contains(text, "# HELP a_total first\n# TYPE a_total counter\na_total 1\n") {
		t.Errorf("counter block malformed:\n%s", text)
	}
	if !strings.Contains(text, "# TYPE c_gauge gauge\nc_gauge 3\n") {
		t.Errorf("gauge block malformed:\n%s", text)
	}
	// Counters come out in name order.
	if strings.Index(text, "a_total") > strings.Index(text, "b_total") {
		t.Errorf("metrics not sorted by name:\n%s", text)
	}
}

func TestRegistryHandler(t *testing.T) {
	r := NewMetricsRegistry()
	r.NewCounter("handler_total", "help").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "handler_total 1") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestServiceMetrics_RecordQuery(t *testing.T) {
	m := NewServiceMetrics()

	m.RecordQuery(20*time.Millisecond, nil)
	m.RecordQuery(30*time.Millisecond, errTest)

	if got := m.QueriesTotal.Value(); got != 2 {
		t.Errorf("QueriesTotal = %v", got)
	}
	if got := m.QueryErrorsTotal.Value(); got != 1 {
		t.Errorf("QueryErrorsTotal = %v", got)
	}
}

func TestServiceMetrics_RecordRetrieval(t *testing.T) {
	m := NewServiceMetrics()

	m.RecordRetrieval(5*time.Millisecond, 5)
	m.RecordRetrieval(5*time.Millisecond, 3)

	if got := m.RetrievalsTotal.Value(); got != 2 {
		t.Errorf("RetrievalsTotal = %v", got)
	}
	if got := m.ChunksRetrieved.Value(); got != 8 {
		t.Errorf("ChunksRetrieved = %v", got)
	}
}

func TestObserveDuration(t *testing.T) {
	r := NewMetricsRegistry()
	h := r.NewHistogram("dur_hist", "help", nil)

	h.ObserveDuration(time.Now().Add(-10 * time.Millisecond))

	var out strings.Builder
	r.WritePrometheus(&out)
	if !strings.Contains(out.String(), "dur_hist_count 1") {
		t.Errorf("output = %s", out.String())
	}
}
