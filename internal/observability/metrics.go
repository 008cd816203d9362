package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value float64
	mu    sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name  string
	help  string
	value float64
	mu    sync.Mutex
}

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram. Nil buckets fall back to
// the default latency buckets.
func (r *MetricsRegistry) NewHistogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}
	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency in seconds.
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
			break
		}
	}
}

// ObserveDuration records the elapsed time since start in seconds.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler serving Prometheus text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes all metrics in Prometheus text format, in stable
// name order.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %s\n",
			c.name, c.help, c.name, c.name, formatFloat(c.Value()))
	}
	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n",
			g.name, g.help, g.name, g.name, formatFloat(g.Value()))
	}
	for _, name := range sortedKeys(r.histos) {
		writeHistogram(w, r.histos[name])
	}
}

func writeHistogram(w io.Writer, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", h.name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(w, "%s_sum %s\n", h.name, formatFloat(h.sum))
	fmt.Fprintf(w, "%s_count %d\n", h.name, h.count)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ServiceMetrics contains the pipeline's metrics.
type ServiceMetrics struct {
	Registry *MetricsRegistry

	// Query metrics
	QueriesTotal     *Counter
	QueryDuration    *Histogram
	QueryErrorsTotal *Counter

	// Retrieval metrics
	RetrievalsTotal   *Counter
	RetrievalDuration *Histogram
	ChunksRetrieved   *Counter

	// LLM metrics
	CompletionsTotal   *Counter
	CompletionDuration *Histogram
	EmbedBatchesTotal  *Counter
	EmbedDuration      *Histogram

	// Index state
	IndexRows *Gauge
}

// NewServiceMetrics creates the pipeline metrics set.
func NewServiceMetrics() *ServiceMetrics {
	r := NewMetricsRegistry()

	return &ServiceMetrics{
		Registry: r,

		QueriesTotal:     r.NewCounter("adrag_queries_total", "Total answer queries"),
		QueryDuration:    r.NewHistogram("adrag_query_duration_seconds", "End-to-end query duration", nil),
		QueryErrorsTotal: r.NewCounter("adrag_query_errors_total", "Total failed queries"),

		RetrievalsTotal:   r.NewCounter("adrag_retrievals_total", "Total retrieval operations"),
		RetrievalDuration: r.NewHistogram("adrag_retrieval_duration_seconds", "Retrieval duration", nil),
		ChunksRetrieved:   r.NewCounter("adrag_chunks_retrieved_total", "Total chunks returned by retrieval"),

		CompletionsTotal:   r.NewCounter("adrag_llm_completions_total", "Total LLM completion requests"),
		CompletionDuration: r.NewHistogram("adrag_llm_completion_duration_seconds", "LLM completion duration", nil),
		EmbedBatchesTotal:  r.NewCounter("adrag_embed_batches_total", "Total embedding batch requests"),
		EmbedDuration:      r.NewHistogram("adrag_embed_duration_seconds", "Embedding batch duration", nil),

		IndexRows: r.NewGauge("adrag_index_rows", "Number of rows in the loaded index"),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *ServiceMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordQuery records one end-to-end answer request.
func (m *ServiceMetrics) RecordQuery(duration time.Duration, err error) {
	m.QueriesTotal.Inc()
	m.QueryDuration.Observe(duration.Seconds())
	if err != nil {
		m.QueryErrorsTotal.Inc()
	}
}

// RecordRetrieval records one retrieval operation.
func (m *ServiceMetrics) RecordRetrieval(duration time.Duration, chunks int) {
	m.RetrievalsTotal.Inc()
	m.RetrievalDuration.Observe(duration.Seconds())
	m.ChunksRetrieved.Add(float64(chunks))
}

// Global metrics instance
var globalMetrics *ServiceMetrics
var metricsOnce sync.Once

// Metrics returns the global metrics instance.
func Metrics() *ServiceMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewServiceMetrics()
	})
	return globalMetrics
}
