// Package metrics provides lightweight metrics collection for respool.
// Metrics are exposed in the Prometheus text exposition format so a pool can
// be scraped without pulling in a client library.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLatencyBuckets are histogram buckets (in seconds) suited to
// acquire, create and recycle latencies of network backends.
var DefaultLatencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value uint64
	name  string
	help  string
}

// NewCounter creates a new counter metric.
func NewCounter(name, help string) *Counter {
	c := &Counter{
		name: name,
		help: help,
	}
	defaultRegistry.register(name, c)
	return c
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	atomic.AddUint64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

func (c *Counter) prometheus() string {
	var sb strings.Builder
	writeHeader(&sb, c.name, c.help, "counter")
	fmt.Fprintf(&sb, "%s %d\n", c.name, c.Value())
	return sb.String()
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value int64
	name  string
	help  string
}

// NewGauge creates a new gauge metric.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{
		name: name,
		help: help,
	}
	defaultRegistry.register(name, g)
	return g
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v int64) {
	atomic.AddInt64(&g.value, v)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

func (g *Gauge) prometheus() string {
	var sb strings.Builder
	writeHeader(&sb, g.name, g.help, "gauge")
	fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
	return sb.String()
}

// GaugeVec is a family of gauges partitioned by a single label.
// Pools use it with the "pool" label so several pools can share one process.
type GaugeVec struct {
	mu     sync.RWMutex
	name   string
	help   string
	label  string
	gauges map[string]*Gauge
}

// NewGaugeVec creates a new labeled gauge family.
func NewGaugeVec(name, help, label string) *GaugeVec {
	v := &GaugeVec{
		name:   name,
		help:   help,
		label:  label,
		gauges: make(map[string]*Gauge),
	}
	defaultRegistry.register(name, v)
	return v
}

// With returns the gauge for the given label value, creating it if needed.
func (v *GaugeVec) With(value string) *Gauge {
	v.mu.RLock()
	g, ok := v.gauges[value]
	v.mu.RUnlock()
	if ok {
		return g
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if g, ok = v.gauges[value]; !ok {
		g = &Gauge{name: v.name, help: v.help}
		v.gauges[value] = g
	}
	return g
}

// Delete drops the series for the given label value.
func (v *GaugeVec) Delete(value string) {
	v.mu.Lock()
	delete(v.gauges, value)
	v.mu.Unlock()
}

func (v *GaugeVec) prometheus() string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var sb strings.Builder
	writeHeader(&sb, v.name, v.help, "gauge")
	for _, value := range sortedKeys(v.gauges) {
		fmt.Fprintf(&sb, "%s{%s=%q} %d\n", v.name, v.label, value, v.gauges[value].Value())
	}
	return sb.String()
}

// CounterVec is a family of counters partitioned by a single label.
type CounterVec struct {
	mu       sync.RWMutex
	name     string
	help     string
	label    string
	counters map[string]*Counter
}

// NewCounterVec creates a new labeled counter family.
func NewCounterVec(name, help, label string) *CounterVec {
	v := &CounterVec{
		name:     name,
		help:     help,
		label:    label,
		counters: make(map[string]*Counter),
	}
	defaultRegistry.register(name, v)
	return v
}

// With returns the counter for the given label value, creating it if needed.
func (v *CounterVec) With(value string) *Counter {
	v.mu.RLock()
	c, ok := v.counters[value]
	v.mu.RUnlock()
	if ok {
		return c
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok = v.counters[value]; !ok {
		c = &Counter{name: v.name, help: v.help}
		v.counters[value] = c
	}
	return c
}

func (v *CounterVec) prometheus() string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var sb strings.Builder
	writeHeader(&sb, v.name, v.help, "counter")
	for _, value := range sortedKeys(v.counters) {
		fmt.Fprintf(&sb, "%s{%s=%q} %d\n", v.name, v.label, value, v.counters[value].Value())
	}
	return sb.String()
}

// Histogram tracks the distribution of values.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// NewHistogram creates a new histogram metric.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	defaultRegistry.register(name, h)
	return h
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) prometheus() string {
	var sb strings.Builder
	writeHeader(&sb, h.name, h.help, "histogram")
	h.writeSeries(&sb, "")
	return sb.String()
}

// writeSeries writes the bucket, sum and count lines. labels is either
// empty or a rendered `name="value"` pair.
func (h *Histogram) writeSeries(sb *strings.Builder, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sep, braced := "", ""
	if labels != "" {
		sep = labels + ","
		braced = "{" + labels + "}"
	}
	for i, b := range h.buckets {
		fmt.Fprintf(sb, "%s_bucket{%sle=\"%g\"} %d\n", h.name, sep, b, h.counts[i])
	}
	fmt.Fprintf(sb, "%s_bucket{%sle=\"+Inf\"} %d\n", h.name, sep, h.count)
	fmt.Fprintf(sb, "%s_sum%s %g\n", h.name, braced, h.sum)
	fmt.Fprintf(sb, "%s_count%s %d\n", h.name, braced, h.count)
}

// HistogramVec is a family of histograms partitioned by a single label.
type HistogramVec struct {
	mu         sync.RWMutex
	name       string
	help       string
	label      string
	buckets    []float64
	histograms map[string]*Histogram
}

// NewHistogramVec creates a new labeled histogram family.
func NewHistogramVec(name, help, label string, buckets []float64) *HistogramVec {
	v := &HistogramVec{
		name:       name,
		help:       help,
		label:      label,
		buckets:    buckets,
		histograms: make(map[string]*Histogram),
	}
	defaultRegistry.register(name, v)
	return v
}

// With returns the histogram for the given label value, creating it if needed.
func (v *HistogramVec) With(value string) *Histogram {
	v.mu.RLock()
	h, ok := v.histograms[value]
	v.mu.RUnlock()
	if ok {
		return h
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if h, ok = v.histograms[value]; !ok {
		h = &Histogram{
			name:    v.name,
			help:    v.help,
			buckets: v.buckets,
			counts:  make([]uint64, len(v.buckets)),
		}
		v.histograms[value] = h
	}
	return h
}

func (v *HistogramVec) prometheus() string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var sb strings.Builder
	writeHeader(&sb, v.name, v.help, "histogram")
	for _, value := range sortedKeys(v.histograms) {
		v.histograms[value].writeSeries(&sb, fmt.Sprintf("%s=%q", v.label, value))
	}
	return sb.String()
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// metric is the interface for all metric types.
type metric interface {
	prometheus() string
}

// Registry holds all registered metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
}

// defaultRegistry is the global metric registry.
var defaultRegistry = &Registry{
	metrics: make(map[string]metric),
}

func (r *Registry) register(name string, m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = m
}

// Expose returns all metrics in Prometheus exposition format.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, name := range sortedKeys(r.metrics) {
		sb.WriteString(r.metrics[name].prometheus())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Handler returns an http.Handler that exposes metrics.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(defaultRegistry.Expose()))
	})
}

// StartTime records when the process started serving.
var StartTime = NewGauge("respool_start_time_seconds", "Unix timestamp when the process started")

// RecordStartTime records the current time as the start time.
func RecordStartTime() {
	StartTime.Set(time.Now().Unix())
}
