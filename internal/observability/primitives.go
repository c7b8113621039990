package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Minimal Prometheus text-format collectors. Series are written in label
// order so scrapes are stable.

type collector interface {
	WritePrometheus(w io.Writer) error
}

type family struct {
	name   string
	help   string
	kind   string
	labels []string
}

func (f family) header(w io.Writer) error {
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
	return err
}

func (f family) key(values []string) string {
	if len(f.labels) == 0 {
		return ""
	}
	parts := make([]string, len(f.labels))
	for i, name := range f.labels {
		v := "unknown"
		if i < len(values) && values[i] != "" {
			v = values[i]
		}
		parts[i] = fmt.Sprintf("%s=%q", name, v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CounterVec is a monotonically increasing value per label set. GaugeVec
// shares the storage with a different TYPE line.
type CounterVec struct {
	family
	mu     sync.Mutex
	values map[string]float64
}

func NewCounterVec(name, help string, labels ...string) *CounterVec {
	return &CounterVec{family: family{name: name, help: help, kind: "counter", labels: labels}, values: map[string]float64{}}
}

func (c *CounterVec) Add(v float64, labels ...string) {
	if c == nil {
		return
	}
	k := c.key(labels)
	c.mu.Lock()
	c.values[k] += v
	c.mu.Unlock()
}

func (c *CounterVec) Inc(labels ...string) { c.Add(1, labels...) }

func (c *CounterVec) Value(labels ...string) float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[c.key(labels)]
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if err := c.header(w); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range sortedKeys(c.values) {
		if _, err := fmt.Fprintf(w, "%s%s %g\n", c.name, k, c.values[k]); err != nil {
			return err
		}
	}
	return nil
}

type GaugeVec struct{ CounterVec }

func NewGaugeVec(name, help string, labels ...string) *GaugeVec {
	g := &GaugeVec{CounterVec{family: family{name: name, help: help, kind: "gauge", labels: labels}, values: map[string]float64{}}}
	return g
}

func (g *GaugeVec) Set(v float64, labels ...string) {
	if g == nil {
		return
	}
	k := g.key(labels)
	g.mu.Lock()
	g.values[k] = v
	g.mu.Unlock()
}

type HistogramVec struct {
	family
	buckets []float64
	mu      sync.Mutex
	series  map[string]*histogram
}

type histogram struct {
	counts []uint64 // cumulative per bucket, then +Inf
	sum    float64
}

func NewHistogramVec(name, help string, buckets []float64, labels ...string) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{
		family:  family{name: name, help: help, kind: "histogram", labels: labels},
		buckets: buckets,
		series:  map[string]*histogram{},
	}
}

func (h *HistogramVec) Observe(v float64, labels ...string) {
	if h == nil {
		return
	}
	k := h.key(labels)
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[k]
	if !ok {
		s = &histogram{counts: make([]uint64, len(h.buckets)+1)}
		h.series[k] = s
	}
	s.sum += v
	for i, b := range h.buckets {
		if v <= b {
			s.counts[i]++
		}
	}
	s.counts[len(h.buckets)]++
}

func (h *HistogramVec) Count(labels ...string) uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.series[h.key(labels)]; ok {
		return s.counts[len(h.buckets)]
	}
	return 0
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if err := h.header(w); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range sortedKeys(h.series) {
		s := h.series[k]
		for i, b := range h.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), s.counts[i]); err != nil {
				return err
			}
		}
		total := s.counts[len(h.buckets)]
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n%s_sum%s %g\n%s_count%s %d\n",
			h.name, withLe(k, "+Inf"), total, h.name, k, s.sum, h.name, k, total); err != nil {
			return err
		}
	}
	return nil
}

func withLe(labels, le string) string {
	if labels == "" {
		return `{le="` + le + `"}`
	}
	return strings.TrimSuffix(labels, "}") + `,le="` + le + `"}`
}
