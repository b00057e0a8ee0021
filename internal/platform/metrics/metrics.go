package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Registry renders metric families in the Prometheus text format. Families
// are created through the registry, so a name can only be claimed once.
type Registry struct {
	mu       sync.RWMutex
	families map[string]func(*strings.Builder)
}

func NewRegistry() *Registry {
	return &Registry{families: map[string]func(*strings.Builder){}}
}

func (r *Registry) add(name string, write func(*strings.Builder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.families[name]; exists {
		panic("metric family already registered: " + name)
	}
	r.families[name] = write
}

// Render returns the exposition text for all families, sorted by name.
func (r *Registry) Render() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)
	writers := make([]func(*strings.Builder), 0, len(names))
	for _, name := range names {
		writers = append(writers, r.families[name])
	}
	r.mu.RUnlock()

	var sb strings.Builder
	for _, write := range writers {
		write(&sb)
	}
	return sb.String()
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

// GaugeFunc registers a gauge sampled from fn at render time.
func (r *Registry) GaugeFunc(name, help string, fn func() float64) {
	r.add(name, func(sb *strings.Builder) {
		writeMetricHead(sb, name, "gauge", help)
		fmt.Fprintf(sb, "%s %s\n", name, floatToString(fn()))
	})
}

// CounterVec is a family of counters partitioned by label values.
type CounterVec struct {
	name, help string
	labelNames []string

	mu     sync.Mutex
	values map[string]uint64
}

// CounterVec registers a counter family with the given label names.
func (r *Registry) CounterVec(name, help string, labelNames ...string) *CounterVec {
	c := &CounterVec{name: name, help: help, labelNames: labelNames, values: map[string]uint64{}}
	r.add(name, c.write)
	return c
}

func (c *CounterVec) Inc(labelValues ...string) { c.Add(1, labelValues...) }

// Add increases the series for labelValues. A wrong label count is ignored.
func (c *CounterVec) Add(n uint64, labelValues ...string) {
	if len(labelValues) != len(c.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\xff")
	c.mu.Lock()
	c.values[key] += n
	c.mu.Unlock()
}

// Value reads one series.
func (c *CounterVec) Value(labelValues ...string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[strings.Join(labelValues, "\xff")]
}

func (c *CounterVec) write(sb *strings.Builder) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		keys = append(keys, key)
	}
	snapshot := make(map[string]uint64, len(keys))
	for _, key := range keys {
		snapshot[key] = c.values[key]
	}
	c.mu.Unlock()
	sort.Strings(keys)

	writeMetricHead(sb, c.name, "counter", c.help)
	for _, key := range keys {
		labels := make([]string, len(c.labelNames))
		for i, value := range strings.Split(key, "\xff") {
			labels[i] = c.labelNames[i] + `="` + escapeLabelValue(value) + `"`
		}
		fmt.Fprintf(sb, "%s{%s} %d\n", c.name, strings.Join(labels, ","), snapshot[key])
	}
}

func writeMetricHead(sb *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, metricType)
}

func floatToString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)

func escapeLabelValue(v string) string { return labelEscaper.Replace(v) }

// Default is the process-wide registry served on /metrics.
var Default = NewRegistry()

func NewCounterVec(name, help string, labelNames ...string) *CounterVec {
	return Default.CounterVec(name, help, labelNames...)
}

func DefaultHandler() http.Handler {
	return Default.Handler()
}

func init() {
	start := time.Now()
	Default.GaugeFunc("process_uptime_seconds", "Seconds since process start.", func() float64 {
		return time.Since(start).Seconds()
	})
	Default.GaugeFunc("go_goroutines", "Number of goroutines.", func() float64 {
		return float64(runtime.NumGoroutine())
	})
}
