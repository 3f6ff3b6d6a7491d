package flowsentry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// InMemoryMetricsCollector implements MetricsCollector without external
// dependencies; ExportPrometheus makes the numbers scrapeable through the
// control API.
type InMemoryMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]map[string]int64
	gauges     map[string]map[string]float64
	histograms map[string][]float64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters:   make(map[string]map[string]int64),
		gauges:     make(map[string]map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[string]int64)
	}
	m.counters[name][makeLabelKey(labels)]++
}

func (m *InMemoryMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges[name] == nil {
		m.gauges[name] = make(map[string]float64)
	}
	m.gauges[name][makeLabelKey(labels)] = value
}

func makeLabelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

// CounterValue returns the current value of a counter, for tests and status
// endpoints.
func (m *InMemoryMetricsCollector) CounterValue(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if counters, exists := m.counters[name]; exists {
		return counters[makeLabelKey(labels)]
	}
	return 0
}

func (m *InMemoryMetricsCollector) HealthCheck() error { return nil }

// ExportPrometheus renders all metrics in the Prometheus text format.
func (m *InMemoryMetricsCollector) ExportPrometheus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out strings.Builder

	for name, labelMap := range m.counters {
		fmt.Fprintf(&out, "# TYPE %s counter\n", name)
		for labelKey, value := range labelMap {
			fmt.Fprintf(&out, "%s{%s} %d\n", name, labelKey, value)
		}
	}

	for name, labelMap := range m.gauges {
		fmt.Fprintf(&out, "# TYPE %s gauge\n", name)
		for labelKey, value := range labelMap {
			fmt.Fprintf(&out, "%s{%s} %g\n", name, labelKey, value)
		}
	}

	for name, values := range m.histograms {
		if len(values) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		fmt.Fprintf(&out, "# TYPE %s histogram\n", name)
		fmt.Fprintf(&out, "%s_sum %g\n", name, sum)
		fmt.Fprintf(&out, "%s_count %d\n", name, len(values))
	}

	return out.String()
}
