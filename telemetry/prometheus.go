// Package telemetry provides the core.Telemetry implementations: a
// Prometheus counter sink and an OpenTelemetry bridge. The runtime
// records generic name/value/labels metrics; the sinks own the export
// format.
package telemetry

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/murphys7017/mk2/core"
)

// PrometheusSink implements core.Telemetry on a Prometheus registry.
// Counters are created lazily per metric name, keyed by the sorted
// label names seen on first use.
type PrometheusSink struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	logger   core.Logger
}

// NewPrometheusSink creates a sink with its own registry.
func NewPrometheusSink(logger core.Logger) *PrometheusSink {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PrometheusSink{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec),
		logger:   logger,
	}
}

// RecordMetric adds value to the named counter.
func (s *PrometheusSink) RecordMetric(name string, value float64, labels map[string]string) {
	s.mu.Lock()
	vec, ok := s.counters[name]
	if !ok {
		keys := labelKeys(labels)
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitizeName(name),
			Help: name,
		}, keys)
		if err := s.registry.Register(vec); err != nil {
			s.mu.Unlock()
			s.logger.Warn("Metric registration failed", map[string]interface{}{
				"metric": name,
				"error":  err.Error(),
			})
			return
		}
		s.counters[name] = vec
	}
	s.mu.Unlock()

	if labels == nil {
		labels = map[string]string{}
	}
	counter, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		// Label set drifted from first registration; drop rather than panic.
		s.logger.Debug("Metric label mismatch", map[string]interface{}{
			"metric": name,
			"error":  err.Error(),
		})
		return
	}
	counter.Add(value)
}

// Handler exposes the registry for scraping.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sanitizeName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}
