package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/murphys7017/mk2/core"
)

// OTelSink implements core.Telemetry on an OpenTelemetry meter. The
// embedding process picks the exporter; this sink only creates
// counters and records.
type OTelSink struct {
	mu       sync.Mutex
	meter    metric.Meter
	counters map[string]metric.Float64Counter
	logger   core.Logger
}

// NewOTelSink wraps a meter as a telemetry sink.
func NewOTelSink(meter metric.Meter, logger core.Logger) *OTelSink {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &OTelSink{
		meter:    meter,
		counters: make(map[string]metric.Float64Counter),
		logger:   logger,
	}
}

// RecordMetric adds value to the named counter with the given labels as
// attributes.
func (s *OTelSink) RecordMetric(name string, value float64, labels map[string]string) {
	s.mu.Lock()
	counter, ok := s.counters[name]
	if !ok {
		var err error
		counter, err = s.meter.Float64Counter(name)
		if err != nil {
			s.mu.Unlock()
			s.logger.Warn("Counter creation failed", map[string]interface{}{
				"metric": name,
				"error":  err.Error(),
			})
			return
		}
		s.counters[name] = counter
	}
	s.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

// MultiSink fans one RecordMetric out to several sinks.
type MultiSink struct {
	sinks []core.Telemetry
}

// NewMultiSink combines sinks; nil entries are skipped.
func NewMultiSink(sinks ...core.Telemetry) *MultiSink {
	out := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

func (m *MultiSink) RecordMetric(name string, value float64, labels map[string]string) {
	for _, s := range m.sinks {
		s.RecordMetric(name, value, labels)
	}
}
