package core

import (
	"sync"
)

// RuntimeMetrics holds the runtime's counters. Workers run in parallel
// goroutines, so unlike the gate metrics (single writer per pipeline
// run) these are mutex-guarded.
type RuntimeMetrics struct {
	mu sync.Mutex

	ProcessedTotal     int64
	ProcessedBySession map[string]int64
	ErrorsTotal        int64
	ErrorsBySession    map[string]int64
	SessionsGCTotal    int64
	SessionsGCByReason map[string]int64

	// Nociception
	PainTotal             int64
	PainBySource          map[string]int64
	PainBySeverity        map[string]int64
	DropsOverloadTotal    int64
	AdaptersCooldownTotal int64
	FanoutSkippedTotal    int64

	// Egress
	EgressEnqueued int64
	EgressDropped  int64

	telemetry Telemetry
}

// NewRuntimeMetrics creates zeroed metrics. telemetry may be nil.
func NewRuntimeMetrics(telemetry Telemetry) *RuntimeMetrics {
	if telemetry == nil {
		telemetry = &NoOpTelemetry{}
	}
	return &RuntimeMetrics{
		ProcessedBySession: make(map[string]int64),
		ErrorsBySession:    make(map[string]int64),
		SessionsGCByReason: make(map[string]int64),
		PainBySource:       make(map[string]int64),
		PainBySeverity:     make(map[string]int64),
		telemetry:          telemetry,
	}
}

// IncProcessed counts one processed observation for a session.
func (m *RuntimeMetrics) IncProcessed(sessionKey string) {
	m.mu.Lock()
	m.ProcessedTotal++
	m.ProcessedBySession[sessionKey]++
	m.mu.Unlock()
	m.telemetry.RecordMetric("mk2.core.processed", 1, map[string]string{"session": sessionKey})
}

// IncError counts one failed observation for a session.
func (m *RuntimeMetrics) IncError(sessionKey string) {
	m.mu.Lock()
	m.ErrorsTotal++
	m.ErrorsBySession[sessionKey]++
	m.mu.Unlock()
	m.telemetry.RecordMetric("mk2.core.errors", 1, map[string]string{"session": sessionKey})
}

// IncGC counts one garbage-collected session.
func (m *RuntimeMetrics) IncGC(reason string) {
	m.mu.Lock()
	m.SessionsGCTotal++
	m.SessionsGCByReason[reason]++
	m.mu.Unlock()
	m.telemetry.RecordMetric("mk2.core.sessions_gc", 1, map[string]string{"reason": reason})
}

// IncPain counts one pain alert.
func (m *RuntimeMetrics) IncPain(sourceKey, severity string) {
	m.mu.Lock()
	m.PainTotal++
	m.PainBySource[sourceKey]++
	m.PainBySeverity[severity]++
	m.mu.Unlock()
	m.telemetry.RecordMetric("mk2.core.pain", 1, map[string]string{"source": sourceKey, "severity": severity})
}

// IncDropsOverload counts one drop-overload detection.
func (m *RuntimeMetrics) IncDropsOverload() {
	m.mu.Lock()
	m.DropsOverloadTotal++
	m.mu.Unlock()
	m.telemetry.RecordMetric("mk2.core.drops_overload", 1, nil)
}

// IncAdapterCooldown counts one adapter cooldown activation.
func (m *RuntimeMetrics) IncAdapterCooldown() {
	m.mu.Lock()
	m.AdaptersCooldownTotal++
	m.mu.Unlock()
	m.telemetry.RecordMetric("mk2.core.adapter_cooldowns", 1, nil)
}

// IncFanoutSkipped counts one suppressed fan-out tick.
func (m *RuntimeMetrics) IncFanoutSkipped() {
	m.mu.Lock()
	m.FanoutSkippedTotal++
	m.mu.Unlock()
}

// IncEgress counts egress enqueue outcomes.
func (m *RuntimeMetrics) IncEgress(dropped bool) {
	m.mu.Lock()
	if dropped {
		m.EgressDropped++
	} else {
		m.EgressEnqueued++
	}
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of the counters, safe to read
// after the metrics keep moving.
type MetricsSnapshot struct {
	ProcessedTotal        int64
	ProcessedBySession    map[string]int64
	ErrorsTotal           int64
	ErrorsBySession       map[string]int64
	SessionsGCTotal       int64
	SessionsGCByReason    map[string]int64
	PainTotal             int64
	PainBySource          map[string]int64
	PainBySeverity        map[string]int64
	DropsOverloadTotal    int64
	AdaptersCooldownTotal int64
	FanoutSkippedTotal    int64
	EgressEnqueued        int64
	EgressDropped         int64
}

// Snapshot copies the counters under the lock.
func (m *RuntimeMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		ProcessedTotal:        m.ProcessedTotal,
		ProcessedBySession:    copyCounts(m.ProcessedBySession),
		ErrorsTotal:           m.ErrorsTotal,
		ErrorsBySession:       copyCounts(m.ErrorsBySession),
		SessionsGCTotal:       m.SessionsGCTotal,
		SessionsGCByReason:    copyCounts(m.SessionsGCByReason),
		PainTotal:             m.PainTotal,
		PainBySource:          copyCounts(m.PainBySource),
		PainBySeverity:        copyCounts(m.PainBySeverity),
		DropsOverloadTotal:    m.DropsOverloadTotal,
		AdaptersCooldownTotal: m.AdaptersCooldownTotal,
		FanoutSkippedTotal:    m.FanoutSkippedTotal,
		EgressEnqueued:        m.EgressEnqueued,
		EgressDropped:         m.EgressDropped,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
