package gate

import (
	"sync"

	"github.com/murphys7017/mk2/core"
)

// Metrics counts pipeline outcomes. One Gate is shared by all session
// workers, so the counters are mutex-guarded.
type Metrics struct {
	mu sync.Mutex

	ProcessedTotal int64
	ByAction       map[Action]int64
	ByScene        map[Scene]int64
	StageErrors    map[string]int64

	telemetry core.Telemetry
}

// NewMetrics creates zeroed gate metrics. telemetry may be nil.
func NewMetrics(telemetry core.Telemetry) *Metrics {
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Metrics{
		ByAction:    make(map[Action]int64),
		ByScene:     make(map[Scene]int64),
		StageErrors: make(map[string]int64),
		telemetry:   telemetry,
	}
}

// Record counts one finished pipeline run.
func (m *Metrics) Record(decision Decision) {
	m.mu.Lock()
	m.ProcessedTotal++
	m.ByAction[decision.Action]++
	m.ByScene[decision.Scene]++
	m.mu.Unlock()
	m.telemetry.RecordMetric("mk2.gate.processed", 1, map[string]string{
		"action": string(decision.Action),
		"scene":  string(decision.Scene),
	})
}

// RecordStageError counts one recovered stage failure.
func (m *Metrics) RecordStageError(stage string) {
	m.mu.Lock()
	m.StageErrors[stage]++
	m.mu.Unlock()
	m.telemetry.RecordMetric("mk2.gate.stage_errors", 1, map[string]string{"stage": stage})
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot{
		ProcessedTotal: m.ProcessedTotal,
		ByAction:       make(map[Action]int64, len(m.ByAction)),
		ByScene:        make(map[Scene]int64, len(m.ByScene)),
		StageErrors:    make(map[string]int64, len(m.StageErrors)),
	}
	for k, v := range m.ByAction {
		snap.ByAction[k] = v
	}
	for k, v := range m.ByScene {
		snap.ByScene[k] = v
	}
	for k, v := range m.StageErrors {
		snap.StageErrors[k] = v
	}
	return snap
}

// MetricsSnapshot is a point-in-time copy of gate metrics.
type MetricsSnapshot struct {
	ProcessedTotal int64
	ByAction       map[Action]int64
	ByScene        map[Scene]int64
	StageErrors    map[string]int64
}
