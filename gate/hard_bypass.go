package gate

import (
	"strings"
	"sync"
	"time"

	"github.com/murphys7017/mk2/core"
)

// dropMonitor tracks DROP decisions in a sliding window plus a
// consecutive counter. Either threshold crossing means the gate is
// shedding load fast enough that the system session should hear about
// it. The monitor is shared by every session worker, so its state is
// mutex-guarded like the pools.
type dropMonitor struct {
	mu          sync.Mutex
	timestamps  []time.Time
	consecutive int
}

func (m *dropMonitor) recordDrop(now time.Time, cfg DropEscalation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timestamps = append(m.timestamps, now)
	m.consecutive++
	cutoff := now.Add(-time.Duration(cfg.BurstWindowSec * float64(time.Second)))
	i := 0
	for i < len(m.timestamps) && m.timestamps[i].Before(cutoff) {
		i++
	}
	m.timestamps = m.timestamps[i:]
	return len(m.timestamps) >= cfg.BurstCountThreshold || m.consecutive >= cfg.ConsecutiveThreshold
}

func (m *dropMonitor) resetConsecutive() {
	m.mu.Lock()
	m.consecutive = 0
	m.mu.Unlock()
}

// HardBypass is the overload guard: it drops before any scoring cost is
// paid and escalates sustained drop bursts to the system session.
type HardBypass struct {
	monitor *dropMonitor
}

func NewHardBypass() *HardBypass { return &HardBypass{monitor: &dropMonitor{}} }

func (h *HardBypass) Name() string { return "hard_bypass" }

func (h *HardBypass) Apply(obs *core.Observation, ctx *Context, w *wip) {
	cfg := ctx.Config.DropEscalation

	if ctx.SystemHealth != nil && ctx.SystemHealth.Overload {
		w.actionHint = ActionDrop
		w.hardDrop = true
		w.reasons = append(w.reasons, "system_overload")
		w.emit = append(w.emit, core.MakePainAlert(
			"system", "gate_overload", core.SeverityHigh, "gate overload, shedding input",
			core.WithPainData(map[string]any{"cooldown_seconds": cfg.CooldownSuggestSec}),
		))
		return
	}

	// Alerts are never dropped here and break any consecutive streak.
	if obs.ObsType == core.ObsAlert {
		h.monitor.resetConsecutive()
		return
	}

	if obs.ObsType == core.ObsMessage {
		if mp := obs.Message(); mp != nil {
			if strings.TrimSpace(mp.Text) == "" && len(mp.Attachments) == 0 {
				w.actionHint = ActionDrop
				w.hardDrop = true
				w.reasons = append(w.reasons, "empty_content")
			}
		}
	}

	if w.actionHint == ActionDrop {
		if h.monitor.recordDrop(ctx.Now, cfg) {
			w.tags["drop_burst"] = "true"
			w.emit = append(w.emit, core.MakePainAlert(
				"gate", "drop_burst", core.SeverityHigh, "drop burst detected",
				core.WithPainData(map[string]any{
					"burst_window_sec":      cfg.BurstWindowSec,
					"burst_count_threshold": cfg.BurstCountThreshold,
					"consecutive_threshold": cfg.ConsecutiveThreshold,
					"cooldown_seconds":      cfg.CooldownSuggestSec,
				}),
			))
		}
	} else {
		h.monitor.resetConsecutive()
	}
	w.trace(ctx, h.Name(), w.actionHint)
}
