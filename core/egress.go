package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// EgressHub routes delivered observations to output sinks, by session
// key with a default fallback. The hub never blocks or aborts the
// dispatch path: a missing adapter is a counted drop, a failing adapter
// is the caller's (logged, swallowed) problem.
type EgressHub struct {
	mu       sync.RWMutex
	byKey    map[string]OutputAdapter
	fallback OutputAdapter

	dispatchedTotal atomic.Int64
	droppedTotal    atomic.Int64
}

// NewEgressHub creates an empty hub.
func NewEgressHub() *EgressHub {
	return &EgressHub{byKey: make(map[string]OutputAdapter)}
}

// RegisterDefault sets the fallback adapter.
func (h *EgressHub) RegisterDefault(adapter OutputAdapter) {
	h.mu.Lock()
	h.fallback = adapter
	h.mu.Unlock()
}

// RegisterSession binds an adapter to one session key.
func (h *EgressHub) RegisterSession(sessionKey string, adapter OutputAdapter) {
	h.mu.Lock()
	h.byKey[sessionKey] = adapter
	h.mu.Unlock()
}

// ShouldEgress reports whether an observation is an egress candidate:
// agent-emitted MESSAGEs (deliverables to the outside world) and
// system_mode_changed CONTROL notifications.
func ShouldEgress(obs *Observation) bool {
	switch obs.ObsType {
	case ObsMessage:
		return obs.AgentSourced()
	case ObsControl:
		cp := obs.Control()
		return cp != nil && cp.Kind == ControlSystemModeChanged
	default:
		return false
	}
}

// Dispatch delivers one observation: session-bound adapter first, then
// the default. With neither registered the observation is dropped and
// counted.
func (h *EgressHub) Dispatch(ctx context.Context, obs *Observation) error {
	h.mu.RLock()
	adapter := h.byKey[obs.SessionKey]
	if adapter == nil {
		adapter = h.fallback
	}
	h.mu.RUnlock()

	if adapter == nil {
		h.droppedTotal.Add(1)
		return NewCoreError("egress.Dispatch", "egress", ErrNoOutputAdapter)
	}
	if err := adapter.Send(ctx, obs); err != nil {
		return NewCoreError("egress.Dispatch", "egress", err)
	}
	h.dispatchedTotal.Add(1)
	return nil
}

// DispatchedTotal returns the count of successful dispatches.
func (h *EgressHub) DispatchedTotal() int64 { return h.dispatchedTotal.Load() }

// DroppedTotal returns the count of observations with no adapter.
func (h *EgressHub) DroppedTotal() int64 { return h.droppedTotal.Load() }
