// Package mk2 is the composition root of the MK2 dispatch runtime: it
// wires the input bus, session router, gate pipeline, reflex
// controller, egress hub and memory hooks into one event loop and owns
// every background goroutine.
package mk2

import (
	"context"
	"sync"
	"time"

	"github.com/murphys7017/mk2/agent"
	"github.com/murphys7017/mk2/core"
	"github.com/murphys7017/mk2/gate"
	"github.com/murphys7017/mk2/reflex"
)

// Orchestration defaults.
const (
	DefaultIdleTTL         = 600 * time.Second
	DefaultGCInterval      = 30 * time.Second
	DefaultWatcherInterval = 50 * time.Millisecond
	DefaultEgressQueueSize = 256

	gcCancelWait          = 1 * time.Second
	shutdownDeadline      = 1500 * time.Millisecond
	egressDispatchTimeout = 2 * time.Second
	minSessionsToGC       = 1
)

// sessionWorker tracks one running session goroutine.
type sessionWorker struct {
	key    string
	state  *core.SessionState
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *sessionWorker) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Runtime is the MK2 core: one instance per process.
type Runtime struct {
	logger    core.Logger
	telemetry core.Telemetry
	agent     agent.Agent
	memory    core.MemoryService

	gateConfigPath string
	inputs         []core.InputAdapter
	defaultOutput  core.OutputAdapter

	idleTTL         time.Duration
	gcInterval      time.Duration
	watcherInterval time.Duration
	gcEnabled       bool
	fanout          func(now time.Time)

	bus      *core.InputBus
	router   *core.SessionRouter
	provider *gate.ConfigProvider
	gate     *gate.Gate
	reflex   *reflex.Controller
	egress   *core.EgressHub
	metrics  *core.RuntimeMetrics

	mu      sync.Mutex
	started bool
	workers map[string]*sessionWorker

	egressCh chan *core.Observation

	// Nociception state. Written by the system session worker, read by
	// observers (tests, health surfaces).
	painMu              sync.Mutex
	painEvents          map[string][]time.Time
	adapterCooldowns    map[string]time.Time
	fanoutSuppressUntil time.Time
	lastDropTotal       int64
	lastDropCheck       time.Time

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a runtime. Components not configured fall back to no-op
// implementations; the zero-option runtime is fully functional for
// tests.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		logger:           &core.NoOpLogger{},
		telemetry:        &core.NoOpTelemetry{},
		memory:           &core.NoOpMemory{},
		idleTTL:          DefaultIdleTTL,
		gcInterval:       DefaultGCInterval,
		watcherInterval:  DefaultWatcherInterval,
		gcEnabled:        true,
		workers:          make(map[string]*sessionWorker),
		painEvents:       make(map[string][]time.Time),
		adapterCooldowns: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.bus = core.NewInputBus(core.DefaultBusCapacity)
	r.router = core.NewSessionRouter(r.bus, core.DefaultInboxCapacity, core.SystemSessionKey)
	r.provider = gate.NewConfigProvider(r.gateConfigPath, r.logger)
	r.gate = gate.New(r.telemetry, r.logger)
	r.reflex = reflex.NewController(r.provider, r.logger)
	r.egress = core.NewEgressHub()
	r.metrics = core.NewRuntimeMetrics(r.telemetry)
	r.egressCh = make(chan *core.Observation, DefaultEgressQueueSize)

	if r.defaultOutput != nil {
		r.egress.RegisterDefault(r.defaultOutput)
	}
	return r
}

// Accessors for embedding code and tests.

func (r *Runtime) Bus() *core.InputBus                  { return r.bus }
func (r *Runtime) Router() *core.SessionRouter          { return r.router }
func (r *Runtime) ConfigProvider() *gate.ConfigProvider { return r.provider }
func (r *Runtime) Gate() *gate.Gate                     { return r.gate }
func (r *Runtime) Reflex() *reflex.Controller           { return r.reflex }
func (r *Runtime) EgressHub() *core.EgressHub           { return r.egress }
func (r *Runtime) Metrics() *core.RuntimeMetrics        { return r.metrics }

// Publish pushes one observation onto the bus. Adapters get this as
// their publish function.
func (r *Runtime) Publish(obs *core.Observation) core.PublishResult {
	return r.bus.Publish(obs)
}

// Start launches the background loops and input adapters.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return core.NewCoreError("runtime.Start", "runtime", core.ErrAlreadyStarted)
	}
	r.started = true
	r.mu.Unlock()

	r.rootCtx, r.cancel = context.WithCancel(context.Background())

	// The system session always exists so pain, control and schedule
	// traffic has a worker from the first tick.
	r.router.Inbox(core.SystemSessionKey)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.router.Run()
	}()

	r.wg.Add(1)
	go r.watcherLoop()

	// Filesystem events tighten config reload latency; per-observation
	// polling still covers the case where the watcher cannot start.
	if r.gateConfigPath != "" {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.provider.Watch(r.rootCtx); err != nil {
				r.logger.Warn("Gate config watcher unavailable, polling only", map[string]interface{}{
					"path":  r.gateConfigPath,
					"error": err.Error(),
				})
			}
		}()
	}

	if r.gcEnabled {
		r.wg.Add(1)
		go r.gcLoop()
	}

	r.wg.Add(1)
	go r.egressLoop()

	for _, in := range r.inputs {
		if err := in.Start(r.Publish); err != nil {
			r.logger.Error("Input adapter failed to start", map[string]interface{}{
				"adapter": in.Name(),
				"error":   err.Error(),
			})
		}
	}

	r.logger.Info("Runtime started", map[string]interface{}{
		"inputs":           len(r.inputs),
		"gate_config_path": r.gateConfigPath,
		"gc_enabled":       r.gcEnabled,
	})
	_ = ctx
	return nil
}

// Stop shuts the runtime down: inputs first, then the bus (letting the
// router drain), then all loops under a bounded deadline, then memory.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return core.NewCoreError("runtime.Stop", "runtime", core.ErrNotStarted)
	}
	r.started = false
	r.mu.Unlock()

	for _, in := range r.inputs {
		if err := in.Stop(); err != nil {
			r.logger.Warn("Input adapter stop failed", map[string]interface{}{
				"adapter": in.Name(),
				"error":   err.Error(),
			})
		}
	}

	r.bus.Close()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	deadline := shutdownDeadline
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < deadline {
			deadline = until
		}
	}
	select {
	case <-done:
	case <-time.After(deadline):
		r.logger.Warn("Shutdown deadline exceeded, abandoning remaining tasks", map[string]interface{}{
			"deadline_ms": deadline.Milliseconds(),
		})
	}

	if err := r.memory.Close(); err != nil {
		r.logger.Warn("Memory service close failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	r.logger.Info("Runtime stopped", nil)
	return nil
}

// watcherLoop guarantees every active session has a live worker. It is
// what revives a GC'd session on its next event.
func (r *Runtime) watcherLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.watcherInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.rootCtx.Done():
			return
		case <-ticker.C:
			for _, key := range r.router.ListActiveSessions() {
				r.ensureWorker(key)
			}
		}
	}
}

func (r *Runtime) ensureWorker(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[key]; ok && !w.finished() {
		return
	}

	ctx, cancel := context.WithCancel(r.rootCtx)
	w := &sessionWorker{
		key:    key,
		state:  core.NewSessionState(key),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.workers[key] = w

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(w.done)
		r.sessionLoop(ctx, w)
	}()
}

// sessionLoop is the per-session worker: the only writer of its state.
// An observation is fully processed before the next one is dequeued.
func (r *Runtime) sessionLoop(ctx context.Context, w *sessionWorker) {
	inbox := r.router.Inbox(w.key)
	for {
		select {
		case <-ctx.Done():
			return
		case obs := <-inbox.C():
			r.processObs(ctx, w, obs)
		}
	}
}

func (r *Runtime) processObs(ctx context.Context, w *sessionWorker, obs *core.Observation) {
	w.state.Record(obs)

	if core.ShouldEgress(obs) {
		select {
		case r.egressCh <- obs:
			r.metrics.IncEgress(false)
		default:
			r.metrics.IncEgress(true)
			r.logger.Warn("Egress queue full, dropping deliverable", map[string]interface{}{
				"session": w.key,
				"obs_id":  obs.ObsID,
			})
		}
	}

	if _, err := r.provider.ReloadIfChanged(); err != nil {
		r.logger.Debug("Config reload check failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	gctx := &gate.Context{
		Now:              time.Now().UTC(),
		Config:           r.provider.Get(),
		SystemSessionKey: core.SystemSessionKey,
		Metrics:          r.gate.Metrics,
		SessionState:     w.state,
	}
	outcome := r.gate.Handle(obs, gctx)

	for _, emit := range outcome.Emit {
		r.bus.Publish(emit)
	}
	for _, ingest := range outcome.Ingest {
		r.gate.Ingest(ingest, outcome.Decision)
	}

	// Archive every non-system observation, fail-open.
	if w.key != core.SystemSessionKey {
		if eventID, err := r.memory.AppendEvent(ctx, obs); err != nil {
			r.logger.Warn("Memory append failed", map[string]interface{}{
				"session": w.key,
				"error":   err.Error(),
			})
		} else if eventID != "" {
			obs.Metadata[core.MemoryEventIDKey] = eventID
		}
	}

	r.metrics.IncProcessed(w.key)

	// System-session traffic is dispatched regardless of the gate
	// verdict: control and schedule observations drive the reflex
	// controller and maintenance loops even when they get sunk.
	if w.key == core.SystemSessionKey {
		r.handleSystemObs(obs)
		return
	}

	if outcome.Decision.Action != gate.ActionDeliver {
		return
	}
	r.handleUserObs(ctx, w, obs, outcome.Decision)
}

// handleUserObs invokes the agent for delivered user traffic. Events
// the agent itself emitted never come back to it.
func (r *Runtime) handleUserObs(ctx context.Context, w *sessionWorker, obs *core.Observation, decision gate.Decision) {
	if obs.AgentSourced() {
		return
	}
	if obs.ObsType != core.ObsMessage || r.agent == nil {
		return
	}

	turnID := ""
	if eventID, ok := obs.Metadata[core.MemoryEventIDKey].(string); ok && eventID != "" {
		id, err := r.memory.StartTurn(ctx, w.key, eventID)
		if err != nil {
			r.logger.Warn("Memory start turn failed", map[string]interface{}{
				"session": w.key,
				"error":   err.Error(),
			})
		} else {
			turnID = id
		}
	}

	req := &agent.Request{
		Obs:          obs,
		Decision:     decision,
		SessionState: w.state,
		Now:          time.Now().UTC(),
		Hint:         decision.Hint,
	}
	result, err := r.agent.Handle(ctx, req)
	if err != nil {
		w.state.RecordError()
		r.metrics.IncError(w.key)
		r.logger.Error("Agent call failed", map[string]interface{}{
			"session": w.key,
			"obs_id":  obs.ObsID,
			"error":   err.Error(),
		})
		r.finishTurn(ctx, turnID, "error", err.Error(), "")
		return
	}

	finalObsID := ""
	for _, emit := range result.Emit {
		if pub := r.bus.Publish(emit); pub.OK && finalObsID == "" {
			finalObsID = emit.ObsID
		}
	}
	r.finishTurn(ctx, turnID, "ok", "", finalObsID)
}

func (r *Runtime) finishTurn(ctx context.Context, turnID, status, errMsg, finalObsID string) {
	if turnID == "" {
		return
	}
	if err := r.memory.FinishTurn(ctx, turnID, status, errMsg, finalObsID); err != nil {
		r.logger.Warn("Memory finish turn failed", map[string]interface{}{
			"turn_id": turnID,
			"error":   err.Error(),
		})
	}
}

// handleSystemObs dispatches system-session traffic: pain
// aggregation, reflex control and scheduled maintenance. Override TTLs
// are evaluated on every system observation.
func (r *Runtime) handleSystemObs(obs *core.Observation) {
	now := time.Now().UTC()

	for _, emit := range r.reflex.EvaluateTTL(now) {
		r.bus.Publish(emit)
	}

	switch obs.ObsType {
	case core.ObsAlert:
		r.aggregatePain(obs, now)
	case core.ObsControl:
		if cp := obs.Control(); cp != nil && cp.Kind == core.ControlTuningSuggestion {
			for _, emit := range r.reflex.HandleSuggestion(obs, now) {
				r.bus.Publish(emit)
			}
		}
	case core.ObsSchedule:
		r.inspectDropOverload(now)
		r.runFanout(now)
	}
}

// aggregatePain updates the sliding window for the alert's aggregation
// key and, on a burst, cools the offending adapter down and suppresses
// fan-out.
func (r *Runtime) aggregatePain(obs *core.Observation, now time.Time) {
	painKey := core.ExtractPainKey(obs)
	severity := core.ExtractPainSeverity(obs)
	r.metrics.IncPain(painKey, severity)

	r.painMu.Lock()
	defer r.painMu.Unlock()

	cutoff := now.Add(-core.PainWindowSeconds * time.Second)
	events := append(r.painEvents[painKey], now)
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	events = events[i:]
	r.painEvents[painKey] = events

	if len(events) < core.PainBurstThreshold {
		return
	}

	ap := obs.Alert()
	sourceID := "unknown"
	if ap != nil && ap.SourceID != "" {
		sourceID = ap.SourceID
	}

	// One cooldown per burst: a key already cooling down does not
	// re-trigger on every further alert in the window.
	if until, active := r.adapterCooldowns[sourceID]; active && now.Before(until) {
		return
	}

	r.adapterCooldowns[sourceID] = now.Add(core.AdapterCooldownSeconds * time.Second)
	r.fanoutSuppressUntil = now.Add(core.FanoutSuppressSeconds * time.Second)
	r.metrics.IncAdapterCooldown()
	r.painEvents[painKey] = nil

	r.logger.Warn("Pain burst detected, adapter cooling down", map[string]interface{}{
		"pain_key":         painKey,
		"source_id":        sourceID,
		"cooldown_seconds": core.AdapterCooldownSeconds,
	})

	burst := core.MakePainAlert("system", "pain_burst", core.SeverityHigh,
		"pain burst for "+painKey,
		core.WithPainData(map[string]any{
			"pain_key":         painKey,
			"burst_count":      len(events),
			"cooldown_seconds": core.AdapterCooldownSeconds,
		}))
	r.bus.Publish(burst)
}

// inspectDropOverload compares drop totals between ticks and raises a
// system pain alert when drops spike.
func (r *Runtime) inspectDropOverload(now time.Time) {
	total := r.bus.DroppedTotal() + r.router.DroppedTotal()

	r.painMu.Lock()
	delta := total - r.lastDropTotal
	withinWindow := !r.lastDropCheck.IsZero() && now.Sub(r.lastDropCheck) <= core.DropWindowSeconds*time.Second
	r.lastDropTotal = total
	r.lastDropCheck = now

	if delta < core.DropBurstThreshold || !withinWindow {
		r.painMu.Unlock()
		return
	}
	r.fanoutSuppressUntil = now.Add(core.FanoutSuppressSeconds * time.Second)
	r.painMu.Unlock()

	r.metrics.IncDropsOverload()
	r.logger.Error("Drop overload detected", map[string]interface{}{
		"dropped_delta": delta,
	})
	r.bus.Publish(core.MakePainAlert("system", "drop_overload", core.SeverityHigh,
		"drop overload detected",
		core.WithPainData(map[string]any{"dropped_delta": delta})))
}

func (r *Runtime) runFanout(now time.Time) {
	if r.fanout == nil {
		return
	}
	r.painMu.Lock()
	suppressed := now.Before(r.fanoutSuppressUntil)
	r.painMu.Unlock()
	if suppressed {
		r.metrics.IncFanoutSkipped()
		return
	}
	r.fanout(now)
}

// AdapterCooldownUntil reports the cooldown deadline for a source id,
// if one is active.
func (r *Runtime) AdapterCooldownUntil(sourceID string) (time.Time, bool) {
	r.painMu.Lock()
	defer r.painMu.Unlock()
	until, ok := r.adapterCooldowns[sourceID]
	return until, ok
}

// FanoutSuppressedUntil reports the current fan-out suppression
// deadline.
func (r *Runtime) FanoutSuppressedUntil() time.Time {
	r.painMu.Lock()
	defer r.painMu.Unlock()
	return r.fanoutSuppressUntil
}

// SessionState returns a session's state, if a worker exists for it.
func (r *Runtime) SessionState(key string) (*core.SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[key]
	if !ok {
		return nil, false
	}
	return w.state, true
}

// gcLoop removes idle sessions: cancel the worker with a bounded wait,
// drop the state, remove the router inbox. The system session is never
// collected.
func (r *Runtime) gcLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.rootCtx.Done():
			return
		case <-ticker.C:
			r.sweepIdleSessions()
		}
	}
}

func (r *Runtime) sweepIdleSessions() {
	r.mu.Lock()
	candidates := make([]*sessionWorker, 0)
	for key, w := range r.workers {
		if key == core.SystemSessionKey {
			continue
		}
		if idle := w.state.IdleSeconds(); idle >= r.idleTTL.Seconds() {
			candidates = append(candidates, w)
		}
	}
	r.mu.Unlock()

	if len(candidates) < minSessionsToGC {
		return
	}

	for _, w := range candidates {
		w.cancel()
		select {
		case <-w.done:
		case <-time.After(gcCancelWait):
			// Abandon the worker; the session is removed regardless and
			// a later event recreates everything.
		}

		r.mu.Lock()
		delete(r.workers, w.key)
		r.mu.Unlock()
		r.router.RemoveSession(w.key)
		r.metrics.IncGC("idle")
		r.logger.Info("Session garbage collected", map[string]interface{}{
			"session": w.key,
		})
	}
}

// egressLoop is the single consumer of the egress queue.
func (r *Runtime) egressLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.rootCtx.Done():
			return
		case obs := <-r.egressCh:
			ctx, cancel := context.WithTimeout(context.Background(), egressDispatchTimeout)
			if err := r.egress.Dispatch(ctx, obs); err != nil {
				r.logger.Warn("Egress dispatch failed", map[string]interface{}{
					"session": obs.SessionKey,
					"obs_id":  obs.ObsID,
					"error":   err.Error(),
				})
			}
			cancel()
		}
	}
}
