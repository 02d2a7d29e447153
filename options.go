package mk2

import (
	"time"

	"github.com/murphys7017/mk2/agent"
	"github.com/murphys7017/mk2/core"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger core.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTelemetry sets the metric sink.
func WithTelemetry(t core.Telemetry) Option {
	return func(r *Runtime) {
		if t != nil {
			r.telemetry = t
		}
	}
}

// WithAgent sets the handler for delivered observations.
func WithAgent(a agent.Agent) Option {
	return func(r *Runtime) {
		if a != nil {
			r.agent = a
		}
	}
}

// WithMemory sets the memory service. Defaults to NoOpMemory.
func WithMemory(m core.MemoryService) Option {
	return func(r *Runtime) {
		if m != nil {
			r.memory = m
		}
	}
}

// WithGateConfigPath points the config provider at a gate.yaml to
// hot-reload.
func WithGateConfigPath(path string) Option {
	return func(r *Runtime) { r.gateConfigPath = path }
}

// WithInputAdapter registers an input adapter started with the runtime.
func WithInputAdapter(a core.InputAdapter) Option {
	return func(r *Runtime) {
		if a != nil {
			r.inputs = append(r.inputs, a)
		}
	}
}

// WithDefaultOutput registers the fallback egress adapter.
func WithDefaultOutput(a core.OutputAdapter) Option {
	return func(r *Runtime) { r.defaultOutput = a }
}

// WithIdleTTL overrides the session GC idle threshold.
func WithIdleTTL(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithGCInterval overrides the GC sweep interval.
func WithGCInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.gcInterval = d
		}
	}
}

// WithGCDisabled turns the session GC loop off.
func WithGCDisabled() Option {
	return func(r *Runtime) { r.gcEnabled = false }
}

// WithWatcherInterval overrides the worker watcher tick.
func WithWatcherInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.watcherInterval = d
		}
	}
}

// WithFanout installs an optional broadcast hook run on schedule ticks
// when fan-out is not suppressed.
func WithFanout(fn func(now time.Time)) Option {
	return func(r *Runtime) { r.fanout = fn }
}
