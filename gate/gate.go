package gate

import (
	"github.com/murphys7017/mk2/core"
)

// Gate wraps the pipeline with its ingest pools and metrics. One Gate
// instance is shared by every session worker.
type Gate struct {
	pipeline *Pipeline
	Metrics  *Metrics

	SinkPool *Pool
	DropPool *Pool
	ToolPool *Pool

	logger core.Logger
}

// New creates a gate with the standard pipeline and default pools.
func New(telemetry core.Telemetry, logger core.Logger) *Gate {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	metrics := NewMetrics(telemetry)
	return &Gate{
		pipeline: NewPipeline(metrics),
		Metrics:  metrics,
		SinkPool: NewPool("sink", DefaultPoolCapacity),
		DropPool: NewPool("drop", DefaultPoolCapacity),
		ToolPool: NewPool("tool", DefaultPoolCapacity),
		logger:   logger,
	}
}

// Handle runs the pipeline. It never returns nil and never panics.
func (g *Gate) Handle(obs *core.Observation, ctx *Context) *Outcome {
	if ctx.Metrics == nil {
		ctx.Metrics = g.Metrics
	}
	return g.pipeline.Run(obs, ctx)
}

// Ingest routes a gated-out observation into the pool its decision
// calls for: tool scenes go to the tool pool, hard drops to the drop
// pool, everything else to the sink pool.
func (g *Gate) Ingest(obs *core.Observation, decision Decision) {
	switch {
	case decision.Scene == SceneToolCall || decision.Scene == SceneToolResult:
		g.ToolPool.Ingest(obs)
	case decision.Action == ActionDrop:
		g.DropPool.Ingest(obs)
	default:
		g.SinkPool.Ingest(obs)
	}
}
