package gate

import (
	"fmt"

	"github.com/murphys7017/mk2/core"
)

// Pipeline runs the fixed stage order. A stage panic is recovered,
// recorded as a reason, and the run continues; a decision always comes
// out the other end.
type Pipeline struct {
	stages  []Stage
	metrics *Metrics
}

// NewPipeline builds the standard seven-stage pipeline. metrics may be
// nil.
func NewPipeline(metrics *Metrics) *Pipeline {
	return &Pipeline{
		metrics: metrics,
		stages: []Stage{
			&SceneInferencer{},
			NewHardBypass(),
			&FeatureExtractor{},
			&ScoringStage{},
			NewDeduplicator(),
			&PolicyMapper{},
			&FinalizeStage{},
		},
	}
}

// Run executes all stages and returns the outcome.
func (p *Pipeline) Run(obs *core.Observation, ctx *Context) *Outcome {
	w := newWip()
	for _, stage := range p.stages {
		p.runStage(stage, obs, ctx, w)
	}
	if w.outcome == nil {
		// Finalize itself failed; synthesize the conservative default.
		w.outcome = &Outcome{
			Decision: Decision{
				Action:     ActionSink,
				Scene:      SceneUnknown,
				SessionKey: obs.SessionKey,
				Reasons:    w.reasons,
				Tags:       w.tags,
			},
			Emit:   w.emit,
			Ingest: append(w.ingest, obs),
		}
	}
	return w.outcome
}

func (p *Pipeline) runStage(stage Stage, obs *core.Observation, ctx *Context, w *wip) {
	defer func() {
		if r := recover(); r != nil {
			w.reasons = append(w.reasons, fmt.Sprintf("%s_error:%v", stage.Name(), r))
			if p.metrics != nil {
				p.metrics.RecordStageError(stage.Name())
			}
		}
	}()
	stage.Apply(obs, ctx, w)
}
