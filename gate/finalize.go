package gate

import (
	"github.com/murphys7017/mk2/core"
)

// FinalizeStage assembles the decision and outcome. Indeterminate
// actions collapse to SINK so the worker never sees an undecided
// observation.
type FinalizeStage struct{}

func (f *FinalizeStage) Name() string { return "finalize" }

func (f *FinalizeStage) Apply(obs *core.Observation, ctx *Context, w *wip) {
	scene := w.scene
	if scene == "" {
		scene = SceneUnknown
	}
	action := w.actionHint
	if action == "" {
		action = ActionSink
	}
	if w.fingerprint == "" {
		w.fingerprint = Fingerprint(obs, scene)
	}

	policy := ctx.Config.ScenePolicy(scene)
	reasons := w.reasons
	if policy.MaxReasons > 0 && len(reasons) > policy.MaxReasons {
		reasons = reasons[:policy.MaxReasons]
	}

	hint := Hint{ModelTier: w.modelTier, ResponsePolicy: w.responsePolicy}
	if w.hint != nil {
		hint = *w.hint
	}

	targetWorker := ""
	if scene == SceneSystem {
		targetWorker = ctx.SystemSessionKey
	}

	decision := Decision{
		Action:       action,
		Scene:        scene,
		SessionKey:   obs.SessionKey,
		TargetWorker: targetWorker,
		Score:        w.score,
		Reasons:      reasons,
		Tags:         w.tags,
		Fingerprint:  w.fingerprint,
		Hint:         hint,
	}

	// Delivered observations move on whole; everything else (and tool
	// results, which are archived even when delivered) lands in a pool.
	ingest := w.ingest
	if action != ActionDeliver || scene == SceneToolResult {
		ingest = append(ingest, obs)
	}

	w.outcome = &Outcome{Decision: decision, Emit: w.emit, Ingest: ingest}

	if ctx.Metrics != nil {
		ctx.Metrics.Record(decision)
	}
}
