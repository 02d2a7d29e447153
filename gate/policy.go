package gate

import (
	"github.com/murphys7017/mk2/core"
)

// PolicyMapper resolves the final action by strict priority, then picks
// the model tier, response policy and budget. Every run produces a
// hint, including for DROP and SINK, so downstream consumers never see
// a nil budget.
type PolicyMapper struct{}

func (p *PolicyMapper) Name() string { return "policy" }

func (p *PolicyMapper) Apply(obs *core.Observation, ctx *Context, w *wip) {
	policy := ctx.Config.ScenePolicy(w.scene)
	overrides := ctx.Config.Overrides

	w.modelTier = policy.DefaultModelTier
	w.responsePolicy = policy.DefaultResponsePolicy

	switch {
	case overrides.EmergencyMode:
		w.actionHint = ActionSink
		w.modelTier = TierLow
		w.reasons = append(w.reasons, "override=emergency")

	case contains(overrides.DropSessions, obs.SessionKey):
		w.actionHint = ActionDrop
		w.reasons = append(w.reasons, "override=drop_session")

	case contains(overrides.DropActors, obs.Actor.ActorID):
		w.actionHint = ActionDrop
		w.reasons = append(w.reasons, "override=drop_actor")

	case w.actionHint == ActionDrop:
		// Preserve hard bypass.

	case w.actionHint == "" && obs.ObsType == core.ObsMessage &&
		obs.Actor.ActorType == core.ActorUser && !obs.AgentSourced():
		// User dialogue safety valve: real user messages always reach
		// the handler unless dropped or deduplicated upstream.
		w.actionHint = ActionDeliver
		w.reasons = append(w.reasons, "user_dialogue_safe_valve")

	case w.actionHint != "":
		// Preserve dedup SINK.

	case contains(overrides.DeliverSessions, obs.SessionKey) && !obs.AgentSourced():
		w.actionHint = ActionDeliver
		w.reasons = append(w.reasons, "override=deliver_session")

	case contains(overrides.DeliverActors, obs.Actor.ActorID) && !obs.AgentSourced():
		w.actionHint = ActionDeliver
		w.reasons = append(w.reasons, "override=deliver_actor")

	case obs.ObsType == core.ObsMessage:
		w.actionHint = ActionDeliver

	case w.score >= policy.DeliverThreshold:
		w.actionHint = ActionDeliver

	case w.score >= policy.SinkThreshold:
		w.actionHint = ActionSink

	default:
		w.actionHint = policy.DefaultAction
	}

	if w.actionHint == ActionDeliver && overrides.ForceLowModel {
		w.modelTier = TierLow
		w.reasons = append(w.reasons, "override=force_low_model")
	}

	budget := ctx.Config.SelectBudget(w.score, w.scene)
	w.hint = &Hint{
		ModelTier:      w.modelTier,
		ResponsePolicy: w.responsePolicy,
		Budget:         budget,
		ReasonTags:     append([]string(nil), w.reasons...),
	}
	w.trace(ctx, p.Name(), w.actionHint)
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
