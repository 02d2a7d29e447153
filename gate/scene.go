package gate

import (
	"strings"

	"github.com/murphys7017/mk2/core"
)

// SceneInferencer classifies the observation before any scoring runs.
// Classification is by obs type first, then session, then source: tool
// traffic is recognized by source name because tool adapters publish
// plain MESSAGE/WORLD_DATA observations.
type SceneInferencer struct{}

func (s *SceneInferencer) Name() string { return "scene" }

func (s *SceneInferencer) Apply(obs *core.Observation, ctx *Context, w *wip) {
	switch {
	case obs.ObsType == core.ObsAlert:
		w.scene = SceneAlert
	case obs.SessionKey == ctx.SystemSessionKey,
		obs.ObsType == core.ObsSystem,
		obs.ObsType == core.ObsControl,
		obs.ObsType == core.ObsSchedule:
		w.scene = SceneSystem
	case obs.ObsType == core.ObsMessage && obs.Actor.ActorType == core.ActorUser:
		w.scene = SceneDialogue
	case strings.Contains(strings.ToLower(obs.SourceName), "tool"):
		w.scene = toolScene(obs)
	case obs.ObsType == core.ObsMessage:
		w.scene = SceneDialogue
	default:
		w.scene = SceneUnknown
	}
	w.trace(ctx, s.Name(), w.scene)
}

// toolScene splits tool traffic into call vs result: WORLD_DATA is
// always a result, otherwise the source name decides.
func toolScene(obs *core.Observation) Scene {
	if obs.ObsType == core.ObsWorldData {
		return SceneToolResult
	}
	if strings.Contains(strings.ToLower(obs.SourceName), "result") {
		return SceneToolResult
	}
	return SceneToolCall
}
