package gate

import (
	"strings"

	"github.com/murphys7017/mk2/core"
)

// FeatureExtractor pulls the cheap signals scoring needs out of the
// observation. Everything lands in wip.features keyed by name.
type FeatureExtractor struct{}

func (f *FeatureExtractor) Name() string { return "feature" }

func (f *FeatureExtractor) Apply(obs *core.Observation, ctx *Context, w *wip) {
	w.features["obs_type"] = string(obs.ObsType)
	w.features["source_name"] = obs.SourceName
	w.features["actor_id"] = obs.Actor.ActorID

	if mp := obs.Message(); mp != nil {
		text := strings.TrimSpace(mp.Text)
		w.features["text_len"] = len(text)
		w.features["has_mention"] = strings.Contains(text, "@")
		w.features["has_question"] = strings.Contains(text, "?")
		w.features["attachments"] = len(mp.Attachments)
		w.features["mentions"] = len(mp.Mentions)
	}
	if ap := obs.Alert(); ap != nil {
		w.features["alert_severity"] = string(ap.Severity)
	}
	if ctx.SessionState != nil {
		w.features["recent_obs"] = ctx.SessionState.RecentLen()
	}
	w.trace(ctx, f.Name(), w.features)
}

func featInt(w *wip, key string) int {
	if v, ok := w.features[key].(int); ok {
		return v
	}
	return 0
}

func featBool(w *wip, key string) bool {
	v, _ := w.features[key].(bool)
	return v
}
