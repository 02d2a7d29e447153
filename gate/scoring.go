package gate

import (
	"strings"

	"github.com/murphys7017/mk2/core"
)

// ScoringStage computes the per-scene weighted interest score,
// clamped to [0, 1].
type ScoringStage struct{}

func (s *ScoringStage) Name() string { return "scoring" }

func (s *ScoringStage) Apply(obs *core.Observation, ctx *Context, w *wip) {
	score := 0.0
	rules := ctx.Config.RuleSet(w.scene)

	switch w.scene {
	case SceneDialogue:
		score += weight(rules.Weights, "base", 0.10)
		if featBool(w, "has_mention") {
			score += weight(rules.Weights, "mention", 0.40)
		}
		if featBool(w, "has_question") {
			score += weight(rules.Weights, "question_mark", 0.15)
		}
		longLen := rules.LongTextLen
		if longLen <= 0 {
			longLen = 300
		}
		if featInt(w, "text_len") >= longLen {
			score += weight(rules.Weights, "long_text", 0.10)
		}
		if mp := obs.Message(); mp != nil {
			text := strings.ToLower(mp.Text)
			for kw, bonus := range rules.Keywords {
				if strings.Contains(text, strings.ToLower(kw)) {
					score += bonus
				}
			}
		}
	case SceneAlert:
		score += 0.6
	case SceneToolCall:
		score += 0.7
	case SceneToolResult:
		score += 0.5
	case SceneSystem:
		score += weight(rules.Weights, "base", 0.0)
	}

	// Longer text earns a small bonus regardless of scene.
	if tl := featInt(w, "text_len"); tl > 0 {
		bonus := float64(tl) / 200.0
		if bonus > 0.2 {
			bonus = 0.2
		}
		score += bonus
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	w.score = score
	w.trace(ctx, s.Name(), score)
}

func weight(weights map[string]float64, key string, fallback float64) float64 {
	if v, ok := weights[key]; ok {
		return v
	}
	return fallback
}
