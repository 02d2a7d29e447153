package gate

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the immutable gate policy snapshot. Instances are never
// mutated after construction; the provider replaces the whole reference
// on reload or override update, and WithOverrides produces a copy.
type Config struct {
	Version int

	ScenePolicies    map[Scene]ScenePolicy
	Rules            Rules
	DropEscalation   DropEscalation
	Overrides        Overrides
	BudgetThresholds BudgetThresholds
	BudgetProfiles   map[string]BudgetSpec
}

// ScenePolicy holds per-scene thresholds and defaults.
type ScenePolicy struct {
	DeliverThreshold      float64 `yaml:"deliver_threshold"`
	SinkThreshold         float64 `yaml:"sink_threshold"`
	DefaultAction         Action  `yaml:"default_action"`
	DefaultModelTier      string  `yaml:"default_model_tier"`
	DefaultResponsePolicy string  `yaml:"default_response_policy"`
	DedupWindowSec        float64 `yaml:"dedup_window_sec"`
	MaxReasons            int     `yaml:"max_reasons"`
}

// RuleSet holds one scene's scoring weights and keyword bonuses.
type RuleSet struct {
	Weights     map[string]float64 `yaml:"weights"`
	Keywords    map[string]float64 `yaml:"keywords"`
	LongTextLen int                `yaml:"long_text_len"`
}

// Rules maps scenes to their scoring rule sets.
type Rules map[Scene]RuleSet

// DropEscalation configures the hard-bypass burst monitor.
type DropEscalation struct {
	BurstWindowSec       float64 `yaml:"burst_window_sec"`
	BurstCountThreshold  int     `yaml:"burst_count_threshold"`
	ConsecutiveThreshold int     `yaml:"consecutive_threshold"`
	CooldownSuggestSec   float64 `yaml:"cooldown_suggest_sec"`
}

// Overrides are the runtime-mutable policy switches. They are part of
// the immutable snapshot; mutation goes through WithOverrides.
type Overrides struct {
	EmergencyMode   bool     `yaml:"emergency_mode"`
	ForceLowModel   bool     `yaml:"force_low_model"`
	DropSessions    []string `yaml:"drop_sessions"`
	DeliverSessions []string `yaml:"deliver_sessions"`
	DropActors      []string `yaml:"drop_actors"`
	DeliverActors   []string `yaml:"deliver_actors"`
}

// BudgetThresholds map score bands to budget profiles.
type BudgetThresholds struct {
	HighScore   float64 `yaml:"high_score"`
	MediumScore float64 `yaml:"medium_score"`
}

// OverrideKey names a mutable override for the reflex controller and
// Config.WithOverrides.
type OverrideKey = string

const (
	OverrideEmergencyMode OverrideKey = "emergency_mode"
	OverrideForceLowModel OverrideKey = "force_low_model"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:       1,
		ScenePolicies: map[Scene]ScenePolicy{},
		Rules: Rules{
			SceneDialogue: {
				Weights: map[string]float64{
					"base":          0.10,
					"mention":       0.40,
					"question_mark": 0.15,
					"long_text":     0.10,
				},
				Keywords: map[string]float64{
					"urgent": 0.30,
					"error":  0.25,
					"help":   0.15,
				},
				LongTextLen: 300,
			},
			SceneSystem: {
				Weights: map[string]float64{"base": 0.0},
			},
		},
		DropEscalation: DropEscalation{
			BurstWindowSec:       60,
			BurstCountThreshold:  5,
			ConsecutiveThreshold: 8,
			CooldownSuggestSec:   300,
		},
		BudgetThresholds: BudgetThresholds{HighScore: 0.75, MediumScore: 0.50},
		BudgetProfiles:   defaultBudgetProfiles(),
	}
}

func defaultBudgetProfiles() map[string]BudgetSpec {
	return map[string]BudgetSpec{
		BudgetTiny: {
			Level: BudgetTiny, TimeMs: 800, MaxTokens: 256, MaxParallel: 1,
			EvidenceAllowed: false, MaxToolCalls: 0, CanSearchKB: true,
			CanCallTools: true, AutoClarify: true,
		},
		BudgetNormal: {
			Level: BudgetNormal, TimeMs: 1500, MaxTokens: 512, MaxParallel: 2,
			EvidenceAllowed: true, MaxToolCalls: 1, CanSearchKB: true, CanCallTools: true,
		},
		BudgetDeep: {
			Level: BudgetDeep, TimeMs: 3000, MaxTokens: 1024, MaxParallel: 4,
			EvidenceAllowed: true, MaxToolCalls: 3, CanSearchKB: true, CanCallTools: true,
		},
	}
}

// ScenePolicy returns the policy for a scene, falling back to the
// built-in per-scene defaults.
func (c *Config) ScenePolicy(scene Scene) ScenePolicy {
	if p, ok := c.ScenePolicies[scene]; ok {
		return p
	}
	base := ScenePolicy{
		DeliverThreshold:      0.7,
		SinkThreshold:         0.3,
		DefaultAction:         ActionSink,
		DefaultModelTier:      TierLow,
		DefaultResponsePolicy: RespondNow,
		DedupWindowSec:        30,
		MaxReasons:            6,
	}
	switch scene {
	case SceneAlert:
		base.DeliverThreshold = 0
		base.SinkThreshold = 0
		base.DefaultAction = ActionDeliver
		base.DefaultModelTier = ""
		base.DefaultResponsePolicy = ""
	case SceneSystem:
		base.DefaultModelTier = ""
	case SceneToolCall:
		base.DefaultAction = ActionDeliver
		base.DefaultModelTier = ""
	case SceneToolResult:
		base.DefaultModelTier = ""
	}
	return base
}

// RuleSet returns the scoring rules for a scene (zero value when the
// scene has no rules).
func (c *Config) RuleSet(scene Scene) RuleSet {
	return c.Rules[scene]
}

// BudgetForLevel returns the named profile, falling back to the
// built-in defaults, then to normal.
func (c *Config) BudgetForLevel(level string) BudgetSpec {
	if b, ok := c.BudgetProfiles[level]; ok {
		return b
	}
	defaults := defaultBudgetProfiles()
	if b, ok := defaults[level]; ok {
		return b
	}
	return defaults[BudgetNormal]
}

// SelectBudget chooses a budget profile by scene and score band, with
// scene-specific safety clamps.
func (c *Config) SelectBudget(score float64, scene Scene) BudgetSpec {
	var level string
	switch scene {
	case SceneAlert:
		level = BudgetDeep
	case SceneToolCall:
		level = BudgetNormal
	case SceneToolResult:
		level = BudgetTiny
	default:
		switch {
		case score >= c.BudgetThresholds.HighScore:
			level = BudgetDeep
		case score >= c.BudgetThresholds.MediumScore:
			level = BudgetNormal
		default:
			level = BudgetTiny
		}
	}

	budget := c.BudgetForLevel(level)

	// Tool results must not recurse into tools or retrieval.
	if scene == SceneToolResult {
		budget.CanSearchKB = false
		budget.CanCallTools = false
		budget.EvidenceAllowed = false
		budget.MaxToolCalls = 0
	}
	// Low-score dialogue may ask instead of guessing.
	if scene == SceneDialogue && budget.Level == BudgetTiny {
		budget.AutoClarify = true
	}
	return budget
}

// WithOverrides returns a copy of the config with the given override
// keys replaced. Unknown keys are ignored. The receiver is returned
// unchanged (same pointer) when nothing differs, which is how callers
// detect no-op updates.
func (c *Config) WithOverrides(kv map[string]any) *Config {
	next := c.Overrides
	for k, v := range kv {
		switch k {
		case OverrideEmergencyMode:
			if b, ok := v.(bool); ok {
				next.EmergencyMode = b
			}
		case OverrideForceLowModel:
			if b, ok := v.(bool); ok {
				next.ForceLowModel = b
			}
		case "drop_sessions":
			if s, ok := toStringSlice(v); ok {
				next.DropSessions = s
			}
		case "deliver_sessions":
			if s, ok := toStringSlice(v); ok {
				next.DeliverSessions = s
			}
		case "drop_actors":
			if s, ok := toStringSlice(v); ok {
				next.DropActors = s
			}
		case "deliver_actors":
			if s, ok := toStringSlice(v); ok {
				next.DeliverActors = s
			}
		}
	}
	if overridesEqual(next, c.Overrides) {
		return c
	}
	cp := *c
	cp.Overrides = next
	return &cp
}

// OverrideValue returns the current value of a whitelisted override
// key, so the reflex controller can capture prior values for revert.
func (c *Config) OverrideValue(key string) (any, bool) {
	switch key {
	case OverrideEmergencyMode:
		return c.Overrides.EmergencyMode, true
	case OverrideForceLowModel:
		return c.Overrides.ForceLowModel, true
	}
	return nil, false
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func overridesEqual(a, b Overrides) bool {
	return a.EmergencyMode == b.EmergencyMode &&
		a.ForceLowModel == b.ForceLowModel &&
		sliceEqual(a.DropSessions, b.DropSessions) &&
		sliceEqual(a.DeliverSessions, b.DeliverSessions) &&
		sliceEqual(a.DropActors, b.DropActors) &&
		sliceEqual(a.DeliverActors, b.DeliverActors)
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rawConfig mirrors the YAML layout. Parsed values overlay the
// defaults, so a partial file is valid.
type rawConfig struct {
	Version          *int                  `yaml:"version"`
	ScenePolicies    map[string]rawPolicy  `yaml:"scene_policies"`
	Rules            map[string]RuleSet    `yaml:"rules"`
	DropEscalation   *DropEscalation       `yaml:"drop_escalation"`
	Overrides        *Overrides            `yaml:"overrides"`
	BudgetThresholds *BudgetThresholds     `yaml:"budget_thresholds"`
	BudgetProfiles   map[string]BudgetSpec `yaml:"budget_profiles"`
}

type rawPolicy struct {
	DeliverThreshold      *float64 `yaml:"deliver_threshold"`
	SinkThreshold         *float64 `yaml:"sink_threshold"`
	DefaultAction         string   `yaml:"default_action"`
	DefaultModelTier      *string  `yaml:"default_model_tier"`
	DefaultResponsePolicy *string  `yaml:"default_response_policy"`
	DedupWindowSec        *float64 `yaml:"dedup_window_sec"`
	MaxReasons            *int     `yaml:"max_reasons"`
}

// LoadFile parses a YAML gate config, overlaying defaults. A parse or
// validation failure returns the error and no config; callers keep the
// prior snapshot.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a config.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("gate config parse: %w", err)
	}
	if raw.Version != nil && *raw.Version != 1 {
		return nil, fmt.Errorf("gate config: unsupported version %d", *raw.Version)
	}

	cfg := Default()

	if raw.BudgetThresholds != nil {
		bt := *raw.BudgetThresholds
		if bt.MediumScore > bt.HighScore {
			bt.MediumScore = bt.HighScore
		}
		cfg.BudgetThresholds = bt
	}

	for level, base := range cfg.BudgetProfiles {
		override, ok := raw.BudgetProfiles[level]
		if !ok {
			continue
		}
		if override.Level == "" {
			override.Level = base.Level
		}
		override.Level = strings.ToLower(strings.TrimSpace(override.Level))
		cfg.BudgetProfiles[level] = override
	}

	if raw.DropEscalation != nil {
		de := *raw.DropEscalation
		if de.BurstWindowSec <= 0 {
			de.BurstWindowSec = cfg.DropEscalation.BurstWindowSec
		}
		if de.BurstCountThreshold <= 0 {
			de.BurstCountThreshold = cfg.DropEscalation.BurstCountThreshold
		}
		if de.ConsecutiveThreshold <= 0 {
			de.ConsecutiveThreshold = cfg.DropEscalation.ConsecutiveThreshold
		}
		if de.CooldownSuggestSec <= 0 {
			de.CooldownSuggestSec = cfg.DropEscalation.CooldownSuggestSec
		}
		cfg.DropEscalation = de
	}

	if raw.Overrides != nil {
		cfg.Overrides = *raw.Overrides
	}

	for key, rs := range raw.Rules {
		cfg.Rules[Scene(strings.ToLower(key))] = rs
	}

	for key, rp := range raw.ScenePolicies {
		scene := Scene(strings.ToLower(key))
		policy := cfg.ScenePolicy(scene)
		if rp.DeliverThreshold != nil {
			policy.DeliverThreshold = *rp.DeliverThreshold
		}
		if rp.SinkThreshold != nil {
			policy.SinkThreshold = *rp.SinkThreshold
		}
		if rp.DefaultAction != "" {
			policy.DefaultAction = parseAction(rp.DefaultAction)
		}
		if rp.DefaultModelTier != nil {
			policy.DefaultModelTier = *rp.DefaultModelTier
		}
		if rp.DefaultResponsePolicy != nil {
			policy.DefaultResponsePolicy = *rp.DefaultResponsePolicy
		}
		if rp.DedupWindowSec != nil {
			policy.DedupWindowSec = *rp.DedupWindowSec
		}
		if rp.MaxReasons != nil {
			policy.MaxReasons = *rp.MaxReasons
		}
		cfg.ScenePolicies[scene] = policy
	}

	return cfg, nil
}

func parseAction(s string) Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop":
		return ActionDrop
	case "deliver":
		return ActionDeliver
	default:
		return ActionSink
	}
}
