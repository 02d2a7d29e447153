// Package gate implements the deterministic pre-processing pipeline:
// every observation entering a session worker passes through seven
// fixed stages (scene inference, hard bypass, feature extraction,
// scoring, deduplication, policy mapping, finalize) and comes out as a
// GateOutcome. The pipeline never throws: stage failures become reason
// tags and the decision defaults to SINK.
package gate

import (
	"time"

	"github.com/murphys7017/mk2/core"
)

// Action is the gate's verdict for one observation.
type Action string

const (
	ActionDrop    Action = "drop"
	ActionSink    Action = "sink"
	ActionDeliver Action = "deliver"
)

// Scene is the gate-inferred classification of an observation.
type Scene string

const (
	SceneDialogue   Scene = "dialogue"
	SceneSystem     Scene = "system"
	SceneAlert      Scene = "alert"
	SceneToolCall   Scene = "tool_call"
	SceneToolResult Scene = "tool_result"
	SceneUnknown    Scene = "unknown"
)

// ModelTier selects the handler model class.
const (
	TierLow  = "low"
	TierHigh = "high"
)

// Response policies advised to the handler.
const (
	RespondNow = "respond_now"
	Clarify    = "clarify"
	Ack        = "ack"
)

// BudgetSpec is the execution budget the gate grants a delivered
// observation. Enforcement is the handler's responsibility; the gate
// only supplies the numbers.
type BudgetSpec struct {
	Level string `yaml:"budget_level"`

	TimeMs      int `yaml:"time_ms"`
	MaxTokens   int `yaml:"max_tokens"`
	MaxParallel int `yaml:"max_parallel"`

	EvidenceAllowed bool `yaml:"evidence_allowed"`
	MaxToolCalls    int  `yaml:"max_tool_calls"`
	CanSearchKB     bool `yaml:"can_search_kb"`
	CanCallTools    bool `yaml:"can_call_tools"`

	AutoClarify  bool `yaml:"auto_clarify"`
	FallbackMode bool `yaml:"fallback_mode"`
}

// Budget profile levels.
const (
	BudgetTiny   = "tiny"
	BudgetNormal = "normal"
	BudgetDeep   = "deep"
)

// Hint is the advisory metadata attached to every decision before
// finalize: model tier, response policy, budget and observability tags.
type Hint struct {
	ModelTier      string
	ResponsePolicy string
	Budget         BudgetSpec
	ReasonTags     []string
	Debug          map[string]any
}

// Decision is the gate's product for one observation.
type Decision struct {
	Action       Action
	Scene        Scene
	SessionKey   string
	TargetWorker string
	Score        float64
	Reasons      []string
	Tags         map[string]string
	Fingerprint  string
	Hint         Hint
}

// Outcome bundles the decision with its side-effect lists: emit goes
// back onto the bus (pain alerts), ingest goes into the gate pools.
type Outcome struct {
	Decision Decision
	Emit     []*core.Observation
	Ingest   []*core.Observation
}

// Context carries everything a pipeline run needs. The config reference
// is captured once per observation; readers keep operating on that
// capture even if the provider swaps the snapshot mid-flight.
type Context struct {
	Now              time.Time
	Config           *Config
	SystemSessionKey string
	Metrics          *Metrics
	SessionState     *core.SessionState
	SystemHealth     *SystemHealth
	Trace            func(stage string, detail any)
}

// SystemHealth is optional load feedback from the runtime.
type SystemHealth struct {
	Overload bool
}

// wip is the work-in-progress record the stages mutate in order.
type wip struct {
	scene       Scene
	features    map[string]any
	score       float64
	reasons     []string
	tags        map[string]string
	fingerprint string

	actionHint Action
	hardDrop   bool

	modelTier      string
	responsePolicy string
	hint           *Hint

	emit    []*core.Observation
	ingest  []*core.Observation
	outcome *Outcome
}

func newWip() *wip {
	return &wip{
		features: make(map[string]any),
		tags:     make(map[string]string),
	}
}

func (w *wip) trace(ctx *Context, stage string, detail any) {
	if ctx.Trace != nil {
		ctx.Trace(stage, detail)
	}
}

// Stage is one pipeline step. Implementations must not panic and must
// not return errors: failures are recorded as "<stage>_error:<kind>"
// reasons and the run continues.
type Stage interface {
	Name() string
	Apply(obs *core.Observation, ctx *Context, w *wip)
}
