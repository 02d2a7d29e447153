package gate

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/murphys7017/mk2/core"
)

func testCtx(cfg *Config) *Context {
	if cfg == nil {
		cfg = Default()
	}
	return &Context{
		Now:              time.Now().UTC(),
		Config:           cfg,
		SystemSessionKey: core.SystemSessionKey,
	}
}

func dialogueMsg(t *testing.T, text string) *core.Observation {
	t.Helper()
	obs, err := core.NewMessage("text_input", "dm:alice", "alice", text)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return obs
}

func hasReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func TestUserDialogueSafetyValve(t *testing.T) {
	g := New(nil, nil)
	outcome := g.Handle(dialogueMsg(t, "hi"), testCtx(nil))

	if outcome.Decision.Action != ActionDeliver {
		t.Fatalf("expected DELIVER, got %s (%v)", outcome.Decision.Action, outcome.Decision.Reasons)
	}
	if outcome.Decision.Scene != SceneDialogue {
		t.Errorf("expected dialogue scene, got %s", outcome.Decision.Scene)
	}
	if !hasReason(outcome.Decision.Reasons, "user_dialogue_safe_valve") {
		t.Errorf("missing safety valve reason: %v", outcome.Decision.Reasons)
	}
	if outcome.Decision.Hint.Budget.Level == "" {
		t.Error("hint budget must always be populated")
	}
	if len(outcome.Ingest) != 0 {
		t.Error("delivered observations are not ingested")
	}
}

func TestEmptyMessageDropped(t *testing.T) {
	g := New(nil, nil)
	obs := core.NewObservation()
	obs.SourceName = "text_input"
	obs.SessionKey = "dm:alice"
	obs.Actor = core.Actor{ActorID: "alice", ActorType: core.ActorUser}
	obs.Payload = &core.MessagePayload{Text: "   "}

	outcome := g.Handle(obs, testCtx(nil))
	if outcome.Decision.Action != ActionDrop {
		t.Fatalf("expected DROP, got %s", outcome.Decision.Action)
	}
	if !hasReason(outcome.Decision.Reasons, "empty_content") {
		t.Errorf("missing empty_content reason: %v", outcome.Decision.Reasons)
	}
	if len(outcome.Ingest) != 1 {
		t.Error("dropped observation must be ingested")
	}

	g.Ingest(obs, outcome.Decision)
	if g.DropPool.Len() != 1 || g.SinkPool.Len() != 0 {
		t.Error("drop must land in the drop pool")
	}
}

func TestDuplicateWithinWindowIsSunk(t *testing.T) {
	g := New(nil, nil)
	cfg := Default()

	first := g.Handle(dialogueMsg(t, "hello there"), testCtx(cfg))
	if first.Decision.Action != ActionDeliver {
		t.Fatalf("first should deliver, got %s", first.Decision.Action)
	}

	second := g.Handle(dialogueMsg(t, "hello there"), testCtx(cfg))
	if second.Decision.Action != ActionSink {
		t.Fatalf("duplicate should sink, got %s", second.Decision.Action)
	}
	if !hasReason(second.Decision.Reasons, "dedup_hit") {
		t.Errorf("missing dedup_hit: %v", second.Decision.Reasons)
	}
	if second.Decision.Fingerprint != first.Decision.Fingerprint {
		t.Error("identical messages must share a fingerprint")
	}
}

func TestAlertNeverDeduplicated(t *testing.T) {
	g := New(nil, nil)
	for i := 0; i < 2; i++ {
		alert := core.MakePainAlert("adapter", "text_input", core.SeverityHigh, "same failure")
		outcome := g.Handle(alert, testCtx(nil))
		if outcome.Decision.Action != ActionDeliver {
			t.Fatalf("alert %d: expected DELIVER, got %s", i, outcome.Decision.Action)
		}
		if hasReason(outcome.Decision.Reasons, "dedup_hit") {
			t.Error("alerts must not be deduplicated")
		}
	}
}

func TestOverloadDropsAndEmitsPain(t *testing.T) {
	g := New(nil, nil)
	ctx := testCtx(nil)
	ctx.SystemHealth = &SystemHealth{Overload: true}

	outcome := g.Handle(dialogueMsg(t, "hi"), ctx)
	if outcome.Decision.Action != ActionDrop {
		t.Fatalf("expected DROP under overload, got %s", outcome.Decision.Action)
	}
	if len(outcome.Emit) != 1 || outcome.Emit[0].ObsType != core.ObsAlert {
		t.Fatal("overload must emit a pain alert")
	}
	if outcome.Emit[0].SessionKey != core.SystemSessionKey {
		t.Error("pain alert must target the system session")
	}
}

func TestDropBurstEscalates(t *testing.T) {
	g := New(nil, nil)
	cfg := Default()

	var last *Outcome
	for i := 0; i < cfg.DropEscalation.BurstCountThreshold; i++ {
		obs := core.NewObservation()
		obs.SourceName = "text_input"
		obs.SessionKey = "dm:alice"
		obs.Actor = core.Actor{ActorID: "alice", ActorType: core.ActorUser}
		obs.Payload = &core.MessagePayload{Text: ""}
		last = g.Handle(obs, testCtx(cfg))
	}

	if last.Decision.Tags["drop_burst"] != "true" {
		t.Errorf("expected drop_burst tag, got %v", last.Decision.Tags)
	}
	found := false
	for _, emit := range last.Emit {
		if ap := emit.Alert(); ap != nil && ap.SourceID == "drop_burst" {
			found = true
			if ap.Severity != core.SeverityHigh {
				t.Errorf("drop burst severity should be high, got %s", ap.Severity)
			}
		}
	}
	if !found {
		t.Error("expected a drop_burst pain alert")
	}
}

func TestEmergencyModeSinksEverything(t *testing.T) {
	g := New(nil, nil)
	cfg := Default().WithOverrides(map[string]any{OverrideEmergencyMode: true})

	outcome := g.Handle(dialogueMsg(t, "urgent help needed?"), testCtx(cfg))
	if outcome.Decision.Action != ActionSink {
		t.Fatalf("emergency mode must sink, got %s", outcome.Decision.Action)
	}
	if !hasReason(outcome.Decision.Reasons, "override=emergency") {
		t.Errorf("missing override=emergency: %v", outcome.Decision.Reasons)
	}
	if outcome.Decision.Hint.ModelTier != TierLow {
		t.Error("emergency mode forces low tier")
	}
}

func TestForceLowModelOnDeliver(t *testing.T) {
	g := New(nil, nil)
	cfg := Default().WithOverrides(map[string]any{OverrideForceLowModel: true})

	outcome := g.Handle(dialogueMsg(t, "hi"), testCtx(cfg))
	if outcome.Decision.Action != ActionDeliver {
		t.Fatalf("expected DELIVER, got %s", outcome.Decision.Action)
	}
	if outcome.Decision.Hint.ModelTier != TierLow {
		t.Errorf("expected low tier, got %s", outcome.Decision.Hint.ModelTier)
	}
	if !hasReason(outcome.Decision.Reasons, "override=force_low_model") {
		t.Errorf("missing override=force_low_model: %v", outcome.Decision.Reasons)
	}
}

func TestDropSessionsOverride(t *testing.T) {
	g := New(nil, nil)
	cfg := Default().WithOverrides(map[string]any{"drop_sessions": []string{"dm:alice"}})

	outcome := g.Handle(dialogueMsg(t, "hi"), testCtx(cfg))
	if outcome.Decision.Action != ActionDrop {
		t.Fatalf("drop_sessions must win over the safety valve, got %s", outcome.Decision.Action)
	}
}

func TestToolSceneRouting(t *testing.T) {
	g := New(nil, nil)

	call := core.NewObservation()
	call.SourceName = "tool_runner"
	call.SessionKey = "dm:alice"
	call.Actor = core.Actor{ActorID: "svc", ActorType: core.ActorService}
	call.Payload = &core.MessagePayload{Text: "run weather lookup"}
	outcome := g.Handle(call, testCtx(nil))
	if outcome.Decision.Scene != SceneToolCall {
		t.Errorf("expected tool_call, got %s", outcome.Decision.Scene)
	}

	result := core.NewObservation()
	result.ObsType = core.ObsWorldData
	result.SourceName = "tool_runner"
	result.SessionKey = "dm:alice"
	result.Actor = core.Actor{ActorID: "svc", ActorType: core.ActorService}
	result.Payload = &core.WorldDataPayload{SchemaID: "weather.v1", Data: map[string]any{"temp": 21}}
	outcome = g.Handle(result, testCtx(nil))
	if outcome.Decision.Scene != SceneToolResult {
		t.Errorf("expected tool_result, got %s", outcome.Decision.Scene)
	}
	if len(outcome.Ingest) != 1 {
		t.Error("tool results are always ingested")
	}
	g.Ingest(result, outcome.Decision)
	if g.ToolPool.Len() != 1 {
		t.Error("tool traffic must land in the tool pool")
	}
}

func TestSystemSessionScene(t *testing.T) {
	g := New(nil, nil)
	obs := core.NewObservation()
	obs.ObsType = core.ObsControl
	obs.SourceName = "agent:tuner"
	obs.SessionKey = core.SystemSessionKey
	obs.Actor = core.Actor{ActorID: core.AgentActorID, ActorType: core.ActorAgent}
	obs.Payload = &core.ControlPayload{Kind: core.ControlTuningSuggestion, Data: map[string]any{}}

	outcome := g.Handle(obs, testCtx(nil))
	if outcome.Decision.Scene != SceneSystem {
		t.Errorf("expected system scene, got %s", outcome.Decision.Scene)
	}
	if outcome.Decision.TargetWorker != core.SystemSessionKey {
		t.Error("system scene must target the system worker")
	}
}

func TestReasonsTruncatedToMaxReasons(t *testing.T) {
	g := New(nil, nil)
	cfg := Default()
	policy := cfg.ScenePolicy(SceneDialogue)
	policy.MaxReasons = 1
	cfg.ScenePolicies[SceneDialogue] = policy

	outcome := g.Handle(dialogueMsg(t, "urgent error help?"), testCtx(cfg))
	if len(outcome.Decision.Reasons) > 1 {
		t.Errorf("reasons not truncated: %v", outcome.Decision.Reasons)
	}
}

func TestLongTextRaisesScore(t *testing.T) {
	g := New(nil, nil)
	long := g.Handle(dialogueMsg(t, strings.Repeat("why does this fail? ", 20)), testCtx(nil))
	short := g.Handle(dialogueMsg(t, "ok"), testCtx(nil))
	if long.Decision.Score <= short.Decision.Score {
		t.Errorf("long question should outscore short ack: %f <= %f",
			long.Decision.Score, short.Decision.Score)
	}
	if long.Decision.Score > 1.0 {
		t.Error("score must be clamped to 1")
	}
}

func TestGateSharedAcrossWorkers(t *testing.T) {
	g := New(nil, nil)

	const workers = 4
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			actor := fmt.Sprintf("user-%d", worker)
			session := "dm:" + actor
			for j := 0; j < perWorker; j++ {
				obs, err := core.NewMessage("text_input", session, actor, fmt.Sprintf("note %d", j))
				if err != nil {
					t.Errorf("NewMessage: %v", err)
					return
				}
				outcome := g.Handle(obs, testCtx(nil))
				for _, ingest := range outcome.Ingest {
					g.Ingest(ingest, outcome.Decision)
				}

				// Empty messages hard-drop and exercise the shared drop
				// monitor from every worker.
				empty := core.NewObservation()
				empty.SourceName = "text_input"
				empty.SessionKey = session
				empty.Actor = core.Actor{ActorID: actor, ActorType: core.ActorUser}
				empty.Payload = &core.MessagePayload{Text: " "}
				dropped := g.Handle(empty, testCtx(nil))
				g.Ingest(empty, dropped.Decision)
			}
		}(i)
	}
	wg.Wait()

	snap := g.Metrics.Snapshot()
	if snap.ProcessedTotal != int64(workers*perWorker*2) {
		t.Errorf("processed total %d, want %d", snap.ProcessedTotal, workers*perWorker*2)
	}
}
