package mk2

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mk2agent "github.com/murphys7017/mk2/agent"
	"github.com/murphys7017/mk2/core"
	"github.com/murphys7017/mk2/gate"
)

type countingAgent struct {
	mu    sync.Mutex
	inner mk2agent.Agent
	calls int
}

func (c *countingAgent) Name() string { return "counting" }

func (c *countingAgent) Handle(ctx context.Context, req *mk2agent.Request) (*mk2agent.Outcome, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Handle(ctx, req)
}

func (c *countingAgent) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type captureOutput struct {
	mu   sync.Mutex
	sent []*core.Observation
}

func (c *captureOutput) Send(_ context.Context, obs *core.Observation) error {
	c.mu.Lock()
	c.sent = append(c.sent, obs)
	c.mu.Unlock()
	return nil
}

func (c *captureOutput) snapshot() []*core.Observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*core.Observation, len(c.sent))
	copy(out, c.sent)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func startRuntime(t *testing.T, opts ...Option) (*Runtime, *countingAgent, *captureOutput) {
	t.Helper()
	agent := &countingAgent{inner: &mk2agent.EchoAgent{}}
	output := &captureOutput{}
	opts = append(opts,
		WithAgent(agent),
		WithDefaultOutput(output),
	)
	rt := New(opts...)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		rt.Stop(ctx)
	})
	return rt, agent, output
}

func publishUserMsg(t *testing.T, rt *Runtime, actorID, text string) {
	t.Helper()
	obs, err := core.NewMessage("text_input", "", actorID, text)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if result := rt.Publish(obs); !result.OK {
		t.Fatalf("publish rejected: %+v", result)
	}
}

func TestGreetingReachesAgentAndEgressesOnce(t *testing.T) {
	rt, agent, output := startRuntime(t)

	publishUserMsg(t, rt, "alice", "hi")

	if !waitFor(t, 3*time.Second, func() bool { return len(output.snapshot()) >= 1 }) {
		t.Fatal("no egress within deadline")
	}

	sent := output.snapshot()
	reply := sent[0]
	if reply.Message() == nil || reply.Message().Text != "echo: hi" {
		t.Errorf("unexpected reply %+v", reply.Payload)
	}
	if !reply.AgentSourced() {
		t.Error("egressed reply must be agent sourced")
	}
	if reply.SessionKey != "dm:alice" {
		t.Errorf("reply must stay in the session, got %s", reply.SessionKey)
	}

	// The reply flows back through the bus; give it time to be gated,
	// then confirm it did not re-trigger the agent.
	time.Sleep(200 * time.Millisecond)
	if agent.count() != 1 {
		t.Errorf("agent invoked %d times, want exactly 1", agent.count())
	}
	if len(output.snapshot()) != 1 {
		t.Errorf("expected exactly one egress, got %d", len(output.snapshot()))
	}
}

func TestDuplicateMessageInvokesAgentOnce(t *testing.T) {
	rt, agent, output := startRuntime(t)

	publishUserMsg(t, rt, "alice", "same words")
	publishUserMsg(t, rt, "alice", "same words")

	if !waitFor(t, 3*time.Second, func() bool { return len(output.snapshot()) >= 1 }) {
		t.Fatal("no egress within deadline")
	}
	time.Sleep(200 * time.Millisecond)

	if agent.count() != 1 {
		t.Errorf("duplicate must not reach the agent: %d calls", agent.count())
	}
	snap := rt.Gate().Metrics.Snapshot()
	if snap.ByAction[gate.ActionSink] < 1 {
		t.Error("second message should have been sunk")
	}
}

func TestEmptyMessageIsDroppedBeforeAgent(t *testing.T) {
	rt, agent, _ := startRuntime(t)

	obs := core.NewObservation()
	obs.SourceName = "text_input"
	obs.Actor = core.Actor{ActorID: "alice", ActorType: core.ActorUser}
	obs.Payload = &core.MessagePayload{Text: "   "}
	if result := rt.Publish(obs); !result.OK {
		t.Fatalf("publish rejected: %+v", result)
	}

	if !waitFor(t, 3*time.Second, func() bool { return rt.Gate().DropPool.Len() >= 1 }) {
		t.Fatal("drop pool did not receive the observation")
	}
	if agent.count() != 0 {
		t.Error("empty messages must never reach the agent")
	}
	if rt.Gate().SinkPool.Len() != 0 {
		t.Error("sink pool must be untouched")
	}
}

func TestPainBurstTriggersAdapterCooldown(t *testing.T) {
	rt, _, _ := startRuntime(t)

	for i := 0; i < core.PainBurstThreshold; i++ {
		alert := core.MakePainAlert("adapter", "text_input", core.SeverityHigh, "read failed")
		if result := rt.Publish(alert); !result.OK {
			t.Fatalf("publish rejected: %+v", result)
		}
	}

	if !waitFor(t, 3*time.Second, func() bool {
		_, active := rt.AdapterCooldownUntil("text_input")
		return active
	}) {
		t.Fatal("adapter cooldown not set after pain burst")
	}

	until, _ := rt.AdapterCooldownUntil("text_input")
	if min := time.Now().Add((core.AdapterCooldownSeconds - 5) * time.Second); until.Before(min) {
		t.Errorf("cooldown deadline too early: %v", until)
	}
	if !rt.FanoutSuppressedUntil().After(time.Now()) {
		t.Error("fan-out suppression must be active")
	}
	if rt.Metrics().Snapshot().AdaptersCooldownTotal < 1 {
		t.Error("cooldown metric not incremented")
	}
}

func TestTuningSuggestionAppliedThroughRuntime(t *testing.T) {
	rt, _, output := startRuntime(t)

	obs := core.NewObservation()
	obs.ObsType = core.ObsControl
	obs.SourceName = "agent:tuner"
	obs.SessionKey = core.SystemSessionKey
	obs.Actor = core.Actor{ActorID: core.AgentActorID, ActorType: core.ActorAgent}
	obs.Payload = &core.ControlPayload{
		Kind: core.ControlTuningSuggestion,
		Data: map[string]any{
			"suggested_overrides": map[string]any{
				gate.OverrideForceLowModel: true,
				gate.OverrideEmergencyMode: true,
			},
			"ttl_sec": 60,
		},
	}
	if result := rt.Publish(obs); !result.OK {
		t.Fatalf("publish rejected: %+v", result)
	}

	if !waitFor(t, 3*time.Second, func() bool {
		return rt.ConfigProvider().Get().Overrides.ForceLowModel
	}) {
		t.Fatal("force_low_model override not applied")
	}
	if rt.ConfigProvider().Get().Overrides.EmergencyMode {
		t.Error("emergency_mode must stay denied")
	}

	// system_mode_changed is a deliverable and reaches egress.
	if !waitFor(t, 3*time.Second, func() bool {
		for _, sent := range output.snapshot() {
			if cp := sent.Control(); cp != nil && cp.Kind == core.ControlSystemModeChanged {
				return true
			}
		}
		return false
	}) {
		t.Error("system_mode_changed not egressed")
	}
}

func TestSessionGCAndRevival(t *testing.T) {
	rt, agent, output := startRuntime(t,
		WithIdleTTL(80*time.Millisecond),
		WithGCInterval(20*time.Millisecond),
	)

	publishUserMsg(t, rt, "bob", "first")
	if !waitFor(t, 3*time.Second, func() bool { return len(output.snapshot()) >= 1 }) {
		t.Fatal("first message not processed")
	}

	// Idle out: the session disappears from the router.
	if !waitFor(t, 3*time.Second, func() bool {
		for _, key := range rt.Router().ListActiveSessions() {
			if key == "dm:bob" {
				return false
			}
		}
		return true
	}) {
		t.Fatal("session was not garbage collected")
	}
	if _, ok := rt.SessionState("dm:bob"); ok {
		t.Error("session state must be removed by GC")
	}
	if rt.Metrics().Snapshot().SessionsGCTotal < 1 {
		t.Error("GC metric not incremented")
	}

	// Revival: the next message recreates inbox, worker and state.
	publishUserMsg(t, rt, "bob", "second")
	if !waitFor(t, 3*time.Second, func() bool { return agent.count() >= 2 }) {
		t.Fatal("revived session did not process the new message")
	}
}

func TestGateConfigWatcherReloadsWithoutTraffic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	rt, _, _ := startRuntime(t, WithGateConfigPath(path))
	if rt.ConfigProvider().Get().Overrides.ForceLowModel {
		t.Fatal("unexpected initial override")
	}

	if err := os.WriteFile(path, []byte("version: 1\noverrides:\n  force_low_model: true\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	// No observations flow here, so only the filesystem watcher can
	// pick the rewrite up.
	if !waitFor(t, 3*time.Second, func() bool {
		return rt.ConfigProvider().Get().Overrides.ForceLowModel
	}) {
		t.Fatal("watcher did not reload the rewritten config")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	rt := New()
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Start(ctx); err == nil {
		t.Error("double start must fail")
	}
	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rt.Stop(ctx); err == nil {
		t.Error("double stop must fail")
	}
}
