package adapters

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/murphys7017/mk2/core"
)

type publishRecorder struct {
	mu  sync.Mutex
	obs []*core.Observation
}

func (p *publishRecorder) publish(obs *core.Observation) core.PublishResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.obs = append(p.obs, obs)
	return core.PublishResult{OK: true}
}

func (p *publishRecorder) snapshot() []*core.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*core.Observation, len(p.obs))
	copy(out, p.obs)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReaderAdapterPublishesLines(t *testing.T) {
	rec := &publishRecorder{}
	a := NewReaderAdapter(strings.NewReader("hello\n\n  \nworld\n"), "alice", nil)
	if err := a.Start(rec.publish); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()

	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })

	obs := rec.snapshot()
	if obs[0].Message().Text != "hello" || obs[1].Message().Text != "world" {
		t.Errorf("unexpected texts: %s, %s", obs[0].Message().Text, obs[1].Message().Text)
	}
	if obs[0].Actor.ActorID != "alice" || obs[0].Actor.ActorType != core.ActorUser {
		t.Error("actor not set")
	}
	if obs[0].SourceName != "text_input" {
		t.Errorf("unexpected source %s", obs[0].SourceName)
	}
}

func TestTimerAdapterTicks(t *testing.T) {
	rec := &publishRecorder{}
	a := NewTimerAdapter(10*time.Millisecond, nil)
	if err := a.Start(rec.publish); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()

	waitFor(t, func() bool { return len(rec.snapshot()) >= 2 })

	obs := rec.snapshot()[0]
	if obs.ObsType != core.ObsSchedule {
		t.Errorf("expected schedule, got %s", obs.ObsType)
	}
	if obs.SessionKey != core.SystemSessionKey {
		t.Error("ticks must target the system session")
	}
}

func TestStdoutAdapterFormatsMessage(t *testing.T) {
	var buf bytes.Buffer
	a := NewWriterAdapter(&buf)

	obs := core.NewObservation()
	obs.SourceName = core.AgentSourcePrefix + "echo"
	obs.SessionKey = "dm:alice"
	obs.Actor = core.Actor{ActorID: core.AgentActorID, ActorType: core.ActorAgent}
	obs.Payload = &core.MessagePayload{Text: "hi alice"}

	if err := a.Send(context.Background(), obs); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := buf.String(); got != "[dm:alice] hi alice\n" {
		t.Errorf("unexpected output %q", got)
	}
}
