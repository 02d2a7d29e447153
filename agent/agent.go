// Package agent defines the handler contract the runtime invokes for
// delivered observations, plus the built-in handlers.
package agent

import (
	"context"
	"time"

	"github.com/murphys7017/mk2/core"
	"github.com/murphys7017/mk2/gate"
)

// Request is everything a handler gets for one delivered observation.
// SessionState is a read-only view: the calling worker owns it and is
// suspended for the duration of the call.
type Request struct {
	Obs          *core.Observation
	Decision     gate.Decision
	SessionState *core.SessionState
	Now          time.Time
	Hint         gate.Hint
}

// Outcome is what a handler returns. Emit observations are published
// back onto the bus by the worker.
type Outcome struct {
	Emit []*core.Observation
	Meta map[string]any
}

// Agent handles delivered observations. Implementations must honor the
// budget in Request.Hint and return promptly; a slow agent head-of-line
// blocks its session, never others.
type Agent interface {
	Name() string
	Handle(ctx context.Context, req *Request) (*Outcome, error)
}

// Reply builds an agent-sourced MESSAGE back into the request's
// session. The source prefix marks it for egress and guards against
// self-loops.
func Reply(name string, req *Request, text string) *core.Observation {
	obs := core.NewObservation()
	obs.ObsType = core.ObsMessage
	obs.SourceName = core.AgentSourcePrefix + name
	obs.SourceKind = core.SourceInternal
	obs.SessionKey = req.Obs.SessionKey
	obs.Actor = core.Actor{ActorID: core.AgentActorID, ActorType: core.ActorAgent}
	obs.Payload = &core.MessagePayload{Text: text}
	return obs
}
