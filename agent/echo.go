package agent

import (
	"context"
	"fmt"

	"github.com/murphys7017/mk2/core"
)

// EchoAgent replies with the incoming text. It exists for wiring tests
// and as the fallback handler when no model is configured.
type EchoAgent struct{}

func (a *EchoAgent) Name() string { return "echo" }

func (a *EchoAgent) Handle(_ context.Context, req *Request) (*Outcome, error) {
	mp := req.Obs.Message()
	if mp == nil {
		return &Outcome{}, nil
	}
	reply := Reply(a.Name(), req, fmt.Sprintf("echo: %s", mp.Text))
	return &Outcome{Emit: []*core.Observation{reply}}, nil
}
