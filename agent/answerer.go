package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/murphys7017/mk2/core"
	"github.com/murphys7017/mk2/llm"
)

// Answerer is the model-backed handler: it turns a delivered user
// MESSAGE into a reply via an OpenAI-compatible provider, honoring the
// budget granted by the gate.
type Answerer struct {
	client *llm.Client
	logger core.Logger

	SystemPrompt string
}

// NewAnswerer wraps an LLM client as an Agent.
func NewAnswerer(client *llm.Client, logger core.Logger) *Answerer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Answerer{
		client:       client,
		logger:       logger,
		SystemPrompt: "You are a concise assistant embedded in an event dispatch runtime. Answer briefly.",
	}
}

func (a *Answerer) Name() string { return "answerer" }

func (a *Answerer) Handle(ctx context.Context, req *Request) (*Outcome, error) {
	mp := req.Obs.Message()
	if mp == nil {
		return &Outcome{}, nil
	}

	budget := req.Hint.Budget
	if budget.TimeMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(budget.TimeMs)*time.Millisecond)
		defer cancel()
	}

	resp, err := a.client.Generate(ctx, llm.Request{
		SystemPrompt: a.SystemPrompt,
		Prompt:       a.buildPrompt(req, mp.Text),
		MaxTokens:    budget.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("answerer: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return &Outcome{}, nil
	}
	return &Outcome{
		Emit: []*core.Observation{Reply(a.Name(), req, text)},
		Meta: map[string]any{
			"model":      resp.Model,
			"out_tokens": resp.OutputTokens,
		},
	}, nil
}

// buildPrompt folds a little recent-session context in front of the
// current message.
func (a *Answerer) buildPrompt(req *Request, text string) string {
	var b strings.Builder
	if req.SessionState != nil {
		for _, prev := range req.SessionState.Recent() {
			pm := prev.Message()
			if pm == nil || prev.ObsID == req.Obs.ObsID {
				continue
			}
			fmt.Fprintf(&b, "[%s] %s\n", prev.Actor.ActorID, strings.TrimSpace(pm.Text))
		}
	}
	if b.Len() > 0 {
		return fmt.Sprintf("Recent conversation:\n%scurrent message: %s", b.String(), text)
	}
	return text
}
