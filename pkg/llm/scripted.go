package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned once a Scripted provider has no steps left.
var ErrScriptExhausted = errors.New("scripted provider: no more steps")

// Step is one scripted reply: a response or an error.
type Step struct {
	Response *Response
	Err      error
}

// Scripted replays steps in order and records every request. Safe for
// concurrent use; used by tests and offline demos.
type Scripted struct {
	mu       sync.Mutex
	name     string
	steps    []Step
	requests []Request
}

func NewScripted(name string, steps ...Step) *Scripted {
	if name == "" {
		name = "scripted"
	}
	return &Scripted{name: name, steps: steps}
}

// Reply is shorthand for a plain text Step.
func Reply(text string) Step {
	return Step{Response: &Response{Content: text}}
}

// Calls is shorthand for a Step requesting tool calls.
func Calls(calls ...ToolCall) Step {
	return Step{Response: &Response{ToolCalls: calls}}
}

// Fail is shorthand for an error Step.
func Fail(err error) Step {
	return Step{Err: err}
}

func (s *Scripted) Name() string { return s.name }

func (s *Scripted) Call(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, cloneRequest(req))
	if len(s.steps) == 0 {
		return nil, ErrScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.Response, step.Err
}

// Push appends steps.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Remaining reports how many steps are left.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func cloneRequest(req Request) Request {
	req.Messages = append([]Message(nil), req.Messages...)
	req.Tools = append([]ToolSpec(nil), req.Tools...)
	return req
}
