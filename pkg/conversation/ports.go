package conversation

import "context"

// Answerer produces a grounded answer or a cannot-answer signal for one
// question. A non-nil error is treated as cannot-answer.
type Answerer interface {
	Answer(ctx context.Context, question string, history []Turn) (Answer, error)
}

// Sender delivers an escalation to a human channel. It is called at most once
// per confirmed turn.
type Sender interface {
	Send(ctx context.Context, req EscalationRequest) error
}

// Store persists sessions. Load returns a zero Session for unseen ids.
type Store interface {
	Load(ctx context.Context, sessionID string) (Session, error)
	Save(ctx context.Context, sessionID string, session Session) error
}

// AnswererFunc adapts a function to Answerer.
type AnswererFunc func(ctx context.Context, question string, history []Turn) (Answer, error)

func (f AnswererFunc) Answer(ctx context.Context, question string, history []Turn) (Answer, error) {
	return f(ctx, question, history)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req EscalationRequest) error

func (f SenderFunc) Send(ctx context.Context, req EscalationRequest) error {
	return f(ctx, req)
}
