package conversation

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSession reports a session that breaks the pending-question invariant.
var ErrInvalidSession = errors.New("invalid session")

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Immutable once appended.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at,omitempty"`
}

// Outcome classifies what the engine produced on a turn.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeAnswered
	OutcomeCannotAnswer
	OutcomeEscalated
)

var outcomeNames = map[Outcome]string{
	OutcomeNone:         "none",
	OutcomeAnswered:     "answered",
	OutcomeCannotAnswer: "cannotAnswer",
	OutcomeEscalated:    "escalated",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText renders the wire name used by adapters and stores.
func (o Outcome) MarshalText() ([]byte, error) {
	name, ok := outcomeNames[o]
	if !ok {
		return nil, fmt.Errorf("unknown outcome %d", int(o))
	}
	return []byte(name), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		*o = OutcomeNone
		return nil
	}
	for outcome, name := range outcomeNames {
		if name == s {
			*o = outcome
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", s)
}

// Session is the state of one conversation, keyed by an opaque session id.
// The zero value is a fresh session.
type Session struct {
	History         []Turn    `json:"history,omitempty"`
	LastOutcome     Outcome   `json:"last_outcome"`
	PendingQuestion string    `json:"pending_question,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// Validate checks the pending-question invariant.
func (s Session) Validate() error {
	pending := s.PendingQuestion != ""
	offered := s.LastOutcome == OutcomeCannotAnswer
	if pending != offered {
		return fmt.Errorf("%w: last outcome %s with pending question %q", ErrInvalidSession, s.LastOutcome, s.PendingQuestion)
	}
	return nil
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	clone := s
	if s.History != nil {
		clone.History = make([]Turn, len(s.History))
		copy(clone.History, s.History)
	}
	return clone
}

// Recent returns at most n of the latest turns.
func (s Session) Recent(n int) []Turn {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// Result is the engine's answer to one message.
type Result struct {
	Text            string  `json:"text"`
	Outcome         Outcome `json:"outcome"`
	PendingQuestion string  `json:"pending_question,omitempty"`
}

// Answer is what the answer step produced for a question.
type Answer struct {
	Text      string
	CanAnswer bool
}

// EscalationRequest asks a human channel to follow up on a question.
// It exists only for the duration of one Sender call.
type EscalationRequest struct {
	OriginalQuestion    string
	ConfirmationMessage string
	SessionID           string
	Reference           string
}
