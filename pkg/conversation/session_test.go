package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionValidate(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		wantErr bool
	}{
		{"fresh", Session{}, false},
		{"answered", Session{LastOutcome: OutcomeAnswered}, false},
		{"offer open", Session{LastOutcome: OutcomeCannotAnswer, PendingQuestion: "q"}, false},
		{"escalated", Session{LastOutcome: OutcomeEscalated}, false},
		{"offer without question", Session{LastOutcome: OutcomeCannotAnswer}, true},
		{"question without offer", Session{LastOutcome: OutcomeAnswered, PendingQuestion: "q"}, true},
		{"question on fresh session", Session{PendingQuestion: "q"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSession)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionClone(t *testing.T) {
	original := Session{History: []Turn{{Role: RoleUser, Text: "hi"}}}
	clone := original.Clone()
	clone.History[0].Text = "changed"
	clone.History = append(clone.History, Turn{Role: RoleAssistant, Text: "hello"})

	assert.Equal(t, "hi", original.History[0].Text)
	assert.Len(t, original.History, 1)
}

func TestSessionRecent(t *testing.T) {
	s := Session{History: []Turn{{Text: "1"}, {Text: "2"}, {Text: "3"}}}

	assert.Nil(t, s.Recent(0))
	assert.Equal(t, []Turn{{Text: "2"}, {Text: "3"}}, s.Recent(2))
	assert.Len(t, s.Recent(10), 3)
}

func TestOutcomeText(t *testing.T) {
	res := Result{Text: "I've escalated this; someone will follow up.", Outcome: OutcomeEscalated}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"I've escalated this; someone will follow up.","outcome":"escalated"}`, string(data))

	var back Outcome
	require.NoError(t, back.UnmarshalText([]byte("cannotAnswer")))
	assert.Equal(t, OutcomeCannotAnswer, back)

	assert.Error(t, back.UnmarshalText([]byte("maybe")))
	_, err = Outcome(42).MarshalText()
	assert.Error(t, err)
}

func TestSessionJSONRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	s := Session{
		History:         []Turn{{Role: RoleUser, Text: "Can I bring my pet snake?", At: at}},
		LastOutcome:     OutcomeCannotAnswer,
		PendingQuestion: "Can I bring my pet snake?",
		UpdatedAt:       at,
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_outcome":"cannotAnswer"`)

	var back Session
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s, back)
}
