package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConfirmation(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"yes", true},
		{"Yes", true},
		{"  YES!  ", true},
		{"yes please", true},
		{"Yes please.", true},
		{"y", true},
		{"yeah", true},
		{"yep", true},
		{"sure", true},
		{"ok", true},
		{"Okay.", true},
		{"please", true},
		{"please do", true},
		{"escalate", true},
		{"Escalate it", true},
		{"confirm", true},
		{"go ahead", true},
		{"Go ahead!", true},
		{"do it", true},
		{"sounds good", true},
		{"absolutely", true},
		{"yes, but quickly", true},
		{"ok, thanks a lot", true},
		{"go ahead and escalate", true},

		{"", false},
		{"   ", false},
		{"no", false},
		{"no thanks", false},
		{"nope", false},
		{"yesterday was fun", false},
		{"okay?", false},
		{"yes?", false},
		{"actually what's the wifi password?", false},
		{"What time does the venue open?", false},
		{"maybe", false},
		{"do you have parking", false},
		{"...", false},
		{"Please tell me where the parking garage is", false},
		{"ok so where do I park", false},
		{"sure, and what time is dinner", false},
		{"yes, but also where is parking", false},
		{"please send me the full schedule for tomorrow", false},
		{"ok how about lunch", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfirmation(tt.message))
		})
	}
}
